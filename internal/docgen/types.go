// Package docgen renders fund documents (meeting agendas, member lists) from a
// template version's content and live fund data.
package docgen

import (
	"errors"
	"time"

	"fundroom/api/internal/content"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	case FormatHTML:
		return FormatHTML, true
	default:
		return "", false
	}
}

// Request is one render. Content is either the active version's content or
// an unsaved draft; the generator treats both the same way.
type Request struct {
	Type    string
	Version string
	Content content.Value
	Fund    FundData
	Format  Format
}

// FundData is the live data merged into a template.
type FundData struct {
	Name          string    `json:"name"`
	RegistryCode  string    `json:"registryCode"`
	Address       string    `json:"address"`
	MeetingDate   time.Time `json:"meetingDate"`
	MeetingPlace  string    `json:"meetingPlace"`
	Members       []Member  `json:"members"`
	CapitalAmount float64   `json:"capitalAmount"`
	Currency      string    `json:"currency"`
}

type Member struct {
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	Email    string  `json:"email"`
	Address  string  `json:"address"`
	IDCode   string  `json:"idCode"`
	Shares   float64 `json:"shares"`
	Investor bool    `json:"investor"`
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat     = errors.New("unsupported document format")
	ErrPDFDependencyMissing  = errors.New("pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("docx dependency missing")
)
