package docgen

import (
	"context"
	"fmt"
	"time"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeHTML = "text/html; charset=utf-8"
)

type Generator struct {
	pandocPath string
	timeout    time.Duration

	// overridable in tests
	pdf  func(ctx context.Context, html string) ([]byte, error)
	docx func(ctx context.Context, pandoc, html string) ([]byte, error)
}

func NewGenerator(pandocPath string, timeout time.Duration) *Generator {
	if pandocPath == "" {
		pandocPath = "pandoc"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Generator{pandocPath: pandocPath, timeout: timeout, pdf: renderPDF, docx: renderDOCX}
}

// Render produces the document for req in the requested format.
func (g *Generator) Render(ctx context.Context, req Request) (*Result, error) {
	format := req.Format
	if format == "" {
		format = FormatPDF
	}

	html, title, err := RenderHTML(req)
	if err != nil {
		return nil, err
	}
	base := sanitizeFilename(title)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: mimeHTML}, nil
	case FormatPDF:
		data, err := g.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".pdf", MimeType: mimePDF}, nil
	case FormatDOCX:
		data, err := g.docx(ctx, g.pandocPath, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".docx", MimeType: mimeDOCX}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Extension returns the file extension used for format.
func Extension(format Format) string {
	if format == "" {
		return string(FormatPDF)
	}
	return string(format)
}
