package store

import (
	"time"

	"fundroom/api/internal/content"
)

type TemplateVersion struct {
	ID          string
	Type        string
	Version     string
	Content     content.Value
	IsActive    bool
	Description string
	CreatedAt   time.Time
	CreatedBy   string
}

// TemplateTypeSummary describes one template family for listings.
type TemplateTypeSummary struct {
	Type          string
	ActiveVersion *string
	VersionCount  int
	UpdatedAt     time.Time
}
