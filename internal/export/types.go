// Package export renders a menu to a downloadable PDF or standalone HTML
// file.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Source picks which document of the menu is exported.
type Source string

const (
	SourcePublished Source = "published"
	SourceDraft     Source = "draft"
)

// Request contains parameters for an export operation
type Request struct {
	MenuID string
	Format Format
	Source Source
}

// MenuInfo is what export needs to know about a menu.
type MenuInfo struct {
	ID          string
	Name        string
	Slug        string
	Draft       *string
	Published   *string
	PublishedAt *time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates the menu document could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrNothingToExport means the requested document does not exist yet.
	ErrNothingToExport = errors.New("menu has no document to export")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
)
