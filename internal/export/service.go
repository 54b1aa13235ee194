package export

import (
	"context"
	"fmt"

	"carta/api/internal/document"
	"carta/api/internal/render"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetMenuForExport(ctx context.Context, menuID string) (MenuInfo, error)
}

type Decoder interface {
	Decode(payload string) (*document.Store, error)
}

// Printer turns a complete HTML page into PDF bytes.
type Printer interface {
	PrintPDF(ctx context.Context, html []byte) ([]byte, error)
}

// Service provides menu export functionality
type Service struct {
	store   DataStore
	decoder Decoder
	printer Printer
}

// NewService creates a new export service. A nil printer uses headless
// Chrome.
func NewService(store DataStore, decoder Decoder, printer Printer) *Service {
	if printer == nil {
		printer = NewChromePrinter(0)
	}
	return &Service{store: store, decoder: decoder, printer: printer}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatPDF && req.Format != FormatHTML {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	menu, err := s.store.GetMenuForExport(ctx, req.MenuID)
	if err != nil {
		return nil, fmt.Errorf("get menu: %w", err)
	}

	payload := menu.Published
	if req.Source == SourceDraft {
		payload = menu.Draft
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNothingToExport, req.MenuID, sourceName(req.Source))
	}

	tree, err := s.decoder.Decode(*payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}
	body, err := render.Body(tree, render.Public)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	page, err := render.Page(render.PageData{
		Title:       menu.Name,
		Body:        body,
		PublishedAt: menu.PublishedAt,
		Print:       req.Format == FormatPDF,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	name := sanitizeFilename(menu.Slug)
	if req.Source == SourceDraft {
		name += "-draft"
	}
	switch req.Format {
	case FormatHTML:
		return &Result{Data: page, Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	default:
		pdf, err := s.printer.PrintPDF(ctx, page)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdf, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	}
}

func sourceName(s Source) string {
	if s == SourceDraft {
		return "draft"
	}
	return "published"
}
