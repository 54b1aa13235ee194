package store

import "time"

// Menu is one restaurant menu. Draft and published documents are encoded
// node trees; nil means the document does not exist yet.
type Menu struct {
	ID                string
	AccountID         string
	Name              string
	Slug              string
	DraftDocument     *string
	DraftUpdatedAt    *time.Time
	PublishedDocument *string
	PublishedAt       *time.Time
	UpdatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasUnpublishedDraft is a cheap textual check used by listings. The
// publish coordinator makes the structural decision.
func (m Menu) HasUnpublishedDraft() bool {
	if m.DraftDocument == nil {
		return false
	}
	return m.PublishedDocument == nil || *m.PublishedDocument != *m.DraftDocument
}

// MenuDocuments is the raw stored text of one menu, used by maintenance
// commands.
type MenuDocuments struct {
	MenuID    string
	Slug      string
	Draft     *string
	Published *string
}
