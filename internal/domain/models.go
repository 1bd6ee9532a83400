package domain

import "time"

// DocumentType is the kind of uploaded document
type DocumentType string

const (
	DocumentTypeEbook DocumentType = "ebook"
	DocumentTypePdf   DocumentType = "pdf"
)

// Valid reports whether t is one of the known document types
func (t DocumentType) Valid() bool {
	return t == DocumentTypeEbook || t == DocumentTypePdf
}

// Metadata describes a document as reported by the remote service
type Metadata struct {
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Date     string   `json:"date,omitempty"`
}

// Document is the locally cached copy of an uploaded document together with
// the user's annotations
type Document struct {
	ID                  string       `json:"id" reindex:"id,,pk"`
	Type                DocumentType `json:"type" reindex:"type"`
	OriginalFileURL     string       `json:"originalFileUrl"`
	PreviewFileURL      string       `json:"previewFileUrl"`
	PreviewMarkup       string       `json:"previewFileHtml,omitempty"`
	Metadata            *Metadata    `json:"metadata,omitempty"`
	Bookmarks           []Bookmark   `json:"bookmarks"`
	CurrentElementIndex *int         `json:"currentElementIndex,omitempty"`
}

// Title returns the metadata title, falling back to the document id
func (d *Document) Title() string {
	if d.Metadata != nil && d.Metadata.Title != "" {
		return d.Metadata.Title
	}
	return d.ID
}

// Normalize replaces absent collections with empty ones
func (d *Document) Normalize() {
	if d.Bookmarks == nil {
		d.Bookmarks = []Bookmark{}
	}
	if d.Metadata == nil {
		d.Metadata = &Metadata{}
	}
	if d.Metadata.Authors == nil {
		d.Metadata.Authors = []string{}
	}
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Metadata != nil {
		m := *d.Metadata
		m.Authors = append([]string(nil), d.Metadata.Authors...)
		c.Metadata = &m
	}
	if d.Bookmarks != nil {
		c.Bookmarks = append(make([]Bookmark, 0, len(d.Bookmarks)), d.Bookmarks...)
	}
	if d.CurrentElementIndex != nil {
		idx := *d.CurrentElementIndex
		c.CurrentElementIndex = &idx
	}
	return &c
}

// Bookmark is a user marker anchored to a content block. Never mutated after creation.
type Bookmark struct {
	ID           string    `json:"id"`
	ElementIndex int       `json:"elementIndex"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RemoteDocument is the descriptor returned by the remote document service
type RemoteDocument struct {
	ID              string       `json:"id"`
	Type            DocumentType `json:"type"`
	OriginalFileURL string       `json:"originalFileUrl"`
	PreviewFileURL  string       `json:"previewFileUrl"`
	Metadata        *Metadata    `json:"metadata"`
}
