package domain

import "context"

// PreviewRenderer turns raw preview markup into sanitized blocks and headings
type PreviewRenderer interface {
	Render(markup string) (*RenderedDocument, error)
}

// BatchRenderer renders many documents while preserving input order
type BatchRenderer interface {
	RenderDocuments(ctx context.Context, documents []*Document) ([]*RenderResult, error)
}

// RenderResult is the outcome of rendering one document of a batch
type RenderResult struct {
	Document *Document
	Rendered *RenderedDocument
	Error    error
}
