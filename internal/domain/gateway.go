package domain

import (
	"context"
	"io"
)

// RemoteGateway talks to the remote document service
type RemoteGateway interface {
	// FindByID fetches a document descriptor, ErrNotFound when the service has none
	FindByID(ctx context.Context, id string) (*RemoteDocument, error)

	// Upload submits a new file and returns its descriptor
	Upload(ctx context.Context, filename string, file io.Reader) (*RemoteDocument, error)

	// FetchPreview downloads the raw preview markup
	FetchPreview(ctx context.Context, url string) (string, error)
}
