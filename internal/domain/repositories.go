package domain

import "context"

// DocumentStore is the local persistent collection of documents keyed by id
type DocumentStore interface {
	// Get retrieves a document by ID, ErrNotFound when absent
	Get(ctx context.Context, id string) (*Document, error)

	// List returns every stored document
	List(ctx context.Context) ([]*Document, error)

	// ListByType returns the documents of the given type
	ListByType(ctx context.Context, t DocumentType) ([]*Document, error)

	// Add stores a new document, ErrAlreadyExists when the id is taken
	Add(ctx context.Context, doc *Document) error

	// Update replaces a stored document as a whole
	Update(ctx context.Context, doc *Document) error

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}
