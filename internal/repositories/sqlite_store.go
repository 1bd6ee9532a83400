package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

//go:embed schema.sql
var schema string

// SQLiteStore keeps documents in a single-file SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and creates when missing) the database at path
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.EnsureCollections(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return s, nil
}

// EnsureCollections creates the documents table
func (s *SQLiteStore) EnsureCollections(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// CheckConnection pings the database
func (s *SQLiteStore) CheckConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves a document by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	var rec documentRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT id, type, body FROM documents WHERE id = ?",
		id,
	).Scan(&rec.ID, &rec.Type, &rec.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return fromRecord(&rec)
}

// List returns every document ordered by id
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.Document, error) {
	return s.list(ctx, "SELECT id, type, body FROM documents ORDER BY id")
}

// ListByType returns the documents of one type ordered by id
func (s *SQLiteStore) ListByType(ctx context.Context, t domain.DocumentType) ([]*domain.Document, error) {
	return s.list(ctx, "SELECT id, type, body FROM documents WHERE type = ? ORDER BY id", string(t))
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*domain.Document{}
	for rows.Next() {
		var rec documentRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := fromRecord(&rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return docs, nil
}

// Add inserts a new document, ErrAlreadyExists when the id is taken
func (s *SQLiteStore) Add(ctx context.Context, doc *domain.Document) error {
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, type, body, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		rec.ID, rec.Type, rec.Body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAlreadyExists
	}

	s.logger.Debug("document stored", zap.String("id", doc.ID))
	return nil
}

// Update replaces a stored document, ErrNotFound when absent
func (s *SQLiteStore) Update(ctx context.Context, doc *domain.Document) error {
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET type = ?, body = ?, updated_at = ? WHERE id = ?",
		rec.Type, rec.Body, time.Now().UTC(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a document; missing ids are ignored
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

var (
	_ domain.DocumentStore = (*SQLiteStore)(nil)
	_ domain.HealthChecker = (*SQLiteStore)(nil)
)
