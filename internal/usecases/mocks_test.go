package usecases

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// MockDocumentStore is a mock implementation of DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

var _ domain.DocumentStore = (*MockDocumentStore)(nil)

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentStore) List(ctx context.Context) ([]*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentStore) ListByType(ctx context.Context, t domain.DocumentType) ([]*domain.Document, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentStore) Add(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentStore) Update(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockRemoteGateway is a mock implementation of RemoteGateway
type MockRemoteGateway struct {
	mock.Mock
}

var _ domain.RemoteGateway = (*MockRemoteGateway)(nil)

func (m *MockRemoteGateway) FindByID(ctx context.Context, id string) (*domain.RemoteDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemoteDocument), args.Error(1)
}

func (m *MockRemoteGateway) Upload(ctx context.Context, filename string, file io.Reader) (*domain.RemoteDocument, error) {
	args := m.Called(ctx, filename, file)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemoteDocument), args.Error(1)
}

func (m *MockRemoteGateway) FetchPreview(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

// memStore is a small in-memory DocumentStore for stateful scenarios
type memStore struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	updates int
}

func newMemStore(docs ...*domain.Document) *memStore {
	s := &memStore{docs: make(map[string]*domain.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d.Clone()
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *memStore) List(_ context.Context) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Document{}
	for _, d := range s.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListByType(ctx context.Context, t domain.DocumentType) ([]*domain.Document, error) {
	all, _ := s.List(ctx)
	out := []*domain.Document{}
	for _, d := range all {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) Add(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *memStore) Update(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	s.docs[doc.ID] = doc.Clone()
	s.updates++
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}
