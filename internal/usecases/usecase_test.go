package usecases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garlicbreadcleric/increadable/internal/cache"
	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/reader"
)

func remoteDoc(id string) *domain.RemoteDocument {
	return &domain.RemoteDocument{
		ID:              id,
		Type:            domain.DocumentTypeEbook,
		OriginalFileURL: "https://files/" + id + ".epub",
		PreviewFileURL:  "https://files/" + id + ".html",
		Metadata:        &domain.Metadata{Title: "Remote " + id},
	}
}

// TestFindByIDLocalHit tests that a cached document never reaches the gateway
func TestFindByIDLocalHit(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	store.On("Get", ctx, "doc-1").Return(&domain.Document{ID: "doc-1", Type: domain.DocumentTypeEbook}, nil).Once()

	doc, err := usecase.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.NotNil(t, doc.Bookmarks, "absent bookmark list normalises to empty")
	assert.Empty(t, doc.Bookmarks)
	require.NotNil(t, doc.Metadata)

	store.AssertExpectations(t)
	gateway.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	gateway.AssertNotCalled(t, "FetchPreview", mock.Anything, mock.Anything)
}

// TestFindByIDMissHydrates tests the remote path: one lookup, one preview fetch, one insert
func TestFindByIDMissHydrates(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	store.On("Get", ctx, "doc-2").Return(nil, domain.ErrNotFound).Once()
	gateway.On("FindByID", mock.Anything, "doc-2").Return(remoteDoc("doc-2"), nil).Once()
	gateway.On("FetchPreview", mock.Anything, "https://files/doc-2.html").Return("<h1>Hello</h1>", nil).Once()
	store.On("Add", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
		return d.ID == "doc-2" && d.PreviewMarkup == "<h1>Hello</h1>" && d.Bookmarks != nil && len(d.Bookmarks) == 0
	})).Return(nil).Once()

	doc, err := usecase.FindByID(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "Remote doc-2", doc.Title())
	assert.Equal(t, domain.DocumentTypeEbook, doc.Type)
	assert.Empty(t, doc.Bookmarks)

	store.AssertExpectations(t)
	gateway.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "Add", 1)
}

func TestFindByIDRemoteNotFound(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	store.On("Get", ctx, "ghost").Return(nil, domain.ErrNotFound)
	gateway.On("FindByID", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	_, err := usecase.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	gateway.AssertNotCalled(t, "FetchPreview", mock.Anything, mock.Anything)
}

func TestFindByIDPreviewFailure(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	transportErr := &domain.TransportError{Op: "fetch preview", URL: "https://files/doc-3.html", Status: 503}
	store.On("Get", ctx, "doc-3").Return(nil, domain.ErrNotFound)
	gateway.On("FindByID", mock.Anything, "doc-3").Return(remoteDoc("doc-3"), nil)
	gateway.On("FetchPreview", mock.Anything, "https://files/doc-3.html").Return("", transportErr)

	_, err := usecase.FindByID(ctx, "doc-3")
	var terr *domain.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 503, terr.Status)
	store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)

	// the descriptor exists, so a missing preview file is still a transport failure
	gone := &domain.TransportError{Op: "fetch preview", URL: "https://files/doc-6.html", Status: 404}
	store.On("Get", ctx, "doc-6").Return(nil, domain.ErrNotFound)
	gateway.On("FindByID", mock.Anything, "doc-6").Return(remoteDoc("doc-6"), nil)
	gateway.On("FetchPreview", mock.Anything, "https://files/doc-6.html").Return("", gone)

	_, err = usecase.FindByID(ctx, "doc-6")
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 404, terr.Status)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByIDStoreFailureSkipsGateway(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	store.On("Get", ctx, "doc").Return(nil, errors.New("disk on fire"))

	_, err := usecase.FindByID(ctx, "doc")
	assert.EqualError(t, err, "disk on fire")
	gateway.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestFindByIDLosesInsertRace(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	idx := 7
	existing := &domain.Document{ID: "doc-4", Type: domain.DocumentTypeEbook, CurrentElementIndex: &idx}

	store.On("Get", ctx, "doc-4").Return(nil, domain.ErrNotFound).Once()
	gateway.On("FindByID", mock.Anything, "doc-4").Return(remoteDoc("doc-4"), nil)
	gateway.On("FetchPreview", mock.Anything, mock.Anything).Return("<p>x</p>", nil)
	store.On("Add", mock.Anything, mock.Anything).Return(domain.ErrAlreadyExists)
	store.On("Get", mock.Anything, "doc-4").Return(existing, nil).Once()

	doc, err := usecase.FindByID(ctx, "doc-4")
	require.NoError(t, err)
	require.NotNil(t, doc.CurrentElementIndex)
	assert.Equal(t, 7, *doc.CurrentElementIndex)
}

// TestFindByIDConcurrentMisses tests that simultaneous readers share one remote lookup
func TestFindByIDConcurrentMisses(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	ctx := context.Background()
	const readers = 5

	var gets sync.WaitGroup
	gets.Add(readers)
	release := make(chan struct{})

	store.On("Get", ctx, "doc-5").Return(nil, domain.ErrNotFound).Run(func(mock.Arguments) { gets.Done() })
	gateway.On("FindByID", mock.Anything, "doc-5").Return(remoteDoc("doc-5"), nil).Run(func(mock.Arguments) { <-release })
	gateway.On("FetchPreview", mock.Anything, mock.Anything).Return("<p>x</p>", nil)
	store.On("Add", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	var failures int32
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			if _, err := usecase.FindByID(ctx, "doc-5"); err != nil {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}

	gets.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&failures))
	gateway.AssertNumberOfCalls(t, "FindByID", 1)
	gateway.AssertNumberOfCalls(t, "FetchPreview", 1)
	store.AssertNumberOfCalls(t, "Add", 1)
}

// TestFindByIDSurvivesCancelledLeader tests that a waiter still gets the document
// when the request that started the shared hydration goes away
func TestFindByIDSurvivesCancelledLeader(t *testing.T) {
	store := new(MockDocumentStore)
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 2)

	started := make(chan struct{})
	release := make(chan struct{})
	joined := make(chan struct{}, 2)

	store.On("Get", mock.Anything, "d").Return(nil, domain.ErrNotFound).Run(func(mock.Arguments) { joined <- struct{}{} })
	gateway.On("FindByID", mock.Anything, "d").Return(remoteDoc("d"), nil).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Once()
	gateway.On("FetchPreview", mock.Anything, mock.Anything).Return("<p>x</p>", nil)
	store.On("Add", mock.Anything, mock.Anything).Return(nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := usecase.FindByID(leaderCtx, "d")
		leaderErr <- err
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := usecase.FindByID(context.Background(), "d")
		waiterErr <- err
	}()
	<-joined
	<-joined
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	assert.NoError(t, <-waiterErr)
	gateway.AssertNumberOfCalls(t, "FindByID", 1)
	store.AssertNumberOfCalls(t, "Add", 1)
}

func TestFindByIDRejectsEmptyID(t *testing.T) {
	usecase := NewDocumentUsecase(new(MockDocumentStore), new(MockRemoteGateway), nil, zaptest.NewLogger(t), 1)
	_, err := usecase.FindByID(context.Background(), " ")
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestFindAllOrder(t *testing.T) {
	store := new(MockDocumentStore)
	usecase := NewDocumentUsecase(store, new(MockRemoteGateway), nil, zaptest.NewLogger(t), 1)

	ctx := context.Background()
	list := func() []*domain.Document {
		return []*domain.Document{
			{ID: "c", Metadata: &domain.Metadata{Title: "alpha"}},
			{ID: "a", Metadata: &domain.Metadata{Title: "Gamma"}},
			{ID: "b"},
		}
	}
	store.On("List", ctx).Return(list(), nil).Once()
	store.On("List", ctx).Return(list(), nil).Once()

	ids := func(docs []*domain.Document) []string {
		out := make([]string, len(docs))
		for i, d := range docs {
			out[i] = d.ID
		}
		return out
	}

	byID, err := usecase.FindAll(ctx, OrderByID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(byID))

	byTitle, err := usecase.FindAll(ctx, ParseListOrder("Title"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(byTitle))
}

func TestUpdateReplacesAndDropsSession(t *testing.T) {
	store := newMemStore(&domain.Document{ID: "doc", Type: domain.DocumentTypeEbook})
	sessions := cache.NewShardedCache[*reader.Session](4, 60)
	usecase := NewDocumentUsecase(store, new(MockRemoteGateway), sessions, zaptest.NewLogger(t), 1)
	ctx := context.Background()

	_, _, err := sessions.GetOrCreate(ctx, sessionKey("doc"), func() *reader.Session { return reader.NewSession(nil) })
	require.NoError(t, err)

	err = usecase.Update(ctx, "doc", &domain.Document{ID: "ignored", Type: domain.DocumentTypePdf})
	require.NoError(t, err)

	stored, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentTypePdf, stored.Type)

	_, ok := sessions.Get(ctx, sessionKey("doc"))
	assert.False(t, ok)

	err = usecase.Update(ctx, "doc", &domain.Document{Type: "scroll"})
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))

	err = usecase.Update(ctx, "missing", &domain.Document{Type: domain.DocumentTypeEbook})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := newMemStore(&domain.Document{ID: "doc", Type: domain.DocumentTypeEbook})
	usecase := NewDocumentUsecase(store, new(MockRemoteGateway), nil, zaptest.NewLogger(t), 1)
	ctx := context.Background()

	require.NoError(t, usecase.Remove(ctx, "doc"))
	require.NoError(t, usecase.Remove(ctx, "doc"))

	_, err := store.Get(ctx, "doc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUploadHydratesLocalCache(t *testing.T) {
	store := newMemStore()
	gateway := new(MockRemoteGateway)
	usecase := NewDocumentUsecase(store, gateway, nil, zaptest.NewLogger(t), 1)
	ctx := context.Background()

	file := strings.NewReader("bytes")
	gateway.On("Upload", ctx, "book.epub", file).Return(remoteDoc("up-1"), nil).Once()
	gateway.On("FindByID", mock.Anything, "up-1").Return(remoteDoc("up-1"), nil).Once()
	gateway.On("FetchPreview", mock.Anything, "https://files/up-1.html").Return("<h1>Up</h1>", nil).Once()

	doc, err := usecase.Upload(ctx, "book.epub", file)
	require.NoError(t, err)
	assert.Equal(t, "up-1", doc.ID)

	stored, err := store.Get(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Up</h1>", stored.PreviewMarkup)
	gateway.AssertExpectations(t)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Acquire(context.Background()))
	assert.Equal(t, 1, rl.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Acquire(ctx), context.DeadlineExceeded)

	rl.Release()
	rl.Release()
	assert.Equal(t, 0, rl.InFlight())
}
