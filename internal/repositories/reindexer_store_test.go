package repositories

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// reindexerDSN returns the DSN of a running Reindexer or skips the test
func reindexerDSN(t *testing.T) string {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dsn := os.Getenv("REINDEXER_DSN")
	if dsn == "" {
		t.Skip("REINDEXER_DSN is not set. Run: docker-compose up -d reindexer")
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		store, err := NewReindexerStore(dsn, "probe", 1, zap.NewNop())
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = store.CheckConnection(ctx)
			cancel()
			store.Close()
			if err == nil {
				return dsn
			}
		}
		time.Sleep(1 * time.Second)
	}
	t.Fatalf("Reindexer at %s is not available", dsn)
	return ""
}

func newTestReindexerStore(t *testing.T, poolSize int) *ReindexerStore {
	dsn := reindexerDSN(t)
	namespace := fmt.Sprintf("documents_test_%d", time.Now().UnixNano())

	store, err := NewReindexerStore(dsn, namespace, poolSize, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.EnsureCollections(context.Background()))
	return store
}

func TestReindexerStoreContract(t *testing.T) {
	storeContract(t, newTestReindexerStore(t, 2))
}

// TestConcurrentCRUDOperations tests concurrent CRUD operations
func TestConcurrentCRUDOperations(t *testing.T) {
	store := newTestReindexerStore(t, 10)
	ctx := context.Background()

	numGoroutines := 50
	numOperations := 10

	run := func(name string, op func(id string) error) {
		var wg sync.WaitGroup
		errors := make(chan error, numGoroutines*numOperations)

		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(g int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					if err := op(fmt.Sprintf("doc-%d-%d", g, j)); err != nil {
						errors <- err
					}
				}
			}(i)
		}

		wg.Wait()
		close(errors)

		for err := range errors {
			t.Errorf("Error during concurrent %s: %v", name, err)
		}
	}

	run("add", func(id string) error {
		return store.Add(ctx, testDocument(id, domain.DocumentTypeEbook))
	})
	run("get", func(id string) error {
		_, err := store.Get(ctx, id)
		return err
	})
	run("update", func(id string) error {
		doc := testDocument(id, domain.DocumentTypePdf)
		doc.Bookmarks = nil
		return store.Update(ctx, doc)
	})
	run("delete", func(id string) error {
		return store.Delete(ctx, id)
	})

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReindexerStoreHealthStatus(t *testing.T) {
	store := newTestReindexerStore(t, 1)

	require.NoError(t, store.CheckConnection(context.Background()))
	status := store.Health()
	assert.True(t, status.IsHealthy)
	assert.Equal(t, 2, status.Connections)

	require.NoError(t, store.Close())
	assert.False(t, store.Health().IsHealthy)
	assert.Error(t, store.CheckConnection(context.Background()))
}

func TestReindexerStoreQueriesHonourContext(t *testing.T) {
	store := newTestReindexerStore(t, 1)
	require.NoError(t, store.Add(context.Background(), testDocument("doc", domain.DocumentTypeEbook)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "doc")
	assert.Error(t, err, "a cancelled request must not reach the database")
	assert.Error(t, store.Update(ctx, testDocument("doc", domain.DocumentTypePdf)))

	got, err := store.Get(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentTypeEbook, got.Type)
}
