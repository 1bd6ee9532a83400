package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// ErrStopped is returned for batches submitted after Stop
var ErrStopped = errors.New("processor stopped")

const defaultBatchTimeout = 30 * time.Second

// RenderTask is a document waiting for a worker, with its index in the batch
type RenderTask struct {
	Index    int
	Document *domain.Document
	results  chan<- *RenderOutcome
}

// RenderOutcome is a worker's result for one task
type RenderOutcome struct {
	Index    int
	Rendered *domain.RenderedDocument
	Error    error
}

// OrderedProcessor renders document previews on a worker pool and returns
// results in input order (implements domain.BatchRenderer)
type OrderedProcessor struct {
	workers      int
	renderer     domain.PreviewRenderer
	inputQueue   chan *RenderTask
	wg           sync.WaitGroup
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	BatchTimeout time.Duration

	// Shutdown management
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewPreviewProcessor creates an ordered preview processor with a worker pool
func NewPreviewProcessor(renderer domain.PreviewRenderer, workers int, queueSize int, logger *zap.Logger) *OrderedProcessor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OrderedProcessor{
		workers:      workers,
		renderer:     renderer,
		inputQueue:   make(chan *RenderTask, queueSize),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		BatchTimeout: defaultBatchTimeout,
	}
}

// Start starts the worker pool
func (p *OrderedProcessor) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}

		p.logger.Info("ordered processor started",
			zap.Int("workers", p.workers),
		)
	})
}

// Stop cancels pending batches and waits for the workers
func (p *OrderedProcessor) Stop() {
	p.shutdownOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("ordered processor stopped")
	})
}

// RenderDocuments renders every document's preview while preserving order.
// A failure to render one document is reported in its result, not as an error.
func (p *OrderedProcessor) RenderDocuments(ctx context.Context, documents []*domain.Document) ([]*domain.RenderResult, error) {
	if len(documents) == 0 {
		return []*domain.RenderResult{}, nil
	}
	if p.ctx.Err() != nil {
		return nil, ErrStopped
	}

	processCtx, cancel := context.WithTimeout(ctx, p.BatchTimeout)
	defer cancel()

	// Buffered so workers never block on an abandoned batch.
	replies := make(chan *RenderOutcome, len(documents))

	go func() {
		for i, doc := range documents {
			task := &RenderTask{Index: i, Document: doc, results: replies}
			select {
			case <-processCtx.Done():
				return
			case <-p.ctx.Done():
				return
			case p.inputQueue <- task:
			}
		}
	}()

	outcomes := make([]*RenderOutcome, len(documents))
	for collected := 0; collected < len(documents); collected++ {
		select {
		case <-processCtx.Done():
			return nil, processCtx.Err()
		case <-p.ctx.Done():
			return nil, ErrStopped
		case outcome := <-replies:
			outcomes[outcome.Index] = outcome
		}
	}

	results := make([]*domain.RenderResult, len(documents))
	for i, doc := range documents {
		results[i] = &domain.RenderResult{
			Document: doc,
			Rendered: outcomes[i].Rendered,
			Error:    outcomes[i].Error,
		}
	}

	return results, nil
}

// worker processes tasks from the input queue
func (p *OrderedProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("worker stopping", zap.Int("worker_id", id))
			return
		case task := <-p.inputQueue:
			rendered, err := p.renderDocument(id, task.Document)
			task.results <- &RenderOutcome{Index: task.Index, Rendered: rendered, Error: err}
		}
	}
}

func (p *OrderedProcessor) renderDocument(workerID int, doc *domain.Document) (*domain.RenderedDocument, error) {
	if doc == nil {
		return nil, &domain.ValidationError{Field: "document", Message: "is nil"}
	}

	start := time.Now()
	rendered, err := p.renderer.Render(doc.PreviewMarkup)
	if err != nil {
		p.logger.Warn("preview render failed",
			zap.Int("worker_id", workerID),
			zap.String("doc_id", doc.ID),
			zap.Error(err),
		)
		return nil, err
	}

	p.logger.Debug("preview rendered",
		zap.Int("worker_id", workerID),
		zap.String("doc_id", doc.ID),
		zap.Int("blocks", len(rendered.Blocks)),
		zap.Int("headings", len(rendered.Headings)),
		zap.Duration("duration", time.Since(start)),
	)

	return rendered, nil
}

// Verify that OrderedProcessor implements domain.BatchRenderer interface
var _ domain.BatchRenderer = (*OrderedProcessor)(nil)
