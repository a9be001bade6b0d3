package jobs

import (
	"context"
	"log"
	"sync"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

// IngestService defines the interface for running one ingestion
type IngestService interface {
	Run(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
}

// IngestRunner executes ingestion requests asynchronously with bounded
// concurrency. Runs for different documents proceed in parallel; a second
// request for a document whose run is still in flight is rejected, so a
// document never has two concurrent ingestions.
type IngestRunner struct {
	svc         IngestService
	queue       chan service.IngestRequest
	concurrency int

	mu       sync.Mutex
	inFlight map[string]bool

	stopChan  chan struct{}
	doneChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewIngestRunner creates a new IngestRunner instance
func NewIngestRunner(svc IngestService, concurrency, queueDepth int) *IngestRunner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &IngestRunner{
		svc:         svc,
		queue:       make(chan service.IngestRequest, queueDepth),
		concurrency: concurrency,
		inFlight:    make(map[string]bool),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Enqueue accepts a request for asynchronous execution. It fails fast when
// an ingestion for the same document is already queued or running.
func (r *IngestRunner) Enqueue(req service.IngestRequest) error {
	r.mu.Lock()
	if r.inFlight[req.Slug] {
		r.mu.Unlock()
		return domain.ErrIngestionInProgress
	}
	r.inFlight[req.Slug] = true
	r.mu.Unlock()

	select {
	case r.queue <- req:
		return nil
	default:
		r.release(req.Slug)
		return domain.NewDomainError(domain.ErrCodeInvalidOperation, "ingestion queue is full")
	}
}

func (r *IngestRunner) release(slug string) {
	r.mu.Lock()
	delete(r.inFlight, slug)
	r.mu.Unlock()
}

// Start begins the dispatch loop.
func (r *IngestRunner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.dispatch(ctx)
	})
}

// Stop halts dispatching and waits for in-flight runs to finish.
func (r *IngestRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		<-r.doneChan
		log.Println("Ingest runner shutdown complete")
	})
}

func (r *IngestRunner) dispatch(ctx context.Context) {
	defer close(r.doneChan)

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	log.Printf("Ingest runner started with concurrency %d", r.concurrency)

	for {
		select {
		case <-ctx.Done():
			log.Println("Ingest runner stopped: context cancelled")
			return
		case <-r.stopChan:
			log.Println("Ingest runner stopped: stop signal received")
			return
		case req := <-r.queue:
			sem <- struct{}{}
			wg.Add(1)
			go func(req service.IngestRequest) {
				defer wg.Done()
				defer func() { <-sem }()
				defer r.release(req.Slug)

				if _, err := r.svc.Run(ctx, req); err != nil {
					log.Printf("Ingestion for %s failed: %v", req.Slug, err)
				}
			}(req)
		}
	}
}

// InFlight reports how many documents are queued or running.
func (r *IngestRunner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}
