package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowIngest blocks each run until released and tracks peak parallelism.
type slowIngest struct {
	mu       sync.Mutex
	running  int
	peak     int
	slugs    []string
	release  chan struct{}
	started  chan string
}

func newSlowIngest() *slowIngest {
	return &slowIngest{
		release: make(chan struct{}),
		started: make(chan string, 64),
	}
}

func (s *slowIngest) Run(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error) {
	s.mu.Lock()
	s.running++
	if s.running > s.peak {
		s.peak = s.running
	}
	s.slugs = append(s.slugs, req.Slug)
	s.mu.Unlock()

	s.started <- req.Slug

	select {
	case <-s.release:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.running--
	s.mu.Unlock()
	return &service.IngestResult{}, nil
}

func req(slug string) service.IngestRequest {
	return service.IngestRequest{
		Slug:          slug,
		UploadType:    domain.UploadTypeText,
		EmbeddingType: domain.EmbeddingTypeSmall,
		Payload:       []byte("text"),
	}
}

func TestIngestRunner_RejectsDuplicateSlug(t *testing.T) {
	svc := newSlowIngest()
	r := NewIngestRunner(svc, 2, 8)
	r.Start(t.Context())
	defer r.Stop()

	require.NoError(t, r.Enqueue(req("guide")))
	err := r.Enqueue(req("guide"))
	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)

	// A different document is unaffected.
	assert.NoError(t, r.Enqueue(req("other")))

	<-svc.started
	<-svc.started
	close(svc.release)
}

func TestIngestRunner_BoundsConcurrency(t *testing.T) {
	svc := newSlowIngest()
	r := NewIngestRunner(svc, 2, 16)
	r.Start(t.Context())
	defer r.Stop()

	for _, slug := range []string{"a-doc", "b-doc", "c-doc", "d-doc"} {
		require.NoError(t, r.Enqueue(req(slug)))
	}

	// Exactly two runs start; the rest wait for a slot.
	<-svc.started
	<-svc.started
	time.Sleep(50 * time.Millisecond)

	svc.mu.Lock()
	running := svc.running
	svc.mu.Unlock()
	assert.Equal(t, 2, running)

	close(svc.release)

	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-svc.started:
		case <-deadline:
			t.Fatal("queued runs never started")
		}
	}

	svc.mu.Lock()
	peak := svc.peak
	svc.mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestIngestRunner_SlugReleasedAfterRun(t *testing.T) {
	svc := newSlowIngest()
	close(svc.release) // runs finish immediately
	r := NewIngestRunner(svc, 1, 8)
	r.Start(t.Context())
	defer r.Stop()

	require.NoError(t, r.Enqueue(req("guide")))
	<-svc.started

	// Wait for the in-flight mark to clear, then re-enqueue.
	require.Eventually(t, func() bool {
		return r.InFlight() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, r.Enqueue(req("guide")))
	<-svc.started
}

func TestIngestRunner_StopWaitsForInFlightRuns(t *testing.T) {
	svc := newSlowIngest()
	r := NewIngestRunner(svc, 1, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	require.NoError(t, r.Enqueue(req("guide")))
	<-svc.started

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(svc.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after runs finished")
	}
}
