package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/mediatype"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/probe"
)

// Prober derives metadata for a stored file.
type Prober interface {
	Probe(ctx context.Context, path string, kind mediatype.Kind) (*probe.MediaInfo, error)
}

// Job identifies one file to enrich.
type Job struct {
	Owner      identity.Identity
	Path       string
	Name       string
	Kind       mediatype.Kind
	SizeBytes  int64
	ModifiedAt time.Time
}

func (j Job) key() string { return string(j.Owner) + "/" + j.Name }

// EnricherOptions sizes the worker pool.
type EnricherOptions struct {
	Workers   int
	QueueSize int
}

// Enricher probes files on a bounded pool and records outcomes in the catalog.
type Enricher struct {
	prober  Prober
	catalog catalog.Store
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	pending map[string]struct{}
}

// NewEnricher starts the worker pool.
func NewEnricher(log *slog.Logger, prober Prober, store catalog.Store, rec metrics.Recorder, opts EnricherOptions) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Enricher{
		prober:  prober,
		catalog: store,
		metrics: metrics.OrNoop(rec),
		logger:  log.With(slog.String("service", "enricher")),
		now:     time.Now,
		jobs:    make(chan Job, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Submit queues job without blocking. It reports false when the job was
// dropped because the queue is full, the enricher is closed, or the same
// file is already queued.
func (e *Enricher) Submit(job Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	k := job.key()
	if _, dup := e.pending[k]; dup {
		return false
	}
	select {
	case e.jobs <- job:
		e.pending[k] = struct{}{}
		e.metrics.SetEnrichQueueDepth(len(e.jobs))
		return true
	default:
		e.logger.Warn("enrichment queue full, dropping", slog.String("name", job.Name))
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish, up to ctx.
// When ctx expires, in-flight probes are cancelled.
func (e *Enricher) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Enricher) worker() {
	defer e.wg.Done()
	for job := range e.jobs {
		e.Process(e.ctx, job)
		e.mu.Lock()
		delete(e.pending, job.key())
		e.metrics.SetEnrichQueueDepth(len(e.jobs))
		e.mu.Unlock()
	}
}

// Process probes job synchronously and stores the outcome. A probe failure
// is recorded as an entry without metadata so it is not retried until the
// file changes. Cancellation records nothing.
func (e *Enricher) Process(ctx context.Context, job Job) *probe.MediaInfo {
	if ctx.Err() != nil {
		return nil
	}
	start := time.Now()
	info, err := e.prober.Probe(ctx, job.Path, job.Kind)
	switch {
	case err == nil:
		e.metrics.RecordProbe("ok", time.Since(start))
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		e.metrics.RecordProbe("cancelled", time.Since(start))
		return nil
	default:
		e.metrics.RecordProbe("failed", time.Since(start))
		e.logger.Warn("metadata unavailable", slog.String("owner", job.Owner.String()), slog.String("name", job.Name), slog.Any("error", err))
		info = nil
	}

	entry := catalog.Entry{
		Dir:        string(job.Owner),
		Name:       job.Name,
		SizeBytes:  job.SizeBytes,
		ModifiedAt: job.ModifiedAt,
		ProbedAt:   e.now(),
		Info:       info,
	}
	if err := e.catalog.Put(ctx, entry); err != nil {
		e.logger.Warn("catalog write failed", slog.String("name", job.Name), slog.Any("error", err))
	}
	return info
}
