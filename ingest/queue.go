package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/MLZ101/RAG-Document-Chat/readers"
)

type Ingester interface {
	Ingest(ctx context.Context, job Job) (Result, error)
}

// Submission is a staged file waiting to be ingested.
type Submission struct {
	Path     string
	Filename string
	// DocumentID is generated when empty.
	DocumentID string
	// DeclaredType overrides the type derived from Filename.
	DeclaredType string
}

type job struct {
	Job
	status Status
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// claimed is set once a goroutine owns the job's single run.
	claimed bool
}

// Queue runs ingestions on a bounded worker pool. Submitters never wait for
// the work; outcomes are recorded per document id.
type Queue struct {
	ingester Ingester
	pool     *ants.Pool
	log      *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

type QueueOption func(*queueConfig)

type queueConfig struct {
	workers int
	log     *slog.Logger
}

// WithWorkers sets the number of concurrent ingestions.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) QueueOption {
	return func(c *queueConfig) {
		c.workers = n
	}
}

func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(c *queueConfig) {
		if logger != nil {
			c.log = logger
		}
	}
}

func NewQueue(ingester Ingester, opts ...QueueOption) (*Queue, error) {
	if ingester == nil {
		return nil, ErrIngesterRequired
	}

	cfg := queueConfig{
		workers: runtime.NumCPU() / 2,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}

	pool, err := ants.NewPool(cfg.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Queue{
		ingester: ingester,
		pool:     pool,
		log:      cfg.log.With("component", "queue"),
		jobs:     make(map[string]*job),
	}, nil
}

// Submit accepts a staged file and returns its document id without waiting
// for the ingestion. Files of an unsupported type are rejected here and left
// in place.
func (q *Queue) Submit(ctx context.Context, s Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t, err := resolveType(s)
	if err != nil {
		return "", err
	}

	id := s.DocumentID
	if id == "" {
		id = uuid.NewString()
	}

	jctx, cancel := context.WithCancel(context.Background())
	j := &job{
		Job: Job{
			Path:       s.Path,
			DocumentID: id,
			Filename:   s.Filename,
			Type:       t,
		},
		status: Status{
			DocumentID:  id,
			Filename:    s.Filename,
			State:       Pending,
			SubmittedAt: time.Now().UTC(),
		},
		ctx:    jctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return "", ErrQueueClosed
	}
	if prev, ok := q.jobs[id]; ok && !prev.status.State.Done() {
		q.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	q.jobs[id] = j
	q.wg.Add(1)
	q.mu.Unlock()

	q.log.Info("ingestion queued", "document_id", id, "filename", s.Filename, "type", t.String())

	go q.dispatch(j)

	return id, nil
}

func resolveType(s Submission) (readers.FileType, error) {
	if strings.TrimSpace(s.DeclaredType) != "" {
		return readers.ParseDeclaredType(s.DeclaredType)
	}
	return readers.ParseFileType(s.Filename)
}

func (q *Queue) dispatch(j *job) {
	err := q.pool.Submit(func() {
		if q.claim(j) {
			q.run(j)
		}
	})
	if err != nil {
		// the pool is gone; run inline so the file is still cleaned up
		j.cancel()
		if q.claim(j) {
			q.run(j)
		}
	}
}

// claim hands the job's run to the caller exactly once. A job whose context
// is already canceled never enters the Running state.
func (q *Queue) claim(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j.claimed {
		return false
	}
	j.claimed = true

	if j.ctx.Err() == nil {
		j.status.State = Running
		j.status.StartedAt = time.Now().UTC()
	}
	return true
}

func (q *Queue) run(j *job) {
	defer q.wg.Done()
	defer close(j.done)
	defer j.cancel()

	res, err := q.ingester.Ingest(j.ctx, j.Job)

	q.mu.Lock()
	defer q.mu.Unlock()

	j.status.FinishedAt = time.Now().UTC()
	j.status.Chunks = res.Chunks

	if err == nil {
		j.status.State = Succeeded
		return
	}

	j.status.Kind = classify(err)
	j.status.Error = err.Error()
	if j.status.Kind == KindCanceled {
		j.status.State = Canceled
		q.log.Info("ingestion canceled", "document_id", j.DocumentID, "filename", j.Filename)
		return
	}

	j.status.State = Failed
	q.log.Error("ingestion failed",
		"document_id", j.DocumentID,
		"filename", j.Filename,
		"kind", j.status.Kind,
		"error", err)
}

// cancelJob cancels j. A job still waiting for a worker is finished right away.
func (q *Queue) cancelJob(j *job) {
	j.cancel()
	if q.claim(j) {
		go q.run(j)
	}
}

// Cancel stops the ingestion of a document if it has not finished yet.
func (q *Queue) Cancel(documentID string) error {
	q.mu.Lock()
	j, ok := q.jobs[documentID]
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, documentID)
	}

	q.cancelJob(j)
	return nil
}

func (q *Queue) Status(documentID string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[documentID]
	if !ok {
		return Status{}, false
	}

	return j.status, true
}

// Statuses returns every known job, oldest submission first.
func (q *Queue) Statuses() []Status {
	q.mu.Lock()
	res := make([]Status, 0, len(q.jobs))
	for _, j := range q.jobs {
		res = append(res, j.status)
	}
	q.mu.Unlock()

	slices.SortFunc(res, func(a, b Status) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.DocumentID, b.DocumentID)
	})

	return res
}

// Wait blocks until the document's ingestion has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context, documentID string) (Status, error) {
	q.mu.Lock()
	j, ok := q.jobs[documentID]
	q.mu.Unlock()

	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownJob, documentID)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	st, _ := q.Status(documentID)
	return st, nil
}

// Close stops accepting submissions, cancels jobs that have not started and
// waits for running ones. When ctx ends first, running jobs are canceled too.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	var pending []*job
	for _, j := range q.jobs {
		if !j.claimed {
			pending = append(pending, j)
		}
	}
	q.mu.Unlock()

	for _, j := range pending {
		q.cancelJob(j)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		q.mu.Lock()
		for _, j := range q.jobs {
			j.cancel()
		}
		q.mu.Unlock()
		<-done
		err = ctx.Err()
	}

	q.pool.Release()
	return err
}
