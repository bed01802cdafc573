package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/jobs"
)

// QueueConfig tunes the queue. Zero values get defaults.
type QueueConfig struct {
	// BufferSize is how many jobs can wait before PublishParseStatement blocks.
	BufferSize int
	// Workers is the number of jobs handled concurrently.
	Workers int
	// RetryBackoff is multiplied by the retry count before a failed job is
	// queued again.
	RetryBackoff time.Duration
	// MaxRetries applies to jobs published without their own limit.
	MaxRetries int
}

// Queue is an in-memory job publisher and consumer backed by a channel.
// It suits single-instance deployments and tests.
type Queue struct {
	cfg       QueueConfig
	jobChan   chan *jobs.ParseStatementJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue. store may be nil.
func NewQueue(cfg QueueConfig, store jobs.JobStore, log zerolog.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = jobs.DefaultMaxRetries
	}
	return &Queue{
		cfg:       cfg,
		jobChan:   make(chan *jobs.ParseStatementJob, cfg.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		log:       log,
	}
}

// PublishParseStatement implements jobs.Publisher.
func (q *Queue) PublishParseStatement(ctx context.Context, job *jobs.ParseStatementJob) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.cfg.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.cfg.Workers).Msg("Job queue started")
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs one attempt and schedules a retry on failure.
func (q *Queue) processJob(ctx context.Context, job *jobs.ParseStatementJob, handler jobs.JobHandler) {
	now := time.Now().UTC()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)
		return
	}

	job.Error = err.Error()
	if job.RetryCount >= job.MaxRetries {
		job.Status = jobs.JobStatusFailed
		q.save(ctx, job)
		q.log.Error().
			Err(err).
			Str("job_id", job.JobID).
			Str("upload_id", job.UploadID).
			Int("retry_count", job.RetryCount).
			Msg("Job failed permanently")
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	q.save(ctx, job)

	backoff := time.Duration(job.RetryCount) * q.cfg.RetryBackoff
	q.log.Warn().
		Err(err).
		Str("job_id", job.JobID).
		Str("upload_id", job.UploadID).
		Int("retry_count", job.RetryCount).
		Dur("backoff", backoff).
		Msg("Job failed, retrying")

	time.AfterFunc(backoff, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		if err := q.PublishParseStatement(ctx, job); err != nil {
			q.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to requeue job")
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.ParseStatementJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Stop implements jobs.Consumer. It waits for in-flight jobs until ctx is
// done.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
