package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chathub/internal/util"
)

// LocalJobQueue runs jobs on in-process workers. Jobs are lost on restart,
// which leaves their placeholders unfinalized.
type LocalJobQueue struct {
	jobs chan Job

	mu     sync.RWMutex
	closed bool

	statusMu sync.Mutex
	status   map[string]JobStatus

	wg sync.WaitGroup
}

func NewLocalJobQueue(buffer int) *LocalJobQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &LocalJobQueue{
		jobs:   make(chan Job, buffer),
		status: make(map[string]JobStatus),
	}
}

// Enqueue buffers the job without blocking; a full buffer reports ErrFull.
func (q *LocalJobQueue) Enqueue(_ context.Context, job Job) (JobStatus, error) {
	if strings.TrimSpace(job.PlaceholderID) == "" {
		return JobStatus{}, errors.New("placeholderId required")
	}
	if job.ID == "" {
		job.ID = util.NewID()
	}
	now := time.Now().UTC()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	status := JobStatus{
		ID:            job.ID,
		Kind:          job.Kind,
		PlaceholderID: job.PlaceholderID,
		Status:        StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return JobStatus{}, ErrClosed
	}
	q.statusMu.Lock()
	q.status[job.ID] = status
	q.statusMu.Unlock()
	select {
	case q.jobs <- job:
	default:
		q.statusMu.Lock()
		delete(q.status, job.ID)
		q.statusMu.Unlock()
		return JobStatus{}, ErrFull
	}
	return status, nil
}

func (q *LocalJobQueue) GetJob(_ context.Context, jobID string) (JobStatus, bool, error) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	status, ok := q.status[jobID]
	return status, ok, nil
}

// Start launches concurrency workers. Jobs run on a context detached from
// ctx, so cancelling it never interrupts a job; workers exit once Close has
// drained the buffer.
func (q *LocalJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				q.run(jobCtx, job, handler)
			}
		}()
	}
}

func (q *LocalJobQueue) run(ctx context.Context, job Job, handler Handler) {
	q.setStatus(job.ID, StatusProcessing, "", true)
	if err := handler(ctx, job); err != nil {
		q.setStatus(job.ID, StatusFailed, err.Error(), false)
		return
	}
	q.setStatus(job.ID, StatusDone, "", false)
}

func (q *LocalJobQueue) setStatus(jobID, state, errMsg string, attempt bool) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	status := q.status[jobID]
	status.Status = state
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	if attempt {
		status.Attempts++
	}
	q.status[jobID] = status
}

// Close stops accepting jobs and waits for workers to finish what is
// already buffered.
func (q *LocalJobQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
