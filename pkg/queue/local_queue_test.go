package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalJobQueueRunsBufferedJobsBeforeClose(t *testing.T) {
	q := NewLocalJobQueue(8)
	ctx := context.Background()
	var ran atomic.Int32
	q.Start(ctx, 2, func(_ context.Context, job Job) error {
		ran.Add(1)
		if job.RequestedBy == "fail" {
			return errors.New("boom")
		}
		return nil
	})

	ok, err := q.Enqueue(ctx, sampleJob())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing := sampleJob()
	failing.RequestedBy = "fail"
	bad, err := q.Enqueue(ctx, failing)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if ran.Load() != 2 {
		t.Fatalf("expected 2 jobs to run, got %d", ran.Load())
	}
	if st, _, _ := q.GetJob(ctx, ok.ID); st.Status != StatusDone || st.Attempts != 1 {
		t.Fatalf("unexpected status for ok job: %+v", st)
	}
	if st, _, _ := q.GetJob(ctx, bad.ID); st.Status != StatusFailed || st.ErrorMessage != "boom" {
		t.Fatalf("unexpected status for failing job: %+v", st)
	}
	if _, err := q.Enqueue(ctx, sampleJob()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestLocalJobQueueFinishesJobsAfterCancel(t *testing.T) {
	q := NewLocalJobQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var ran, cancelled atomic.Int32
	q.Start(ctx, 1, func(jobCtx context.Context, _ Job) error {
		<-release
		if jobCtx.Err() != nil {
			cancelled.Add(1)
		}
		ran.Add(1)
		return nil
	})
	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue(ctx, sampleJob()); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	cancel()
	close(release)
	q.Close()

	if ran.Load() != 4 {
		t.Fatalf("expected every buffered job to run, got %d of 4", ran.Load())
	}
	if cancelled.Load() != 0 {
		t.Fatalf("jobs must not see the cancelled start context, %d did", cancelled.Load())
	}
}

func TestLocalJobQueueFullBufferFailsFast(t *testing.T) {
	q := NewLocalJobQueue(1)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, sampleJob()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, sampleJob()); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked after a full-buffer enqueue")
	}
}
