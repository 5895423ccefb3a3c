package queue

import (
	"context"
	"errors"
	"time"

	"chathub/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// JobKind selects the bot work a job performs.
type JobKind string

const (
	JobSummarize JobKind = "summarize"
	JobReply     JobKind = "reply"
)

var (
	// ErrClosed is returned by Enqueue after the queue was closed.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by Enqueue when an in-process buffer has no room.
	ErrFull = errors.New("queue full")
)

// Job is the descriptor of one detached bot task. The placeholder message
// it finalizes is the durable record; the job itself is transient.
type Job struct {
	ID            string       `json:"id"`
	Kind          JobKind      `json:"kind"`
	PlaceholderID string       `json:"placeholderId"`
	Scope         domain.Scope `json:"scope"`
	BotMemberID   string       `json:"botMemberId"`
	Count         int          `json:"count"`
	// TriggerID and Input carry the human message a reply job answers.
	TriggerID   string    `json:"triggerId,omitempty"`
	Input       string    `json:"input,omitempty"`
	RequestedBy string    `json:"requestedBy"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	// Exhausted is set by the queue when a reclaimed job has no attempts
	// left. The handler must only settle the placeholder, not redo the work.
	Exhausted bool `json:"-"`
}

// JobStatus is the observable lifecycle of a job.
type JobStatus struct {
	ID            string    `json:"id"`
	Kind          JobKind   `json:"kind"`
	PlaceholderID string    `json:"placeholderId"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Handler runs one job. A returned error marks the job failed. Handlers
// also receive exhausted jobs once, flagged with Job.Exhausted.
type Handler func(ctx context.Context, job Job) error
