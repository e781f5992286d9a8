package runtime

import (
	"sync"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/ids"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether s is a terminal status.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is one agent turn answering a user message.
type Run struct {
	RunID     string
	SessionID string
	Text      string
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

// Snapshot is a point-in-time copy of a Run's state.
type Snapshot struct {
	RunID      string     `json:"runId"`
	SessionID  string     `json:"sessionId"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewRun creates a queued run answering text in sessionID.
func NewRun(sessionID, text string) *Run {
	return &Run{
		RunID:     ids.New(ids.RunPrefix),
		SessionID: sessionID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		status:    StatusQueued,
	}
}

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the failure cause of a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) start() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusRunning
	r.startedAt = time.Now().UTC()
	return r.startedAt
}

// finish moves the run to its terminal status. It returns false if the run
// had already finished.
func (r *Run) finish(status Status, err error) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Done() {
		return r.finishedAt, false
	}
	r.status = status
	r.err = err
	r.finishedAt = time.Now().UTC()
	return r.finishedAt, true
}

// Snapshot copies the run's state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RunID:     r.RunID,
		SessionID: r.SessionID,
		Status:    r.status,
		CreatedAt: r.CreatedAt,
	}
	if !r.startedAt.IsZero() {
		started := r.startedAt
		snap.StartedAt = &started
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		snap.FinishedAt = &finished
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	return snap
}
