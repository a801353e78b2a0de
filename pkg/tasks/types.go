package tasks

import (
	"errors"
	"time"
)

// Type is one member of the closed task allow-list.
type Type string

const (
	TypeFileOps    Type = "file_ops"
	TypeScript     Type = "script"
	TypeAppControl Type = "app_control"
	TypeEmail      Type = "email"
	TypeCalendar   Type = "calendar"
)

// Status is the task state machine. Validated and Queued are the only
// non-terminal states besides Running.
type Status string

const (
	StatusValidated Status = "validated"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the status ends the state machine.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusRejected:
		return true
	}
	return false
}

// Request is one automation task submitted by a user.
type Request struct {
	ID        string
	UserID    string
	Type      Type
	Params    map[string]string
	Status    Status
	CreatedAt time.Time
}

// Result is the append-only record of one execution.
type Result struct {
	TaskID     string
	Status     Status
	ExitCode   int
	Output     string
	Stderr     string
	Error      string
	DurationMS int64
	StartedAt  time.Time
	FinishedAt time.Time

	// Transient marks a failure caused by an unavailable collaborator
	// rather than the task itself; idempotent types may retry on it.
	Transient bool
}

var (
	// ErrValidation marks a task rejected before any resource was
	// created: unknown type, malformed params, or unsafe paths.
	ErrValidation = errors.New("tasks: invalid task request")

	// ErrQueueFull is the fail-fast backpressure error.
	ErrQueueFull = errors.New("tasks: queue at capacity")

	// ErrNotFound marks an unknown task id.
	ErrNotFound = errors.New("tasks: task not found")
)
