package task

import (
	"context"
	"time"
)

// Status represents the state of a step.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task represents a single step in a multi-step lifecycle operation.
type Task struct {
	ID        string
	VMID      string
	Operation string
	Sequence  int
	Name      string
	Status    Status
	Error     string
	CreatedAt time.Time
}

// Progress represents the completion state of an operation.
type Progress struct {
	Done  int
	Total int
}

// Manager tracks the steps of multi-step lifecycle operations, so a failed
// or interrupted operation leaves an inspectable trail of what ran and what
// did not.
type Manager interface {
	// AddTask adds a single step to an operation.
	AddTask(ctx context.Context, vmID, operation, name string) error

	// AddTasks adds multiple steps to an operation in order.
	AddTasks(ctx context.Context, vmID, operation string, names []string) error

	// NextTask returns the next pending step for an operation, or nil if all done.
	NextTask(ctx context.Context, vmID, operation string) (*Task, error)

	// CompleteTask marks a step as completed.
	CompleteTask(ctx context.Context, taskID string) error

	// FailTask marks a step as failed with an error message.
	FailTask(ctx context.Context, taskID string, err error) error

	// Progress returns the completion progress for an operation.
	Progress(ctx context.Context, vmID, operation string) (*Progress, error)

	// ClearOperation removes all steps for an operation.
	ClearOperation(ctx context.Context, vmID, operation string) error
}
