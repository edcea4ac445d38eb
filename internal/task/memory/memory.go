package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/task"
)

// ManagerConfig is the configuration for the memory task manager.
type ManagerConfig struct {
	Logger log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "task.Memory"})
	return nil
}

// Manager is an in-memory implementation of task.Manager, used when no data
// directory is configured and in tests.
type Manager struct {
	mu     sync.Mutex
	tasks  []*task.Task
	logger log.Logger
}

// NewManager creates a new memory task manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{logger: cfg.Logger}, nil
}

// AddTask adds a single step to an operation.
func (m *Manager) AddTask(ctx context.Context, vmID, operation, name string) error {
	return m.AddTasks(ctx, vmID, operation, []string{name})
}

// AddTasks adds multiple steps to an operation in order.
func (m *Manager) AddTasks(ctx context.Context, vmID, operation string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	maxSeq := 0
	for _, t := range m.tasks {
		if t.VMID == vmID && t.Operation == operation && t.Sequence > maxSeq {
			maxSeq = t.Sequence
		}
	}

	now := time.Now().UTC()
	for i, name := range names {
		m.tasks = append(m.tasks, &task.Task{
			ID:        ulid.Make().String(),
			VMID:      vmID,
			Operation: operation,
			Sequence:  maxSeq + i + 1,
			Name:      name,
			Status:    task.StatusPending,
			CreatedAt: now,
		})
	}

	m.logger.Debugf("Added %d tasks for vm %s operation %s", len(names), vmID, operation)
	return nil
}

// NextTask returns the next pending step for an operation, or nil if all done.
func (m *Manager) NextTask(ctx context.Context, vmID, operation string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *task.Task
	for _, t := range m.tasks {
		if t.VMID != vmID || t.Operation != operation || t.Status != task.StatusPending {
			continue
		}
		if next == nil || t.Sequence < next.Sequence {
			next = t
		}
	}

	if next == nil {
		return nil, nil
	}

	c := *next
	return &c, nil
}

// CompleteTask marks a step as completed.
func (m *Manager) CompleteTask(ctx context.Context, taskID string) error {
	return m.setStatus(taskID, task.StatusDone, "")
}

// FailTask marks a step as failed with an error message.
func (m *Manager) FailTask(ctx context.Context, taskID string, taskErr error) error {
	errMsg := ""
	if taskErr != nil {
		errMsg = taskErr.Error()
	}
	return m.setStatus(taskID, task.StatusFailed, errMsg)
}

func (m *Manager) setStatus(taskID string, status task.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.ID == taskID {
			t.Status = status
			t.Error = errMsg
			return nil
		}
	}
	return fmt.Errorf("task %s not found", taskID)
}

// Progress returns the completion progress for an operation.
func (m *Manager) Progress(ctx context.Context, vmID, operation string) (*task.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &task.Progress{}
	for _, t := range m.tasks {
		if t.VMID != vmID || t.Operation != operation {
			continue
		}
		p.Total++
		if t.Status == task.StatusDone {
			p.Done++
		}
	}
	return p, nil
}

// ClearOperation removes all steps for an operation.
func (m *Manager) ClearOperation(ctx context.Context, vmID, operation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tasks[:0]
	for _, t := range m.tasks {
		if t.VMID == vmID && t.Operation == operation {
			continue
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return nil
}
