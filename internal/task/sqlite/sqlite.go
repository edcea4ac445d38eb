package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/task"
	"github.com/slok/mvm/internal/task/sqlite/migrations"
)

// ManagerConfig is the configuration for the SQLite task manager.
type ManagerConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "task.SQLite"})
	return nil
}

// Manager is a SQLite implementation of task.Manager.
type Manager struct {
	db     *sql.DB
	logger log.Logger
}

// NewManager creates a new SQLite task manager, opening the database and
// running pending migrations.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite task manager initialized at %s", cfg.DBPath)

	return &Manager{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (m *Manager) Close() error { return m.db.Close() }

// AddTask adds a single step to an operation.
func (m *Manager) AddTask(ctx context.Context, vmID, operation, name string) error {
	return m.AddTasks(ctx, vmID, operation, []string{name})
}

// AddTasks adds multiple steps to an operation in order.
func (m *Manager) AddTasks(ctx context.Context, vmID, operation string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	var maxSeq int
	query := `SELECT COALESCE(MAX(sequence), 0) FROM tasks WHERE vm_id = ? AND operation = ?`
	if err := tx.QueryRowContext(ctx, query, vmID, operation).Scan(&maxSeq); err != nil {
		return fmt.Errorf("could not get max sequence: %w", err)
	}

	insertQuery := `
		INSERT INTO tasks (id, vm_id, operation, sequence, name, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)
	`
	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, name := range names {
		taskID := ulid.Make().String()
		sequence := maxSeq + i + 1
		_, err := stmt.ExecContext(ctx, taskID, vmID, operation, sequence, name, task.StatusPending, now.Unix())
		if err != nil {
			return fmt.Errorf("could not insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	m.logger.Debugf("Added %d tasks for vm %s operation %s", len(names), vmID, operation)
	return nil
}

// NextTask returns the next pending step for an operation, or nil if all done.
func (m *Manager) NextTask(ctx context.Context, vmID, operation string) (*task.Task, error) {
	query := `
		SELECT id, vm_id, operation, sequence, name, status, error, created_at
		FROM tasks
		WHERE vm_id = ? AND operation = ? AND status = ?
		ORDER BY sequence ASC
		LIMIT 1
	`

	var t task.Task
	var createdAt int64

	err := m.db.QueryRowContext(ctx, query, vmID, operation, task.StatusPending).Scan(
		&t.ID,
		&t.VMID,
		&t.Operation,
		&t.Sequence,
		&t.Name,
		&t.Status,
		&t.Error,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No pending tasks
		}
		return nil, fmt.Errorf("could not query next task: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

// CompleteTask marks a step as completed.
func (m *Manager) CompleteTask(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = ? WHERE id = ?`

	result, err := m.db.ExecContext(ctx, query, task.StatusDone, taskID)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}

	m.logger.Debugf("Completed task: %s", taskID)
	return nil
}

// FailTask marks a step as failed with an error message.
func (m *Manager) FailTask(ctx context.Context, taskID string, taskErr error) error {
	errMsg := ""
	if taskErr != nil {
		errMsg = taskErr.Error()
	}

	query := `UPDATE tasks SET status = ?, error = ? WHERE id = ?`

	result, err := m.db.ExecContext(ctx, query, task.StatusFailed, errMsg, taskID)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}

	m.logger.Debugf("Failed task: %s (error: %s)", taskID, errMsg)
	return nil
}

// Progress returns the completion progress for an operation.
func (m *Manager) Progress(ctx context.Context, vmID, operation string) (*task.Progress, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) as done
		FROM tasks
		WHERE vm_id = ? AND operation = ?
	`

	var total, done int
	err := m.db.QueryRowContext(ctx, query, task.StatusDone, vmID, operation).Scan(&total, &done)
	if err != nil {
		return nil, fmt.Errorf("could not query progress: %w", err)
	}

	return &task.Progress{
		Done:  done,
		Total: total,
	}, nil
}

// ClearOperation removes all steps for an operation.
func (m *Manager) ClearOperation(ctx context.Context, vmID, operation string) error {
	query := `DELETE FROM tasks WHERE vm_id = ? AND operation = ?`

	result, err := m.db.ExecContext(ctx, query, vmID, operation)
	if err != nil {
		return fmt.Errorf("could not delete tasks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}

	m.logger.Debugf("Cleared %d tasks for vm %s operation %s", rows, vmID, operation)
	return nil
}
