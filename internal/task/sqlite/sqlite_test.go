package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/mvm/internal/task"
	"github.com/slok/mvm/internal/task/sqlite"
)

func getTestManager(t *testing.T) *sqlite.Manager {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	mgr, err := sqlite.NewManager(context.Background(), sqlite.ManagerConfig{DBPath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	return mgr
}

func TestAddTasks(t *testing.T) {
	tests := map[string]struct {
		vmID      string
		operation string
		names     []string
		expSeqs   []int
	}{
		"Adding multiple steps should assign sequential numbers": {
			vmID:      "vm-1",
			operation: "create",
			names:     []string{"allocate_network", "launch_guest", "mark_running"},
			expSeqs:   []int{1, 2, 3},
		},

		"Adding a single step should start at sequence one": {
			vmID:      "vm-1",
			operation: "stop",
			names:     []string{"terminate_guest"},
			expSeqs:   []int{1},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ctx := context.Background()
			mgr := getTestManager(t)

			err := mgr.AddTasks(ctx, test.vmID, test.operation, test.names)
			require.NoError(err)

			for i, wantName := range test.names {
				tsk, err := mgr.NextTask(ctx, test.vmID, test.operation)
				require.NoError(err)
				require.NotNil(tsk)
				assert.Equal(test.vmID, tsk.VMID)
				assert.Equal(wantName, tsk.Name)
				assert.Equal(test.expSeqs[i], tsk.Sequence)
				assert.Equal(task.StatusPending, tsk.Status)

				require.NoError(mgr.CompleteTask(ctx, tsk.ID))
			}

			// All steps done, nothing pending.
			tsk, err := mgr.NextTask(ctx, test.vmID, test.operation)
			require.NoError(err)
			assert.Nil(tsk)
		})
	}
}

func TestFailTask(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	mgr := getTestManager(t)

	require.NoError(mgr.AddTasks(ctx, "vm-1", "create", []string{"allocate_network", "launch_guest"}))

	tsk, err := mgr.NextTask(ctx, "vm-1", "create")
	require.NoError(err)
	require.NotNil(tsk)

	require.NoError(mgr.FailTask(ctx, tsk.ID, errors.New("address pool exhausted")))

	// The failed step is no longer pending, the next pending step follows it.
	next, err := mgr.NextTask(ctx, "vm-1", "create")
	require.NoError(err)
	require.NotNil(next)
	assert.Equal("launch_guest", next.Name)

	progress, err := mgr.Progress(ctx, "vm-1", "create")
	require.NoError(err)
	assert.Equal(0, progress.Done)
	assert.Equal(2, progress.Total)
}

func TestProgress(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	mgr := getTestManager(t)

	require.NoError(mgr.AddTasks(ctx, "vm-1", "create", []string{"a", "b", "c"}))

	tsk, err := mgr.NextTask(ctx, "vm-1", "create")
	require.NoError(err)
	require.NoError(mgr.CompleteTask(ctx, tsk.ID))

	progress, err := mgr.Progress(ctx, "vm-1", "create")
	require.NoError(err)
	assert.Equal(1, progress.Done)
	assert.Equal(3, progress.Total)
}

func TestClearOperation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	mgr := getTestManager(t)

	require.NoError(mgr.AddTasks(ctx, "vm-1", "create", []string{"a", "b"}))
	require.NoError(mgr.AddTask(ctx, "vm-1", "stop", "terminate_guest"))

	require.NoError(mgr.ClearOperation(ctx, "vm-1", "create"))

	tsk, err := mgr.NextTask(ctx, "vm-1", "create")
	require.NoError(err)
	assert.Nil(tsk)

	// Other operations are untouched.
	tsk, err = mgr.NextTask(ctx, "vm-1", "stop")
	require.NoError(err)
	require.NotNil(tsk)
	assert.Equal("terminate_guest", tsk.Name)
}

func TestCompleteUnknownTask(t *testing.T) {
	mgr := getTestManager(t)

	err := mgr.CompleteTask(context.Background(), "unknown")
	assert.Error(t, err)
}
