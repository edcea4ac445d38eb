package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/mvm/internal/lifecycle"
	"github.com/slok/mvm/internal/lifecycle/lifecyclemock"
)

func TestWatcherRun(t *testing.T) {
	mm := lifecyclemock.NewMockManager(t)

	swept := make(chan struct{}, 1)
	mm.On("CheckHealth", mock.Anything).Return(nil).Run(func(_ mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	w, err := lifecycle.NewWatcher(lifecycle.WatcherConfig{
		Manager:  mm,
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.TODO())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("health sweep never ran")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatcherRequiresManager(t *testing.T) {
	_, err := lifecycle.NewWatcher(lifecycle.WatcherConfig{})
	assert.Error(t, err)
}
