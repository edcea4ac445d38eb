package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/mvm/internal/log"
)

const defaultWatchInterval = 5 * time.Second

// WatcherConfig is the configuration for the health watcher.
type WatcherConfig struct {
	Manager  Manager
	Interval time.Duration
	Logger   log.Logger
}

func (c *WatcherConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("lifecycle manager is required")
	}
	if c.Interval == 0 {
		c.Interval = defaultWatchInterval
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "lifecycle.Watcher"})
	return nil
}

// Watcher periodically sweeps running VMs for silently exited guests so their
// leases return to the pool.
type Watcher struct {
	manager  Manager
	interval time.Duration
	logger   log.Logger
}

// NewWatcher creates a new health watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Watcher{
		manager:  cfg.Manager,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}, nil
}

// Run blocks sweeping VM health at the configured interval until the context
// is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Infof("Health watcher started (interval: %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Health watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.manager.CheckHealth(ctx); err != nil {
				w.logger.Errorf("Health sweep failed: %v", err)
			}
		}
	}
}
