package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/log"
)

// AdapterConfig is the configuration for the fake adapter.
type AdapterConfig struct {
	Logger log.Logger
}

func (c *AdapterConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "hypervisor.Fake"})
	return nil
}

// Adapter is a fake implementation of the hypervisor.Adapter interface.
// It simulates guest supervisor processes without booting real VMs, and lets
// tests inject failures and crashes.
type Adapter struct {
	mu      sync.RWMutex
	guests  map[string]*guest
	nextPID int
	logger  log.Logger

	// LaunchErr, when set, is returned by every Launch call.
	LaunchErr error
	// TerminateErr, when set, is returned by every Terminate call.
	TerminateErr error
}

type guest struct {
	handle hypervisor.Handle
	health hypervisor.Health
}

// NewAdapter creates a new fake adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{
		guests:  map[string]*guest{},
		nextPID: 1000,
		logger:  cfg.Logger,
	}, nil
}

// Launch simulates booting a guest.
func (a *Adapter) Launch(ctx context.Context, cfg hypervisor.LaunchConfig) (*hypervisor.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.LaunchErr != nil {
		return nil, a.LaunchErr
	}

	if cfg.VMID == "" {
		return nil, fmt.Errorf("vm id is required: %w", hypervisor.ErrInvalidConfig)
	}

	a.nextPID++
	g := &guest{
		handle: hypervisor.Handle{
			VMID:       cfg.VMID,
			PID:        a.nextPID,
			SocketPath: fmt.Sprintf("/tmp/mvm-fake-%s.sock", cfg.VMID),
		},
		health: hypervisor.Health{State: hypervisor.HealthRunning},
	}
	a.guests[cfg.VMID] = g

	a.logger.Infof("Launched fake guest: %s (PID: %d)", cfg.VMID, g.handle.PID)

	handle := g.handle
	return &handle, nil
}

// Terminate simulates stopping a guest.
func (a *Adapter) Terminate(ctx context.Context, handle *hypervisor.Handle, graceful bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.TerminateErr != nil {
		return a.TerminateErr
	}

	g, ok := a.guests[handle.VMID]
	if !ok || g.health.State == hypervisor.HealthExited {
		return fmt.Errorf("guest %s: %w", handle.VMID, hypervisor.ErrAlreadyStopped)
	}

	g.health = hypervisor.Health{State: hypervisor.HealthExited, ExitCode: 0}

	a.logger.Infof("Terminated fake guest: %s (graceful: %t)", handle.VMID, graceful)
	return nil
}

// HealthCheck returns the simulated health of a guest.
func (a *Adapter) HealthCheck(ctx context.Context, handle *hypervisor.Handle) (hypervisor.Health, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	g, ok := a.guests[handle.VMID]
	if !ok {
		return hypervisor.Health{State: hypervisor.HealthExited, ExitCode: -1}, nil
	}
	return g.health, nil
}

// Discover returns handles for every simulated guest that is still running.
func (a *Adapter) Discover(ctx context.Context) ([]hypervisor.Handle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var handles []hypervisor.Handle
	for _, g := range a.guests {
		if g.health.State == hypervisor.HealthRunning {
			handles = append(handles, g.handle)
		}
	}
	return handles, nil
}

// Crash marks a running fake guest as exited with the given exit code, as if
// its supervisor process died silently.
func (a *Adapter) Crash(vmID string, exitCode int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.guests[vmID]; ok {
		g.health = hypervisor.Health{State: hypervisor.HealthExited, ExitCode: exitCode}
	}
}

// Adopt registers a fake guest as if it had been found running on the host,
// used to exercise discovery after a coordinator restart.
func (a *Adapter) Adopt(handle hypervisor.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.guests[handle.VMID] = &guest{
		handle: handle,
		health: hypervisor.Health{State: hypervisor.HealthRunning},
	}
}
