package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/image"
	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
	"github.com/slok/mvm/internal/network"
	"github.com/slok/mvm/internal/registry"
	"github.com/slok/mvm/internal/task"
)

const (
	// DefaultStopTimeout bounds graceful guest termination before escalating
	// to a kill.
	DefaultStopTimeout = 30 * time.Second
)

// ManagerConfig is the configuration for the lifecycle manager.
type ManagerConfig struct {
	Registry   registry.Registry
	Network    network.Provisioner
	Hypervisor hypervisor.Adapter
	Images     image.Resolver
	// Tasks is optional step tracking for multi-step operations.
	Tasks       task.Manager
	StopTimeout time.Duration
	Logger      log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Network == nil {
		return fmt.Errorf("network provisioner is required")
	}
	if c.Hypervisor == nil {
		return fmt.Errorf("hypervisor adapter is required")
	}
	if c.Images == nil {
		return fmt.Errorf("image resolver is required")
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "lifecycle.Manager"})
	return nil
}

type manager struct {
	registry    registry.Registry
	network     network.Provisioner
	hypervisor  hypervisor.Adapter
	images      image.Resolver
	tasks       task.Manager
	stopTimeout time.Duration
	logger      log.Logger

	// Per-VM locks give each VM a total order of operations while letting
	// different VMs proceed concurrently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a new lifecycle manager.
func NewManager(cfg ManagerConfig) (Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &manager{
		registry:    cfg.Registry,
		network:     cfg.Network,
		hypervisor:  cfg.Hypervisor,
		images:      cfg.Images,
		tasks:       cfg.Tasks,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
		locks:       map[string]*sync.Mutex{},
	}, nil
}

// lockVM locks the per-VM mutex and returns its unlock.
func (m *manager) lockVM(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *manager) Create(ctx context.Context, spec model.VMSpec) (*model.VM, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vm spec: %w", err)
	}

	img, err := m.images.Resolve(ctx, spec.Image)
	if err != nil {
		return nil, fmt.Errorf("could not resolve image: %w", err)
	}

	id := ulid.Make().String()

	unlock := m.lockVM(id)
	defer unlock()

	vm := model.VM{
		ID:        id,
		Spec:      spec,
		State:     model.VMStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.registry.Insert(ctx, vm); err != nil {
		return nil, err
	}

	m.logger.WithValues(log.Kv{"vm-id": id}).Infof("Creating VM %s", spec.Name)

	var lease *model.Lease
	var handle *hypervisor.Handle

	steps := []step{
		{
			name: "allocate_network",
			run: func(ctx context.Context) error {
				l, err := m.network.Allocate(ctx, id, spec.Ports)
				if err != nil {
					return err
				}
				lease = l
				return m.transition(ctx, &vm, model.VMStateNetworkAllocated, func(v *model.VM) { v.Lease = l })
			},
			compensate: func(ctx context.Context) error {
				return m.network.Release(ctx, lease)
			},
		},
		{
			name: "launch_guest",
			run: func(ctx context.Context) error {
				if err := m.transition(ctx, &vm, model.VMStateLaunching, nil); err != nil {
					return err
				}
				h, err := m.hypervisor.Launch(ctx, hypervisor.LaunchConfig{
					VMID:        id,
					KernelImage: img.KernelPath,
					RootFS:      img.RootFSPath,
					Resources:   spec.Resources,
					Lease:       *lease,
				})
				if err != nil {
					return fmt.Errorf("could not launch guest: %w: %w", err, model.ErrAdapter)
				}
				handle = h
				return nil
			},
			compensate: func(ctx context.Context) error {
				if handle == nil {
					return nil
				}
				err := m.hypervisor.Terminate(ctx, handle, false)
				if err != nil && !errors.Is(err, hypervisor.ErrAlreadyStopped) {
					return err
				}
				return nil
			},
		},
		{
			name: "mark_running",
			run: func(ctx context.Context) error {
				now := time.Now().UTC()
				return m.transition(ctx, &vm, model.VMStateRunning, func(v *model.VM) {
					v.PID = handle.PID
					v.SocketPath = handle.SocketPath
					v.StartedAt = &now
				})
			},
		},
	}

	if err := m.runSteps(ctx, id, "create", steps); err != nil {
		if errors.Is(err, model.ErrDegradedCleanup) {
			m.markFailed(ctx, &vm)
			return nil, fmt.Errorf("create vm %s: %w", id, err)
		}

		// Clean unwind: every acquired resource was returned, so the VM
		// record goes away with it.
		if derr := m.registry.Delete(context.WithoutCancel(ctx), id); derr != nil {
			m.logger.Errorf("Could not remove vm %s after failed create: %v", id, derr)
		}
		return nil, fmt.Errorf("create vm %s: %w", id, err)
	}

	m.logger.Infof("Created VM %s (%s, PID: %d, IP: %s)", spec.Name, id, vm.PID, lease.Address)

	vmCopy := vm
	return &vmCopy, nil
}

func (m *manager) Stop(ctx context.Context, id string) error {
	unlock := m.lockVM(id)
	defer unlock()

	vm, err := m.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	switch vm.State {
	case model.VMStateStopped:
		return nil // Idempotent
	case model.VMStateRunning:
	default:
		return fmt.Errorf("vm %s is %s, only running vms can be stopped: %w", id, vm.State, model.ErrConflict)
	}

	if err := m.stopRunning(ctx, vm); err != nil {
		return err
	}

	m.logger.Infof("Stopped VM %s", id)
	return nil
}

// stopRunning tears down a running VM's guest and lease and lands it in
// stopped. The caller must hold the VM lock and have checked the VM is
// running.
func (m *manager) stopRunning(ctx context.Context, vm *model.VM) error {
	if err := m.transition(ctx, vm, model.VMStateStopping, nil); err != nil {
		return err
	}

	handle := &hypervisor.Handle{VMID: vm.ID, PID: vm.PID, SocketPath: vm.SocketPath}

	steps := []step{
		{
			name: "terminate_guest",
			run: func(ctx context.Context) error {
				return m.terminate(ctx, handle)
			},
		},
		{
			name: "release_network",
			run: func(ctx context.Context) error {
				return m.network.Release(ctx, vm.Lease)
			},
		},
	}

	if err := m.runSteps(ctx, vm.ID, "stop", steps); err != nil {
		// Teardown failures leave resources on the host. Park the VM so an
		// operator can intervene instead of pretending the stop worked.
		m.markFailed(ctx, vm)
		if errors.Is(err, model.ErrDegradedCleanup) {
			return fmt.Errorf("stop vm %s: %w", vm.ID, err)
		}
		return fmt.Errorf("stop vm %s: %w: %w", vm.ID, err, model.ErrDegradedCleanup)
	}

	now := time.Now().UTC()
	return m.transition(ctx, vm, model.VMStateStopped, func(v *model.VM) {
		v.StoppedAt = &now
		v.PID = 0
		v.Lease = nil
		if v.ExitCode == nil {
			exitCode := 0
			v.ExitCode = &exitCode
		}
	})
}

// terminate stops a guest gracefully within the stop timeout, then escalates
// to a kill. A guest that is already gone counts as terminated.
func (m *manager) terminate(ctx context.Context, handle *hypervisor.Handle) error {
	gctx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	err := m.hypervisor.Terminate(gctx, handle, true)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hypervisor.ErrAlreadyStopped):
		return nil
	case errors.Is(err, hypervisor.ErrTimeout):
		m.logger.Warningf("Graceful termination of %s timed out, killing", handle.VMID)
		err = m.hypervisor.Terminate(context.WithoutCancel(ctx), handle, false)
		if err != nil && !errors.Is(err, hypervisor.ErrAlreadyStopped) {
			return fmt.Errorf("guest %s did not stop within %s and the kill failed: %w: %w", handle.VMID, m.stopTimeout, err, model.ErrTimeout)
		}
		return nil
	default:
		return fmt.Errorf("could not terminate guest %s: %w: %w", handle.VMID, err, model.ErrAdapter)
	}
}

func (m *manager) Delete(ctx context.Context, id string) error {
	unlock := m.lockVM(id)
	defer unlock()

	vm, err := m.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	switch vm.State {
	case model.VMStateRunning:
		// Removing a running VM stops it first.
		if err := m.stopRunning(ctx, vm); err != nil {
			return err
		}
		if err := m.transition(ctx, vm, model.VMStateDeleted, nil); err != nil {
			return err
		}

	case model.VMStateStopped:
		if err := m.transition(ctx, vm, model.VMStateDeleted, nil); err != nil {
			return err
		}

	case model.VMStateFailed:
		// Forced removal of a parked VM: try to return whatever it still
		// holds before dropping the record.
		cctx := context.WithoutCancel(ctx)
		if vm.PID > 0 {
			handle := &hypervisor.Handle{VMID: id, PID: vm.PID, SocketPath: vm.SocketPath}
			if err := m.hypervisor.Terminate(cctx, handle, false); err != nil && !errors.Is(err, hypervisor.ErrAlreadyStopped) {
				return fmt.Errorf("delete vm %s: could not reap guest: %v: %w", id, err, model.ErrDegradedCleanup)
			}
		}
		if vm.Lease != nil {
			if err := m.network.Release(cctx, vm.Lease); err != nil {
				return fmt.Errorf("delete vm %s: could not release lease: %v: %w", id, err, model.ErrDegradedCleanup)
			}
		}

	default:
		return fmt.Errorf("vm %s is %s and cannot be deleted while an operation is in flight: %w", id, vm.State, model.ErrConflict)
	}

	if err := m.registry.Delete(ctx, id); err != nil {
		return err
	}

	m.logger.Infof("Deleted VM %s", id)
	return nil
}

func (m *manager) Get(ctx context.Context, id string) (*model.VM, error) {
	return m.registry.Get(ctx, id)
}

func (m *manager) List(ctx context.Context) ([]model.VM, error) {
	return m.registry.List(ctx)
}

func (m *manager) CheckHealth(ctx context.Context) error {
	vms, err := m.registry.List(ctx)
	if err != nil {
		return err
	}

	for _, vm := range vms {
		if vm.State != model.VMStateRunning {
			continue
		}

		handle := &hypervisor.Handle{VMID: vm.ID, PID: vm.PID, SocketPath: vm.SocketPath}
		health, err := m.hypervisor.HealthCheck(ctx, handle)
		if err != nil {
			m.logger.Warningf("Health check of vm %s failed: %v", vm.ID, err)
			continue
		}

		if health.State == hypervisor.HealthExited {
			m.logger.Warningf("Guest of vm %s exited silently (code: %d)", vm.ID, health.ExitCode)
			if err := m.handleExit(ctx, vm.ID, health.ExitCode); err != nil {
				m.logger.Errorf("Crash teardown of vm %s failed: %v", vm.ID, err)
			}
		}
	}

	return nil
}

// handleExit runs crash teardown for a guest whose supervisor process died:
// the lease goes back to the pool and the VM lands in stopped with the exit
// code recorded.
func (m *manager) handleExit(ctx context.Context, id string, exitCode int) error {
	unlock := m.lockVM(id)
	defer unlock()

	vm, err := m.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if vm.State != model.VMStateRunning {
		return nil // Raced with a stop or delete.
	}

	if err := m.transition(ctx, vm, model.VMStateStopping, nil); err != nil {
		return err
	}

	cctx := context.WithoutCancel(ctx)
	if err := m.network.Release(cctx, vm.Lease); err != nil {
		m.markFailed(cctx, vm)
		return fmt.Errorf("vm %s exited but lease release failed: %v: %w", id, err, model.ErrDegradedCleanup)
	}

	now := time.Now().UTC()
	ec := exitCode
	return m.transition(cctx, vm, model.VMStateStopped, func(v *model.VM) {
		v.StoppedAt = &now
		v.PID = 0
		v.Lease = nil
		v.ExitCode = &ec
	})
}

func (m *manager) Reconcile(ctx context.Context) error {
	handles, err := m.hypervisor.Discover(ctx)
	if err != nil {
		return fmt.Errorf("could not discover guests: %w", err)
	}

	for i := range handles {
		h := handles[i]
		if err := m.hypervisor.Terminate(ctx, &h, false); err != nil && !errors.Is(err, hypervisor.ErrAlreadyStopped) {
			return fmt.Errorf("could not reap orphan guest %s: %w", h.VMID, err)
		}
		m.logger.Infof("Reaped orphan guest %s (PID: %d)", h.VMID, h.PID)
	}

	if err := m.network.Sweep(ctx); err != nil {
		return fmt.Errorf("could not sweep network resources: %w", err)
	}

	return nil
}

// transition moves a VM through the state machine, persisting the change.
func (m *manager) transition(ctx context.Context, vm *model.VM, next model.VMState, mutate func(*model.VM)) error {
	if !vm.State.CanTransitionTo(next) {
		return fmt.Errorf("vm %s cannot transition from %s to %s: %w", vm.ID, vm.State, next, model.ErrConflict)
	}

	prev := vm.State
	vm.State = next
	if mutate != nil {
		mutate(vm)
	}

	if err := m.registry.Update(ctx, *vm); err != nil {
		vm.State = prev
		return err
	}
	return nil
}

// markFailed parks a VM in the failed state. Best effort: a registry failure
// here only gets logged, the original error matters more.
func (m *manager) markFailed(ctx context.Context, vm *model.VM) {
	if vm.State.Terminal() {
		return
	}
	vm.State = model.VMStateFailed
	if err := m.registry.Update(context.WithoutCancel(ctx), *vm); err != nil {
		m.logger.Errorf("Could not mark vm %s as failed: %v", vm.ID, err)
	}
}
