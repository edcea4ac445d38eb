package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

// Registry is the interface for the live VM descriptor store. It holds no
// durable state: everything in it is rebuilt from the host on restart.
type Registry interface {
	Insert(ctx context.Context, vm model.VM) error
	Get(ctx context.Context, id string) (*model.VM, error)
	GetByName(ctx context.Context, name string) (*model.VM, error)
	List(ctx context.Context) ([]model.VM, error)
	Update(ctx context.Context, vm model.VM) error
	Delete(ctx context.Context, id string) error
}

// MemoryConfig is the configuration for the memory registry.
type MemoryConfig struct {
	Logger log.Logger
}

func (c *MemoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Memory"})
	return nil
}

// Memory is an in-memory implementation of Registry. All methods return
// copies, callers never share memory with the store.
type Memory struct {
	vms    map[string]model.VM
	mu     sync.RWMutex
	logger log.Logger
}

// NewMemory creates a new memory registry.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Memory{
		vms:    make(map[string]model.VM),
		logger: cfg.Logger,
	}, nil
}

// Insert adds a new VM descriptor.
func (r *Memory) Insert(ctx context.Context, vm model.VM) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[vm.ID]; ok {
		return fmt.Errorf("vm with id %s: %w", vm.ID, model.ErrAlreadyExists)
	}

	for _, existing := range r.vms {
		if existing.Spec.Name == vm.Spec.Name {
			return fmt.Errorf("vm with name %s: %w", vm.Spec.Name, model.ErrAlreadyExists)
		}
	}

	r.vms[vm.ID] = copyVM(vm)
	r.logger.Debugf("Inserted VM in registry: %s", vm.ID)

	return nil
}

// Get retrieves a VM by ID.
func (r *Memory) Get(ctx context.Context, id string) (*model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
	}

	vmCopy := copyVM(vm)
	return &vmCopy, nil
}

// GetByName retrieves a VM by name.
func (r *Memory) GetByName(ctx context.Context, name string) (*model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, vm := range r.vms {
		if vm.Spec.Name == name {
			vmCopy := copyVM(vm)
			return &vmCopy, nil
		}
	}

	return nil, fmt.Errorf("vm with name %s: %w", name, model.ErrNotFound)
}

// List returns all VMs ordered by creation time.
func (r *Memory) List(ctx context.Context) ([]model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vms := make([]model.VM, 0, len(r.vms))
	for _, vm := range r.vms {
		vms = append(vms, copyVM(vm))
	}

	sort.Slice(vms, func(i, j int) bool {
		if vms[i].CreatedAt.Equal(vms[j].CreatedAt) {
			return vms[i].ID < vms[j].ID
		}
		return vms[i].CreatedAt.Before(vms[j].CreatedAt)
	})

	return vms, nil
}

// Update replaces an existing VM descriptor.
func (r *Memory) Update(ctx context.Context, vm model.VM) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[vm.ID]; !ok {
		return fmt.Errorf("vm %s: %w", vm.ID, model.ErrNotFound)
	}

	r.vms[vm.ID] = copyVM(vm)
	r.logger.Debugf("Updated VM in registry: %s", vm.ID)

	return nil
}

// Delete removes a VM descriptor.
func (r *Memory) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[id]; !ok {
		return fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
	}

	delete(r.vms, id)
	r.logger.Debugf("Deleted VM from registry: %s", id)

	return nil
}

// copyVM deep-copies a VM descriptor so stored values never alias caller
// memory through the lease or timestamp pointers.
func copyVM(vm model.VM) model.VM {
	c := vm
	if vm.Lease != nil {
		lease := *vm.Lease
		lease.RuleIDs = append([]model.RuleID(nil), vm.Lease.RuleIDs...)
		c.Lease = &lease
	}
	if vm.StartedAt != nil {
		t := *vm.StartedAt
		c.StartedAt = &t
	}
	if vm.StoppedAt != nil {
		t := *vm.StoppedAt
		c.StoppedAt = &t
	}
	if vm.ExitCode != nil {
		e := *vm.ExitCode
		c.ExitCode = &e
	}
	return c
}
