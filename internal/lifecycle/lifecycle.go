package lifecycle

import (
	"context"

	"github.com/slok/mvm/internal/model"
)

// Manager coordinates the full life of microVMs on the host: admission,
// network allocation, guest launch, teardown and removal. Operations on the
// same VM are totally ordered, operations on different VMs run concurrently.
type Manager interface {
	// Create admits a new VM, allocates its network lease and boots its guest.
	Create(ctx context.Context, spec model.VMSpec) (*model.VM, error)
	// Stop terminates a running VM's guest and returns its network lease.
	Stop(ctx context.Context, id string) error
	// Delete removes a VM from the registry, stopping it first when it is
	// still running and reaping whatever a failed VM still holds.
	Delete(ctx context.Context, id string) error
	// Get returns a VM descriptor by ID.
	Get(ctx context.Context, id string) (*model.VM, error)
	// List returns all VM descriptors ordered by creation time.
	List(ctx context.Context) ([]model.VM, error)
	// CheckHealth probes every running VM once and runs crash teardown for
	// guests whose supervisor process exited.
	CheckHealth(ctx context.Context) error
	// Reconcile reaps guest processes and network resources left on the host
	// by a previous coordinator run.
	Reconcile(ctx context.Context) error
}
