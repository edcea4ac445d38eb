package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/mvm/internal/model"
	"github.com/slok/mvm/internal/registry"
)

func testVM(id, name string) model.VM {
	return model.VM{
		ID: id,
		Spec: model.VMSpec{
			Name:      name,
			Image:     "ubuntu-24.04",
			Resources: model.Resources{VCPUs: 1, MemoryMB: 256},
		},
		State:     model.VMStatePending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryRegistry(t *testing.T) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, r *registry.Memory)
	}{
		"Inserting and getting a VM should return an equal copy": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				vm := testVM("vm1", "test")
				require.NoError(t, r.Insert(ctx, vm))

				got, err := r.Get(ctx, "vm1")
				require.NoError(t, err)
				assert.Equal(t, vm.ID, got.ID)
				assert.Equal(t, vm.Spec, got.Spec)
				assert.Equal(t, model.VMStatePending, got.State)
			},
		},

		"Inserting a duplicate ID should fail": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				require.NoError(t, r.Insert(ctx, testVM("vm1", "a")))
				err := r.Insert(ctx, testVM("vm1", "b"))
				assert.ErrorIs(t, err, model.ErrAlreadyExists)
			},
		},

		"Inserting a duplicate name should fail": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				require.NoError(t, r.Insert(ctx, testVM("vm1", "same")))
				err := r.Insert(ctx, testVM("vm2", "same"))
				assert.ErrorIs(t, err, model.ErrAlreadyExists)
			},
		},

		"Getting a missing VM should fail as not found": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				_, err := r.Get(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Getting a VM by name should work": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				require.NoError(t, r.Insert(ctx, testVM("vm1", "by-name")))

				got, err := r.GetByName(ctx, "by-name")
				require.NoError(t, err)
				assert.Equal(t, "vm1", got.ID)

				_, err = r.GetByName(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Listing should return VMs ordered by creation time": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				older := testVM("vm-older", "older")
				older.CreatedAt = time.Now().UTC().Add(-time.Hour)
				newer := testVM("vm-newer", "newer")

				require.NoError(t, r.Insert(ctx, newer))
				require.NoError(t, r.Insert(ctx, older))

				vms, err := r.List(ctx)
				require.NoError(t, err)
				require.Len(t, vms, 2)
				assert.Equal(t, "vm-older", vms[0].ID)
				assert.Equal(t, "vm-newer", vms[1].ID)
			},
		},

		"Updating an existing VM should persist the change": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				vm := testVM("vm1", "test")
				require.NoError(t, r.Insert(ctx, vm))

				vm.State = model.VMStateNetworkAllocated
				vm.Lease = &model.Lease{VMID: "vm1", Address: "10.0.0.2"}
				require.NoError(t, r.Update(ctx, vm))

				got, err := r.Get(ctx, "vm1")
				require.NoError(t, err)
				assert.Equal(t, model.VMStateNetworkAllocated, got.State)
				require.NotNil(t, got.Lease)
				assert.Equal(t, "10.0.0.2", got.Lease.Address)
			},
		},

		"Updating a missing VM should fail as not found": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				err := r.Update(ctx, testVM("missing", "test"))
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Deleting a VM should remove it": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				require.NoError(t, r.Insert(ctx, testVM("vm1", "test")))
				require.NoError(t, r.Delete(ctx, "vm1"))

				_, err := r.Get(ctx, "vm1")
				assert.ErrorIs(t, err, model.ErrNotFound)

				err = r.Delete(ctx, "vm1")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Mutating a returned VM should not affect the stored copy": {
			actions: func(ctx context.Context, t *testing.T, r *registry.Memory) {
				vm := testVM("vm1", "test")
				vm.Lease = &model.Lease{
					VMID:    "vm1",
					Address: "10.0.0.2",
					RuleIDs: []model.RuleID{{Chain: "forward", Handle: 7}},
				}
				require.NoError(t, r.Insert(ctx, vm))

				got, err := r.Get(ctx, "vm1")
				require.NoError(t, err)
				got.Lease.Address = "mutated"
				got.Lease.RuleIDs[0].Handle = 999

				stored, err := r.Get(ctx, "vm1")
				require.NoError(t, err)
				assert.Equal(t, "10.0.0.2", stored.Lease.Address)
				assert.Equal(t, uint64(7), stored.Lease.RuleIDs[0].Handle)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := registry.NewMemory(registry.MemoryConfig{})
			require.NoError(t, err)

			test.actions(context.Background(), t, r)
		})
	}
}
