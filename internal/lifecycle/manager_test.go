package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/hypervisor/hypervisormock"
	"github.com/slok/mvm/internal/image"
	"github.com/slok/mvm/internal/image/imagemock"
	"github.com/slok/mvm/internal/lifecycle"
	"github.com/slok/mvm/internal/model"
	"github.com/slok/mvm/internal/network/networkmock"
	"github.com/slok/mvm/internal/registry"
	taskmemory "github.com/slok/mvm/internal/task/memory"
)

var testImage = &image.Image{
	Ref:        "ubuntu-24.04",
	KernelPath: "/images/ubuntu-24.04/vmlinux",
	RootFSPath: "/images/ubuntu-24.04/rootfs.ext4",
}

func testSpec() model.VMSpec {
	return model.VMSpec{
		Name:  "web-1",
		Image: "ubuntu-24.04",
		Resources: model.Resources{
			VCPUs:    1,
			MemoryMB: 128,
		},
	}
}

func testLease(vmID string) *model.Lease {
	return &model.Lease{
		VMID:      vmID,
		TapDevice: "mvm-tap-0",
		Bridge:    "mvm-br0",
		Address:   "10.200.0.2",
		Gateway:   "10.200.0.1",
		PrefixLen: 24,
	}
}

func runningVM(id string) model.VM {
	started := time.Now().UTC()
	return model.VM{
		ID:         id,
		Spec:       testSpec(),
		State:      model.VMStateRunning,
		Lease:      testLease(id),
		CreatedAt:  started,
		StartedAt:  &started,
		PID:        1234,
		SocketPath: "/data/vms/" + id + "/firecracker.sock",
	}
}

type testDeps struct {
	registry   registry.Registry
	network    *networkmock.MockProvisioner
	hypervisor *hypervisormock.MockAdapter
	images     *imagemock.MockResolver
}

func newTestManager(t *testing.T) (lifecycle.Manager, testDeps) {
	reg, err := registry.NewMemory(registry.MemoryConfig{})
	require.NoError(t, err)

	deps := testDeps{
		registry:   reg,
		network:    networkmock.NewMockProvisioner(t),
		hypervisor: hypervisormock.NewMockAdapter(t),
		images:     imagemock.NewMockResolver(t),
	}

	m, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry:    deps.registry,
		Network:     deps.network,
		Hypervisor:  deps.hypervisor,
		Images:      deps.images,
		StopTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	return m, deps
}

func TestManagerCreate(t *testing.T) {
	tests := map[string]struct {
		spec     model.VMSpec
		preexist []model.VM
		mock     func(d testDeps)
		expErr   error
		check    func(t *testing.T, d testDeps, vm *model.VM)
	}{
		"Creating a VM should allocate a lease, launch the guest and end running.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
				d.network.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
				d.hypervisor.On("Launch", mock.Anything, mock.Anything).Once().Return(&hypervisor.Handle{
					PID:        4242,
					SocketPath: "/data/vms/x/firecracker.sock",
				}, nil)
			},
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert := assert.New(t)
				assert.Equal(model.VMStateRunning, vm.State)
				assert.Equal(4242, vm.PID)
				assert.NotNil(vm.StartedAt)
				require.NotNil(t, vm.Lease)
				assert.Equal("10.200.0.2", vm.Lease.Address)

				stored, err := d.registry.Get(context.TODO(), vm.ID)
				require.NoError(t, err)
				assert.Equal(model.VMStateRunning, stored.State)
			},
		},

		"An invalid spec should be rejected without touching any resource.": {
			spec:   model.VMSpec{Image: "ubuntu-24.04"},
			mock:   func(d testDeps) {},
			expErr: model.ErrNotValid,
		},

		"An unknown image should fail the create before registering the VM.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(nil, model.ErrNotValid)
			},
			expErr: model.ErrNotValid,
			check: func(t *testing.T, d testDeps, _ *model.VM) {
				vms, err := d.registry.List(context.TODO())
				require.NoError(t, err)
				assert.Empty(t, vms)
			},
		},

		"A duplicate name should be rejected.": {
			spec:     testSpec(),
			preexist: []model.VM{runningVM("existing")},
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
			},
			expErr: model.ErrAlreadyExists,
		},

		"Address pool exhaustion should fail the create and leave no partial state.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
				d.network.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(nil, model.ErrResourceExhausted)
			},
			expErr: model.ErrResourceExhausted,
			check: func(t *testing.T, d testDeps, _ *model.VM) {
				vms, err := d.registry.List(context.TODO())
				require.NoError(t, err)
				assert.Empty(t, vms)
			},
		},

		"A launch failure should return the lease to the pool and leave no partial state.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
				d.network.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
				d.hypervisor.On("Launch", mock.Anything, mock.Anything).Once().Return(nil, hypervisor.ErrProcessFailedToStart)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expErr: hypervisor.ErrProcessFailedToStart,
			check: func(t *testing.T, d testDeps, _ *model.VM) {
				vms, err := d.registry.List(context.TODO())
				require.NoError(t, err)
				assert.Empty(t, vms)
			},
		},

		"A launch failure should surface as an adapter error.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
				d.network.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
				d.hypervisor.On("Launch", mock.Anything, mock.Anything).Once().Return(nil, errors.New("kvm says no"))
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expErr: model.ErrAdapter,
		},

		"A launch failure whose lease release also fails should park the VM as failed.": {
			spec: testSpec(),
			mock: func(d testDeps) {
				d.images.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
				d.network.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
				d.hypervisor.On("Launch", mock.Anything, mock.Anything).Once().Return(nil, errors.New("kvm says no"))
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(errors.New("nft is gone"))
			},
			expErr: model.ErrDegradedCleanup,
			check: func(t *testing.T, d testDeps, _ *model.VM) {
				vms, err := d.registry.List(context.TODO())
				require.NoError(t, err)
				require.Len(t, vms, 1)
				assert.Equal(t, model.VMStateFailed, vms[0].State)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, deps := newTestManager(t)
			for _, vm := range test.preexist {
				require.NoError(t, deps.registry.Insert(context.TODO(), vm))
			}
			test.mock(deps)

			vm, err := m.Create(context.TODO(), test.spec)

			if test.expErr != nil {
				require.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, vm)
			}
			if test.check != nil {
				test.check(t, deps, vm)
			}
		})
	}
}

func TestManagerStop(t *testing.T) {
	tests := map[string]struct {
		vm     func() model.VM
		mock   func(d testDeps)
		expErr error
		check  func(t *testing.T, d testDeps, vm *model.VM)
	}{
		"Stopping a running VM should terminate the guest, release the lease and end stopped.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert := assert.New(t)
				assert.Equal(model.VMStateStopped, vm.State)
				assert.Nil(vm.Lease)
				assert.Zero(vm.PID)
				assert.NotNil(vm.StoppedAt)
				require.NotNil(t, vm.ExitCode)
				assert.Equal(0, *vm.ExitCode)
			},
		},

		"Stopping an already stopped VM should be a noop.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateStopped
				vm.Lease = nil
				vm.PID = 0
				return vm
			},
			mock: func(d testDeps) {},
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateStopped, vm.State)
			},
		},

		"Stopping a VM that is not running should be rejected.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStatePending
				return vm
			},
			mock:   func(d testDeps) {},
			expErr: model.ErrConflict,
		},

		"A graceful termination timeout should escalate to a kill.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(hypervisor.ErrTimeout)
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateStopped, vm.State)
			},
		},

		"A guest that is already gone should still release the lease and end stopped.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(hypervisor.ErrAlreadyStopped)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateStopped, vm.State)
				assert.Nil(t, vm.Lease)
			},
		},

		"A termination failure should park the VM as failed and report degraded cleanup.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(errors.New("process is stuck"))
			},
			expErr: model.ErrDegradedCleanup,
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateFailed, vm.State)
			},
		},

		"A termination failure should surface as an adapter error.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(errors.New("process is stuck"))
			},
			expErr: model.ErrAdapter,
		},

		"A timeout whose escalated kill also fails should surface as a timeout error.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(hypervisor.ErrTimeout)
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(errors.New("no permission"))
			},
			expErr: model.ErrTimeout,
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateFailed, vm.State)
			},
		},

		"A lease release failure should park the VM as failed and report degraded cleanup.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(errors.New("nft is gone"))
			},
			expErr: model.ErrDegradedCleanup,
			check: func(t *testing.T, d testDeps, vm *model.VM) {
				assert.Equal(t, model.VMStateFailed, vm.State)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, deps := newTestManager(t)
			seed := test.vm()
			require.NoError(t, deps.registry.Insert(context.TODO(), seed))
			test.mock(deps)

			err := m.Stop(context.TODO(), seed.ID)

			if test.expErr != nil {
				require.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
			}
			if test.check != nil {
				vm, gerr := deps.registry.Get(context.TODO(), seed.ID)
				require.NoError(t, gerr)
				test.check(t, deps, vm)
			}
		})
	}
}

func TestManagerStopUnknownVM(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Stop(context.TODO(), "does-not-exist")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestManagerDelete(t *testing.T) {
	tests := map[string]struct {
		vm      func() model.VM
		mock    func(d testDeps)
		expErr  error
		expGone bool
	}{
		"Deleting a stopped VM should remove it from the registry.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateStopped
				vm.Lease = nil
				vm.PID = 0
				return vm
			},
			mock:    func(d testDeps) {},
			expGone: true,
		},

		"Deleting a running VM should stop it first and then remove it.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expGone: true,
		},

		"Deleting a running VM whose teardown fails should park it as failed and keep it.": {
			vm: func() model.VM { return runningVM("vm1") },
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, true).Once().Return(errors.New("process is stuck"))
			},
			expErr: model.ErrDegradedCleanup,
		},

		"Deleting a VM in a mid-operation state should be rejected.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateLaunching
				return vm
			},
			mock:   func(d testDeps) {},
			expErr: model.ErrConflict,
		},

		"Deleting a failed VM should reap its guest and lease before removing it.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateFailed
				return vm
			},
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expGone: true,
		},

		"Deleting a failed VM whose guest is already gone should still succeed.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateFailed
				return vm
			},
			mock: func(d testDeps) {
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(hypervisor.ErrAlreadyStopped)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			expGone: true,
		},

		"Deleting a failed VM should keep it when the lease cannot be released.": {
			vm: func() model.VM {
				vm := runningVM("vm1")
				vm.State = model.VMStateFailed
				vm.PID = 0
				return vm
			},
			mock: func(d testDeps) {
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(errors.New("nft is gone"))
			},
			expErr: model.ErrDegradedCleanup,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, deps := newTestManager(t)
			seed := test.vm()
			require.NoError(t, deps.registry.Insert(context.TODO(), seed))
			test.mock(deps)

			err := m.Delete(context.TODO(), seed.ID)

			if test.expErr != nil {
				require.ErrorIs(t, err, test.expErr)
			} else {
				require.NoError(t, err)
			}

			_, gerr := deps.registry.Get(context.TODO(), seed.ID)
			if test.expGone {
				assert.ErrorIs(t, gerr, model.ErrNotFound)
			} else {
				assert.NoError(t, gerr)
			}
		})
	}
}

func TestManagerCheckHealth(t *testing.T) {
	tests := map[string]struct {
		vms   []model.VM
		mock  func(d testDeps)
		check func(t *testing.T, d testDeps)
	}{
		"A silently exited guest should get its lease released and its exit code recorded.": {
			vms: []model.VM{runningVM("vm1")},
			mock: func(d testDeps) {
				d.hypervisor.On("HealthCheck", mock.Anything, mock.Anything).Once().Return(hypervisor.Health{
					State:    hypervisor.HealthExited,
					ExitCode: 137,
				}, nil)
				d.network.On("Release", mock.Anything, mock.Anything).Once().Return(nil)
			},
			check: func(t *testing.T, d testDeps) {
				vm, err := d.registry.Get(context.TODO(), "vm1")
				require.NoError(t, err)
				assert.Equal(t, model.VMStateStopped, vm.State)
				assert.Nil(t, vm.Lease)
				require.NotNil(t, vm.ExitCode)
				assert.Equal(t, 137, *vm.ExitCode)
			},
		},

		"A healthy running guest should be left alone.": {
			vms: []model.VM{runningVM("vm1")},
			mock: func(d testDeps) {
				d.hypervisor.On("HealthCheck", mock.Anything, mock.Anything).Once().Return(hypervisor.Health{
					State: hypervisor.HealthRunning,
				}, nil)
			},
			check: func(t *testing.T, d testDeps) {
				vm, err := d.registry.Get(context.TODO(), "vm1")
				require.NoError(t, err)
				assert.Equal(t, model.VMStateRunning, vm.State)
			},
		},

		"A failing health probe should not change the VM state.": {
			vms: []model.VM{runningVM("vm1")},
			mock: func(d testDeps) {
				d.hypervisor.On("HealthCheck", mock.Anything, mock.Anything).Once().Return(hypervisor.Health{}, errors.New("probe blew up"))
			},
			check: func(t *testing.T, d testDeps) {
				vm, err := d.registry.Get(context.TODO(), "vm1")
				require.NoError(t, err)
				assert.Equal(t, model.VMStateRunning, vm.State)
			},
		},

		"Non-running VMs should not be probed.": {
			vms: []model.VM{
				func() model.VM {
					vm := runningVM("vm1")
					vm.State = model.VMStateStopped
					vm.Lease = nil
					return vm
				}(),
			},
			mock: func(d testDeps) {},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, deps := newTestManager(t)
			for _, vm := range test.vms {
				require.NoError(t, deps.registry.Insert(context.TODO(), vm))
			}
			test.mock(deps)

			err := m.CheckHealth(context.TODO())
			require.NoError(t, err)

			if test.check != nil {
				test.check(t, deps)
			}
		})
	}
}

func TestManagerReconcile(t *testing.T) {
	tests := map[string]struct {
		mock   func(d testDeps)
		expErr bool
	}{
		"Discovered orphan guests should be reaped before sweeping network resources.": {
			mock: func(d testDeps) {
				d.hypervisor.On("Discover", mock.Anything).Once().Return([]hypervisor.Handle{
					{VMID: "orphan1", PID: 111},
					{VMID: "orphan2", PID: 222},
				}, nil)
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Twice().Return(nil)
				d.network.On("Sweep", mock.Anything).Once().Return(nil)
			},
		},

		"No orphans should still sweep network resources.": {
			mock: func(d testDeps) {
				d.hypervisor.On("Discover", mock.Anything).Once().Return([]hypervisor.Handle{}, nil)
				d.network.On("Sweep", mock.Anything).Once().Return(nil)
			},
		},

		"An orphan that dies before the reap should be tolerated.": {
			mock: func(d testDeps) {
				d.hypervisor.On("Discover", mock.Anything).Once().Return([]hypervisor.Handle{
					{VMID: "orphan1", PID: 111},
				}, nil)
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(hypervisor.ErrAlreadyStopped)
				d.network.On("Sweep", mock.Anything).Once().Return(nil)
			},
		},

		"A failed reap should abort the reconcile.": {
			mock: func(d testDeps) {
				d.hypervisor.On("Discover", mock.Anything).Once().Return([]hypervisor.Handle{
					{VMID: "orphan1", PID: 111},
				}, nil)
				d.hypervisor.On("Terminate", mock.Anything, mock.Anything, false).Once().Return(errors.New("no permission"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, deps := newTestManager(t)
			test.mock(deps)

			err := m.Reconcile(context.TODO())

			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerTaskTrail(t *testing.T) {
	reg, err := registry.NewMemory(registry.MemoryConfig{})
	require.NoError(t, err)
	tasks, err := taskmemory.NewManager(taskmemory.ManagerConfig{})
	require.NoError(t, err)

	mn := networkmock.NewMockProvisioner(t)
	mh := hypervisormock.NewMockAdapter(t)
	mi := imagemock.NewMockResolver(t)

	m, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry:   reg,
		Network:    mn,
		Hypervisor: mh,
		Images:     mi,
		Tasks:      tasks,
	})
	require.NoError(t, err)

	mi.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
	mn.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
	mh.On("Launch", mock.Anything, mock.Anything).Once().Return(nil, errors.New("kvm says no"))
	mn.On("Release", mock.Anything, mock.Anything).Once().Return(nil)

	_, err = m.Create(context.TODO(), testSpec())
	require.Error(t, err)

	vms, err := reg.List(context.TODO())
	require.NoError(t, err)
	require.Empty(t, vms)
}

func TestManagerTaskTrailProgress(t *testing.T) {
	reg, err := registry.NewMemory(registry.MemoryConfig{})
	require.NoError(t, err)
	tasks, err := taskmemory.NewManager(taskmemory.ManagerConfig{})
	require.NoError(t, err)

	mn := networkmock.NewMockProvisioner(t)
	mh := hypervisormock.NewMockAdapter(t)
	mi := imagemock.NewMockResolver(t)

	m, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry:   reg,
		Network:    mn,
		Hypervisor: mh,
		Images:     mi,
		Tasks:      tasks,
	})
	require.NoError(t, err)

	mi.On("Resolve", mock.Anything, "ubuntu-24.04").Once().Return(testImage, nil)
	mn.On("Allocate", mock.Anything, mock.Anything, mock.Anything).Once().Return(testLease(""), nil)
	mh.On("Launch", mock.Anything, mock.Anything).Once().Return(&hypervisor.Handle{PID: 4242}, nil)

	vm, err := m.Create(context.TODO(), testSpec())
	require.NoError(t, err)

	progress, err := tasks.Progress(context.TODO(), vm.ID, "create")
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 3, progress.Done)
}
