package hypervisor

import (
	"context"
	"errors"

	"github.com/slok/mvm/internal/model"
)

var (
	// ErrInvalidConfig is returned by Launch when the config can't produce a
	// bootable guest (missing kernel, bad paths...).
	ErrInvalidConfig = errors.New("invalid launch config")
	// ErrResourceUnavailable is returned by Launch when a host resource the
	// supervisor needs is missing (KVM device, binary...).
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrProcessFailedToStart is returned by Launch when the supervisor
	// process spawned but never became ready.
	ErrProcessFailedToStart = errors.New("process failed to start")
	// ErrAlreadyStopped is returned by Terminate when the process had
	// already exited.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrTimeout is returned when a bounded adapter operation ran out of time.
	ErrTimeout = errors.New("timeout")
)

// HealthState is the liveness state of a guest supervisor process.
type HealthState string

const (
	// HealthRunning indicates the supervisor process is alive.
	HealthRunning HealthState = "running"
	// HealthExited indicates the supervisor process has exited.
	HealthExited HealthState = "exited"
	// HealthUnknown indicates liveness could not be determined.
	HealthUnknown HealthState = "unknown"
)

// Health is the result of a liveness probe.
type Health struct {
	State    HealthState
	ExitCode int // Meaningful only when State is HealthExited.
}

// Handle identifies one guest supervisor process.
type Handle struct {
	VMID       string
	PID        int
	SocketPath string
}

// LaunchConfig is everything the adapter needs to boot a guest: the resolved
// image paths, the compute resources and the network lease the guest attaches
// through.
type LaunchConfig struct {
	VMID        string
	KernelImage string
	RootFS      string
	Resources   model.Resources
	Lease       model.Lease
}

// Adapter controls one guest supervisor process per VM. The core calls it
// with bounded timeouts and tolerates silent crashes through HealthCheck.
type Adapter interface {
	// Launch boots a guest and returns its process handle.
	Launch(ctx context.Context, cfg LaunchConfig) (*Handle, error)
	// Terminate stops a guest. Graceful termination asks the guest to shut
	// down; non-graceful kills the supervisor process outright.
	Terminate(ctx context.Context, handle *Handle, graceful bool) error
	// HealthCheck probes the liveness of a guest supervisor process.
	HealthCheck(ctx context.Context, handle *Handle) (Health, error)
	// Discover returns handles for every live guest supervisor process on
	// the host, used to reconcile after a coordinator restart.
	Discover(ctx context.Context) ([]Handle, error)
}
