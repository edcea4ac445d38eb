package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/slok/mvm/internal/conventions"
	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

// AdapterConfig is the configuration for the Firecracker adapter.
type AdapterConfig struct {
	// DataDir is the base directory for mvm data (default: ~/.mvm).
	DataDir string
	// FirecrackerBinary is the path to the firecracker binary.
	// If empty, it will be looked up in PATH and ./bin.
	FirecrackerBinary string
	// Logger for logging.
	Logger log.Logger
}

func (c *AdapterConfig) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "hypervisor.Firecracker"})
	return nil
}

// Adapter is the Firecracker implementation of the hypervisor.Adapter
// interface. It supervises one firecracker process per VM and keeps the
// runtime files for each under `<data-dir>/vms/<vm-id>/`.
type Adapter struct {
	dataDir           string
	firecrackerBinary string
	logger            log.Logger

	mu    sync.Mutex
	procs map[string]*procState
}

// procState tracks a firecracker process launched by this adapter so exit
// codes can be surfaced on health checks. Processes discovered after a
// restart are not tracked here and are probed with signal 0 instead.
type procState struct {
	done     chan struct{}
	exitCode int
}

// NewAdapter creates a new Firecracker adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{
		dataDir:           cfg.DataDir,
		firecrackerBinary: cfg.FirecrackerBinary,
		logger:            cfg.Logger,
		procs:             map[string]*procState{},
	}, nil
}

// Launch boots a guest: it copies the rootfs into the VM directory, spawns
// the firecracker process, configures it over its API socket and sends the
// start action. On any failure the spawned process and the VM directory are
// cleaned up before returning, so a failed launch leaves nothing behind.
func (a *Adapter) Launch(ctx context.Context, cfg hypervisor.LaunchConfig) (*hypervisor.Handle, error) {
	if err := a.validateLaunchConfig(cfg); err != nil {
		return nil, err
	}

	fcBinary, err := a.findFirecrackerBinary()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, hypervisor.ErrResourceUnavailable)
	}

	vmDir := conventions.VMDir(a.dataDir, cfg.VMID)
	if err := os.MkdirAll(vmDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create VM directory: %w", err)
	}

	socketPath := filepath.Join(vmDir, conventions.SocketFile)

	a.logger.WithValues(log.Kv{"vm-id": cfg.VMID}).Debugf("Launching guest: tap=%s, ip=%s", cfg.Lease.TapDevice, cfg.Lease.Address)

	var launchErr error
	var cmd *exec.Cmd

	// Copy rootfs so guest writes never touch the shared base image.
	rootfsPath := filepath.Join(vmDir, conventions.RootFSFile)
	if err := copyFile(ctx, cfg.RootFS, rootfsPath); err != nil {
		launchErr = fmt.Errorf("could not copy rootfs: %w", err)
		goto cleanup
	}

	cmd, err = a.spawnFirecracker(fcBinary, vmDir, socketPath)
	if err != nil {
		launchErr = fmt.Errorf("%v: %w", err, hypervisor.ErrProcessFailedToStart)
		goto cleanup
	}

	if err := a.configureVM(ctx, socketPath, rootfsPath, cfg); err != nil {
		launchErr = fmt.Errorf("%v: %w", err, hypervisor.ErrProcessFailedToStart)
		goto cleanup
	}

	if err := a.bootVM(ctx, socketPath); err != nil {
		launchErr = fmt.Errorf("%v: %w", err, hypervisor.ErrProcessFailedToStart)
		goto cleanup
	}

cleanup:
	if launchErr != nil {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		_ = os.RemoveAll(vmDir)
		return nil, launchErr
	}

	a.track(cfg.VMID, cmd)

	a.logger.Infof("Launched guest %s (PID: %d)", cfg.VMID, cmd.Process.Pid)

	return &hypervisor.Handle{
		VMID:       cfg.VMID,
		PID:        cmd.Process.Pid,
		SocketPath: socketPath,
	}, nil
}

func (a *Adapter) validateLaunchConfig(cfg hypervisor.LaunchConfig) error {
	if cfg.VMID == "" {
		return fmt.Errorf("vm id is required: %w", hypervisor.ErrInvalidConfig)
	}
	if _, err := os.Stat(cfg.KernelImage); err != nil {
		return fmt.Errorf("kernel image not found at %s: %w", cfg.KernelImage, hypervisor.ErrInvalidConfig)
	}
	if _, err := os.Stat(cfg.RootFS); err != nil {
		return fmt.Errorf("rootfs not found at %s: %w", cfg.RootFS, hypervisor.ErrInvalidConfig)
	}
	if cfg.Lease.TapDevice == "" || cfg.Lease.Address == "" {
		return fmt.Errorf("network lease is incomplete: %w", hypervisor.ErrInvalidConfig)
	}
	return nil
}

// track registers a launched process and reaps it in the background so exit
// codes are available to HealthCheck.
func (a *Adapter) track(vmID string, cmd *exec.Cmd) {
	ps := &procState{done: make(chan struct{})}

	a.mu.Lock()
	a.procs[vmID] = ps
	a.mu.Unlock()

	go func() {
		err := cmd.Wait()
		ps.exitCode = 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			ps.exitCode = exitErr.ExitCode()
		}
		close(ps.done)
	}()
}

// Terminate stops a guest supervisor process. Graceful termination sends
// SIGTERM and waits bounded by the context, returning ErrTimeout if the
// process outlives it; non-graceful sends SIGKILL. Once the process is gone
// the VM directory is removed.
func (a *Adapter) Terminate(ctx context.Context, handle *hypervisor.Handle, graceful bool) error {
	vmDir := conventions.VMDir(a.dataDir, handle.VMID)

	if !processAlive(handle.PID) {
		_ = os.RemoveAll(vmDir)
		a.untrack(handle.VMID)
		return fmt.Errorf("process %d: %w", handle.PID, hypervisor.ErrAlreadyStopped)
	}

	proc, err := os.FindProcess(handle.PID)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", handle.PID, err)
	}

	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	if err := proc.Signal(sig); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("could not signal process %d: %w", handle.PID, err)
	}

	if err := a.waitForExit(ctx, handle.PID); err != nil {
		return err
	}

	_ = os.RemoveAll(vmDir)
	a.untrack(handle.VMID)

	a.logger.Infof("Terminated guest %s (PID: %d)", handle.VMID, handle.PID)
	return nil
}

// waitForExit polls until the process is gone or the context expires.
func (a *Adapter) waitForExit(ctx context.Context, pid int) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !processAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("process %d did not exit: %w", pid, hypervisor.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (a *Adapter) untrack(vmID string) {
	a.mu.Lock()
	delete(a.procs, vmID)
	a.mu.Unlock()
}

// HealthCheck probes the liveness of a guest supervisor process. Processes
// launched by this adapter report their real exit code; processes discovered
// after a restart report an unknown code (-1) once gone.
func (a *Adapter) HealthCheck(ctx context.Context, handle *hypervisor.Handle) (hypervisor.Health, error) {
	a.mu.Lock()
	ps := a.procs[handle.VMID]
	a.mu.Unlock()

	if ps != nil {
		select {
		case <-ps.done:
			return hypervisor.Health{State: hypervisor.HealthExited, ExitCode: ps.exitCode}, nil
		default:
			return hypervisor.Health{State: hypervisor.HealthRunning}, nil
		}
	}

	if processAlive(handle.PID) {
		return hypervisor.Health{State: hypervisor.HealthRunning}, nil
	}
	return hypervisor.Health{State: hypervisor.HealthExited, ExitCode: -1}, nil
}

// Discover scans the VM directories for PID files and returns handles for
// every firecracker process still alive. Stale entries whose process is gone
// are ignored.
func (a *Adapter) Discover(ctx context.Context) ([]hypervisor.Handle, error) {
	vmsDir := filepath.Join(a.dataDir, conventions.VMsDir)
	entries, err := os.ReadDir(vmsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read VMs directory: %w", err)
	}

	var handles []hypervisor.Handle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		vmID := entry.Name()

		pidData, err := os.ReadFile(conventions.PIDPath(a.dataDir, vmID))
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err != nil {
			a.logger.Warningf("Invalid PID file for VM %s: %v", vmID, err)
			continue
		}
		if !processAlive(pid) {
			continue
		}

		handles = append(handles, hypervisor.Handle{
			VMID:       vmID,
			PID:        pid,
			SocketPath: conventions.SocketPath(a.dataDir, vmID),
		})
	}

	return handles, nil
}

// processAlive checks process existence with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Check performs preflight checks for the Firecracker adapter.
func (a *Adapter) Check(ctx context.Context) []model.CheckResult {
	return []model.CheckResult{
		a.checkKVM(),
		a.checkFirecrackerBinary(),
		a.checkIPForward(),
	}
}

// checkKVM checks if /dev/kvm is available and writable.
func (a *Adapter) checkKVM() model.CheckResult {
	kvmPath := "/dev/kvm"

	info, err := os.Stat(kvmPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CheckResult{
				ID:      "kvm_available",
				Message: "/dev/kvm does not exist (KVM not available)",
				Status:  model.CheckStatusError,
			}
		}
		return model.CheckResult{
			ID:      "kvm_available",
			Message: fmt.Sprintf("Cannot access /dev/kvm: %v", err),
			Status:  model.CheckStatusError,
		}
	}

	if info.Mode()&os.ModeCharDevice == 0 {
		return model.CheckResult{
			ID:      "kvm_available",
			Message: "/dev/kvm is not a character device",
			Status:  model.CheckStatusError,
		}
	}

	f, err := os.OpenFile(kvmPath, os.O_RDWR, 0)
	if err != nil {
		return model.CheckResult{
			ID:      "kvm_available",
			Message: fmt.Sprintf("No write permission to /dev/kvm: %v", err),
			Status:  model.CheckStatusError,
		}
	}
	f.Close()

	return model.CheckResult{
		ID:      "kvm_available",
		Message: "KVM is available and writable",
		Status:  model.CheckStatusOK,
	}
}

// checkFirecrackerBinary checks if the firecracker binary is available.
func (a *Adapter) checkFirecrackerBinary() model.CheckResult {
	path, err := a.findFirecrackerBinary()
	if err != nil {
		return model.CheckResult{
			ID:      "firecracker_binary",
			Message: "Firecracker binary not found in PATH or ./bin",
			Status:  model.CheckStatusError,
		}
	}

	cmd := exec.Command(path, "--version")
	out, err := cmd.Output()
	version := "unknown"
	if err == nil {
		version = strings.TrimSpace(string(out))
	}
	return model.CheckResult{
		ID:      "firecracker_binary",
		Message: fmt.Sprintf("Firecracker found at %s (%s)", path, version),
		Status:  model.CheckStatusOK,
	}
}

// checkIPForward checks if IP forwarding is enabled.
func (a *Adapter) checkIPForward() model.CheckResult {
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_forward")
	if err != nil {
		return model.CheckResult{
			ID:      "ip_forward",
			Message: fmt.Sprintf("Cannot read IP forwarding status: %v", err),
			Status:  model.CheckStatusWarning,
		}
	}

	if strings.TrimSpace(string(data)) == "1" {
		return model.CheckResult{
			ID:      "ip_forward",
			Message: "IP forwarding is enabled",
			Status:  model.CheckStatusOK,
		}
	}

	return model.CheckResult{
		ID:      "ip_forward",
		Message: "IP forwarding is disabled (guests will have no egress)",
		Status:  model.CheckStatusWarning,
	}
}
