package firecracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/slok/mvm/internal/conventions"
	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/utils/file"
)

// Firecracker API types
// See: https://github.com/firecracker-microvm/firecracker/blob/main/src/api_server/swagger/firecracker.yaml

// BootSource is the boot source configuration.
type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args,omitempty"`
}

// Drive is a block device configuration.
type Drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

// MachineConfig is the machine configuration.
type MachineConfig struct {
	VCPUCount  int  `json:"vcpu_count"`
	MemSizeMib int  `json:"mem_size_mib"`
	Smt        bool `json:"smt,omitempty"`
}

// NetworkInterface is a network interface configuration.
type NetworkInterface struct {
	IfaceID     string `json:"iface_id"`
	GuestMAC    string `json:"guest_mac"`
	HostDevName string `json:"host_dev_name"`
}

// InstanceActionInfo is an action request.
type InstanceActionInfo struct {
	ActionType string `json:"action_type"`
}

// findFirecrackerBinary finds the firecracker binary.
func (a *Adapter) findFirecrackerBinary() (string, error) {
	// 1. Check explicit config
	if a.firecrackerBinary != "" {
		if _, err := os.Stat(a.firecrackerBinary); err == nil {
			return a.firecrackerBinary, nil
		}
	}

	// 2. Check ./bin directory
	if cwd, err := os.Getwd(); err == nil {
		binPath := filepath.Join(cwd, "bin", "firecracker")
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	// 3. Check PATH
	if path, err := exec.LookPath("firecracker"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("firecracker binary not found")
}

// spawnFirecracker spawns the Firecracker process and waits for its API
// socket to come up.
func (a *Adapter) spawnFirecracker(fcBinary, vmDir, socketPath string) (*exec.Cmd, error) {
	// Remove existing socket if present
	_ = os.Remove(socketPath)

	logPath := filepath.Join(vmDir, conventions.LogFile)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("could not create log file: %w", err)
	}

	cmd := exec.Command(fcBinary, "--api-sock", socketPath)
	cmd.Dir = vmDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start firecracker: %w", err)
	}

	pid := cmd.Process.Pid

	pidPath := filepath.Join(vmDir, conventions.PIDFile)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", pid)), 0644); err != nil {
		a.logger.Warningf("Could not write PID file: %v", err)
	}

	if err := a.waitForSocket(socketPath, 10*time.Second); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("socket not available: %w", err)
	}

	a.logger.Debugf("Spawned Firecracker process: PID=%d, socket=%s", pid, socketPath)
	return cmd, nil
}

// waitForSocket waits for the Unix socket to become available.
func (a *Adapter) waitForSocket(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for socket %s", socketPath)
}

// configureVM configures the VM via the Firecracker API. Guest networking is
// injected through the kernel ip= boot parameter so it is in place before
// init runs, without any post-boot access to the guest.
func (a *Adapter) configureVM(ctx context.Context, socketPath, rootfsPath string, cfg hypervisor.LaunchConfig) error {
	client := a.newUnixHTTPClient(socketPath)

	// 1. Configure boot source
	// Format: ip=<client-ip>:<server-ip>:<gateway>:<netmask>:<hostname>:<device>:<autoconf>
	bootArgs := bootArgs(cfg.Lease.Address, cfg.Lease.Gateway, cfg.Lease.PrefixLen)
	bootSource := BootSource{
		KernelImagePath: cfg.KernelImage,
		BootArgs:        bootArgs,
	}
	if err := a.apiPUT(ctx, client, "/boot-source", bootSource); err != nil {
		return fmt.Errorf("failed to configure boot source: %w", err)
	}

	// 2. Configure rootfs drive
	drive := Drive{
		DriveID:      "rootfs",
		PathOnHost:   rootfsPath,
		IsRootDevice: true,
		IsReadOnly:   false,
	}
	if err := a.apiPUT(ctx, client, "/drives/rootfs", drive); err != nil {
		return fmt.Errorf("failed to configure rootfs drive: %w", err)
	}

	// 3. Configure machine
	machineConfig := MachineConfig{
		VCPUCount:  cfg.Resources.VCPUs,
		MemSizeMib: cfg.Resources.MemoryMB,
	}
	if err := a.apiPUT(ctx, client, "/machine-config", machineConfig); err != nil {
		return fmt.Errorf("failed to configure machine: %w", err)
	}

	// 4. Configure network interface
	netIface := NetworkInterface{
		IfaceID:     "eth0",
		GuestMAC:    guestMAC(cfg.Lease.Address),
		HostDevName: cfg.Lease.TapDevice,
	}
	if err := a.apiPUT(ctx, client, "/network-interfaces/eth0", netIface); err != nil {
		return fmt.Errorf("failed to configure network interface: %w", err)
	}

	a.logger.Debugf("Configured VM via Firecracker API")
	return nil
}

// bootArgs builds the kernel command line for a guest with the given lease
// addressing.
func bootArgs(address, gateway string, prefixLen int) string {
	mask := net.IP(net.CIDRMask(prefixLen, 32)).String()
	return fmt.Sprintf("console=ttyS0 reboot=k panic=1 pci=off ip=%s::%s:%s::eth0:off", address, gateway, mask)
}

// guestMAC derives a locally administered MAC address from the guest IP, so
// guests on the same bridge never collide.
func guestMAC(address string) string {
	ip := net.ParseIP(address).To4()
	if ip == nil {
		return "06:00:00:00:00:02"
	}
	return fmt.Sprintf("06:00:%02X:%02X:%02X:%02X", ip[0], ip[1], ip[2], ip[3])
}

// bootVM boots the VM by sending the start action.
func (a *Adapter) bootVM(ctx context.Context, socketPath string) error {
	client := a.newUnixHTTPClient(socketPath)

	action := InstanceActionInfo{
		ActionType: "InstanceStart",
	}
	if err := a.apiPUT(ctx, client, "/actions", action); err != nil {
		return fmt.Errorf("failed to boot VM: %w", err)
	}

	a.logger.Debugf("VM boot initiated")
	return nil
}

// newUnixHTTPClient creates an HTTP client that connects via Unix socket.
func (a *Adapter) newUnixHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}
}

// apiPUT sends a PUT request to the Firecracker API.
func (a *Adapter) apiPUT(ctx context.Context, client *http.Client, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	// The host is a placeholder, the connection goes over the Unix socket.
	url := "http://localhost" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, buf.String())
	}

	return nil
}

// copyFile copies src to dst, truncating dst if it exists. Rootfs images are
// usually sparse, so the sparse-aware copy is tried first and a regular copy
// is the fallback.
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	err = file.CopyFileSparse(ctx, in, out)
	if errors.Is(err, file.ErrSparseUnsupported) {
		_, err = io.Copy(out, in)
	}
	if err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
