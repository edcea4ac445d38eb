package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default mvm data directory name (relative to home).
	DefaultDataDir = ".mvm"
	// VMsDir is the subdirectory for per-VM runtime data.
	VMsDir = "vms"
	// ImagesDir is the subdirectory for kernel and rootfs images.
	ImagesDir = "images"

	// VM-level files.

	// RootFSFile is the filename for the VM's writable rootfs copy.
	RootFSFile = "rootfs.ext4"
	// SocketFile is the Firecracker API socket filename.
	SocketFile = "firecracker.sock"
	// PIDFile is the Firecracker PID filename.
	PIDFile = "firecracker.pid"
	// LogFile is the Firecracker log filename.
	LogFile = "firecracker.log"
	// TasksDBFile is the SQLite database filename for operation step tracking.
	TasksDBFile = "tasks.db"
)

// VMDir returns the runtime directory for a specific VM.
func VMDir(dataDir, vmID string) string {
	return filepath.Join(dataDir, VMsDir, vmID)
}

// VMFilePath returns the full path to a file inside a VM runtime directory.
func VMFilePath(dataDir, vmID, filename string) string {
	return filepath.Join(VMDir(dataDir, vmID), filename)
}

// SocketPath returns the Firecracker API socket path for a VM.
func SocketPath(dataDir, vmID string) string {
	return VMFilePath(dataDir, vmID, SocketFile)
}

// PIDPath returns the Firecracker PID file path for a VM.
func PIDPath(dataDir, vmID string) string {
	return VMFilePath(dataDir, vmID, PIDFile)
}

// ImagesPath returns the images directory under the data dir.
func ImagesPath(dataDir string) string {
	return filepath.Join(dataDir, ImagesDir)
}

// TasksDBPath returns the path of the operation tracking database.
func TasksDBPath(dataDir string) string {
	return filepath.Join(dataDir, TasksDBFile)
}
