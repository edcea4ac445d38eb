package image

import (
	"context"
	"runtime"
)

// Image is a resolved guest image: the host paths of the kernel and base
// rootfs a VM boots from.
type Image struct {
	Ref        string
	KernelPath string
	RootFSPath string
}

// Resolver turns image references from VM specs into concrete artifact paths.
type Resolver interface {
	// Resolve resolves an image reference. Unresolvable references fail as
	// not valid, the same as any other bad spec field.
	Resolve(ctx context.Context, ref string) (*Image, error)
	// List returns all resolvable images.
	List(ctx context.Context) ([]Image, error)
	// Exists checks if an image reference is resolvable.
	Exists(ctx context.Context, ref string) (bool, error)
}

// HostArch returns the Firecracker architecture name for the current host.
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}
