package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

// FolderResolverConfig configures the folder-backed image resolver.
type FolderResolverConfig struct {
	// ImagesDir is the local directory holding one subdirectory per image.
	ImagesDir string
	// Logger for logging.
	Logger log.Logger
}

func (c *FolderResolverConfig) defaults() error {
	if c.ImagesDir == "" {
		return fmt.Errorf("images dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "image.FolderResolver"})
	return nil
}

// FolderResolver resolves image references against a directory layout of
// `<images-dir>/<ref>/` containing a kernel and a base rootfs. Arch-suffixed
// artifact names (`vmlinux-x86_64`, `rootfs-x86_64.ext4`) take precedence,
// plain names (`vmlinux`, `rootfs.ext4`) are the fallback.
type FolderResolver struct {
	imagesDir string
	logger    log.Logger
}

// NewFolderResolver creates a new folder-backed image resolver.
func NewFolderResolver(cfg FolderResolverConfig) (*FolderResolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &FolderResolver{
		imagesDir: cfg.ImagesDir,
		logger:    cfg.Logger,
	}, nil
}

// Resolve resolves an image reference to artifact paths.
func (r *FolderResolver) Resolve(ctx context.Context, ref string) (*Image, error) {
	if ref == "" || ref != filepath.Base(ref) {
		return nil, fmt.Errorf("image reference %q: %w", ref, model.ErrNotValid)
	}

	imageDir := filepath.Join(r.imagesDir, ref)
	if info, err := os.Stat(imageDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("image %s is not installed: %w", ref, model.ErrNotValid)
	}

	kernelPath, err := firstExisting(
		filepath.Join(imageDir, fmt.Sprintf("vmlinux-%s", HostArch())),
		filepath.Join(imageDir, "vmlinux"),
	)
	if err != nil {
		return nil, fmt.Errorf("image %s has no kernel: %w", ref, model.ErrNotValid)
	}

	rootfsPath, err := firstExisting(
		filepath.Join(imageDir, fmt.Sprintf("rootfs-%s.ext4", HostArch())),
		filepath.Join(imageDir, "rootfs.ext4"),
	)
	if err != nil {
		return nil, fmt.Errorf("image %s has no rootfs: %w", ref, model.ErrNotValid)
	}

	return &Image{
		Ref:        ref,
		KernelPath: kernelPath,
		RootFSPath: rootfsPath,
	}, nil
}

// List returns every directory under the images dir that resolves.
func (r *FolderResolver) List(ctx context.Context) ([]Image, error) {
	entries, err := os.ReadDir(r.imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading images directory: %w", err)
	}

	var images []Image
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		img, err := r.Resolve(ctx, entry.Name())
		if err != nil {
			continue
		}
		images = append(images, *img)
	}

	return images, nil
}

// Exists checks if an image reference resolves.
func (r *FolderResolver) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := r.Resolve(ctx, ref)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func firstExisting(paths ...string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}
