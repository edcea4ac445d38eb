package config

import (
	"context"
	"fmt"
	"io/fs"
	"net/netip"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// APIVersion is the config file API version this build understands.
	APIVersion = "mvm.slok.dev/v1alpha1"
	// Kind is the config file kind this build understands.
	Kind = "Config"
)

// Config is the daemon configuration with every default applied.
type Config struct {
	ListenAddress string
	DataDir       string
	ImagesDir     string

	Network     NetworkConfig
	Firecracker FirecrackerConfig

	HealthInterval time.Duration
}

// NetworkConfig configures the managed bridge and the guest address pool.
type NetworkConfig struct {
	Bridge    string
	Gateway   string
	PoolCIDR  string
	TapPrefix string
}

// FirecrackerConfig configures the hypervisor adapter.
type FirecrackerConfig struct {
	Binary      string
	StopTimeout time.Duration
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		ListenAddress: "127.0.0.1:8080",
		Network: NetworkConfig{
			Bridge:   "mvm-br0",
			Gateway:  "10.200.0.1",
			PoolCIDR: "10.200.0.0/24",
		},
		Firecracker: FirecrackerConfig{
			StopTimeout: 30 * time.Second,
		},
		HealthInterval: 5 * time.Second,
	}
}

// YAMLRepository loads daemon configuration from YAML files.
type YAMLRepository struct {
	fs fs.FS
}

// NewYAMLRepository creates a new YAML config repository.
func NewYAMLRepository(filesystem fs.FS) *YAMLRepository {
	return &YAMLRepository{fs: filesystem}
}

// GetConfig loads the daemon configuration from a YAML file, applies defaults
// and returns the validated result.
func (r *YAMLRepository) GetConfig(ctx context.Context, path string) (Config, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return Config{}, ctx.Err()
	}

	var cfg configYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg.toModel()
}

// configYAML represents the YAML structure of the daemon configuration.
type configYAML struct {
	APIVersion  string           `yaml:"apiVersion"`
	Kind        string           `yaml:"kind"`
	Listen      string           `yaml:"listen"`
	DataDir     string           `yaml:"data_dir"`
	ImagesDir   string           `yaml:"images_dir"`
	Network     *networkYAML     `yaml:"network,omitempty"`
	Firecracker *firecrackerYAML `yaml:"firecracker,omitempty"`
	Health      *healthYAML      `yaml:"health,omitempty"`
}

type networkYAML struct {
	Bridge    string `yaml:"bridge"`
	Gateway   string `yaml:"gateway"`
	PoolCIDR  string `yaml:"pool_cidr"`
	TapPrefix string `yaml:"tap_prefix"`
}

type firecrackerYAML struct {
	Binary      string `yaml:"binary"`
	StopTimeout string `yaml:"stop_timeout"`
}

type healthYAML struct {
	Interval string `yaml:"interval"`
}

func (c configYAML) validate() error {
	if c.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion %q (expected %q)", c.APIVersion, APIVersion)
	}
	if c.Kind != Kind {
		return fmt.Errorf("unsupported kind %q (expected %q)", c.Kind, Kind)
	}

	if c.Network != nil {
		if c.Network.Gateway != "" {
			if _, err := netip.ParseAddr(c.Network.Gateway); err != nil {
				return fmt.Errorf("network gateway: %w", err)
			}
		}
		if c.Network.PoolCIDR != "" {
			if _, err := netip.ParsePrefix(c.Network.PoolCIDR); err != nil {
				return fmt.Errorf("network pool_cidr: %w", err)
			}
		}
	}

	return nil
}

func (c configYAML) toModel() (Config, error) {
	cfg := Default()

	if c.Listen != "" {
		cfg.ListenAddress = c.Listen
	}
	if c.DataDir != "" {
		cfg.DataDir = c.DataDir
	}
	if c.ImagesDir != "" {
		cfg.ImagesDir = c.ImagesDir
	}

	if c.Network != nil {
		if c.Network.Bridge != "" {
			cfg.Network.Bridge = c.Network.Bridge
		}
		if c.Network.Gateway != "" {
			cfg.Network.Gateway = c.Network.Gateway
		}
		if c.Network.PoolCIDR != "" {
			cfg.Network.PoolCIDR = c.Network.PoolCIDR
		}
		if c.Network.TapPrefix != "" {
			cfg.Network.TapPrefix = c.Network.TapPrefix
		}
	}

	if c.Firecracker != nil {
		cfg.Firecracker.Binary = c.Firecracker.Binary
		if c.Firecracker.StopTimeout != "" {
			d, err := time.ParseDuration(c.Firecracker.StopTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("firecracker stop_timeout: %w", err)
			}
			cfg.Firecracker.StopTimeout = d
		}
	}

	if c.Health != nil && c.Health.Interval != "" {
		d, err := time.ParseDuration(c.Health.Interval)
		if err != nil {
			return Config{}, fmt.Errorf("health interval: %w", err)
		}
		cfg.HealthInterval = d
	}

	return cfg, nil
}
