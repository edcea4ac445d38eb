package config_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/mvm/internal/config"
)

func TestYAMLRepositoryGetConfig(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expCfg config.Config
		expErr bool
		errMsg string
	}{
		"A minimal config should load with every default applied.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
`),
				},
			},
			path:   "config.yaml",
			expCfg: config.Default(),
		},

		"A full config should override every default.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
listen: 0.0.0.0:9000
data_dir: /var/lib/mvm
images_dir: /srv/images
network:
  bridge: br-guests
  gateway: 172.16.0.1
  pool_cidr: 172.16.0.0/22
  tap_prefix: guest-
firecracker:
  binary: /opt/firecracker/firecracker
  stop_timeout: 1m
health:
  interval: 10s
`),
				},
			},
			path: "config.yaml",
			expCfg: config.Config{
				ListenAddress: "0.0.0.0:9000",
				DataDir:       "/var/lib/mvm",
				ImagesDir:     "/srv/images",
				Network: config.NetworkConfig{
					Bridge:    "br-guests",
					Gateway:   "172.16.0.1",
					PoolCIDR:  "172.16.0.0/22",
					TapPrefix: "guest-",
				},
				Firecracker: config.FirecrackerConfig{
					Binary:      "/opt/firecracker/firecracker",
					StopTimeout: time.Minute,
				},
				HealthInterval: 10 * time.Second,
			},
		},

		"A partial network section should keep the remaining network defaults.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
network:
  pool_cidr: 10.77.0.0/24
  gateway: 10.77.0.1
`),
				},
			},
			path: "config.yaml",
			expCfg: func() config.Config {
				cfg := config.Default()
				cfg.Network.PoolCIDR = "10.77.0.0/24"
				cfg.Network.Gateway = "10.77.0.1"
				return cfg
			}(),
		},

		"A missing file should return an error.": {
			fs:     fstest.MapFS{},
			path:   "nonexistent.yaml",
			expErr: true,
			errMsg: "reading config file",
		},

		"Invalid YAML should return an error.": {
			fs: fstest.MapFS{
				"invalid.yaml": &fstest.MapFile{
					Data: []byte(`invalid: yaml: content: {}`),
				},
			},
			path:   "invalid.yaml",
			expErr: true,
			errMsg: "parsing YAML",
		},

		"An unsupported apiVersion should be rejected.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v2
kind: Config
`),
				},
			},
			path:   "config.yaml",
			expErr: true,
			errMsg: "unsupported apiVersion",
		},

		"An unsupported kind should be rejected.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Sandbox
`),
				},
			},
			path:   "config.yaml",
			expErr: true,
			errMsg: "unsupported kind",
		},

		"An invalid gateway address should be rejected.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
network:
  gateway: not-an-address
`),
				},
			},
			path:   "config.yaml",
			expErr: true,
			errMsg: "network gateway",
		},

		"An invalid pool CIDR should be rejected.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
network:
  pool_cidr: 10.0.0.0
`),
				},
			},
			path:   "config.yaml",
			expErr: true,
			errMsg: "network pool_cidr",
		},

		"An unparseable stop timeout should be rejected.": {
			fs: fstest.MapFS{
				"config.yaml": &fstest.MapFile{
					Data: []byte(`apiVersion: mvm.slok.dev/v1alpha1
kind: Config
firecracker:
  stop_timeout: soon
`),
				},
			},
			path:   "config.yaml",
			expErr: true,
			errMsg: "stop_timeout",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := config.NewYAMLRepository(test.fs)

			cfg, err := repo.GetConfig(context.TODO(), test.path)

			if test.expErr {
				require.Error(t, err)
				if test.errMsg != "" {
					assert.Contains(t, err.Error(), test.errMsg)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expCfg, cfg)
		})
	}
}
