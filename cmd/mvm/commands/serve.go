package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/mvm/internal/apiserver"
	"github.com/slok/mvm/internal/config"
	"github.com/slok/mvm/internal/conventions"
	"github.com/slok/mvm/internal/hypervisor"
	"github.com/slok/mvm/internal/hypervisor/fake"
	"github.com/slok/mvm/internal/hypervisor/firecracker"
	"github.com/slok/mvm/internal/image"
	"github.com/slok/mvm/internal/lifecycle"
	"github.com/slok/mvm/internal/network"
	"github.com/slok/mvm/internal/registry"
	tasksqlite "github.com/slok/mvm/internal/task/sqlite"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	configPath string
	listen     string
	hypervisor string
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the mvm daemon: reconciles host state and serves the VM API.")
	c.Cmd.Flag("config", "Path to the daemon config file (optional).").Envar("MVM_CONFIG").StringVar(&c.configPath)
	c.Cmd.Flag("listen", "Listen address, overrides the config file.").StringVar(&c.listen)
	c.Cmd.Flag("hypervisor", "Hypervisor adapter (firecracker, fake).").Default("firecracker").EnumVar(&c.hypervisor, "firecracker", "fake")

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = c.rootCmd.DataDir
	}
	imagesDir := cfg.ImagesDir
	if imagesDir == "" {
		imagesDir = conventions.ImagesPath(dataDir)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("could not create data directory: %w", err)
	}

	// Network provisioning.
	devices, err := network.NewNetlinkDeviceManager(network.NetlinkDeviceManagerConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create device manager: %w", err)
	}
	firewall, err := network.NewNFTablesFirewall(network.NFTablesFirewallConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create firewall: %w", err)
	}
	provisioner, err := network.NewProvisioner(network.ProvisionerConfig{
		PoolCIDR:  cfg.Network.PoolCIDR,
		Bridge:    cfg.Network.Bridge,
		Gateway:   cfg.Network.Gateway,
		TapPrefix: cfg.Network.TapPrefix,
		Devices:   devices,
		Firewall:  firewall,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create network provisioner: %w", err)
	}

	// Hypervisor.
	var adapter hypervisor.Adapter
	switch c.hypervisor {
	case "fake":
		adapter, err = fake.NewAdapter(fake.AdapterConfig{Logger: logger})
	default:
		adapter, err = firecracker.NewAdapter(firecracker.AdapterConfig{
			DataDir:           dataDir,
			FirecrackerBinary: cfg.Firecracker.Binary,
			Logger:            logger,
		})
	}
	if err != nil {
		return fmt.Errorf("could not create hypervisor adapter: %w", err)
	}

	// Images.
	resolver, err := image.NewFolderResolver(image.FolderResolverConfig{
		ImagesDir: imagesDir,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create image resolver: %w", err)
	}

	// State.
	reg, err := registry.NewMemory(registry.MemoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}
	tasks, err := tasksqlite.NewManager(ctx, tasksqlite.ManagerConfig{
		DBPath: conventions.TasksDBPath(dataDir),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task manager: %w", err)
	}
	defer tasks.Close()

	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry:    reg,
		Network:     provisioner,
		Hypervisor:  adapter,
		Images:      resolver,
		Tasks:       tasks,
		StopTimeout: cfg.Firecracker.StopTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create lifecycle manager: %w", err)
	}

	// A previous run may have left guests, taps or rules behind. Reap them
	// before handing out any lease, then bring up the base network.
	if err := manager.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile failed: %w", err)
	}
	if err := provisioner.Setup(ctx); err != nil {
		return fmt.Errorf("network setup failed: %w", err)
	}

	server, err := apiserver.NewServer(apiserver.ServerConfig{
		Lifecycle: manager,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	watcher, err := lifecycle.NewWatcher(lifecycle.WatcherConfig{
		Manager:  manager,
		Interval: cfg.HealthInterval,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create health watcher: %w", err)
	}

	listen := cfg.ListenAddress
	if c.listen != "" {
		listen = c.listen
	}
	httpServer := &http.Server{
		Addr:    listen,
		Handler: server.Handler(),
	}

	var g run.Group

	// Command context.
	{
		runCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-runCtx.Done()
				return runCtx.Err()
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Health watcher.
	{
		watchCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return watcher.Run(watchCtx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// HTTP API server.
	{
		g.Add(
			func() error {
				logger.Infof("API listening on %s", listen)
				return httpServer.ListenAndServe()
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("HTTP server shutdown failed: %v", err)
				}
			},
		)
	}

	err = g.Run()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c ServeCommand) loadConfig(ctx context.Context) (config.Config, error) {
	path := c.configPath
	if path == "" {
		defaultPath := filepath.Join(c.rootCmd.DataDir, "config.yaml")
		if _, err := os.Stat(defaultPath); err != nil {
			return config.Default(), nil
		}
		path = defaultPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("could not resolve config path: %w", err)
	}

	repo := config.NewYAMLRepository(os.DirFS(filepath.Dir(abs)))
	cfg, err := repo.GetConfig(ctx, filepath.Base(abs))
	if err != nil {
		return config.Config{}, fmt.Errorf("could not load config %s: %w", path, err)
	}
	return cfg, nil
}
