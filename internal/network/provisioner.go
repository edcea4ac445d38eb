package network

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

const (
	// DefaultTapPrefix is the name prefix of every tap device the provisioner
	// creates. Used to find leftover devices when reconciling a fresh start.
	DefaultTapPrefix = "mvm-"

	// maxTapNameAttempts bounds the retries when a generated tap name
	// collides with an existing device.
	maxTapNameAttempts = 5
)

// Provisioner manages the exhaustible network resources of the host: the
// address pool, the tap device namespace and the per-VM firewall rules. It is
// the only component that mutates this state; every mutation goes through its
// exclusive-access methods.
type Provisioner interface {
	// Setup prepares the managed bridge and the base firewall chains.
	Setup(ctx context.Context) error
	// Allocate grants a network lease to a VM: the lowest free pool address,
	// a tap device on the bridge, and the firewall rules for that address,
	// including a DNAT redirect per requested port mapping. The rules are
	// installed and confirmed before the lease is returned.
	Allocate(ctx context.Context, vmID string, ports []model.PortMapping) (*model.Lease, error)
	// Release returns a lease's resources to the host. Idempotent: releasing
	// an already-released lease is a safe no-op.
	Release(ctx context.Context, lease *model.Lease) error
	// Sweep removes every owned firewall rule and tap device from the host.
	// Used on startup to clear leftovers from a previous run.
	Sweep(ctx context.Context) error
}

// ProvisionerConfig is the configuration for the network provisioner.
type ProvisionerConfig struct {
	// PoolCIDR is the range guest addresses are assigned from.
	PoolCIDR string
	// Bridge is the name of the managed bridge.
	Bridge string
	// Gateway is the bridge address, the guests' default route. Reserved in
	// the pool when it falls inside the pool CIDR.
	Gateway string
	// TapPrefix is the tap device name prefix (default: mvm-).
	TapPrefix string
	Devices   DeviceManager
	Firewall  Firewall
	Logger    log.Logger
}

func (c *ProvisionerConfig) defaults() error {
	if c.PoolCIDR == "" {
		return fmt.Errorf("pool CIDR is required")
	}
	if c.Bridge == "" {
		return fmt.Errorf("bridge name is required")
	}
	if c.Gateway == "" {
		return fmt.Errorf("gateway address is required")
	}
	if _, err := netip.ParseAddr(c.Gateway); err != nil {
		return fmt.Errorf("invalid gateway address %q: %w", c.Gateway, err)
	}
	if c.TapPrefix == "" {
		c.TapPrefix = DefaultTapPrefix
	}
	if c.Devices == nil {
		return fmt.Errorf("device manager is required")
	}
	if c.Firewall == nil {
		return fmt.Errorf("firewall is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "network.Provisioner"})
	return nil
}

type provisioner struct {
	pool      *Pool
	bridge    string
	gateway   string
	tapPrefix string
	devices   DeviceManager
	firewall  Firewall
	logger    log.Logger

	mu     sync.Mutex
	leases map[string]*model.Lease // VM id -> live lease.
}

// NewProvisioner creates a new network provisioner.
func NewProvisioner(cfg ProvisionerConfig) (Provisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool, err := NewPool(cfg.PoolCIDR)
	if err != nil {
		return nil, err
	}
	// The gateway never gets assigned to a guest.
	if err := pool.Reserve(cfg.Gateway); err != nil {
		return nil, err
	}

	return &provisioner{
		pool:      pool,
		bridge:    cfg.Bridge,
		gateway:   cfg.Gateway,
		tapPrefix: cfg.TapPrefix,
		devices:   cfg.Devices,
		firewall:  cfg.Firewall,
		logger:    cfg.Logger,
	}, nil
}

func (p *provisioner) Setup(ctx context.Context) error {
	gatewayCIDR := fmt.Sprintf("%s/%d", p.gateway, p.pool.PrefixLen())
	if err := p.devices.EnsureBridge(p.bridge, gatewayCIDR); err != nil {
		return fmt.Errorf("could not set up bridge: %w", err)
	}
	if err := p.firewall.EnsureBase(); err != nil {
		return fmt.Errorf("could not set up firewall: %w", err)
	}

	p.logger.Infof("Bridge %s ready with gateway %s", p.bridge, gatewayCIDR)
	return nil
}

func (p *provisioner) Allocate(ctx context.Context, vmID string, ports []model.PortMapping) (*model.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.leases == nil {
		p.leases = map[string]*model.Lease{}
	}
	if _, ok := p.leases[vmID]; ok {
		return nil, fmt.Errorf("VM %s already holds a lease: %w", vmID, model.ErrAlreadyExists)
	}

	addr, err := p.pool.Allocate(vmID)
	if err != nil {
		return nil, fmt.Errorf("VM %s: %w", vmID, err)
	}

	tapDevice, err := p.createTap()
	if err != nil {
		p.pool.Release(addr.String())
		return nil, fmt.Errorf("VM %s: %w", vmID, err)
	}

	// Firewall rules go in before the lease leaves this method: a VM must
	// never reach the network ahead of its rules.
	ruleIDs, err := p.firewall.InstallVMRules(vmID, tapDevice, addr.String(), ports)
	if err != nil {
		_ = p.devices.DeleteTap(tapDevice)
		p.pool.Release(addr.String())
		return nil, fmt.Errorf("VM %s: could not install firewall rules: %w", vmID, err)
	}

	lease := &model.Lease{
		VMID:      vmID,
		TapDevice: tapDevice,
		Bridge:    p.bridge,
		Address:   addr.String(),
		Gateway:   p.gateway,
		PrefixLen: p.pool.PrefixLen(),
		RuleIDs:   ruleIDs,
	}
	p.leases[vmID] = lease

	p.logger.Debugf("Allocated lease for VM %s: addr=%s tap=%s rules=%v", vmID, lease.Address, tapDevice, ruleIDs)

	leaseCopy := *lease
	return &leaseCopy, nil
}

// createTap generates a tap name and creates the device, retrying with an
// alternate name when the generated one collides with an existing device.
func (p *provisioner) createTap() (string, error) {
	for attempt := 0; attempt < maxTapNameAttempts; attempt++ {
		name, err := p.tapName()
		if err != nil {
			return "", err
		}

		err = p.devices.CreateTap(name, p.bridge)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, model.ErrConflict) {
			p.logger.Debugf("Tap name %s already exists, retrying", name)
			continue
		}
		return "", err
	}

	return "", fmt.Errorf("could not find a free tap device name after %d attempts: %w", maxTapNameAttempts, model.ErrConflict)
}

func (p *provisioner) tapName() (string, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("could not generate tap name: %w", err)
	}
	return p.tapPrefix + hex.EncodeToString(b), nil
}

func (p *provisioner) Release(ctx context.Context, lease *model.Lease) error {
	if lease == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Releases work off the recorded lease, so a stale caller copy or a
	// second invocation can't double-free.
	recorded, ok := p.leases[lease.VMID]
	if !ok {
		return nil
	}

	if err := p.firewall.RemoveRules(recorded.RuleIDs); err != nil {
		return fmt.Errorf("VM %s: could not remove firewall rules: %w", lease.VMID, err)
	}
	if err := p.devices.DeleteTap(recorded.TapDevice); err != nil {
		return fmt.Errorf("VM %s: could not delete tap device: %w", lease.VMID, err)
	}
	p.pool.Release(recorded.Address)
	delete(p.leases, lease.VMID)

	p.logger.Debugf("Released lease for VM %s: addr=%s tap=%s", lease.VMID, recorded.Address, recorded.TapDevice)
	return nil
}

func (p *provisioner) Sweep(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.firewall.RemoveAll(); err != nil {
		return fmt.Errorf("could not remove firewall rules: %w", err)
	}

	taps, err := p.devices.ListTaps(p.tapPrefix)
	if err != nil {
		return fmt.Errorf("could not list tap devices: %w", err)
	}
	for _, tap := range taps {
		if err := p.devices.DeleteTap(tap); err != nil {
			return fmt.Errorf("could not delete leftover tap %s: %w", tap, err)
		}
		p.logger.Infof("Removed leftover tap device %s", tap)
	}

	// Base chains get recreated after the owned table removal.
	return p.firewall.EnsureBase()
}
