package network

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

// DeviceManager manages the host-side virtual network devices: the managed
// bridge and the per-VM tap devices attached to it.
type DeviceManager interface {
	// EnsureBridge creates the managed bridge if missing, assigns the gateway
	// address and brings it up.
	EnsureBridge(name, gatewayCIDR string) error
	// CreateTap creates a tap device and attaches it to the bridge. Returns a
	// model.ErrConflict wrapped error when the device name already exists.
	CreateTap(name, bridge string) error
	// DeleteTap deletes a tap device. Deleting a missing device is a no-op.
	DeleteTap(name string) error
	// ListTaps returns the names of all tap devices matching the prefix.
	ListTaps(prefix string) ([]string, error)
}

// NetlinkDeviceManagerConfig is the configuration for the netlink device manager.
type NetlinkDeviceManagerConfig struct {
	Logger log.Logger
}

func (c *NetlinkDeviceManagerConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "network.NetlinkDeviceManager"})
	return nil
}

// NetlinkDeviceManager is the netlink implementation of DeviceManager.
// It requires CAP_NET_ADMIN instead of root.
type NetlinkDeviceManager struct {
	logger log.Logger
}

// NewNetlinkDeviceManager creates a new netlink device manager.
func NewNetlinkDeviceManager(cfg NetlinkDeviceManagerConfig) (*NetlinkDeviceManager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &NetlinkDeviceManager{logger: cfg.Logger}, nil
}

// EnsureBridge creates the managed bridge if missing, assigns the gateway
// address and brings it up.
func (m *NetlinkDeviceManager) EnsureBridge(name, gatewayCIDR string) error {
	prefix, err := netip.ParsePrefix(gatewayCIDR)
	if err != nil {
		return fmt.Errorf("invalid bridge address %q: %w", gatewayCIDR, err)
	}
	if len(name) > 15 {
		return fmt.Errorf("bridge name %q is too long: %w", name, model.ErrNotValid)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		if !isLinkNotFound(err) {
			return fmt.Errorf("could not check bridge %s: %w", name, err)
		}
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
		if err := netlink.LinkAdd(br); err != nil {
			return fmt.Errorf("could not create bridge %s: %w", name, err)
		}
		link, err = netlink.LinkByName(name)
		if err != nil {
			return fmt.Errorf("could not get bridge %s after creation: %w", name, err)
		}
		m.logger.Debugf("Created bridge %s", name)
	}

	addr := &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   net.IP(prefix.Addr().AsSlice()),
			Mask: net.CIDRMask(prefix.Bits(), 32),
		},
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		if !strings.Contains(err.Error(), "file exists") {
			return fmt.Errorf("could not assign %s to bridge %s: %w", gatewayCIDR, name, err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("could not bring up bridge %s: %w", name, err)
	}

	m.logger.Debugf("Bridge %s is up with address %s", name, gatewayCIDR)
	return nil
}

// CreateTap creates a tap device owned by the current user (so the hypervisor
// process running as the same user can open it) and attaches it to the bridge.
func (m *NetlinkDeviceManager) CreateTap(name, bridge string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return fmt.Errorf("tap device %s already exists: %w", name, model.ErrConflict)
	}

	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_DEFAULTS | netlink.TUNTAP_NO_PI,
		Owner:     uint32(os.Getuid()),
		Group:     uint32(os.Getgid()),
	}
	if err := netlink.LinkAdd(tap); err != nil {
		if strings.Contains(err.Error(), "file exists") {
			return fmt.Errorf("tap device %s already exists: %w", name, model.ErrConflict)
		}
		return fmt.Errorf("could not create tap device %s: %w", name, err)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("could not get tap device %s after creation: %w", name, err)
	}

	br, err := netlink.LinkByName(bridge)
	if err != nil {
		_ = netlink.LinkDel(link)
		return fmt.Errorf("could not get bridge %s: %w", bridge, err)
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		_ = netlink.LinkDel(link)
		return fmt.Errorf("could not attach tap %s to bridge %s: %w", name, bridge, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		_ = netlink.LinkDel(link)
		return fmt.Errorf("could not bring up tap device %s: %w", name, err)
	}

	m.logger.Debugf("Created tap device %s on bridge %s", name, bridge)
	return nil
}

// DeleteTap deletes a tap device. Missing devices are a no-op.
func (m *NetlinkDeviceManager) DeleteTap(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isLinkNotFound(err) {
			return nil
		}
		return fmt.Errorf("could not find tap device %s: %w", name, err)
	}

	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("could not delete tap device %s: %w", name, err)
	}

	m.logger.Debugf("Deleted tap device %s", name)
	return nil
}

// ListTaps returns all tuntap links whose name starts with the prefix.
func (m *NetlinkDeviceManager) ListTaps(prefix string) ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("could not list links: %w", err)
	}

	var names []string
	for _, link := range links {
		if link.Type() != "tuntap" {
			continue
		}
		if strings.HasPrefix(link.Attrs().Name, prefix) {
			names = append(names, link.Attrs().Name)
		}
	}
	return names, nil
}

func isLinkNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no such")
}
