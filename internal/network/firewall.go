package network

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/slok/mvm/internal/log"
	"github.com/slok/mvm/internal/model"
)

const (
	// nftTableName is the name of the nftables table owned by mvm. Every rule
	// the provisioner installs lives in this table and nowhere else.
	nftTableName = "mvm"

	chainPostrouting = "postrouting"
	chainPrerouting  = "prerouting"
	chainForward     = "forward"
)

// Firewall manages the per-VM firewall rules. Rules are installed before a
// lease is handed out and removed by the identifiers recorded in the lease,
// never by recomputing rule contents.
type Firewall interface {
	// EnsureBase creates the owned table and base chains if missing.
	EnsureBase() error
	// InstallVMRules installs the masquerade and forwarding rules for one
	// guest address, plus a DNAT redirect per requested port mapping, and
	// returns the identifiers of the installed rules.
	InstallVMRules(vmID, tapDevice, address string, ports []model.PortMapping) ([]model.RuleID, error)
	// RemoveRules removes rules by their recorded identifiers. Identifiers
	// that no longer exist are skipped.
	RemoveRules(ids []model.RuleID) error
	// RemoveAll deletes the whole owned table. Used when reconciling a fresh
	// start against leftover host state.
	RemoveAll() error
}

// NFTablesFirewallConfig is the configuration for the nftables firewall.
type NFTablesFirewallConfig struct {
	// Uplink is the outbound interface masqueraded traffic leaves through.
	// Discovered from the default route when empty.
	Uplink string
	Logger log.Logger
}

func (c *NFTablesFirewallConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "network.NFTablesFirewall"})
	return nil
}

// NFTablesFirewall is the nftables implementation of Firewall. It uses the
// netlink-based nftables API and works with CAP_NET_ADMIN.
type NFTablesFirewall struct {
	uplink string
	logger log.Logger
}

// NewNFTablesFirewall creates a new nftables firewall.
func NewNFTablesFirewall(cfg NFTablesFirewallConfig) (*NFTablesFirewall, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &NFTablesFirewall{
		uplink: cfg.Uplink,
		logger: cfg.Logger,
	}, nil
}

func (f *NFTablesFirewall) table() *nftables.Table {
	return &nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   nftTableName,
	}
}

func (f *NFTablesFirewall) chains(table *nftables.Table) (nat, dnat, filter *nftables.Chain) {
	nat = &nftables.Chain{
		Name:     chainPostrouting,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	}
	dnat = &nftables.Chain{
		Name:     chainPrerouting,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityNATDest,
	}
	filter = &nftables.Chain{
		Name:     chainForward,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
	}
	return nat, dnat, filter
}

// EnsureBase creates the owned table and its chains if missing.
func (f *NFTablesFirewall) EnsureBase() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("could not connect to nftables: %w", err)
	}

	table := f.table()
	conn.AddTable(table)
	nat, dnat, filter := f.chains(table)
	conn.AddChain(nat)
	conn.AddChain(dnat)
	conn.AddChain(filter)

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("could not create nftables table %s: %w", nftTableName, err)
	}

	f.logger.Debugf("Ensured nftables table %s", nftTableName)
	return nil
}

// InstallVMRules installs the three base per-VM rules (masquerade, tap to
// uplink accept, uplink to tap established/related accept) and two rules per
// port mapping (host port DNAT, forward accept to the guest port), confirms
// them by reading back the kernel-assigned handles, and returns those handles
// as the rule identifiers.
func (f *NFTablesFirewall) InstallVMRules(vmID, tapDevice, address string, ports []model.PortMapping) ([]model.RuleID, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("invalid guest address %q: %w", address, err)
	}

	uplink, err := f.uplinkInterface()
	if err != nil {
		return nil, err
	}
	tapIdx, err := interfaceIndex(tapDevice)
	if err != nil {
		return nil, err
	}
	uplinkIdx, err := interfaceIndex(uplink)
	if err != nil {
		return nil, err
	}

	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("could not connect to nftables: %w", err)
	}

	table := f.table()
	conn.AddTable(table)
	nat, dnat, filter := f.chains(table)
	conn.AddChain(nat)
	conn.AddChain(dnat)
	conn.AddChain(filter)

	// Rules are tagged with the owning VM id so their handles can be read
	// back after the flush.
	tag := []byte(vmID)
	addr4 := addr.As4()

	// Masquerade traffic from the guest address leaving through the uplink.
	conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    nat,
		UserData: tag,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(uplink)},
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       12, // IPv4 source address.
				Len:          4,
			},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: addr4[:]},
			&expr.Masq{},
		},
	})

	// Allow forwarding from the tap to the uplink.
	conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    filter,
		UserData: tag,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIF, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint32(tapIdx)},
			&expr.Meta{Key: expr.MetaKeyOIF, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint32(uplinkIdx)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	// Allow established/related traffic back to the tap.
	conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    filter,
		UserData: tag,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIF, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint32(uplinkIdx)},
			&expr.Meta{Key: expr.MetaKeyOIF, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint32(tapIdx)},
			&expr.Ct{Register: 1, SourceRegister: false, Key: expr.CtKeySTATE},
			&expr.Bitwise{
				SourceRegister: 1,
				DestRegister:   1,
				Len:            4,
				Mask:           binaryUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED),
				Xor:            []byte{0, 0, 0, 0},
			},
			&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	// Redirect and accept every requested port mapping.
	for _, p := range ports {
		proto := protoNumber(p.Protocol)

		// DNAT traffic hitting the host port to the guest address and port.
		conn.AddRule(&nftables.Rule{
			Table:    table,
			Chain:    dnat,
			UserData: tag,
			Exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
				&expr.Payload{
					DestRegister: 1,
					Base:         expr.PayloadBaseTransportHeader,
					Offset:       2, // Destination port.
					Len:          2,
				},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint16BE(uint16(p.HostPort))},
				&expr.Immediate{Register: 1, Data: addr4[:]},
				&expr.Immediate{Register: 2, Data: binaryUint16BE(uint16(p.GuestPort))},
				&expr.NAT{
					Type:        expr.NATTypeDestNAT,
					Family:      unix.NFPROTO_IPV4,
					RegAddrMin:  1,
					RegProtoMin: 2,
				},
			},
		})

		// Allow the redirected traffic to be forwarded to the tap.
		conn.AddRule(&nftables.Rule{
			Table:    table,
			Chain:    filter,
			UserData: tag,
			Exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyOIF, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint32(tapIdx)},
				&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
				&expr.Payload{
					DestRegister: 1,
					Base:         expr.PayloadBaseTransportHeader,
					Offset:       2, // Destination port.
					Len:          2,
				},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryUint16BE(uint16(p.GuestPort))},
				&expr.Verdict{Kind: expr.VerdictAccept},
			},
		})
	}

	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("could not install nftables rules: %w", err)
	}

	// Read back the kernel-assigned handles for the rules we just tagged.
	ids, err := f.rulesByTag(conn, tag)
	if err != nil {
		return nil, err
	}
	wantRules := 3 + 2*len(ports)
	if len(ids) != wantRules {
		return nil, fmt.Errorf("expected %d installed rules for VM %s, found %d", wantRules, vmID, len(ids))
	}

	f.logger.Debugf("Installed nftables rules for %s via %s: %v", tapDevice, uplink, ids)
	return ids, nil
}

// rulesByTag returns the rule identifiers in the owned table whose user data
// matches the tag.
func (f *NFTablesFirewall) rulesByTag(conn *nftables.Conn, tag []byte) ([]model.RuleID, error) {
	table := f.table()
	nat, dnat, filter := f.chains(table)

	var ids []model.RuleID
	for _, chain := range []*nftables.Chain{nat, dnat, filter} {
		rules, err := conn.GetRules(table, chain)
		if err != nil {
			return nil, fmt.Errorf("could not list rules in chain %s: %w", chain.Name, err)
		}
		for _, r := range rules {
			if bytes.Equal(r.UserData, tag) {
				ids = append(ids, model.RuleID{Chain: chain.Name, Handle: r.Handle})
			}
		}
	}
	return ids, nil
}

// RemoveRules removes rules by their recorded handles. Handles that no longer
// exist in the chain are skipped so releases stay idempotent.
func (f *NFTablesFirewall) RemoveRules(ids []model.RuleID) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("could not connect to nftables: %w", err)
	}

	table := f.table()
	nat, dnat, filter := f.chains(table)
	chainsByName := map[string]*nftables.Chain{
		nat.Name:    nat,
		dnat.Name:   dnat,
		filter.Name: filter,
	}

	// Collect the handles still present, so deleting an already-removed rule
	// is a no-op instead of a kernel error.
	existing := map[model.RuleID]bool{}
	for name, chain := range chainsByName {
		rules, err := conn.GetRules(table, chain)
		if err != nil {
			return fmt.Errorf("could not list rules in chain %s: %w", name, err)
		}
		for _, r := range rules {
			existing[model.RuleID{Chain: name, Handle: r.Handle}] = true
		}
	}

	deleted := 0
	for _, id := range ids {
		if !existing[id] {
			continue
		}
		chain, ok := chainsByName[id.Chain]
		if !ok {
			continue
		}
		if err := conn.DelRule(&nftables.Rule{Table: table, Chain: chain, Handle: id.Handle}); err != nil {
			return fmt.Errorf("could not delete rule %s: %w", id, err)
		}
		deleted++
	}

	if deleted == 0 {
		return nil
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("could not remove nftables rules: %w", err)
	}

	f.logger.Debugf("Removed %d nftables rules", deleted)
	return nil
}

// RemoveAll deletes the owned table if it exists.
func (f *NFTablesFirewall) RemoveAll() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("could not connect to nftables: %w", err)
	}

	tables, err := conn.ListTables()
	if err != nil {
		return fmt.Errorf("could not list nftables tables: %w", err)
	}

	for _, table := range tables {
		if table.Name == nftTableName && table.Family == nftables.TableFamilyIPv4 {
			conn.DelTable(table)
			if err := conn.Flush(); err != nil {
				return fmt.Errorf("could not delete nftables table %s: %w", nftTableName, err)
			}
			f.logger.Debugf("Deleted nftables table %s", nftTableName)
			break
		}
	}

	return nil
}

// uplinkInterface returns the configured uplink or the interface of the
// default IPv4 route.
func (f *NFTablesFirewall) uplinkInterface() (string, error) {
	if f.uplink != "" {
		return f.uplink, nil
	}

	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("could not list routes: %w", err)
	}

	for _, route := range routes {
		isDefault := route.Dst == nil || route.Dst.IP.Equal(net.IPv4zero)
		if isDefault && route.LinkIndex > 0 {
			link, err := netlink.LinkByIndex(route.LinkIndex)
			if err != nil {
				continue
			}
			return link.Attrs().Name, nil
		}
	}

	return "", fmt.Errorf("no default route found")
}

// interfaceIndex returns the interface index for the given interface name.
func interfaceIndex(ifaceName string) (uint32, error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return 0, fmt.Errorf("could not get interface %s: %w", ifaceName, err)
	}
	return uint32(link.Attrs().Index), nil
}

// ifname returns the interface name as a null-terminated byte slice for
// nftables.
func ifname(name string) []byte {
	b := make([]byte, unix.IFNAMSIZ)
	copy(b, name)
	return b
}

// binaryUint32 converts a uint32 to a 4-byte slice in native endian.
func binaryUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// binaryUint16BE converts a port number to its network byte order wire form.
func binaryUint16BE(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// protoNumber returns the IP protocol number of a port mapping protocol.
func protoNumber(protocol string) byte {
	if protocol == "udp" {
		return unix.IPPROTO_UDP
	}
	return unix.IPPROTO_TCP
}

// Check runs the firewall preflight checks.
func (f *NFTablesFirewall) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	conn, err := nftables.New()
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      "nftables_available",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("cannot connect to nftables: %v", err),
		})
	} else if _, err := conn.ListTables(); err != nil {
		results = append(results, model.CheckResult{
			ID:      "nftables_available",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("cannot list nftables tables (missing CAP_NET_ADMIN?): %v", err),
		})
	} else {
		results = append(results, model.CheckResult{
			ID:      "nftables_available",
			Status:  model.CheckStatusOK,
			Message: "nftables is usable",
		})
	}

	uplink, err := f.uplinkInterface()
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      "uplink_interface",
			Status:  model.CheckStatusWarning,
			Message: fmt.Sprintf("no uplink interface: %v", err),
		})
	} else {
		results = append(results, model.CheckResult{
			ID:      "uplink_interface",
			Status:  model.CheckStatusOK,
			Message: fmt.Sprintf("uplink interface is %s", uplink),
		})
	}

	return results
}
