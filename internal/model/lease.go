package model

import "fmt"

// RuleID identifies a single installed firewall rule by the chain it lives in
// and the kernel-assigned handle read back after installation. Releases always
// go through these recorded identifiers, never through recomputed rule
// contents.
type RuleID struct {
	Chain  string
	Handle uint64
}

func (r RuleID) String() string {
	return fmt.Sprintf("%s/%d", r.Chain, r.Handle)
}

// Lease is the bundle of network resources granted to one VM: the tap device
// attached to the managed bridge, the guest address and the firewall rules
// that make the address reachable. A lease's address and tap name are unique
// across all live leases.
type Lease struct {
	VMID      string
	TapDevice string
	Bridge    string
	Address   string // Guest IPv4 address.
	Gateway   string // Bridge address, the guest's default route.
	PrefixLen int    // Network prefix length of the pool CIDR.
	RuleIDs   []RuleID
}

// GuestCIDR returns the guest address in CIDR notation.
func (l *Lease) GuestCIDR() string {
	return fmt.Sprintf("%s/%d", l.Address, l.PrefixLen)
}
