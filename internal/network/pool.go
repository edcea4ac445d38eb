package network

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/slok/mvm/internal/model"
)

// Pool manages the bounded set of assignable guest addresses carved from a
// CIDR. The size is fixed at creation: every host address in the range minus
// the network and broadcast addresses and any explicitly reserved address
// (e.g. the bridge gateway when it falls inside the range).
type Pool struct {
	prefix    netip.Prefix
	first     netip.Addr
	last      netip.Addr
	mu        sync.Mutex
	allocated map[netip.Addr]string // Address -> owning VM id.
	reserved  map[netip.Addr]struct{}
}

// NewPool creates an address pool from an IPv4 CIDR.
func NewPool(cidr string) (*Pool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("could not parse pool CIDR %q: %w", cidr, err)
	}
	prefix = prefix.Masked()

	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("pool CIDR %q is not IPv4: %w", cidr, model.ErrNotValid)
	}
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("pool CIDR %q has no usable host addresses: %w", cidr, model.ErrNotValid)
	}

	return &Pool{
		prefix:    prefix,
		first:     prefix.Addr().Next(),     // Skip network address.
		last:      lastHostAddr(prefix),     // Skip broadcast address.
		allocated: make(map[netip.Addr]string),
		reserved:  make(map[netip.Addr]struct{}),
	}, nil
}

// Reserve marks an address as never assignable. Addresses outside the pool
// range are ignored.
func (p *Pool) Reserve(addr string) error {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return fmt.Errorf("could not parse address %q: %w", addr, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.prefix.Contains(a) {
		return nil
	}
	p.reserved[a] = struct{}{}
	return nil
}

// Allocate returns the lowest free address in the pool, recording the owning
// VM id. Returns model.ErrResourceExhausted when every address is taken.
func (p *Pool) Allocate(vmID string) (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for a := p.first; a.Compare(p.last) <= 0; a = a.Next() {
		if _, ok := p.reserved[a]; ok {
			continue
		}
		if _, ok := p.allocated[a]; ok {
			continue
		}
		p.allocated[a] = vmID
		return a, nil
	}

	return netip.Addr{}, fmt.Errorf("address pool %s is empty: %w", p.prefix, model.ErrResourceExhausted)
}

// Release returns an address to the pool. Releasing an address that is not
// allocated is a no-op.
func (p *Pool) Release(addr string) {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.allocated, a)
}

// Free returns the number of assignable addresses left.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.size() - len(p.allocated)
}

// PrefixLen returns the network prefix length of the pool CIDR.
func (p *Pool) PrefixLen() int {
	return p.prefix.Bits()
}

func (p *Pool) size() int {
	total := 1<<(32-p.prefix.Bits()) - 2
	return total - len(p.reserved)
}

// lastHostAddr returns the highest host address of an IPv4 prefix (the
// address just below broadcast).
func lastHostAddr(prefix netip.Prefix) netip.Addr {
	a4 := prefix.Addr().As4()
	hostBits := 32 - prefix.Bits()
	v := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	v |= 1<<hostBits - 2 // All host bits set minus one (broadcast-1).
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
