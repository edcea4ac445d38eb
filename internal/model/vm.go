package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VMState represents the state of a VM in its lifecycle.
type VMState string

const (
	// VMStatePending indicates the VM has been accepted but holds no resources yet.
	VMStatePending VMState = "pending"
	// VMStateNetworkAllocated indicates the VM holds a network lease but no process.
	VMStateNetworkAllocated VMState = "network-allocated"
	// VMStateLaunching indicates the hypervisor process is being started.
	VMStateLaunching VMState = "launching"
	// VMStateRunning indicates the guest is running.
	VMStateRunning VMState = "running"
	// VMStateStopping indicates a stop has been requested and teardown is in progress.
	VMStateStopping VMState = "stopping"
	// VMStateStopped indicates the guest exited and the lease was returned.
	VMStateStopped VMState = "stopped"
	// VMStateDeleted indicates the VM was removed from the registry.
	VMStateDeleted VMState = "deleted"
	// VMStateFailed indicates a compensating action failed and the VM needs
	// manual intervention.
	VMStateFailed VMState = "failed"
)

// vmTransitions is the lifecycle state machine. Failed is reachable from any
// non-terminal state and is handled in CanTransitionTo directly.
var vmTransitions = map[VMState][]VMState{
	VMStatePending:          {VMStateNetworkAllocated},
	VMStateNetworkAllocated: {VMStateLaunching},
	VMStateLaunching:        {VMStateRunning},
	VMStateRunning:          {VMStateStopping},
	VMStateStopping:         {VMStateStopped},
	VMStateStopped:          {VMStateDeleted},
	VMStateDeleted:          {},
	VMStateFailed:           {},
}

// Terminal returns true if no further transitions are possible from the state.
func (s VMState) Terminal() bool {
	return s == VMStateDeleted || s == VMStateFailed
}

// CanTransitionTo returns true if the lifecycle state machine allows moving
// from the current state to next.
func (s VMState) CanTransitionTo(next VMState) bool {
	if next == VMStateFailed {
		return !s.Terminal()
	}
	for _, allowed := range vmTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Resources defines the compute resources for a VM.
type Resources struct {
	VCPUs    int
	MemoryMB int
}

// PortMapping exposes one guest port on the host: traffic arriving at the
// host port is redirected to the guest address.
type PortMapping struct {
	Protocol  string // tcp or udp.
	HostPort  int
	GuestPort int
}

// Validate validates the port mapping, defaulting an empty protocol to tcp.
func (p *PortMapping) Validate() error {
	if p.Protocol == "" {
		p.Protocol = "tcp"
	}
	if p.Protocol != "tcp" && p.Protocol != "udp" {
		return fmt.Errorf("unknown port protocol %q: %w", p.Protocol, ErrNotValid)
	}
	if p.HostPort < 1 || p.HostPort > 65535 {
		return fmt.Errorf("host port %d out of range: %w", p.HostPort, ErrNotValid)
	}
	if p.GuestPort < 1 || p.GuestPort > 65535 {
		return fmt.Errorf("guest port %d out of range: %w", p.GuestPort, ErrNotValid)
	}
	return nil
}

func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.GuestPort, p.Protocol)
}

// ParsePortMapping parses a "host:guest[/protocol]" port mapping, e.g.
// "8080:80" or "5353:53/udp". The protocol defaults to tcp.
func ParsePortMapping(s string) (PortMapping, error) {
	mapping, protocol, found := strings.Cut(s, "/")
	host, guest, ok := strings.Cut(mapping, ":")
	if !ok {
		return PortMapping{}, fmt.Errorf("port mapping %q must be host:guest[/protocol]: %w", s, ErrNotValid)
	}

	hostPort, err := strconv.Atoi(host)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid host port %q: %w", host, ErrNotValid)
	}
	guestPort, err := strconv.Atoi(guest)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid guest port %q: %w", guest, ErrNotValid)
	}
	if found && protocol == "" {
		return PortMapping{}, fmt.Errorf("port mapping %q has an empty protocol: %w", s, ErrNotValid)
	}

	p := PortMapping{Protocol: protocol, HostPort: hostPort, GuestPort: guestPort}
	if err := p.Validate(); err != nil {
		return PortMapping{}, err
	}
	return p, nil
}

// VMSpec is the user-provided specification for creating a VM.
// It is immutable after creation.
type VMSpec struct {
	Name      string
	Image     string // Image reference, resolved by the image store.
	Resources Resources
	// Ports are the guest ports exposed on the host.
	Ports []PortMapping
}

// Validate validates the VM spec.
func (s *VMSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required: %w", ErrNotValid)
	}
	if s.Image == "" {
		return fmt.Errorf("image reference is required: %w", ErrNotValid)
	}
	if s.Resources.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be positive: %w", ErrNotValid)
	}
	if s.Resources.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be positive: %w", ErrNotValid)
	}

	seen := map[string]bool{}
	for i := range s.Ports {
		if err := s.Ports[i].Validate(); err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%d", s.Ports[i].Protocol, s.Ports[i].HostPort)
		if seen[key] {
			return fmt.Errorf("host port %d/%s mapped twice: %w", s.Ports[i].HostPort, s.Ports[i].Protocol, ErrNotValid)
		}
		seen[key] = true
	}
	return nil
}

// VM is the descriptor of a microVM instance. The ID is immutable once
// assigned and the state only changes through the lifecycle state machine.
type VM struct {
	ID        string
	Spec      VMSpec
	State     VMState
	Lease     *Lease // Referenced, owned by the network provisioner.
	CreatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time

	// Hypervisor process fields.
	PID        int    // Supervisor process ID.
	SocketPath string // Hypervisor API socket path.
	ExitCode   *int   // Guest exit code, set once the process has exited.
}
