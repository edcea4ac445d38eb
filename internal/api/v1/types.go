// Package apiv1 holds the wire types of the HTTP API, shared by the server
// and the client.
package apiv1

import (
	"time"

	"github.com/slok/mvm/internal/model"
)

// VMResources is the resource sizing of a VM on the wire.
type VMResources struct {
	VCPUs    int `json:"vcpus"`
	MemoryMB int `json:"memory_mb"`
}

// PortMapping exposes a guest port on the host.
type PortMapping struct {
	Protocol  string `json:"protocol,omitempty"`
	HostPort  int    `json:"host_port"`
	GuestPort int    `json:"guest_port"`
}

// CreateVMRequest is the body of a VM create call.
type CreateVMRequest struct {
	Name      string        `json:"name"`
	Image     string        `json:"image"`
	Resources VMResources   `json:"resources"`
	Ports     []PortMapping `json:"ports,omitempty"`
}

// VM is a VM on the wire.
type VM struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Image     string        `json:"image"`
	Resources VMResources   `json:"resources"`
	Ports     []PortMapping `json:"ports,omitempty"`
	State     string        `json:"state"`
	Address   string        `json:"address,omitempty"`
	PID       int           `json:"pid,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	StoppedAt *time.Time    `json:"stopped_at,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
}

// VMList is the body of a VM list response.
type VMList struct {
	VMs []VM `json:"vms"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}

// NewVM maps a domain VM onto the wire.
func NewVM(m model.VM) VM {
	vm := VM{
		ID:    m.ID,
		Name:  m.Spec.Name,
		Image: m.Spec.Image,
		Resources: VMResources{
			VCPUs:    m.Spec.Resources.VCPUs,
			MemoryMB: m.Spec.Resources.MemoryMB,
		},
		State:     string(m.State),
		PID:       m.PID,
		CreatedAt: m.CreatedAt,
		StartedAt: m.StartedAt,
		StoppedAt: m.StoppedAt,
		ExitCode:  m.ExitCode,
	}
	for _, p := range m.Spec.Ports {
		vm.Ports = append(vm.Ports, PortMapping{
			Protocol:  p.Protocol,
			HostPort:  p.HostPort,
			GuestPort: p.GuestPort,
		})
	}
	if m.Lease != nil {
		vm.Address = m.Lease.Address
	}
	return vm
}

// Spec maps a create request onto the domain spec.
func (r CreateVMRequest) Spec() model.VMSpec {
	spec := model.VMSpec{
		Name:  r.Name,
		Image: r.Image,
		Resources: model.Resources{
			VCPUs:    r.Resources.VCPUs,
			MemoryMB: r.Resources.MemoryMB,
		},
	}
	for _, p := range r.Ports {
		spec.Ports = append(spec.Ports, model.PortMapping{
			Protocol:  p.Protocol,
			HostPort:  p.HostPort,
			GuestPort: p.GuestPort,
		})
	}
	return spec
}
