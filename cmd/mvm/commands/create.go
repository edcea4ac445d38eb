package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	apiv1 "github.com/slok/mvm/internal/api/v1"
	"github.com/slok/mvm/internal/apiclient"
	"github.com/slok/mvm/internal/model"
)

type CreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name  string
	image string
	cpu   int
	mem   int
	ports []string
}

// NewCreateCommand returns the create command.
func NewCreateCommand(rootCmd *RootCommand, app *kingpin.Application) *CreateCommand {
	c := &CreateCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("create", "Create and start a new VM.")

	c.Cmd.Flag("name", "Name for the VM.").Short('n').Required().StringVar(&c.name)
	c.Cmd.Flag("image", "Image reference (directory name under the images dir).").Short('i').Required().StringVar(&c.image)
	c.Cmd.Flag("cpu", "Number of VCPUs.").Default("1").IntVar(&c.cpu)
	c.Cmd.Flag("mem", "Memory in MB.").Default("128").IntVar(&c.mem)
	c.Cmd.Flag("port", "Expose a guest port on the host as host:guest[/protocol] (e.g. 8080:80, 5353:53/udp). Repeatable.").Short('p').StringsVar(&c.ports)

	return c
}

func (c CreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c CreateCommand) Run(ctx context.Context) error {
	client, err := apiclient.NewClient(apiclient.ClientConfig{BaseURL: c.rootCmd.ServerURL})
	if err != nil {
		return fmt.Errorf("could not create API client: %w", err)
	}

	req := apiv1.CreateVMRequest{
		Name:  c.name,
		Image: c.image,
		Resources: apiv1.VMResources{
			VCPUs:    c.cpu,
			MemoryMB: c.mem,
		},
	}
	for _, port := range c.ports {
		p, err := model.ParsePortMapping(port)
		if err != nil {
			return fmt.Errorf("invalid port mapping: %w", err)
		}
		req.Ports = append(req.Ports, apiv1.PortMapping{
			Protocol:  p.Protocol,
			HostPort:  p.HostPort,
			GuestPort: p.GuestPort,
		})
	}

	vm, err := client.CreateVM(ctx, req)
	if err != nil {
		return fmt.Errorf("could not create VM: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "VM created successfully!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:      %s\n", vm.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Name:    %s\n", vm.Name)
	fmt.Fprintf(c.rootCmd.Stdout, "  State:   %s\n", vm.State)
	if vm.Address != "" {
		fmt.Fprintf(c.rootCmd.Stdout, "  Address: %s\n", vm.Address)
	}
	for _, p := range vm.Ports {
		fmt.Fprintf(c.rootCmd.Stdout, "  Port:    %d -> %d/%s\n", p.HostPort, p.GuestPort, p.Protocol)
	}

	return nil
}
