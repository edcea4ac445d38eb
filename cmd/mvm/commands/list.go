package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	apiv1 "github.com/slok/mvm/internal/api/v1"
	"github.com/slok/mvm/internal/apiclient"
	"github.com/slok/mvm/internal/printer"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List all VMs.")
	c.Cmd.Flag("state", "Filter by state (e.g. running, stopped, failed).").StringVar(&c.stateFilter)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	client, err := apiclient.NewClient(apiclient.ClientConfig{BaseURL: c.rootCmd.ServerURL})
	if err != nil {
		return fmt.Errorf("could not create API client: %w", err)
	}

	vms, err := client.ListVMs(ctx)
	if err != nil {
		return fmt.Errorf("could not list VMs: %w", err)
	}

	if c.stateFilter != "" {
		filtered := make([]apiv1.VM, 0, len(vms))
		for _, vm := range vms {
			if vm.State == c.stateFilter {
				filtered = append(filtered, vm)
			}
		}
		vms = filtered
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintVMList(vms); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
