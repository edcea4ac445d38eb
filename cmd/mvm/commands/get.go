package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/mvm/internal/apiclient"
	"github.com/slok/mvm/internal/printer"
)

type GetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id     string
	format string
}

// NewGetCommand returns the get command.
func NewGetCommand(rootCmd *RootCommand, app *kingpin.Application) *GetCommand {
	c := &GetCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("get", "Show detailed status of a VM.")
	c.Cmd.Arg("id", "ID of the VM.").Required().StringVar(&c.id)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c GetCommand) Name() string { return c.Cmd.FullCommand() }

func (c GetCommand) Run(ctx context.Context) error {
	client, err := apiclient.NewClient(apiclient.ClientConfig{BaseURL: c.rootCmd.ServerURL})
	if err != nil {
		return fmt.Errorf("could not create API client: %w", err)
	}

	vm, err := client.GetVM(ctx, c.id)
	if err != nil {
		return fmt.Errorf("could not get VM: %w", err)
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintVM(*vm); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
