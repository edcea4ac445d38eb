package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/mvm/internal/apiclient"
)

type RemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id string
}

// NewRemoveCommand returns the rm command.
func NewRemoveCommand(rootCmd *RootCommand, app *kingpin.Application) *RemoveCommand {
	c := &RemoveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rm", "Remove a VM, stopping it first if it is still running.")
	c.Cmd.Arg("id", "ID of the VM.").Required().StringVar(&c.id)

	return c
}

func (c RemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c RemoveCommand) Run(ctx context.Context) error {
	client, err := apiclient.NewClient(apiclient.ClientConfig{BaseURL: c.rootCmd.ServerURL})
	if err != nil {
		return fmt.Errorf("could not create API client: %w", err)
	}

	if err := client.DeleteVM(ctx, c.id); err != nil {
		return fmt.Errorf("could not remove VM: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "VM %s removed\n", c.id)
	return nil
}
