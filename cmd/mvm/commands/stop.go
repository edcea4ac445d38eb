package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/mvm/internal/apiclient"
)

type StopCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id string
}

// NewStopCommand returns the stop command.
func NewStopCommand(rootCmd *RootCommand, app *kingpin.Application) *StopCommand {
	c := &StopCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("stop", "Stop a running VM.")
	c.Cmd.Arg("id", "ID of the VM.").Required().StringVar(&c.id)

	return c
}

func (c StopCommand) Name() string { return c.Cmd.FullCommand() }

func (c StopCommand) Run(ctx context.Context) error {
	client, err := apiclient.NewClient(apiclient.ClientConfig{BaseURL: c.rootCmd.ServerURL})
	if err != nil {
		return fmt.Errorf("could not create API client: %w", err)
	}

	if err := client.StopVM(ctx, c.id); err != nil {
		return fmt.Errorf("could not stop VM: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "VM %s stopped\n", c.id)
	return nil
}
