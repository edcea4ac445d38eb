package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/mvm/internal/hypervisor/firecracker"
	"github.com/slok/mvm/internal/model"
	"github.com/slok/mvm/internal/network"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run host preflight checks for running microVMs.")

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	out := c.rootCmd.Stdout

	adapter, err := firecracker.NewAdapter(firecracker.AdapterConfig{
		DataDir: c.rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create hypervisor adapter: %w", err)
	}

	firewall, err := network.NewNFTablesFirewall(network.NFTablesFirewallConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create firewall: %w", err)
	}

	groups := []struct {
		name    string
		results []model.CheckResult
	}{
		{name: "hypervisor", results: adapter.Check(ctx)},
		{name: "network", results: firewall.Check(ctx)},
	}

	totalErrors := 0
	totalWarnings := 0
	for _, group := range groups {
		fmt.Fprintf(out, "\nChecking %s...\n", group.name)
		for _, r := range group.results {
			fmt.Fprintf(out, "  %s %-22s %s\n", statusIcon(r.Status), r.ID, r.Message)
		}
		_, warnings, errs := model.CountByStatus(group.results)
		totalWarnings += warnings
		totalErrors += errs
	}

	fmt.Fprintln(out)
	if totalErrors == 0 && totalWarnings == 0 {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		var summary []string
		if totalErrors > 0 {
			summary = append(summary, fmt.Sprintf("%d error(s)", totalErrors))
		}
		if totalWarnings > 0 {
			summary = append(summary, fmt.Sprintf("%d warning(s)", totalWarnings))
		}
		fmt.Fprintln(out, strings.Join(summary, ", "))
	}

	if totalErrors > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s)", totalErrors)
	}

	return nil
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}
