package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	apiv1 "github.com/slok/mvm/internal/api/v1"
)

// TablePrinter prints VM information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintVMList prints VMs in a table format.
func (t *TablePrinter) PrintVMList(vms []apiv1.VM) error {
	if len(vms) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tIMAGE\tSTATE\tADDRESS\tCREATED")

	for _, vm := range vms {
		address := vm.Address
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", vm.ID, vm.Name, vm.Image, vm.State, address, TimeAgo(vm.CreatedAt))
	}

	return nil
}

// PrintVM prints detailed VM status.
func (t *TablePrinter) PrintVM(vm apiv1.VM) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", vm.ID)
	fmt.Fprintf(t.writer, "Name:       %s\n", vm.Name)
	fmt.Fprintf(t.writer, "Image:      %s\n", vm.Image)
	fmt.Fprintf(t.writer, "State:      %s\n", vm.State)

	if vm.Address != "" {
		fmt.Fprintf(t.writer, "Address:    %s\n", vm.Address)
	}
	if vm.PID > 0 {
		fmt.Fprintf(t.writer, "PID:        %d\n", vm.PID)
	}
	for _, p := range vm.Ports {
		fmt.Fprintf(t.writer, "Port:       %d -> %d/%s\n", p.HostPort, p.GuestPort, p.Protocol)
	}

	fmt.Fprintf(t.writer, "VCPUs:      %d\n", vm.Resources.VCPUs)
	fmt.Fprintf(t.writer, "Memory:     %s\n", FormatBytes(int64(vm.Resources.MemoryMB)*1024*1024))
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(vm.CreatedAt))

	if vm.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(*vm.StartedAt))
	}
	if vm.StoppedAt != nil {
		fmt.Fprintf(t.writer, "Stopped:    %s\n", FormatTimestamp(*vm.StoppedAt))
	}
	if vm.ExitCode != nil {
		fmt.Fprintf(t.writer, "Exit code:  %d\n", *vm.ExitCode)
	}

	return nil
}

// PrintMessage prints a plain message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}
