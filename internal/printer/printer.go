package printer

import apiv1 "github.com/slok/mvm/internal/api/v1"

// Printer knows how to print VM information in different formats.
type Printer interface {
	PrintVMList(vms []apiv1.VM) error
	PrintVM(vm apiv1.VM) error
	PrintMessage(msg string) error
}
