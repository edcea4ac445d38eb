package printer

import (
	"encoding/json"
	"io"

	apiv1 "github.com/slok/mvm/internal/api/v1"
)

// JSONPrinter prints VM information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintVMList prints VMs in JSON format.
func (j *JSONPrinter) PrintVMList(vms []apiv1.VM) error {
	if vms == nil {
		vms = []apiv1.VM{}
	}
	return j.encode(vms)
}

// PrintVM prints a single VM in JSON format.
func (j *JSONPrinter) PrintVM(vm apiv1.VM) error {
	return j.encode(vm)
}

// PrintMessage prints a message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
