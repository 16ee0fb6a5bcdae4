package printer

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
)

// DevcontainerPrinter prints the port table as a devcontainer.json fragment
// (`forwardPorts` and `portsAttributes`).
type DevcontainerPrinter struct {
	writer io.Writer
}

// NewDevcontainerPrinter creates a new devcontainer printer.
func NewDevcontainerPrinter(w io.Writer) *DevcontainerPrinter {
	return &DevcontainerPrinter{writer: w}
}

type devcontainerPorts struct {
	ForwardPorts    []int                                `json:"forwardPorts"`
	PortsAttributes map[string]devcontainerPortAttribute `json:"portsAttributes"`
}

type devcontainerPortAttribute struct {
	Label         string `json:"label,omitempty"`
	OnAutoForward string `json:"onAutoForward"`
}

var onAutoForward = map[model.PortPolicy]string{
	model.PortPolicyIgnore:      "ignore",
	model.PortPolicyNotify:      "notify",
	model.PortPolicyOpenBrowser: "openBrowser",
}

// PrintPorts prints the port table devcontainer fragment.
func (d *DevcontainerPrinter) PrintPorts(table *ports.Table) error {
	out := devcontainerPorts{
		ForwardPorts:    []int{},
		PortsAttributes: map[string]devcontainerPortAttribute{},
	}

	for _, p := range table.Forwarded() {
		out.ForwardPorts = append(out.ForwardPorts, p.Port)
	}

	for _, p := range table.All() {
		out.PortsAttributes[strconv.Itoa(p.Port)] = devcontainerPortAttribute{
			Label:         p.Label,
			OnAutoForward: onAutoForward[p.Policy],
		}
	}

	enc := json.NewEncoder(d.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
