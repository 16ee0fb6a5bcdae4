// Package ports has the port registrar, it exposes the declared ports of a
// manifest to the hosting environment.
package ports

import (
	"fmt"

	"github.com/slok/devup/internal/model"
)

// Table is the immutable declared port table.
type Table struct {
	ports []model.PortSpec
}

// Declare returns the port table of the declared ports, declaration order is kept.
func Declare(ports []model.PortSpec) (*Table, error) {
	t := &Table{ports: make([]model.PortSpec, 0, len(ports))}
	for _, p := range ports {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid port declaration: %w", err)
		}
		t.ports = append(t.ports, p)
	}

	return t, nil
}

// All returns all the declared ports.
func (t *Table) All() []model.PortSpec {
	return t.filter(func(model.PortSpec) bool { return true })
}

// ByPolicy returns the ports with a specific policy.
func (t *Table) ByPolicy(policy model.PortPolicy) []model.PortSpec {
	return t.filter(func(p model.PortSpec) bool { return p.Policy == policy })
}

// Forwarded returns the ports the host should forward (notify or open browser).
func (t *Table) Forwarded() []model.PortSpec {
	return t.filter(func(p model.PortSpec) bool { return p.Policy != model.PortPolicyIgnore })
}

// Ignored returns the ports the host should not forward.
func (t *Table) Ignored() []model.PortSpec {
	return t.ByPolicy(model.PortPolicyIgnore)
}

// Partition returns the ports grouped by policy.
func (t *Table) Partition() map[model.PortPolicy][]model.PortSpec {
	parts := map[model.PortPolicy][]model.PortSpec{}
	for _, p := range t.ports {
		parts[p.Policy] = append(parts[p.Policy], p)
	}
	return parts
}

func (t *Table) filter(keep func(model.PortSpec) bool) []model.PortSpec {
	res := []model.PortSpec{}
	for _, p := range t.ports {
		if keep(p) {
			res = append(res, p)
		}
	}
	return res
}
