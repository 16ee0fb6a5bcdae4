package model

import (
	"fmt"
	"strings"
)

// PortPolicy is the visibility policy the host applies to a declared port.
type PortPolicy string

const (
	// PortPolicyIgnore doesn't forward nor notify.
	PortPolicyIgnore PortPolicy = "ignore"
	// PortPolicyNotify announces the port availability.
	PortPolicyNotify PortPolicy = "notify"
	// PortPolicyOpenBrowser opens the port in a browser automatically.
	PortPolicyOpenBrowser PortPolicy = "openBrowser"
)

// ParsePortPolicy parses a port policy, it's case insensitive and accepts
// kebab case (open-browser).
func ParsePortPolicy(s string) (PortPolicy, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "ignore":
		return PortPolicyIgnore, nil
	case "notify":
		return PortPolicyNotify, nil
	case "openbrowser":
		return PortPolicyOpenBrowser, nil
	}
	return "", fmt.Errorf("unknown port policy %q: %w", s, ErrNotValid)
}

// PortSpec is a network port the environment should expose.
type PortSpec struct {
	Port   int
	Policy PortPolicy
	Label  string
}

// Validate validates the port spec.
func (p PortSpec) Validate() error {
	if err := ValidatePort(p.Port); err != nil {
		return err
	}

	switch p.Policy {
	case PortPolicyIgnore, PortPolicyNotify, PortPolicyOpenBrowser:
	default:
		return fmt.Errorf("port %d has unknown policy %q: %w", p.Port, p.Policy, ErrNotValid)
	}

	return nil
}

// ValidatePort checks a port number is in the valid range.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535): %w", port, ErrNotValid)
	}
	return nil
}
