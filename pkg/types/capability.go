// Package types defines the core domain model for capability-gated sharing:
// capabilities, delegations, content objects, and the shared error taxonomy.
package types

import "fmt"

// Capability is a named operation that can be granted on a content object.
type Capability string

// Known capabilities. Capabilities are independent: holding Download does not
// imply View. Both must be granted explicitly.
const (
	CapabilityView     Capability = "view"
	CapabilityDownload Capability = "download"
)

// ParseCapability converts a string to a known Capability.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapabilityView, CapabilityDownload:
		return Capability(s), nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// NormalizeCapabilities validates a requested capability set and returns it
// deduplicated, preserving first-occurrence order. The set must be non-empty
// and contain only known capabilities.
func NormalizeCapabilities(caps []Capability) ([]Capability, error) {
	if len(caps) == 0 {
		return nil, fmt.Errorf("capability set is empty")
	}

	seen := make(map[Capability]bool, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if _, err := ParseCapability(string(c)); err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
