package policy

import (
	"fmt"
	"strconv"

	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Published Ports
// =============================================================================

// Port is a port published by the production unit.
type Port struct {
	Target    int    `yaml:"target"`
	Published int    `yaml:"published,omitempty"` // 0 lets the runtime assign one
	Protocol  string `yaml:"protocol"`
}

// PortTable declares published ports per service.
type PortTable map[string][]Port

// Ports returns a copy of the ports declared for name; nil if none.
func (t PortTable) Ports(name string) []Port {
	ps := t[name]
	if len(ps) == 0 {
		return nil
	}
	out := make([]Port, len(ps))
	copy(out, ps)
	return out
}

// ParsePorts parses docker-style port specs ("8000", "80:8000", "53:53/udp",
// "9000-9001:9000-9001").
func ParsePorts(specs []string) ([]Port, error) {
	var out []Port
	for _, spec := range specs {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", spec, err)
		}
		for _, m := range mappings {
			p := Port{
				Target:   m.Port.Int(),
				Protocol: m.Port.Proto(),
			}
			if m.Binding.HostPort != "" {
				published, err := strconv.Atoi(m.Binding.HostPort)
				if err != nil {
					return nil, fmt.Errorf("port %q: invalid published port: %w", spec, err)
				}
				p.Published = published
			}
			out = append(out, p)
		}
	}
	return out, nil
}
