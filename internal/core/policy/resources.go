package policy

import (
	"fmt"

	"github.com/docker/go-units"
)

// =============================================================================
// Resource Profile
// =============================================================================

// ResourceProfile is the CPU/memory limit-and-reservation tuple for a unit.
// By convention limits are >= reservations.
type ResourceProfile struct {
	CPULimit   float64 `yaml:"cpu_limit"`   // cores
	CPUReserve float64 `yaml:"cpu_reserve"` // cores
	MemLimit   int64   `yaml:"mem_limit"`   // bytes
	MemReserve int64   `yaml:"mem_reserve"` // bytes
}

// Validate reports a profile whose quantities are non-positive or whose
// reservation exceeds its limit.
func (p ResourceProfile) Validate() error {
	if p.CPULimit <= 0 || p.CPUReserve <= 0 || p.MemLimit <= 0 || p.MemReserve <= 0 {
		return fmt.Errorf("resource quantities must be positive: %s", p)
	}
	if p.CPUReserve > p.CPULimit {
		return fmt.Errorf("cpu reservation %.2f exceeds limit %.2f", p.CPUReserve, p.CPULimit)
	}
	if p.MemReserve > p.MemLimit {
		return fmt.Errorf("memory reservation %s exceeds limit %s",
			units.BytesSize(float64(p.MemReserve)), units.BytesSize(float64(p.MemLimit)))
	}
	return nil
}

// Less reports whether p is strictly smaller than other in every dimension.
func (p ResourceProfile) Less(other ResourceProfile) bool {
	return p.CPULimit < other.CPULimit &&
		p.CPUReserve < other.CPUReserve &&
		p.MemLimit < other.MemLimit &&
		p.MemReserve < other.MemReserve
}

// NanoCPUs converts the CPU limit and reservation to nanocores.
func (p ResourceProfile) NanoCPUs() (limit, reserve int64) {
	return int64(p.CPULimit * 1e9), int64(p.CPUReserve * 1e9)
}

func (p ResourceProfile) String() string {
	return fmt.Sprintf("cpu=%.2f/%.2f mem=%s/%s",
		p.CPULimit, p.CPUReserve,
		units.BytesSize(float64(p.MemLimit)), units.BytesSize(float64(p.MemReserve)))
}

// ProfileSpec is the human-readable form of a ResourceProfile as it appears in
// configuration, e.g. {cpu_limit: 0.5, cpu_reserve: 0.25, mem_limit: "512M"}.
type ProfileSpec struct {
	CPULimit   float64 `mapstructure:"cpu_limit"`
	CPUReserve float64 `mapstructure:"cpu_reserve"`
	MemLimit   string  `mapstructure:"mem_limit"`
	MemReserve string  `mapstructure:"mem_reserve"`
}

// ParseProfile converts a ProfileSpec. Memory sizes accept the docker CLI
// notation ("64M", "1g", "512MiB").
func ParseProfile(spec ProfileSpec) (ResourceProfile, error) {
	memLimit, err := units.RAMInBytes(spec.MemLimit)
	if err != nil {
		return ResourceProfile{}, fmt.Errorf("mem_limit: %w", err)
	}
	memReserve, err := units.RAMInBytes(spec.MemReserve)
	if err != nil {
		return ResourceProfile{}, fmt.Errorf("mem_reserve: %w", err)
	}
	return ResourceProfile{
		CPULimit:   spec.CPULimit,
		CPUReserve: spec.CPUReserve,
		MemLimit:   memLimit,
		MemReserve: memReserve,
	}, nil
}

// =============================================================================
// Resource Table
// =============================================================================

// Table resolves a service name to its profile: explicit overrides first,
// then the shared default.
type Table struct {
	Default   ResourceProfile
	Overrides map[string]ResourceProfile
}

// Resolve returns the profile for name.
func (t Table) Resolve(name string) ResourceProfile {
	if p, ok := t.Overrides[name]; ok {
		return p
	}
	return t.Default
}

// Validate checks the default and every override.
func (t Table) Validate() error {
	if err := t.Default.Validate(); err != nil {
		return fmt.Errorf("default profile: %w", err)
	}
	for name, p := range t.Overrides {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return nil
}

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// DefaultProfile is the shared fallback profile.
var DefaultProfile = ResourceProfile{CPULimit: 0.5, CPUReserve: 0.25, MemLimit: 512 * mib, MemReserve: 256 * mib}

// DefaultTable returns the reference table: the scheduled-job runner gets a
// minimal reservation, the web API gets the most headroom.
func DefaultTable() Table {
	return Table{
		Default: DefaultProfile,
		Overrides: map[string]ResourceProfile{
			"scheduler": {CPULimit: 0.25, CPUReserve: 0.05, MemLimit: 256 * mib, MemReserve: 64 * mib},
			"server":    {CPULimit: 1.0, CPUReserve: 0.5, MemLimit: 1 * gib, MemReserve: 512 * mib},
		},
	}
}
