package policy

// =============================================================================
// Mounts
// =============================================================================

// MountType is the kind of an extra mount.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
)

// DockerSocket is the host path of the container-management socket.
const DockerSocket = "/var/run/docker.sock"

// Mount is an extra mount attached to a unit.
type Mount struct {
	Type     MountType `mapstructure:"type" yaml:"type"`
	Source   string    `mapstructure:"source" yaml:"source"` // host path or volume name
	Target   string    `mapstructure:"target" yaml:"target"`
	ReadOnly bool      `mapstructure:"read_only" yaml:"read_only,omitempty"`
}

// MountTable declares the extra mounts per service.
type MountTable map[string][]Mount

// Mounts returns a copy of the mounts declared for name; nil if none.
func (t MountTable) Mounts(name string) []Mount {
	ms := t[name]
	if len(ms) == 0 {
		return nil
	}
	out := make([]Mount, len(ms))
	copy(out, ms)
	return out
}

// DefaultMounts returns the reference mount table. The metrics collector reads
// container state through the host socket and buffers samples on a volume.
func DefaultMounts() MountTable {
	return MountTable{
		"chronos": {
			{Type: MountTypeBind, Source: DockerSocket, Target: DockerSocket},
			{Type: MountTypeVolume, Source: "chronos_data", Target: "/app/data"},
		},
	}
}
