// Package docker binds the deployment runtime operations to a Docker Swarm
// cluster through the Docker Engine API.
package docker

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/registry"
)

// =============================================================================
// Unit Types
// =============================================================================

// UnitSpec defines the specification for creating a unit (swarm service).
type UnitSpec struct {
	Name      string
	Image     string
	Env       map[string]string
	Labels    map[string]string
	Resources ResourceLimits
	Mounts    []MountSpec
	Ports     []PortSpec
	Network   string
	Update    *UpdateSpec // nil leaves the runtime's default update policy
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	NanoCPULimit   int64 // 1e9 = one core
	NanoCPUReserve int64
	MemoryLimit    int64 // Bytes
	MemoryReserve  int64 // Bytes
}

// MountSpec defines an extra mount.
type MountSpec struct {
	Type     string // "bind" or "volume"
	Source   string // Host path or volume name
	Target   string // Container path
	ReadOnly bool
}

// PortSpec defines a port published through the routing mesh.
type PortSpec struct {
	Target    uint32
	Published uint32 // 0 for auto-assign
	Protocol  string // "tcp", "udp" or "sctp"
}

// UpdateSpec defines the rolling-update policy.
type UpdateSpec struct {
	Parallelism uint64
	Delay       time.Duration
	Order       string // "start-first" or "stop-first"
}

// UnitInfo contains information about an existing unit.
type UnitInfo struct {
	ID        string
	Name      string
	Image     string
	Labels    map[string]string
	Aliases   []string // network aliases across all attachments
	Update    string   // state of the latest rolling update, "" if none ran
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// Registry Auth
// =============================================================================

// RegistryAuth holds credentials for authenticated image pulls.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Empty reports whether no credentials are set.
func (a RegistryAuth) Empty() bool {
	return a.Username == "" && a.Password == ""
}

// Encode returns the base64url-encoded auth header expected by the Engine API.
func (a RegistryAuth) Encode() (string, error) {
	if a.Empty() {
		return "", nil
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      a.Username,
		Password:      a.Password,
		ServerAddress: a.ServerAddress,
	})
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the runtime operations the deployment protocol consumes.
type Client interface {
	// Image operations
	PullImage(ctx context.Context, ref string, auth RegistryAuth) error

	// Unit operations
	InspectUnit(ctx context.Context, name string) (*UnitInfo, error)
	CreateUnit(ctx context.Context, spec UnitSpec, auth RegistryAuth) (unitID string, err error)
	UpdateUnit(ctx context.Context, spec UnitSpec, auth RegistryAuth) error
	RenameUnit(ctx context.Context, oldName, newName string) error
	RemoveUnit(ctx context.Context, name string) error
	ListTaskStates(ctx context.Context, name string) ([]string, error)

	// Config store operations
	FetchConfigEntry(ctx context.Context, key string) (base64Payload string, err error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// TaskStateRunning is the task state reported for a running task.
const TaskStateRunning = "running"

// Rolling update states reported in UnitInfo.Update.
const (
	UpdateStateUpdating  = "updating"
	UpdateStateCompleted = "completed"
)

// UpdateSettled reports whether no rolling update of the unit is in flight
// or pending. Paused and rolled-back updates are not settled.
func (u *UnitInfo) UpdateSettled() bool {
	return u.Update == "" || u.Update == UpdateStateCompleted
}
