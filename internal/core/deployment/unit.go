package deployment

import (
	"time"

	"github.com/swecc-uw/deployctl/internal/core/policy"
)

// =============================================================================
// Unit Plan Types
// =============================================================================

// Role distinguishes the stable production unit from the transient staging unit.
type Role string

const (
	RoleProduction Role = "production"
	RoleStaging    Role = "staging"
)

// UpdateOrderStartFirst starts the replacement task before stopping the old one.
const UpdateOrderStartFirst = "start-first"

// DefaultUpdateDelay is the pause between replica updates of a production unit.
const DefaultUpdateDelay = 10 * time.Second

// UnitPlan is the planned configuration of one deployment unit.
// This is the pure output of planning, ready for the shell to execute.
type UnitPlan struct {
	Name      string                 `yaml:"name"`
	Service   string                 `yaml:"service"`
	Role      Role                   `yaml:"role"`
	Image     string                 `yaml:"image"`
	Env       map[string]string      `yaml:"-"`
	Labels    map[string]string      `yaml:"labels,omitempty"`
	Resources policy.ResourceProfile `yaml:"resources"`
	Mounts    []policy.Mount         `yaml:"mounts,omitempty"`
	Ports     []policy.Port          `yaml:"ports,omitempty"`
	Network   string                 `yaml:"network,omitempty"`
	Update    *UpdatePlan            `yaml:"update,omitempty"`
}

// UpdatePlan is the rolling-update policy of a unit.
type UpdatePlan struct {
	Parallelism uint64        `yaml:"parallelism"`
	Delay       time.Duration `yaml:"delay"`
	Order       string        `yaml:"order"`
}

// UnitPlanParams contains all inputs for building a unit plan.
type UnitPlanParams struct {
	Service       string
	Role          Role
	AttemptID     string
	Image         string
	Env           map[string]string
	Profile       policy.ResourceProfile
	Mounts        []policy.Mount
	Ports         []policy.Port
	Network       string
	StagingSuffix string
	UpdateDelay   time.Duration
}

// =============================================================================
// Unit Plan Building
// =============================================================================

// BuildUnitPlan builds the unit for a service in the given role.
//
// Both roles get the resolved profile, the environment and the declared extra
// mounts, so a staging unit starts under the same conditions production will.
// Only the production unit gets the stable name and published ports; the
// staging unit is named with the staging suffix and never publishes ports, so
// it cannot collide with the unit it replaces. Both roles update start-first:
// promotion changes the staging task template, and its healthy task must keep
// running until the replacement is up.
func BuildUnitPlan(params UnitPlanParams) UnitPlan {
	plan := UnitPlan{
		Name:      params.Service,
		Service:   params.Service,
		Role:      params.Role,
		Image:     params.Image,
		Env:       make(map[string]string, len(params.Env)),
		Resources: params.Profile,
		Network:   params.Network,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelService: params.Service,
			LabelRole:    string(params.Role),
		},
	}
	if params.AttemptID != "" {
		plan.Labels[LabelAttempt] = params.AttemptID
	}

	for k, v := range params.Env {
		plan.Env[k] = v
	}

	if len(params.Mounts) > 0 {
		plan.Mounts = append([]policy.Mount(nil), params.Mounts...)
	}

	if params.Role == RoleStaging {
		plan.Name = StagingName(params.Service, params.StagingSuffix)
		plan.Update = &UpdatePlan{
			Parallelism: 1,
			Order:       UpdateOrderStartFirst,
		}
		return plan
	}

	if len(params.Ports) > 0 {
		plan.Ports = append([]policy.Port(nil), params.Ports...)
	}

	delay := params.UpdateDelay
	if delay <= 0 {
		delay = DefaultUpdateDelay
	}
	plan.Update = &UpdatePlan{
		Parallelism: 1,
		Delay:       delay,
		Order:       UpdateOrderStartFirst,
	}

	return plan
}
