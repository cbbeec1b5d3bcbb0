package orchestrator

import (
	"context"
	"errors"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/core/monitoring"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
)

// UnitStatus describes one unit of a service as the runtime sees it.
type UnitStatus struct {
	Service string            `yaml:"service"`
	Unit    string            `yaml:"unit"`
	Role    deployment.Role   `yaml:"role"`
	Present bool              `yaml:"present"`
	Image   string            `yaml:"image,omitempty"`
	Aliases []string          `yaml:"aliases,omitempty"`
	States  []string          `yaml:"states,omitempty"`
	Health  monitoring.Health `yaml:"health"`
}

// Status reports the production and staging units of each named service.
// Services are validated against the registry before any runtime call.
func (o *Orchestrator) Status(ctx context.Context, services []string) ([]UnitStatus, error) {
	for _, service := range services {
		if err := o.policy.Registry.Validate(service); err != nil {
			return nil, err
		}
	}

	var out []UnitStatus
	for _, service := range services {
		units := []struct {
			name string
			role deployment.Role
		}{
			{service, deployment.RoleProduction},
			{deployment.StagingName(service, o.config.StagingSuffix), deployment.RoleStaging},
		}
		for _, u := range units {
			st, err := o.unitStatus(ctx, service, u.name, u.role)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func (o *Orchestrator) unitStatus(ctx context.Context, service, unit string, role deployment.Role) (UnitStatus, error) {
	st := UnitStatus{Service: service, Unit: unit, Role: role, Health: monitoring.HealthAbsent}

	info, err := o.client.InspectUnit(ctx, unit)
	if errors.Is(err, docker.ErrUnitNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Present = true
	st.Image = info.Image
	st.Aliases = info.Aliases

	states, err := o.client.ListTaskStates(ctx, unit)
	if err != nil {
		return st, err
	}
	st.States = states
	st.Health = monitoring.Aggregate(states)
	return st, nil
}
