package orchestrator

import (
	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
)

// ServicePlan is the dry-run view of what Deploy would create for a service.
type ServicePlan struct {
	Service    string              `yaml:"service"`
	Image      string              `yaml:"image"`
	Staging    deployment.UnitPlan `yaml:"staging"`
	Production deployment.UnitPlan `yaml:"production"`
}

// Plan resolves the units Deploy would create for service without touching
// the runtime. The environment bundle is not fetched.
func (o *Orchestrator) Plan(service string) (ServicePlan, error) {
	if err := o.policy.Registry.Validate(service); err != nil {
		return ServicePlan{}, err
	}
	image, err := deployment.ImageRef(o.config.ImageRepository, o.config.ImagePrefix, service, o.config.ImageTag)
	if err != nil {
		return ServicePlan{}, err
	}

	return ServicePlan{
		Service:    service,
		Image:      image,
		Staging:    o.buildPlan("", service, deployment.RoleStaging, image, nil),
		Production: o.buildPlan("", service, deployment.RoleProduction, image, nil),
	}, nil
}

// toUnitSpec converts a unit plan into the runtime's unit spec.
func toUnitSpec(plan deployment.UnitPlan) docker.UnitSpec {
	cpuLimit, cpuReserve := plan.Resources.NanoCPUs()

	spec := docker.UnitSpec{
		Name:   plan.Name,
		Image:  plan.Image,
		Env:    plan.Env,
		Labels: plan.Labels,
		Resources: docker.ResourceLimits{
			NanoCPULimit:   cpuLimit,
			NanoCPUReserve: cpuReserve,
			MemoryLimit:    plan.Resources.MemLimit,
			MemoryReserve:  plan.Resources.MemReserve,
		},
		Network: plan.Network,
	}

	for _, m := range plan.Mounts {
		spec.Mounts = append(spec.Mounts, docker.MountSpec{
			Type:     string(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, docker.PortSpec{
			Target:    uint32(p.Target),
			Published: uint32(p.Published),
			Protocol:  p.Protocol,
		})
	}

	if plan.Update != nil {
		spec.Update = &docker.UpdateSpec{
			Parallelism: plan.Update.Parallelism,
			Delay:       plan.Update.Delay,
			Order:       plan.Update.Order,
		}
	}

	return spec
}
