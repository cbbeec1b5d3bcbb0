package docker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/swarm"
)

// =============================================================================
// Spec Conversion
// =============================================================================

// buildServiceSpec converts a UnitSpec into a single-replica swarm service spec.
func buildServiceSpec(spec UnitSpec) swarm.ServiceSpec {
	replicas := uint64(1)

	containerSpec := &swarm.ContainerSpec{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}

	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if m.Type == string(mount.TypeBind) {
			mountType = mount.TypeBind
		}
		containerSpec.Mounts = append(containerSpec.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	serviceSpec := swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   spec.Name,
			Labels: spec.Labels,
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: containerSpec,
			Resources: &swarm.ResourceRequirements{
				Limits: &swarm.Limit{
					NanoCPUs:    spec.Resources.NanoCPULimit,
					MemoryBytes: spec.Resources.MemoryLimit,
				},
				Reservations: &swarm.Resources{
					NanoCPUs:    spec.Resources.NanoCPUReserve,
					MemoryBytes: spec.Resources.MemoryReserve,
				},
			},
			RestartPolicy: &swarm.RestartPolicy{
				Condition: swarm.RestartPolicyConditionAny,
			},
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
	}

	if spec.Network != "" {
		serviceSpec.TaskTemplate.Networks = []swarm.NetworkAttachmentConfig{
			{Target: spec.Network},
		}
	}

	if len(spec.Ports) > 0 {
		endpoint := &swarm.EndpointSpec{Mode: swarm.ResolutionModeVIP}
		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			endpoint.Ports = append(endpoint.Ports, swarm.PortConfig{
				Protocol:      swarm.PortConfigProtocol(proto),
				TargetPort:    p.Target,
				PublishedPort: p.Published,
				PublishMode:   swarm.PortConfigPublishModeIngress,
			})
		}
		serviceSpec.EndpointSpec = endpoint
	}

	if spec.Update != nil {
		serviceSpec.UpdateConfig = &swarm.UpdateConfig{
			Parallelism:   spec.Update.Parallelism,
			Delay:         spec.Update.Delay,
			Order:         spec.Update.Order,
			FailureAction: swarm.UpdateFailureActionRollback,
		}
	}

	return serviceSpec
}

// envList converts an env map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// withAlias returns a copy of spec whose network attachments all carry alias.
func withAlias(spec swarm.ServiceSpec, alias string) (swarm.ServiceSpec, error) {
	if len(spec.TaskTemplate.Networks) == 0 {
		return spec, ErrNoNetworkAttachment
	}
	networks := make([]swarm.NetworkAttachmentConfig, len(spec.TaskTemplate.Networks))
	for i, n := range spec.TaskTemplate.Networks {
		n.Aliases = append([]string(nil), n.Aliases...)
		if !containsString(n.Aliases, alias) {
			n.Aliases = append(n.Aliases, alias)
		}
		networks[i] = n
	}
	spec.TaskTemplate.Networks = networks
	return spec, nil
}

// unitInfo converts a swarm service into a UnitInfo.
func unitInfo(svc swarm.Service) *UnitInfo {
	info := &UnitInfo{
		ID:        svc.ID,
		Name:      svc.Spec.Name,
		Labels:    svc.Spec.Labels,
		Version:   svc.Version.Index,
		CreatedAt: svc.CreatedAt,
		UpdatedAt: svc.UpdatedAt,
	}
	if svc.Spec.TaskTemplate.ContainerSpec != nil {
		info.Image = svc.Spec.TaskTemplate.ContainerSpec.Image
	}
	for _, n := range svc.Spec.TaskTemplate.Networks {
		info.Aliases = append(info.Aliases, n.Aliases...)
	}
	if svc.UpdateStatus != nil {
		info.Update = string(svc.UpdateStatus.State)
	}
	return info
}

// configData extracts the base64 payload from a raw config inspect response.
// The payload is returned exactly as stored so the caller owns decoding.
func configData(raw []byte) (string, error) {
	var cfg struct {
		Spec struct {
			Data string `json:"Data"`
		} `json:"Spec"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg.Spec.Data, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
