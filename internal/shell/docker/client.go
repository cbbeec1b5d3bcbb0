package docker

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface against a swarm manager.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(ctx context.Context, host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if host == "" {
		if _, pingErr := cli.Ping(ctx); pingErr != nil {
			// Fall back to the Docker Desktop socket
			homeDir, _ := os.UserHomeDir()
			desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

			cli2, err2 := client.NewClientWithOpts(
				client.WithHost(desktopSocket),
				client.WithAPIVersionNegotiation(),
			)
			if err2 == nil {
				if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
					cli.Close()
					return &DockerClient{cli: cli2}, nil
				}
				cli2.Close()
			}
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks that the daemon is reachable and is a swarm manager.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", "failed to ping docker: "+err.Error(), ErrConnectionFailed)
	}
	info, err := d.cli.Info(ctx)
	if err != nil {
		return NewDockerError("Ping", "", "", "failed to read daemon info: "+err.Error(), ErrConnectionFailed)
	}
	if !info.Swarm.ControlAvailable {
		return NewDockerError("Ping", "", "", "swarm control plane unavailable on this node", ErrNotSwarmManager)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry and waits for the pull to finish.
func (d *DockerClient) PullImage(ctx context.Context, ref string, auth RegistryAuth) error {
	encoded, err := auth.Encode()
	if err != nil {
		return NewDockerError("PullImage", "image", ref, "failed to encode registry auth: "+err.Error(), ErrImagePullFailed)
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: encoded})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewDockerError("PullImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", ref, errStr, ErrImagePullFailed)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained; errors
	// reported mid-stream surface here.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return NewDockerError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// =============================================================================
// Unit Operations
// =============================================================================

// InspectUnit returns the unit with exactly this name.
func (d *DockerClient) InspectUnit(ctx context.Context, name string) (*UnitInfo, error) {
	svc, _, err := d.cli.ServiceInspectWithRaw(ctx, name, swarm.ServiceInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectUnit", "service", name, "service not found", ErrUnitNotFound)
		}
		return nil, NewDockerError("InspectUnit", "service", name, err.Error(), err)
	}
	// The engine also resolves ID prefixes; only an exact name match counts.
	if svc.Spec.Name != name {
		return nil, NewDockerError("InspectUnit", "service", name, "service not found", ErrUnitNotFound)
	}
	return unitInfo(svc), nil
}

// CreateUnit creates a new unit from the given spec.
func (d *DockerClient) CreateUnit(ctx context.Context, spec UnitSpec, auth RegistryAuth) (string, error) {
	encoded, err := auth.Encode()
	if err != nil {
		return "", NewDockerError("CreateUnit", "service", spec.Name, "failed to encode registry auth: "+err.Error(), ErrUnitCreateFailed)
	}

	resp, err := d.cli.ServiceCreate(ctx, buildServiceSpec(spec), swarm.ServiceCreateOptions{
		EncodedRegistryAuth: encoded,
		QueryRegistry:       encoded != "",
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "name conflicts") {
			return "", NewDockerError("CreateUnit", "service", spec.Name, "service already exists", ErrUnitAlreadyExists)
		}
		return "", NewDockerError("CreateUnit", "service", spec.Name, err.Error(), ErrUnitCreateFailed)
	}

	return resp.ID, nil
}

// UpdateUnit replaces the spec of an existing unit with spec. The runtime
// rolls its tasks according to spec.Update; callers wait for the rollout.
func (d *DockerClient) UpdateUnit(ctx context.Context, spec UnitSpec, auth RegistryAuth) error {
	encoded, err := auth.Encode()
	if err != nil {
		return NewDockerError("UpdateUnit", "service", spec.Name, "failed to encode registry auth: "+err.Error(), ErrUnitUpdateFailed)
	}

	svc, _, err := d.cli.ServiceInspectWithRaw(ctx, spec.Name, swarm.ServiceInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("UpdateUnit", "service", spec.Name, "service not found", ErrUnitNotFound)
		}
		return NewDockerError("UpdateUnit", "service", spec.Name, err.Error(), err)
	}

	_, err = d.cli.ServiceUpdate(ctx, svc.ID, svc.Version, buildServiceSpec(spec), swarm.ServiceUpdateOptions{
		EncodedRegistryAuth: encoded,
		QueryRegistry:       encoded != "",
	})
	if err != nil {
		return NewDockerError("UpdateUnit", "service", spec.Name, err.Error(), ErrUnitUpdateFailed)
	}
	return nil
}

// RenameUnit hands the stable hostname newName to the unit called oldName.
// Swarm services cannot be renamed in place, so newName is added as a network
// alias on every attachment of oldName in a single service update. The alias
// changes the task template, so the runtime rolls the unit's tasks; callers
// wait for the rollout before relying on the new name.
func (d *DockerClient) RenameUnit(ctx context.Context, oldName, newName string) error {
	svc, _, err := d.cli.ServiceInspectWithRaw(ctx, oldName, swarm.ServiceInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RenameUnit", "service", oldName, "service not found", ErrUnitNotFound)
		}
		return NewDockerError("RenameUnit", "service", oldName, err.Error(), err)
	}

	spec, err := withAlias(svc.Spec, newName)
	if err != nil {
		return NewDockerError("RenameUnit", "service", oldName, err.Error(), err)
	}

	_, err = d.cli.ServiceUpdate(ctx, svc.ID, svc.Version, spec, swarm.ServiceUpdateOptions{})
	if err != nil {
		return NewDockerError("RenameUnit", "service", oldName, err.Error(), ErrUnitUpdateFailed)
	}
	return nil
}

// RemoveUnit removes a unit. A missing unit is not an error.
func (d *DockerClient) RemoveUnit(ctx context.Context, name string) error {
	if err := d.cli.ServiceRemove(ctx, name); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return NewDockerError("RemoveUnit", "service", name, err.Error(), err)
	}
	return nil
}

// ListTaskStates returns the current state of every task of a unit.
func (d *DockerClient) ListTaskStates(ctx context.Context, name string) ([]string, error) {
	info, err := d.InspectUnit(ctx, name)
	if err != nil {
		return nil, err
	}

	tasks, err := d.cli.TaskList(ctx, swarm.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", info.ID)),
	})
	if err != nil {
		return nil, NewDockerError("ListTaskStates", "task", name, err.Error(), err)
	}

	states := make([]string, 0, len(tasks))
	for _, t := range tasks {
		states = append(states, string(t.Status.State))
	}
	return states, nil
}

// =============================================================================
// Config Store Operations
// =============================================================================

// FetchConfigEntry returns the base64 payload of a swarm config.
func (d *DockerClient) FetchConfigEntry(ctx context.Context, key string) (string, error) {
	_, raw, err := d.cli.ConfigInspectWithRaw(ctx, key)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewDockerError("FetchConfigEntry", "config", key, "config not found", ErrConfigNotFound)
		}
		return "", NewDockerError("FetchConfigEntry", "config", key, err.Error(), err)
	}

	data, err := configData(raw)
	if err != nil {
		return "", NewDockerError("FetchConfigEntry", "config", key, err.Error(), err)
	}
	return data, nil
}
