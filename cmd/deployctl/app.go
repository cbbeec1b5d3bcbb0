package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/swecc-uw/deployctl/internal/shell/docker"
	"github.com/swecc-uw/deployctl/internal/shell/envbundle"
	"github.com/swecc-uw/deployctl/internal/shell/health"
	"github.com/swecc-uw/deployctl/internal/shell/orchestrator"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitDeployFailed = 2
	ExitDockerError  = 3
)

// errMissingCredentials is returned by deploy when no registry credentials are set.
var errMissingCredentials = errors.New("registry credentials not set: export DEPLOYCTL_REGISTRY_USERNAME and DEPLOYCTL_REGISTRY_TOKEN (or DOCKER_USERNAME and DOCKER_TOKEN)")

// =============================================================================
// App
// =============================================================================

// ClientFactory opens a runtime client for the given daemon host.
type ClientFactory func(ctx context.Context, host string) (docker.Client, error)

// dockerClientFactory connects to a real swarm manager.
func dockerClientFactory(ctx context.Context, host string) (docker.Client, error) {
	c, err := docker.NewDockerClient(ctx, host)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// App wires the runtime client into an orchestrator.
type App struct {
	client       docker.Client
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// NewApp connects to the runtime and builds the orchestrator.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger, open ClientFactory) (*App, error) {
	pol, err := cfg.Build()
	if err != nil {
		return nil, &CommandError{Op: "load configuration", Err: err, ExitCode: ExitConfigError}
	}

	client, err := open(ctx, cfg.Docker.Host)
	if err != nil {
		return nil, &CommandError{Op: "connect to docker", Err: err, ExitCode: ExitDockerError}
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, &CommandError{Op: "ping docker", Err: err, ExitCode: ExitDockerError}
	}
	logger.Debug("connected to swarm manager", "host", cfg.Docker.Host)

	env := envbundle.NewProvisioner(client, cfg.ProvisionerConfig(), logger)
	monitor := health.NewMonitor(client, cfg.MonitorConfig(), logger)

	return &App{
		client:       client,
		orchestrator: orchestrator.New(client, pol, env, monitor, cfg.OrchestratorConfig(), logger),
		logger:       logger,
	}, nil
}

// Close releases the runtime client.
func (a *App) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("failed to close docker client", "error", err)
	}
}

// =============================================================================
// Command Error
// =============================================================================

// CommandError carries the exit code a failed command should produce.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
