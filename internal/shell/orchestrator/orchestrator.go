// Package orchestrator runs the zero-downtime deployment protocol for the
// services of a registry against a swarm runtime.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/core/policy"
	"github.com/swecc-uw/deployctl/internal/core/registry"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
	"github.com/swecc-uw/deployctl/internal/shell/envbundle"
)

// EnvProvisioner materializes a service's environment bundle.
type EnvProvisioner interface {
	Materialize(ctx context.Context, service string) (*envbundle.Handle, error)
}

// HealthWaiter blocks until a unit reports a running task. AwaitSettled also
// waits for the unit's latest rolling update to complete.
type HealthWaiter interface {
	AwaitRunning(ctx context.Context, unit string) error
	AwaitSettled(ctx context.Context, unit string) error
}

// Policy groups the per-service tables the orchestrator resolves against.
type Policy struct {
	Registry  *registry.Registry
	Resources policy.Table
	Mounts    policy.MountTable
	Ports     policy.PortTable
}

// DefaultPolicy returns the reference registry and tables.
func DefaultPolicy() Policy {
	return Policy{
		Registry:  registry.Default(),
		Resources: policy.DefaultTable(),
		Mounts:    policy.DefaultMounts(),
		Ports:     policy.PortTable{},
	}
}

// Config configures the orchestrator.
type Config struct {
	// Network is the overlay network every unit joins.
	// Default: "swecc-network".
	Network string

	// StagingSuffix names the staging unit. Default: "_staging".
	StagingSuffix string

	// ImageRepository, ImagePrefix and ImageTag form <repo>/<prefix><service>:<tag>.
	ImageRepository string
	ImagePrefix     string
	ImageTag        string

	// UpdateDelay is the pause between replica updates of production units.
	// Default: 10 seconds.
	UpdateDelay time.Duration

	// Auth is forwarded on pulls and unit creation.
	Auth docker.RegistryAuth
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Network:         "swecc-network",
		StagingSuffix:   deployment.DefaultStagingSuffix,
		ImageRepository: "swecc",
		ImagePrefix:     "swecc-",
		ImageTag:        deployment.DefaultImageTag,
		UpdateDelay:     deployment.DefaultUpdateDelay,
	}
}

// =============================================================================
// Orchestrator - Runs Deployment Attempts
// =============================================================================

// Orchestrator deploys services one attempt at a time per service.
type Orchestrator struct {
	client  docker.Client
	policy  Policy
	env     EnvProvisioner
	health  HealthWaiter
	config  Config
	logger  *slog.Logger
	newID   func() string
	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted
}

// New creates a new orchestrator.
func New(client docker.Client, pol Policy, env EnvProvisioner, health HealthWaiter, config Config, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.Network == "" {
		config.Network = defaults.Network
	}
	if config.StagingSuffix == "" {
		config.StagingSuffix = defaults.StagingSuffix
	}
	if config.ImageTag == "" {
		config.ImageTag = defaults.ImageTag
	}
	if config.UpdateDelay <= 0 {
		config.UpdateDelay = defaults.UpdateDelay
	}
	if pol.Registry == nil {
		pol.Registry = registry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		client: client,
		policy: pol,
		env:    env,
		health: health,
		config: config,
		logger: logger.With("component", "orchestrator"),
		newID:  newAttemptID,
		locks:  make(map[string]*semaphore.Weighted),
	}
}

// Registry returns the registry the orchestrator deploys from.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.policy.Registry
}

// lockFor returns the in-flight guard of a service.
func (o *Orchestrator) lockFor(service string) *semaphore.Weighted {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	sem, ok := o.locks[service]
	if !ok {
		sem = semaphore.NewWeighted(1)
		o.locks[service] = sem
	}
	return sem
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy replaces the running unit of service with one built from the current
// image, keeping the stable name served throughout when a unit already exists.
//
// Warm path (a production unit exists): create staging, wait for it, move the
// stable alias onto it and wait for the resulting rollout, drop the old
// production unit, then recreate production under the stable name. If the old
// production unit survived its removal it is updated in place instead. Cold
// path: create production directly. A failed staging health check leaves the
// old production unit and the staging unit in place; nothing is ever rolled
// back.
func (o *Orchestrator) Deploy(ctx context.Context, service string) error {
	if err := o.policy.Registry.Validate(service); err != nil {
		o.logger.Error("refusing to deploy unknown service", "service", service, "error", err)
		return deployment.NewAttemptError(service, deployment.StateValidating, nil, err)
	}

	sem := o.lockFor(service)
	if !sem.TryAcquire(1) {
		return deployment.NewAttemptError(service, deployment.StateValidating,
			deployment.ErrDeploymentInProgress, deployment.ErrDeploymentInProgress)
	}
	defer sem.Release(1)

	a := newAttempt(o.newID(), service, o.logger)
	a.logger.Info("deployment started")

	// Validating -> Pulling
	a.transition(deployment.StatePulling)
	image, err := deployment.ImageRef(o.config.ImageRepository, o.config.ImagePrefix, service, o.config.ImageTag)
	if err != nil {
		return a.fail(deployment.ErrPull, err)
	}
	if err := o.client.PullImage(ctx, image, o.config.Auth); err != nil {
		return a.fail(deployment.ErrPull, err)
	}

	// Pulling -> PreparingEnv
	a.transition(deployment.StatePreparingEnv)
	bundle, err := o.env.Materialize(ctx, service)
	if err != nil {
		return a.fail(deployment.ErrConfigFetch, err)
	}
	defer o.release(a, bundle)

	_, err = o.client.InspectUnit(ctx, service)
	warm := err == nil
	if err != nil && !errors.Is(err, docker.ErrUnitNotFound) {
		return a.fail(deployment.ErrInspect, err)
	}

	stagingName := deployment.StagingName(service, o.config.StagingSuffix)

	if warm {
		a.logger.Info("production unit exists, staging replacement")

		// PreparingEnv -> CreatingStaging
		a.transition(deployment.StateCreatingStaging)
		staging := o.buildPlan(a.id, service, deployment.RoleStaging, image, bundle.Vars)
		if err := o.createUnit(ctx, a, staging); err != nil {
			return a.fail(deployment.ErrCreate, err)
		}

		// CreatingStaging -> AwaitingStagingHealth
		a.transition(deployment.StateAwaitingStagingHealth)
		if err := o.health.AwaitRunning(ctx, stagingName); err != nil {
			return a.fail(healthKind(err), err)
		}

		// AwaitingStagingHealth -> Promoting
		a.transition(deployment.StatePromoting)
		if err := o.client.RenameUnit(ctx, stagingName, service); err != nil {
			return a.fail(deployment.ErrPromote, err)
		}
		// The alias rolls the staging task start-first. Old production keeps
		// serving the stable name until the new task is up.
		if err := o.health.AwaitSettled(ctx, stagingName); err != nil {
			return a.fail(healthKind(err), err)
		}

		// Promoting -> RemovingOldProduction
		a.transition(deployment.StateRemovingOldProduction)
		o.removeBestEffort(ctx, a, service, "replaced by staging")
	} else {
		a.logger.Info("no production unit, creating directly")
	}

	// -> CreatingProduction
	a.transition(deployment.StateCreatingProduction)
	production := o.buildPlan(a.id, service, deployment.RoleProduction, image, bundle.Vars)
	updated := false
	err = o.createUnit(ctx, a, production)
	if err != nil && warm && errors.Is(err, docker.ErrUnitAlreadyExists) {
		a.logger.Warn("old production unit survived removal, updating it in place", "unit", service)
		err = o.client.UpdateUnit(ctx, toUnitSpec(production), o.config.Auth)
		updated = err == nil
	}
	if err != nil {
		return a.fail(deployment.ErrCreate, err)
	}

	// CreatingProduction -> CleaningUp
	a.transition(deployment.StateCleaningUp)
	o.removeBestEffort(ctx, a, stagingName, "staging no longer needed")
	o.release(a, bundle)

	// CleaningUp -> AwaitingProductionHealth
	a.transition(deployment.StateAwaitingProductionHealth)
	await := o.health.AwaitRunning
	if updated {
		await = o.health.AwaitSettled
	}
	if err := await(ctx, service); err != nil {
		return a.fail(healthKind(err), err)
	}

	a.transition(deployment.StateDone)
	a.logger.Info("deployment succeeded", "image", image, "duration", a.elapsed())
	return nil
}

func (o *Orchestrator) buildPlan(attemptID, service string, role deployment.Role, image string, env map[string]string) deployment.UnitPlan {
	return deployment.BuildUnitPlan(deployment.UnitPlanParams{
		Service:       service,
		Role:          role,
		AttemptID:     attemptID,
		Image:         image,
		Env:           env,
		Profile:       o.policy.Resources.Resolve(service),
		Mounts:        o.policy.Mounts.Mounts(service),
		Ports:         o.policy.Ports.Ports(service),
		Network:       o.config.Network,
		StagingSuffix: o.config.StagingSuffix,
		UpdateDelay:   o.config.UpdateDelay,
	})
}

// createUnit creates the planned unit. A leftover unit of the same name from
// an earlier failed staging attempt is removed and the create retried once.
func (o *Orchestrator) createUnit(ctx context.Context, a *attempt, plan deployment.UnitPlan) error {
	spec := toUnitSpec(plan)

	id, err := o.client.CreateUnit(ctx, spec, o.config.Auth)
	if err != nil && plan.Role == deployment.RoleStaging && errors.Is(err, docker.ErrUnitAlreadyExists) {
		a.logger.Warn("stale staging unit found, replacing it", "unit", plan.Name)
		if c := o.removeBestEffort(ctx, a, plan.Name, "stale staging"); c.OK() {
			id, err = o.client.CreateUnit(ctx, spec, o.config.Auth)
		}
	}
	if err != nil {
		return err
	}

	a.logger.Debug("unit created", "unit", plan.Name, "unit_id", id, "role", plan.Role)
	return nil
}

func (o *Orchestrator) release(a *attempt, bundle *envbundle.Handle) {
	if err := bundle.Release(); err != nil {
		a.logger.Warn("failed to release environment bundle", "error", err)
	}
}

// healthKind classifies a health wait failure. Cancellation is not a timeout.
func healthKind(err error) error {
	if errors.Is(err, deployment.ErrHealthTimeout) {
		return deployment.ErrHealthTimeout
	}
	return nil
}

// =============================================================================
// Best-Effort Cleanup
// =============================================================================

// Cleanup is the outcome of a best-effort removal. It is logged and never
// turned into an attempt error.
type Cleanup struct {
	Unit   string
	Reason string
	Err    error
}

// OK reports whether the removal succeeded or the unit was already gone.
func (c Cleanup) OK() bool {
	return c.Err == nil
}

func (o *Orchestrator) removeBestEffort(ctx context.Context, a *attempt, unit, reason string) Cleanup {
	c := Cleanup{Unit: unit, Reason: reason}
	if err := o.client.RemoveUnit(ctx, unit); err != nil {
		c.Err = fmt.Errorf("%w: %w", deployment.ErrRemoval, err)
		a.logger.Warn("best-effort removal failed", "unit", unit, "reason", reason, "error", err)
		return c
	}
	a.logger.Debug("unit removed", "unit", unit, "reason", reason)
	return c
}
