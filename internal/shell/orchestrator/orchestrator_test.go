package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/core/policy"
	"github.com/swecc-uw/deployctl/internal/core/registry"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
	"github.com/swecc-uw/deployctl/internal/shell/docker/dockertest"
	"github.com/swecc-uw/deployctl/internal/shell/envbundle"
	"github.com/swecc-uw/deployctl/internal/shell/health"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	rt      *dockertest.Runtime
	orch    *Orchestrator
	workDir string
}

func newFixture(t *testing.T, pol Policy, logger *slog.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = setupTestLogger()
	}

	rt := dockertest.New()
	for _, name := range pol.Registry.Names() {
		rt.SetConfig(name+"_env", base64.StdEncoding.EncodeToString([]byte("SERVICE="+name+"\n")))
	}

	workDir := t.TempDir()
	env := envbundle.NewProvisioner(rt, envbundle.Config{WorkDir: workDir}, logger)
	monitor := health.NewMonitor(rt, health.Config{MaxAttempts: 3, Interval: time.Millisecond}, logger)

	orch := New(rt, pol, env, monitor, DefaultConfig(), logger)
	orch.newID = func() string { return "attempt-1" }

	return &fixture{rt: rt, orch: orch, workDir: workDir}
}

func twoServicePolicy(t *testing.T) Policy {
	t.Helper()
	reg, err := registry.New("api", "jobs")
	require.NoError(t, err)
	return Policy{
		Registry:  reg,
		Resources: policy.Table{Default: policy.DefaultProfile},
		Mounts:    policy.MountTable{},
		Ports:     policy.PortTable{},
	}
}

func (f *fixture) assertNoBundleLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "environment bundle must be released")
}

// mutatingCalls drops polls and inspections so call sequences read as the protocol.
func mutatingCalls(calls []dockertest.Call) []dockertest.Call {
	var out []dockertest.Call
	for _, c := range calls {
		if c.Op == "ListTaskStates" || c.Op == "InspectUnit" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// =============================================================================
// Warm and Cold Paths
// =============================================================================

func TestDeploy_WarmPath(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "server", Image: "docker.io/swecc/swecc-server:old"})

	err := f.orch.Deploy(context.Background(), "server")
	require.NoError(t, err)

	assert.Equal(t, []string{"server"}, f.rt.UnitNames(), "one production unit, no staging")
	assert.Equal(t, []dockertest.Call{
		{Op: "PullImage", Target: "docker.io/swecc/swecc-server:latest"},
		{Op: "FetchConfigEntry", Target: "server_env"},
		{Op: "CreateUnit", Target: "server_staging"},
		{Op: "RenameUnit", Target: "server_staging"},
		{Op: "RemoveUnit", Target: "server"},
		{Op: "CreateUnit", Target: "server"},
		{Op: "RemoveUnit", Target: "server_staging"},
	}, mutatingCalls(f.rt.Calls()))

	prod := f.rt.Unit("server")
	require.NotNil(t, prod)
	assert.Equal(t, "docker.io/swecc/swecc-server:latest", prod.Spec.Image)
	assert.Equal(t, "server", prod.Spec.Env["SERVICE"])
	assert.Equal(t, "production", prod.Spec.Labels[deployment.LabelRole])
	assert.Equal(t, "attempt-1", prod.Spec.Labels[deployment.LabelAttempt])
	require.NotNil(t, prod.Spec.Update)
	assert.Equal(t, deployment.UpdateOrderStartFirst, prod.Spec.Update.Order)
	assert.Equal(t, uint64(1), prod.Spec.Update.Parallelism)
	assert.Equal(t, 10*time.Second, prod.Spec.Update.Delay)

	cpuLimit, _ := policy.DefaultTable().Resolve("server").NanoCPUs()
	assert.Equal(t, cpuLimit, prod.Spec.Resources.NanoCPULimit)

	f.assertNoBundleLeft(t)
}

func TestDeploy_ColdPathNeverCreatesStaging(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), nil)

	err := f.orch.Deploy(context.Background(), "bot")
	require.NoError(t, err)

	assert.Equal(t, []string{"bot"}, f.rt.UnitNames())
	assert.Zero(t, f.rt.CallCount("CreateUnit", "bot_staging"))
	assert.Zero(t, f.rt.CallCount("RenameUnit", "bot_staging"))
	assert.Equal(t, 1, f.rt.CallCount("CreateUnit", "bot"))
	f.assertNoBundleLeft(t)
}

func TestDeploy_StagingCarriesMountsButNoPorts(t *testing.T) {
	pol := DefaultPolicy()
	ports, err := policy.ParsePorts([]string{"8002:8002"})
	require.NoError(t, err)
	pol.Ports = policy.PortTable{"chronos": ports}

	f := newFixture(t, pol, nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "chronos"})
	// Keep the staging unit around so its spec can be inspected.
	f.rt.RemoveErr["chronos_staging"] = errors.New("keep")

	require.NoError(t, f.orch.Deploy(context.Background(), "chronos"))

	staging := f.rt.Unit("chronos_staging")
	require.NotNil(t, staging)
	assert.Len(t, staging.Spec.Mounts, 2)
	assert.Empty(t, staging.Spec.Ports)
	require.NotNil(t, staging.Spec.Update)
	assert.Equal(t, deployment.UpdateOrderStartFirst, staging.Spec.Update.Order)

	prod := f.rt.Unit("chronos")
	require.NotNil(t, prod)
	assert.Len(t, prod.Spec.Mounts, 2)
	assert.Equal(t, []docker.PortSpec{{Target: 8002, Published: 8002, Protocol: "tcp"}}, prod.Spec.Ports)
}

// callsBetween returns the calls strictly between the first call matching
// from and the first later call matching to.
func callsBetween(t *testing.T, calls []dockertest.Call, from, to dockertest.Call) []dockertest.Call {
	t.Helper()
	start := -1
	for i, c := range calls {
		if start < 0 && c == from {
			start = i
			continue
		}
		if start >= 0 && c == to {
			return calls[start+1 : i]
		}
	}
	require.Failf(t, "call not found", "%v then %v in %v", from, to, calls)
	return nil
}

func TestDeploy_OldProductionOutlivesStagingRollout(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "api"})
	f.rt.RolloutPolls = 2

	require.NoError(t, f.orch.Deploy(context.Background(), "api"))

	between := callsBetween(t, f.rt.Calls(),
		dockertest.Call{Op: "RenameUnit", Target: "api_staging"},
		dockertest.Call{Op: "RemoveUnit", Target: "api"},
	)
	assert.Equal(t, []dockertest.Call{
		{Op: "InspectUnit", Target: "api_staging"},
		{Op: "InspectUnit", Target: "api_staging"},
		{Op: "InspectUnit", Target: "api_staging"},
		{Op: "ListTaskStates", Target: "api_staging"},
	}, between, "old production is only removed once the promoted task runs")
	assert.Equal(t, []string{"api"}, f.rt.UnitNames())
}

func TestDeploy_StuckStagingRolloutKeepsOldProduction(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "api", Image: "docker.io/swecc/swecc-api:old"})
	f.rt.RolloutPolls = 100

	err := f.orch.Deploy(context.Background(), "api")

	assert.ErrorIs(t, err, deployment.ErrHealthTimeout)
	var attemptErr *deployment.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, deployment.StatePromoting, attemptErr.State)

	assert.Zero(t, f.rt.CallCount("RemoveUnit", "api"))
	assert.Equal(t, []string{"api", "api_staging"}, f.rt.UnitNames())
	assert.Equal(t, "docker.io/swecc/swecc-api:old", f.rt.Unit("api").Spec.Image)
	f.assertNoBundleLeft(t)
}

func TestDeploy_SurvivingOldProductionIsUpdatedInPlace(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "api", Image: "docker.io/swecc/swecc-api:old"})
	f.rt.RemoveErr["api"] = errors.New("daemon busy")
	f.rt.RolloutPolls = 1

	require.NoError(t, f.orch.Deploy(context.Background(), "api"))

	assert.Equal(t, []string{"api"}, f.rt.UnitNames())
	assert.Equal(t, 1, f.rt.CallCount("UpdateUnit", "api"))

	prod := f.rt.Unit("api")
	assert.Equal(t, "docker.io/swecc/swecc-api:latest", prod.Spec.Image)
	assert.Equal(t, "production", prod.Spec.Labels[deployment.LabelRole])
	require.NotNil(t, prod.Spec.Update)
	assert.Equal(t, deployment.UpdateOrderStartFirst, prod.Spec.Update.Order)
	assert.Equal(t, docker.UpdateStateCompleted, prod.Update, "production rollout awaited")
	f.assertNoBundleLeft(t)
}

// =============================================================================
// Two-Service Scenarios
// =============================================================================

func TestDeploy_ColdServiceGetsDefaultProfile(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)

	require.NoError(t, f.orch.Deploy(context.Background(), "api"))

	assert.Equal(t, []string{"api"}, f.rt.UnitNames())
	unit := f.rt.Unit("api")
	cpuLimit, cpuReserve := policy.DefaultProfile.NanoCPUs()
	assert.Equal(t, docker.ResourceLimits{
		NanoCPULimit:   cpuLimit,
		NanoCPUReserve: cpuReserve,
		MemoryLimit:    policy.DefaultProfile.MemLimit,
		MemoryReserve:  policy.DefaultProfile.MemReserve,
	}, unit.Spec.Resources)
}

func TestDeploy_StagingTimeoutLeavesProductionAndOrphan(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "jobs", Image: "docker.io/swecc/swecc-jobs:old"})
	f.rt.NeverRunning("jobs_staging")

	summary := f.orch.DeployMany(context.Background(), []string{"jobs"})

	assert.False(t, summary.OK())
	assert.Equal(t, []string{"jobs"}, summary.Failed())
	assert.Equal(t, []string{"jobs", "jobs_staging"}, f.rt.UnitNames())

	prior := f.rt.Unit("jobs")
	assert.Equal(t, "docker.io/swecc/swecc-jobs:old", prior.Spec.Image, "prior production untouched")
	assert.Empty(t, f.rt.Unit("jobs_staging").Aliases, "stable name never moved")
	assert.Equal(t, 3, f.rt.Polls("jobs_staging"))

	err := summary.Results[0].Err
	assert.ErrorIs(t, err, deployment.ErrHealthTimeout)
	var attemptErr *deployment.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, deployment.StateAwaitingStagingHealth, attemptErr.State)

	f.assertNoBundleLeft(t)
}

func TestDeploy_RetryReplacesOrphanedStaging(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "jobs"})
	f.rt.AddUnit(docker.UnitSpec{Name: "jobs_staging", Image: "orphan"})

	require.NoError(t, f.orch.Deploy(context.Background(), "jobs"))

	assert.Equal(t, []string{"jobs"}, f.rt.UnitNames())
	assert.Equal(t, 2, f.rt.CallCount("CreateUnit", "jobs_staging"))
}

func TestDeployAll_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)
	f.rt.PullErr["docker.io/swecc/swecc-api:latest"] = errors.New("manifest unknown")

	summary := f.orch.DeployAll(context.Background())

	require.Len(t, summary.Results, 2)
	assert.Equal(t, "api", summary.Results[0].Service)
	assert.Equal(t, "jobs", summary.Results[1].Service)
	assert.Equal(t, []string{"api"}, summary.Failed())
	assert.Equal(t, []string{"jobs"}, f.rt.UnitNames())
	assert.Contains(t, summary.Report(), "1/2 services failed: api")
}

// =============================================================================
// Failure Classification
// =============================================================================

func TestDeploy_UnknownServiceMakesNoRuntimeCalls(t *testing.T) {
	f := newFixture(t, twoServicePolicy(t), nil)

	err := f.orch.Deploy(context.Background(), "web")

	assert.ErrorIs(t, err, registry.ErrUnknownService)
	assert.Empty(t, f.rt.Calls())
}

func TestDeploy_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(rt *dockertest.Runtime)
		wantKind  error
		wantState deployment.State
		wantUnits []string
		check     func(t *testing.T, rt *dockertest.Runtime)
	}{
		{
			name: "pull failure",
			setup: func(rt *dockertest.Runtime) {
				rt.PullErr["docker.io/swecc/swecc-api:latest"] = boom
			},
			wantKind:  deployment.ErrPull,
			wantState: deployment.StatePulling,
			wantUnits: []string{},
		},
		{
			name: "missing environment bundle",
			setup: func(rt *dockertest.Runtime) {
				rt.DeleteConfig("api_env")
			},
			wantKind:  deployment.ErrConfigFetch,
			wantState: deployment.StatePreparingEnv,
			wantUnits: []string{},
		},
		{
			name: "undecodable environment bundle",
			setup: func(rt *dockertest.Runtime) {
				rt.SetConfig("api_env", "!!! not base64")
			},
			wantKind:  deployment.ErrConfigFetch,
			wantState: deployment.StatePreparingEnv,
			wantUnits: []string{},
		},
		{
			name: "staging create failure",
			setup: func(rt *dockertest.Runtime) {
				rt.AddUnit(docker.UnitSpec{Name: "api"})
				rt.CreateErr["api_staging"] = boom
			},
			wantKind:  deployment.ErrCreate,
			wantState: deployment.StateCreatingStaging,
			wantUnits: []string{"api"},
		},
		{
			name: "promotion failure",
			setup: func(rt *dockertest.Runtime) {
				rt.AddUnit(docker.UnitSpec{Name: "api"})
				rt.RenameErr["api_staging"] = boom
			},
			wantKind:  deployment.ErrPromote,
			wantState: deployment.StatePromoting,
			wantUnits: []string{"api", "api_staging"},
		},
		{
			name: "production create failure",
			setup: func(rt *dockertest.Runtime) {
				rt.CreateErr["api"] = boom
			},
			wantKind:  deployment.ErrCreate,
			wantState: deployment.StateCreatingProduction,
			wantUnits: []string{},
		},
		{
			name: "production create failure after promotion",
			setup: func(rt *dockertest.Runtime) {
				rt.AddUnit(docker.UnitSpec{Name: "api"})
				rt.CreateErr["api"] = boom
			},
			wantKind:  deployment.ErrCreate,
			wantState: deployment.StateCreatingProduction,
			wantUnits: []string{"api_staging"},
			check: func(t *testing.T, rt *dockertest.Runtime) {
				assert.Equal(t, []string{"api"}, rt.Unit("api_staging").Aliases,
					"promoted staging keeps serving the stable name")
				assert.Zero(t, rt.CallCount("RemoveUnit", "api_staging"))
			},
		},
		{
			name: "production never healthy",
			setup: func(rt *dockertest.Runtime) {
				rt.NeverRunning("api")
			},
			wantKind:  deployment.ErrHealthTimeout,
			wantState: deployment.StateAwaitingProductionHealth,
			wantUnits: []string{"api"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, twoServicePolicy(t), nil)
			tt.setup(f.rt)

			err := f.orch.Deploy(context.Background(), "api")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)

			var attemptErr *deployment.AttemptError
			require.ErrorAs(t, err, &attemptErr)
			assert.Equal(t, "api", attemptErr.Service)
			assert.Equal(t, tt.wantState, attemptErr.State)

			assert.Equal(t, tt.wantUnits, append([]string{}, f.rt.UnitNames()...))
			if tt.check != nil {
				tt.check(t, f.rt)
			}
			f.assertNoBundleLeft(t)
		})
	}
}

func TestDeploy_RemovalFailuresAreTolerated(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "sockets"})
	f.rt.RemoveErr["sockets_staging"] = errors.New("daemon busy")

	err := f.orch.Deploy(context.Background(), "sockets")
	require.NoError(t, err)

	assert.Equal(t, []string{"sockets", "sockets_staging"}, f.rt.UnitNames())
	assert.Equal(t, []string{"sockets"}, f.rt.Unit("sockets_staging").Aliases)
}

// =============================================================================
// Concurrency and Logging
// =============================================================================

// blockingHealth holds AwaitRunning until released.
type blockingHealth struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingHealth) AwaitSettled(ctx context.Context, unit string) error {
	return b.AwaitRunning(ctx, unit)
}

func (b *blockingHealth) AwaitRunning(ctx context.Context, _ string) error {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDeploy_SameServiceIsExclusive(t *testing.T) {
	rt := dockertest.New()
	rt.SetConfig("ai_env", base64.StdEncoding.EncodeToString([]byte("A=1")))
	wait := &blockingHealth{entered: make(chan struct{}), release: make(chan struct{})}
	env := envbundle.NewProvisioner(rt, envbundle.Config{WorkDir: t.TempDir()}, setupTestLogger())
	orch := New(rt, DefaultPolicy(), env, wait, DefaultConfig(), setupTestLogger())

	done := make(chan error, 1)
	go func() { done <- orch.Deploy(context.Background(), "ai") }()

	<-wait.entered
	err := orch.Deploy(context.Background(), "ai")
	assert.ErrorIs(t, err, deployment.ErrDeploymentInProgress)

	close(wait.release)
	require.NoError(t, <-done)

	// The guard is released once the attempt finishes.
	assert.NoError(t, orch.Deploy(context.Background(), "ai"))
}

func TestDeploy_LogsEveryTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	f := newFixture(t, twoServicePolicy(t), logger)

	require.NoError(t, f.orch.Deploy(context.Background(), "api"))

	var transitions []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		if entry["msg"] != "state transition" {
			continue
		}
		assert.Equal(t, "attempt-1", entry["attempt_id"])
		assert.Equal(t, "api", entry["service"])
		transitions = append(transitions, entry["to"].(string))
	}

	assert.Equal(t, []string{
		"pulling",
		"preparing_env",
		"creating_production",
		"cleaning_up",
		"awaiting_production_health",
		"done",
	}, transitions)
}

func TestDeploy_FailureLogReportsWhetherClusterWasTouched(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(rt *dockertest.Runtime)
		wantTouched bool
	}{
		{
			name: "pull failure",
			setup: func(rt *dockertest.Runtime) {
				rt.PullErr["docker.io/swecc/swecc-api:latest"] = errors.New("manifest unknown")
			},
			wantTouched: false,
		},
		{
			name: "staging create failure",
			setup: func(rt *dockertest.Runtime) {
				rt.AddUnit(docker.UnitSpec{Name: "api"})
				rt.CreateErr["api_staging"] = errors.New("no space")
			},
			wantTouched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
			f := newFixture(t, twoServicePolicy(t), logger)
			tt.setup(f.rt)

			require.Error(t, f.orch.Deploy(context.Background(), "api"))

			var failed map[string]any
			dec := json.NewDecoder(&buf)
			for dec.More() {
				var entry map[string]any
				require.NoError(t, dec.Decode(&entry))
				if entry["msg"] == "deployment failed" {
					failed = entry
				}
			}
			require.NotNil(t, failed)
			assert.Equal(t, tt.wantTouched, failed["cluster_touched"])
		})
	}
}

// =============================================================================
// Plan and Status
// =============================================================================

func TestPlan(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), nil)

	plan, err := f.orch.Plan("scheduler")
	require.NoError(t, err)

	assert.Equal(t, "docker.io/swecc/swecc-scheduler:latest", plan.Image)
	assert.Equal(t, "scheduler_staging", plan.Staging.Name)
	assert.Equal(t, "scheduler", plan.Production.Name)
	assert.Equal(t, policy.DefaultTable().Resolve("scheduler"), plan.Production.Resources)
	assert.Empty(t, f.rt.Calls(), "planning never touches the runtime")

	_, err = f.orch.Plan("nope")
	assert.ErrorIs(t, err, registry.ErrUnknownService)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, DefaultPolicy(), nil)
	f.rt.AddUnit(docker.UnitSpec{Name: "server", Image: "docker.io/swecc/swecc-server:latest"})

	statuses, err := f.orch.Status(context.Background(), []string{"server"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.True(t, statuses[0].Present)
	assert.Equal(t, deployment.RoleProduction, statuses[0].Role)
	assert.Equal(t, []string{docker.TaskStateRunning}, statuses[0].States)
	assert.Equal(t, "running", string(statuses[0].Health))

	assert.False(t, statuses[1].Present)
	assert.Equal(t, "server_staging", statuses[1].Unit)
	assert.Equal(t, "absent", string(statuses[1].Health))

	_, err = f.orch.Status(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, registry.ErrUnknownService)
}
