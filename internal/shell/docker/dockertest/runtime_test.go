package dockertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swecc-uw/deployctl/internal/shell/docker"
)

func TestRuntime_CreateInspectRemove(t *testing.T) {
	ctx := context.Background()
	rt := New()

	id, err := rt.CreateUnit(ctx, docker.UnitSpec{Name: "server", Image: "swecc/swecc-server:latest"}, docker.RegistryAuth{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := rt.InspectUnit(ctx, "server")
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "swecc/swecc-server:latest", info.Image)

	_, err = rt.CreateUnit(ctx, docker.UnitSpec{Name: "server"}, docker.RegistryAuth{})
	assert.ErrorIs(t, err, docker.ErrUnitAlreadyExists)

	require.NoError(t, rt.RemoveUnit(ctx, "server"))
	require.NoError(t, rt.RemoveUnit(ctx, "server"), "removing a missing unit is not an error")

	_, err = rt.InspectUnit(ctx, "server")
	assert.ErrorIs(t, err, docker.ErrUnitNotFound)
	assert.Equal(t, 2, rt.CallCount("RemoveUnit", "server"))
}

func TestRuntime_RenameAddsAlias(t *testing.T) {
	ctx := context.Background()
	rt := New()
	rt.AddUnit(docker.UnitSpec{Name: "bot_staging"})

	require.NoError(t, rt.RenameUnit(ctx, "bot_staging", "bot"))
	require.NoError(t, rt.RenameUnit(ctx, "bot_staging", "bot"))

	assert.Equal(t, []string{"bot"}, rt.Unit("bot_staging").Aliases)

	err := rt.RenameUnit(ctx, "missing", "bot")
	assert.ErrorIs(t, err, docker.ErrUnitNotFound)
}

func TestRuntime_RolloutAfterRenameAndUpdate(t *testing.T) {
	ctx := context.Background()
	rt := New()
	rt.RolloutPolls = 2
	rt.AddUnit(docker.UnitSpec{Name: "bot_staging"})
	rt.AddUnit(docker.UnitSpec{Name: "bot", Image: "old"})

	info, err := rt.InspectUnit(ctx, "bot_staging")
	require.NoError(t, err)
	assert.True(t, info.UpdateSettled(), "a fresh unit has no rollout")

	require.NoError(t, rt.RenameUnit(ctx, "bot_staging", "bot"))
	var seen []string
	for i := 0; i < 3; i++ {
		info, err := rt.InspectUnit(ctx, "bot_staging")
		require.NoError(t, err)
		seen = append(seen, info.Update)
	}
	assert.Equal(t, []string{
		docker.UpdateStateUpdating,
		docker.UpdateStateUpdating,
		docker.UpdateStateCompleted,
	}, seen)

	require.NoError(t, rt.UpdateUnit(ctx, docker.UnitSpec{Name: "bot", Image: "new"}, docker.RegistryAuth{}))
	assert.Equal(t, "new", rt.Unit("bot").Spec.Image)
	assert.Equal(t, docker.UpdateStateUpdating, rt.Unit("bot").Update)

	err = rt.UpdateUnit(ctx, docker.UnitSpec{Name: "missing"}, docker.RegistryAuth{})
	assert.ErrorIs(t, err, docker.ErrUnitNotFound)
}

func TestRuntime_TaskStates(t *testing.T) {
	ctx := context.Background()
	rt := New()
	rt.AddUnit(docker.UnitSpec{Name: "ai"})
	rt.AddUnit(docker.UnitSpec{Name: "ai_staging"})

	states, err := rt.ListTaskStates(ctx, "ai")
	require.NoError(t, err)
	assert.Equal(t, []string{docker.TaskStateRunning}, states)

	rt.NeverRunning("ai_staging")
	states, err = rt.ListTaskStates(ctx, "ai_staging")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, states)

	_, err = rt.ListTaskStates(ctx, "nope")
	assert.ErrorIs(t, err, docker.ErrUnitNotFound)

	assert.Equal(t, 1, rt.Polls("ai"))
	assert.Equal(t, 1, rt.Polls("ai_staging"))
}

func TestRuntime_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	rt := New()
	boom := errors.New("boom")
	rt.PullErr["swecc/swecc-ai:latest"] = boom
	rt.CreateErr["ai"] = boom

	err := rt.PullImage(ctx, "swecc/swecc-ai:latest", docker.RegistryAuth{})
	assert.ErrorIs(t, err, docker.ErrImagePullFailed)

	_, err = rt.CreateUnit(ctx, docker.UnitSpec{Name: "ai"}, docker.RegistryAuth{})
	assert.ErrorIs(t, err, docker.ErrUnitCreateFailed)
	assert.Empty(t, rt.UnitNames())
}

func TestRuntime_Configs(t *testing.T) {
	ctx := context.Background()
	rt := New()
	rt.SetConfig("bot_env", "Rk9PPWJhcgo=")

	data, err := rt.FetchConfigEntry(ctx, "bot_env")
	require.NoError(t, err)
	assert.Equal(t, "Rk9PPWJhcgo=", data)

	_, err = rt.FetchConfigEntry(ctx, "ai_env")
	assert.ErrorIs(t, err, docker.ErrConfigNotFound)
}
