// Package dockertest provides an in-memory swarm runtime implementing
// docker.Client, for exercising the deployment protocol without a daemon.
package dockertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/swecc-uw/deployctl/internal/shell/docker"
)

// Unit is a unit held by the fake runtime.
type Unit struct {
	ID      string
	Spec    docker.UnitSpec
	Aliases []string
	Update  string // rolling update state, as reported by InspectUnit

	rolloutLeft int
}

// startRollout marks the unit as updating for polls inspections.
func (u *Unit) startRollout(polls int) {
	if polls <= 0 {
		u.Update = docker.UpdateStateCompleted
		return
	}
	u.Update = docker.UpdateStateUpdating
	u.rolloutLeft = polls
}

// advanceRollout consumes one inspection of an in-flight rollout; the
// inspection after the last in-flight one sees it completed.
func (u *Unit) advanceRollout() {
	if u.Update != docker.UpdateStateUpdating {
		return
	}
	if u.rolloutLeft > 0 {
		u.rolloutLeft--
		return
	}
	u.Update = docker.UpdateStateCompleted
}

// Call records one client invocation, e.g. {Op: "CreateUnit", Target: "server_staging"}.
type Call struct {
	Op     string
	Target string
}

// TaskStateFunc returns the task states reported for unit on its n-th poll (1-based).
type TaskStateFunc func(unit string, poll int) []string

// Runtime is an in-memory docker.Client. The zero value is not usable; call New.
type Runtime struct {
	mu      sync.Mutex
	units   map[string]*Unit
	configs map[string]string
	nextID  int
	calls   []Call
	polls   map[string]int

	// TaskStates overrides the task states reported by ListTaskStates.
	// By default every existing unit reports a single running task.
	TaskStates TaskStateFunc

	// RolloutPolls is how many InspectUnit calls report a rolling update in
	// flight after RenameUnit or UpdateUnit changes a unit. Zero completes
	// rollouts immediately.
	RolloutPolls int

	// Injected failures, keyed by image ref or unit name.
	PullErr   map[string]error
	CreateErr map[string]error
	UpdateErr map[string]error
	RenameErr map[string]error
	RemoveErr map[string]error
	PingErr   error
}

var _ docker.Client = (*Runtime)(nil)

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		units:     make(map[string]*Unit),
		configs:   make(map[string]string),
		polls:     make(map[string]int),
		PullErr:   make(map[string]error),
		CreateErr: make(map[string]error),
		UpdateErr: make(map[string]error),
		RenameErr: make(map[string]error),
		RemoveErr: make(map[string]error),
	}
}

// =============================================================================
// Seeding and Inspection Helpers
// =============================================================================

// AddUnit seeds an existing unit without recording a call.
func (r *Runtime) AddUnit(spec docker.UnitSpec) *Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addUnitLocked(spec)
}

// SetConfig seeds a config entry holding a base64 payload.
func (r *Runtime) SetConfig(key, base64Payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key] = base64Payload
}

// DeleteConfig removes a config entry.
func (r *Runtime) DeleteConfig(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, key)
}

// Unit returns a copy of the named unit, or nil.
func (r *Runtime) Unit(name string) *Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[name]
	if !ok {
		return nil
	}
	cp := *u
	cp.Aliases = append([]string(nil), u.Aliases...)
	return &cp
}

// UnitNames returns the names of all units, sorted.
func (r *Runtime) UnitNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.units))
	for n := range r.units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Calls returns every recorded call in order.
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallCount returns how many times op was called against target.
func (r *Runtime) CallCount(op, target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && c.Target == target {
			n++
		}
	}
	return n
}

// Polls returns how many times ListTaskStates was called for unit.
func (r *Runtime) Polls(unit string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[unit]
}

// NeverRunning makes the named units report a pending task forever.
func (r *Runtime) NeverRunning(units ...string) {
	stuck := make(map[string]bool, len(units))
	for _, u := range units {
		stuck[u] = true
	}
	r.TaskStates = func(unit string, _ int) []string {
		if stuck[unit] {
			return []string{"pending"}
		}
		return []string{docker.TaskStateRunning}
	}
}

func (r *Runtime) addUnitLocked(spec docker.UnitSpec) *Unit {
	r.nextID++
	u := &Unit{ID: fmt.Sprintf("unit%04d", r.nextID), Spec: spec}
	r.units[spec.Name] = u
	return u
}

func (r *Runtime) record(op, target string) {
	r.calls = append(r.calls, Call{Op: op, Target: target})
}

// =============================================================================
// docker.Client Implementation
// =============================================================================

// PullImage records the pull and returns any injected error.
func (r *Runtime) PullImage(_ context.Context, ref string, _ docker.RegistryAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("PullImage", ref)
	if err := r.PullErr[ref]; err != nil {
		return docker.NewDockerError("PullImage", "image", ref, err.Error(), docker.ErrImagePullFailed)
	}
	return nil
}

// InspectUnit returns the unit with exactly this name.
func (r *Runtime) InspectUnit(_ context.Context, name string) (*docker.UnitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("InspectUnit", name)
	u, ok := r.units[name]
	if !ok {
		return nil, docker.NewDockerError("InspectUnit", "service", name, "service not found", docker.ErrUnitNotFound)
	}
	u.advanceRollout()
	return &docker.UnitInfo{
		ID:      u.ID,
		Name:    u.Spec.Name,
		Image:   u.Spec.Image,
		Labels:  u.Spec.Labels,
		Aliases: append([]string(nil), u.Aliases...),
		Update:  u.Update,
	}, nil
}

// CreateUnit adds a unit unless the name is taken.
func (r *Runtime) CreateUnit(_ context.Context, spec docker.UnitSpec, _ docker.RegistryAuth) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("CreateUnit", spec.Name)
	if err := r.CreateErr[spec.Name]; err != nil {
		return "", docker.NewDockerError("CreateUnit", "service", spec.Name, err.Error(), docker.ErrUnitCreateFailed)
	}
	if _, exists := r.units[spec.Name]; exists {
		return "", docker.NewDockerError("CreateUnit", "service", spec.Name, "service already exists", docker.ErrUnitAlreadyExists)
	}
	return r.addUnitLocked(spec).ID, nil
}

// UpdateUnit replaces the spec of an existing unit and starts a rollout.
func (r *Runtime) UpdateUnit(_ context.Context, spec docker.UnitSpec, _ docker.RegistryAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UpdateUnit", spec.Name)
	if err := r.UpdateErr[spec.Name]; err != nil {
		return docker.NewDockerError("UpdateUnit", "service", spec.Name, err.Error(), docker.ErrUnitUpdateFailed)
	}
	u, ok := r.units[spec.Name]
	if !ok {
		return docker.NewDockerError("UpdateUnit", "service", spec.Name, "service not found", docker.ErrUnitNotFound)
	}
	u.Spec = spec
	u.startRollout(r.RolloutPolls)
	return nil
}

// RenameUnit adds newName as an alias of the unit called oldName.
func (r *Runtime) RenameUnit(_ context.Context, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("RenameUnit", oldName)
	if err := r.RenameErr[oldName]; err != nil {
		return docker.NewDockerError("RenameUnit", "service", oldName, err.Error(), docker.ErrUnitUpdateFailed)
	}
	u, ok := r.units[oldName]
	if !ok {
		return docker.NewDockerError("RenameUnit", "service", oldName, "service not found", docker.ErrUnitNotFound)
	}
	for _, a := range u.Aliases {
		if a == newName {
			return nil
		}
	}
	u.Aliases = append(u.Aliases, newName)
	u.startRollout(r.RolloutPolls)
	return nil
}

// RemoveUnit deletes a unit; absence is not an error.
func (r *Runtime) RemoveUnit(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("RemoveUnit", name)
	if err := r.RemoveErr[name]; err != nil {
		return docker.NewDockerError("RemoveUnit", "service", name, err.Error(), err)
	}
	delete(r.units, name)
	delete(r.polls, name)
	return nil
}

// ListTaskStates reports the task states of an existing unit.
func (r *Runtime) ListTaskStates(_ context.Context, name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ListTaskStates", name)
	if _, ok := r.units[name]; !ok {
		r.polls[name]++
		return nil, docker.NewDockerError("ListTaskStates", "service", name, "service not found", docker.ErrUnitNotFound)
	}
	r.polls[name]++
	if r.TaskStates != nil {
		return r.TaskStates(name, r.polls[name]), nil
	}
	return []string{docker.TaskStateRunning}, nil
}

// FetchConfigEntry returns a seeded config payload.
func (r *Runtime) FetchConfigEntry(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("FetchConfigEntry", key)
	data, ok := r.configs[key]
	if !ok {
		return "", docker.NewDockerError("FetchConfigEntry", "config", key, "config not found", docker.ErrConfigNotFound)
	}
	return data, nil
}

// Ping returns PingErr.
func (r *Runtime) Ping(context.Context) error {
	return r.PingErr
}

// Close is a no-op.
func (r *Runtime) Close() error {
	return nil
}
