package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/launcher/pkg/config"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/store"
	"github.com/openclaw/launcher/pkg/types"
	"github.com/openclaw/launcher/pkg/workspace"
)

func TestMain(m *testing.M) {
	settleInterval = 0
	os.Exit(m.Run())
}

// fakeRuntime is an in-memory ContainerRuntime double. Status and error
// behaviour are scripted per container name.
type fakeRuntime struct {
	mu       sync.Mutex
	statuses map[string]types.ContainerStatus
	stats    map[string]runtime.Stats
	err      error // returned by every call when set
	created  []string
	started  []string
	removed  []string
	stopped  []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		statuses: map[string]types.ContainerStatus{},
		stats:    map[string]runtime.Stats{},
	}
}

func (f *fakeRuntime) setStatus(name string, s types.ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[name] = s
}

func (f *fakeRuntime) Create(_ context.Context, name string, _ runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, name)
	f.statuses[name] = types.StatusExited
	return fmt.Sprintf("%064d", len(f.created)), nil
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.statuses[name]; !ok {
		return runtime.ErrNotFound
	}
	f.started = append(f.started, name)
	f.statuses[name] = types.StatusRunning
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.statuses[name]; !ok {
		return runtime.ErrNotFound
	}
	f.stopped = append(f.stopped, name)
	f.statuses[name] = types.StatusExited
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.statuses[name]; !ok {
		return runtime.ErrNotFound
	}
	f.removed = append(f.removed, name)
	delete(f.statuses, name)
	return nil
}

func (f *fakeRuntime) InspectStatus(_ context.Context, name string) (types.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.StatusUnknown, f.err
	}
	status, ok := f.statuses[name]
	if !ok {
		return types.StatusUnknown, runtime.ErrNotFound
	}
	return status, nil
}

func (f *fakeRuntime) SampleStats(_ context.Context, name string) (runtime.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return runtime.Stats{}, f.err
	}
	return f.stats[name], nil
}

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeRuntime) {
	t.Helper()
	dir := t.TempDir()
	rt := newFakeRuntime()
	o := New(
		config.Default(),
		store.New(filepath.Join(dir, "instances.json")),
		rt,
		workspace.New(filepath.Join(dir, "instances"), ""),
		nil,
	)
	return o, rt
}

func pubkeyA() string { return strings.Repeat("A", 32) }

func TestLaunchCreatesInstance(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	inst, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)

	assert.Equal(t, types.DeriveID(pubkeyA()), inst.ID)
	assert.Equal(t, config.BasePort, inst.Port)
	assert.Equal(t, string(types.StatusStarting), inst.Status)
	assert.Len(t, inst.GatewayToken, 48)
	assert.Regexp(t, "^[0-9a-f]{48}$", inst.GatewayToken)
	assert.Len(t, inst.ContainerID, 12)

	assert.Equal(t, []string{ContainerName(inst.ID)}, rt.created)
	assert.Equal(t, []string{ContainerName(inst.ID)}, rt.started)

	// Snapshot seeded as starting with zero telemetry.
	snap, ok := o.Snapshot(inst.ID)
	require.True(t, ok)
	assert.Equal(t, types.StatusStarting, snap.Status)
	assert.Zero(t, snap.CPUPercent)
	assert.Zero(t, snap.MemoryBytes)

	// Workspace materialized.
	assert.FileExists(t, filepath.Join(o.workspace.ConfigDir(inst.ID), workspace.ConfigName))
	assert.FileExists(t, filepath.Join(o.workspace.WorkspaceDir(inst.ID), workspace.IdentityName))
}

func TestLaunchConflictWhenRunning(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)
	rt.setStatus(ContainerName(first.ID), types.StatusRunning)

	_, err = o.Launch(ctx, pubkeyA())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	assert.Equal(t, first.ID, conflict.Instance.ID)
	assert.Empty(t, conflict.Instance.GatewayToken, "conflict response must not leak the token")
}

func TestLaunchRestartsStoppedInstance(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)
	rt.setStatus(ContainerName(first.ID), types.StatusExited)

	second, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)

	// Same identity, port, token and container; only last_started moves.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Port, second.Port)
	assert.Equal(t, first.GatewayToken, second.GatewayToken)
	assert.Equal(t, first.ContainerID, second.ContainerID)
	assert.GreaterOrEqual(t, second.LastStarted, first.LastStarted)
	assert.Equal(t, string(types.StatusRunning), second.Status)

	// No second container was created.
	assert.Len(t, rt.created, 1)

	// Restart invalidates the stale snapshot.
	_, ok := o.Snapshot(first.ID)
	assert.False(t, ok)
}

func TestLaunchRestartWithVanishedContainer(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)

	rt.mu.Lock()
	delete(rt.statuses, ContainerName(first.ID))
	rt.mu.Unlock()

	_, err = o.Launch(ctx, pubkeyA())
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestLaunchCapacity(t *testing.T) {
	o, _ := testOrchestrator(t)
	ctx := context.Background()

	for i := 0; i < config.MaxInstances; i++ {
		pubkey := fmt.Sprintf("%032d", i)
		inst, err := o.Launch(ctx, pubkey)
		require.NoError(t, err)
		assert.Equal(t, config.BasePort+i, inst.Port)
	}

	_, err := o.Launch(ctx, strings.Repeat("Z", 32))
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestLaunchUnreachableDaemon(t *testing.T) {
	o, rt := testOrchestrator(t)
	rt.err = runtime.ErrUnreachable

	_, err := o.Launch(context.Background(), pubkeyA())
	assert.ErrorIs(t, err, runtime.ErrUnreachable)
}

func TestConcurrentLaunchesSamePubkey(t *testing.T) {
	o, _ := testOrchestrator(t)
	ctx := context.Background()

	type result struct {
		inst types.WireInstance
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			inst, err := o.Launch(ctx, pubkeyA())
			results <- result{inst, err}
		}()
	}

	var tokens []string
	var conflicts int
	for i := 0; i < 2; i++ {
		r := <-results
		var conflict *ConflictError
		switch {
		case r.err == nil:
			tokens = append(tokens, r.inst.GatewayToken)
		case assert.ErrorAs(t, r.err, &conflict):
			conflicts++
			assert.Empty(t, conflict.Instance.GatewayToken)
		}
	}

	// Exactly one record exists either way; never two fresh tokens.
	view, err := o.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, view.Count())

	if len(tokens) == 2 {
		assert.Equal(t, tokens[0], tokens[1], "second launch must reuse the record, not mint a token")
	} else {
		assert.Equal(t, 2, conflicts+len(tokens))
	}
}

func TestStop(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	inst, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)
	rt.setStatus(ContainerName(inst.ID), types.StatusRunning)

	id, err := o.Stop(ctx, pubkeyA())
	require.NoError(t, err)
	assert.Equal(t, inst.ID, id)
	assert.Equal(t, []string{ContainerName(inst.ID)}, rt.stopped)

	_, ok := o.Snapshot(inst.ID)
	assert.False(t, ok, "stop invalidates the snapshot")
}

func TestStopMissingContainer(t *testing.T) {
	o, _ := testOrchestrator(t)

	_, err := o.Stop(context.Background(), pubkeyA())
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestDestroy(t *testing.T) {
	o, rt := testOrchestrator(t)
	ctx := context.Background()

	inst, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)
	rt.setStatus(ContainerName(inst.ID), types.StatusRunning)

	_, err = o.Destroy(ctx, pubkeyA())
	require.NoError(t, err)

	view, err := o.store.Load()
	require.NoError(t, err)
	assert.Zero(t, view.Count())

	_, ok := o.Snapshot(inst.ID)
	assert.False(t, ok)
	assert.Zero(t, o.Restarts(inst.ID))

	// Workspace directory survives destroy.
	assert.DirExists(t, o.workspace.WorkspaceDir(inst.ID))

	// The pubkey can launch again with a fresh record.
	again, err := o.Launch(ctx, pubkeyA())
	require.NoError(t, err)
	assert.NotEqual(t, inst.GatewayToken, again.GatewayToken)
}

func TestDestroyWithoutContainerIsOK(t *testing.T) {
	o, _ := testOrchestrator(t)

	id, err := o.Destroy(context.Background(), pubkeyA())
	require.NoError(t, err)
	assert.Equal(t, types.DeriveID(pubkeyA()), id)
}

func TestDestroyUnreachable(t *testing.T) {
	o, rt := testOrchestrator(t)
	rt.err = runtime.ErrUnreachable

	_, err := o.Destroy(context.Background(), pubkeyA())
	assert.ErrorIs(t, err, runtime.ErrUnreachable)
}
