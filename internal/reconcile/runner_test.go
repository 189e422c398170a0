package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/lifecycle"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/persist"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/positioning/sim"
	"github.com/banshee-data/geoanchor/internal/timeutil"
)

type transitionRow struct {
	from, to localization.State
}

type memRecorder struct {
	mu          sync.Mutex
	transitions []transitionRow
	samples     []time.Time
}

func (m *memRecorder) RecordTransition(_ string, _ time.Time, from, to localization.State, _ *geo.GeospatialSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, transitionRow{from, to})
	return nil
}

func (m *memRecorder) RecordSample(_ string, at time.Time, _ localization.State, _ geo.GeospatialSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, at)
	return nil
}

func newSimRunner(t *testing.T, clock timeutil.Clock, rec Recorder) *Runner {
	t.Helper()
	r, _ := newSimRunnerWithBackend(t, clock, rec)
	return r
}

func newSimRunnerWithBackend(t *testing.T, clock timeutil.Clock, rec Recorder) (*Runner, *sim.Simulator) {
	t.Helper()
	opts := sim.DefaultGenerateOptions(tokyo)
	opts.PretrackingFor = time.Second
	opts.ConvergeOver = 5 * time.Second
	opts.HoldFor = time.Minute
	simulator, err := sim.New(sim.GenerateTrace(opts), sim.Options{
		TerrainResolveDelay: 2 * time.Second,
		TerrainQuota:        3,
		TerrainAltitude:     38,
	})
	require.NoError(t, err)

	manager := lifecycle.NewManager(simulator, persist.NewMemoryStore(), 5)
	return NewRunner(RunnerConfig{
		Clock:      clock,
		Source:     simulator,
		Reconciler: NewReconciler(manager, 10*time.Second),
		Thresholds: localization.DefaultThresholds(),
		Interval:   100 * time.Millisecond,
		Recorder:   rec,
	}), simulator
}

// queue hands cmd to the loop without blocking; the reply arrives during
// the next Step.
func queue(r *Runner, cmd Command) chan CommandResult {
	reply := make(chan CommandResult, 1)
	r.commands <- pendingCommand{cmd: cmd, reply: reply}
	return reply
}

// stepUntilLocalized steps 100ms frames until the session localizes and
// returns the frame that did it.
func stepUntilLocalized(t *testing.T, r *Runner, now *time.Time) Result {
	t.Helper()
	for i := 0; i < 100; i++ {
		*now = now.Add(100 * time.Millisecond)
		require.NoError(t, r.Step(*now))
		if res := r.Latest(); res.Transition.JustLocalized {
			return res
		}
	}
	t.Fatal("session never localized")
	return Result{}
}

func TestRunner_StepThroughSimulatedSession(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(t0)
	rec := &memRecorder{}
	r := newSimRunner(t, clock, rec)

	assert.Equal(t, localization.StatePretracking, r.Latest().State)

	now := t0
	step := func(d time.Duration) Result {
		now = now.Add(d)
		require.NoError(t, r.Step(now))
		return r.Latest()
	}

	res := step(0)
	assert.Equal(t, localization.StatePretracking, res.State)
	res = step(time.Second)
	assert.Equal(t, localization.StateLocalizing, res.State)

	for i := 0; i < 60 && res.State != localization.StateLocalized; i++ {
		res = step(100 * time.Millisecond)
	}
	require.Equal(t, localization.StateLocalized, res.State)
	assert.True(t, res.CanAddAnchor)

	// Queue a terrain anchor and let the simulator resolve it.
	r.commands <- pendingCommand{cmd: AddAnchorCommand{UseTerrain: true}, reply: make(chan CommandResult, 1)}
	res = step(100 * time.Millisecond)
	assert.Equal(t, 1, res.AnchorCount)
	assert.Equal(t, "Terrain anchor state: in progress", res.StatusMessage)

	res = step(2 * time.Second)
	assert.Len(t, res.ResolvedTerrainThisFrame, 1)
	assert.Len(t, res.VisibleAnchors, 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []transitionRow{
		{localization.StatePretracking, localization.StateLocalizing},
		{localization.StateLocalizing, localization.StateLocalized},
	}, rec.transitions)
	require.NotEmpty(t, rec.samples)
	for i := 1; i < len(rec.samples); i++ {
		assert.GreaterOrEqual(t, rec.samples[i].Sub(rec.samples[i-1]), time.Second)
	}
}

func TestRunner_EventsAppliedBeforeFrame(t *testing.T) {
	t.Parallel()
	r := newSimRunner(t, timeutil.NewMockClock(t0), nil)
	r.PushEvent(PermissionEvent{Status: positioning.PermissionDenied})

	require.NoError(t, r.Step(t0))
	res := r.Latest()
	assert.Equal(t, localization.StateFailed, res.State)
	assert.Equal(t, MsgPermissionDenied, res.StatusMessage)
}

func TestRunner_RunAndSubmit(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(t0)
	r := newSimRunner(t, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	type submitted struct {
		res CommandResult
		err error
	}
	out := make(chan submitted, 1)
	go func() {
		res, err := r.Submit(ctx, AddAnchorCommand{})
		out <- submitted{res, err}
	}()

	var got submitted
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		select {
		case got = <-out:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, got.err)
	assert.ErrorIs(t, got.res.Err, anchors.ErrNotLocalized)
	assert.Positive(t, r.Frames())

	cancel()
	require.NoError(t, <-runDone)

	_, err := r.Submit(context.Background(), ClearAllCommand{})
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestRunner_RestartSession(t *testing.T) {
	t.Parallel()
	r := newSimRunner(t, timeutil.NewMockClock(t0), nil)
	r.PushEvent(PermissionEvent{Status: positioning.PermissionDenied})
	require.NoError(t, r.Step(t0))
	failed := r.Latest()
	require.Equal(t, localization.StateFailed, failed.State)

	reply := make(chan CommandResult, 1)
	r.commands <- pendingCommand{cmd: RestartSessionCommand{}, reply: reply}
	require.NoError(t, r.Step(t0.Add(time.Second)))
	<-reply

	res := r.Latest()
	assert.NotEqual(t, failed.SessionID, res.SessionID)
	assert.NotEqual(t, localization.StateFailed, res.State)
}

func TestRunner_RestartReleasesBackendAnchors(t *testing.T) {
	t.Parallel()
	r, simulator := newSimRunnerWithBackend(t, timeutil.NewMockClock(t0), nil)

	now := t0
	require.NoError(t, r.Step(now))
	stepUntilLocalized(t, r, &now)

	first := queue(r, AddAnchorCommand{UseTerrain: true})
	second := queue(r, AddAnchorCommand{UseTerrain: true})
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, r.Step(now))
	require.NoError(t, (<-first).Err)
	require.NoError(t, (<-second).Err)
	require.Equal(t, 2, simulator.AnchorCount())
	oldSession := r.Latest().SessionID

	restart := queue(r, RestartSessionCommand{})
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, r.Step(now))
	out := <-restart
	require.NoError(t, out.Err)
	assert.Len(t, out.Removed, 2)
	assert.NotEqual(t, oldSession, out.SessionID)
	assert.Zero(t, simulator.AnchorCount(), "old session's anchors are released")

	// The saved terrain anchors come back once the new session localizes,
	// and the quota still has room for one more.
	res := stepUntilLocalized(t, r, &now)
	assert.Equal(t, out.SessionID, res.SessionID)
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, 2, res.AnchorCount)
	assert.Equal(t, 2, simulator.AnchorCount())

	third := queue(r, AddAnchorCommand{UseTerrain: true})
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, r.Step(now))
	require.NoError(t, (<-third).Err)
	assert.Equal(t, 3, simulator.AnchorCount())
}

func TestRunner_RestartPublishesNewSessionBeforeNextFrame(t *testing.T) {
	t.Parallel()
	r := newSimRunner(t, timeutil.NewMockClock(t0), nil)
	r.PushEvent(PermissionEvent{Status: positioning.PermissionDenied})
	require.NoError(t, r.Step(t0))
	failed := r.Latest()
	require.Equal(t, localization.StateFailed, failed.State)

	reply := queue(r, RestartSessionCommand{})
	r.drainCommands(t0.Add(time.Second))
	out := <-reply

	// Submit returns here, before the next frame is reconciled.
	latest := r.Latest()
	assert.Equal(t, out.SessionID, latest.SessionID)
	assert.NotEqual(t, failed.SessionID, latest.SessionID)
	assert.Equal(t, localization.StatePretracking, latest.State)
	assert.Empty(t, latest.VisibleAnchors)
}

func TestRunner_SubmitHonoursContext(t *testing.T) {
	t.Parallel()
	r := newSimRunner(t, timeutil.NewMockClock(t0), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Nothing steps the runner, so the reply never arrives.
	_, err := r.Submit(ctx, ClearAllCommand{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventQueue_DrainInOrder(t *testing.T) {
	t.Parallel()
	var q EventQueue
	q.Push(VPSAvailabilityEvent{Availability: positioning.VPSAvailable})
	q.Push(PermissionEvent{Status: positioning.PermissionGranted})
	assert.Equal(t, 2, q.Len())

	events := q.Drain()
	require.Len(t, events, 2)
	assert.IsType(t, VPSAvailabilityEvent{}, events[0])
	assert.IsType(t, PermissionEvent{}, events[1])
	assert.Empty(t, q.Drain(), "events are delivered at most once")
}
