package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/session"
	"github.com/banshee-data/geoanchor/internal/timeutil"
)

// ErrRunnerStopped is returned by Submit once Run has exited.
var ErrRunnerStopped = errors.New("runner stopped")

// Recorder receives localization history. Errors are logged and otherwise
// ignored.
type Recorder interface {
	RecordTransition(sessionID string, at time.Time, from, to localization.State, sample *geo.GeospatialSample) error
	RecordSample(sessionID string, at time.Time, state localization.State, sample geo.GeospatialSample) error
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Clock      timeutil.Clock
	Source     positioning.Source
	Reconciler *Reconciler
	Thresholds localization.Thresholds
	Interval   time.Duration
	Recorder   Recorder      // optional
	SampleRate time.Duration // minimum spacing of recorded samples; default 1s
}

type pendingCommand struct {
	cmd   Command
	reply chan CommandResult
}

// Runner owns the session and drives it from a single goroutine. Commands
// and events from other goroutines are queued and applied between frames.
type Runner struct {
	cfg      RunnerConfig
	events   EventQueue
	commands chan pendingCommand
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the loop goroutine.
	sc           *session.Context
	lastSampleAt time.Time

	mu     sync.RWMutex
	latest Result
	frames uint64
}

// NewRunner starts a session at the clock's current time.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = time.Second
	}
	r := &Runner{
		cfg:      cfg,
		commands: make(chan pendingCommand, 16),
		done:     make(chan struct{}),
	}
	r.sc = session.New(cfg.Clock.Now(), cfg.Thresholds)
	r.latest = initialResult(r.sc)
	diagf("session %s started", r.sc.ID)
	return r
}

// initialResult is what Latest reports before a session's first frame.
func initialResult(sc *session.Context) Result {
	return Result{
		Timestamp:               sc.StartedAt,
		SessionID:               sc.ID,
		State:                   sc.State(),
		VisibleAnchors:          []VisibleAnchor{},
		AnchorsRemovedThisFrame: []anchors.ID{},
	}
}

// PushEvent queues an asynchronous event for the next frame.
func (r *Runner) PushEvent(e Event) { r.events.Push(e) }

// Latest returns the most recent frame result.
func (r *Runner) Latest() Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Frames returns the number of frames processed.
func (r *Runner) Frames() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frames
}

// Submit queues a command and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, cmd Command) (CommandResult, error) {
	pc := pendingCommand{cmd: cmd, reply: make(chan CommandResult, 1)}
	select {
	case r.commands <- pc:
	case <-r.done:
		return CommandResult{}, ErrRunnerStopped
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case res := <-pc.reply:
		return res, nil
	case <-r.done:
		return CommandResult{}, ErrRunnerStopped
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Run steps the session on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.done) })

	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			if err := r.Step(now); err != nil {
				opsf("frame at %s skipped: %v", now.Format(time.RFC3339Nano), err)
			}
		}
	}
}

// Step processes queued events and commands, then one frame. It must only
// be called from the goroutine that owns the runner; Run does so.
func (r *Runner) Step(now time.Time) error {
	for _, e := range r.events.Drain() {
		ApplyEvent(r.sc, e)
	}
	r.drainCommands(now)

	frame, err := r.cfg.Source.NextFrame(now)
	if err != nil {
		return err
	}
	res := r.cfg.Reconciler.Reconcile(r.sc, frame)
	r.record(res)

	r.mu.Lock()
	r.latest = res
	r.frames++
	r.mu.Unlock()
	return nil
}

func (r *Runner) drainCommands(now time.Time) {
	for {
		select {
		case pc := <-r.commands:
			pc.reply <- r.execute(pc.cmd, now)
		default:
			return
		}
	}
}

func (r *Runner) execute(cmd Command, now time.Time) CommandResult {
	if _, ok := cmd.(RestartSessionCommand); ok {
		old := r.sc
		released := r.cfg.Reconciler.Manager().Teardown(old)
		r.sc = session.New(now, r.cfg.Thresholds)
		r.lastSampleAt = time.Time{}

		r.mu.Lock()
		r.latest = initialResult(r.sc)
		r.mu.Unlock()

		diagf("session %s replaced by %s", old.ID, r.sc.ID)
		return CommandResult{SessionID: r.sc.ID, Removed: released}
	}
	return r.cfg.Reconciler.Execute(r.sc, cmd, now)
}

func (r *Runner) record(res Result) {
	rec := r.cfg.Recorder
	if rec == nil {
		return
	}
	if res.Transition.Changed() {
		if err := rec.RecordTransition(res.SessionID, res.Timestamp, res.Transition.From, res.Transition.To, res.Sample); err != nil {
			opsf("record transition: %v", err)
		}
	}
	if res.Sample == nil || res.Timestamp.Sub(r.lastSampleAt) < r.cfg.SampleRate {
		return
	}
	if err := rec.RecordSample(res.SessionID, res.Timestamp, res.State, *res.Sample); err != nil {
		opsf("record sample: %v", err)
		return
	}
	r.lastSampleAt = res.Timestamp
}
