package monitoring

import (
	"context"
	"time"

	"github.com/banshee-data/geoanchor/internal/timeutil"
)

var healthf = Tagged("health")

// Snapshot is what a HealthReporter logs on each tick.
type Snapshot struct {
	SessionID   string
	State       string
	Frames      uint64
	AnchorCount int
}

// HealthReporter logs a one-line summary of the frame loop at a fixed
// interval and warns when the loop stops producing frames.
type HealthReporter struct {
	clock    timeutil.Clock
	interval time.Duration
	probe    func() Snapshot

	lastFrames uint64
	stalled    bool
}

// NewHealthReporter returns a reporter that calls probe every interval.
func NewHealthReporter(clock timeutil.Clock, interval time.Duration, probe func() Snapshot) *HealthReporter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HealthReporter{clock: clock, interval: interval, probe: probe}
}

// Run reports until ctx is cancelled.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			h.Report()
		}
	}
}

// Report logs one summary line. It returns false when no frames were
// processed since the previous report.
func (h *HealthReporter) Report() bool {
	s := h.probe()
	progressed := s.Frames > h.lastFrames
	if !progressed && h.lastFrames > 0 {
		if !h.stalled {
			healthf("frame loop stalled at %d frames (session %s)", s.Frames, s.SessionID)
		}
		h.stalled = true
		return false
	}
	if h.stalled {
		healthf("frame loop resumed")
	}
	h.stalled = false
	healthf("session=%s state=%s frames=%d (+%d) anchors=%d",
		s.SessionID, s.State, s.Frames, s.Frames-h.lastFrames, s.AnchorCount)
	h.lastFrames = s.Frames
	return progressed
}
