package localization

import (
	"time"

	"github.com/banshee-data/geoanchor/internal/config"
	"github.com/banshee-data/geoanchor/internal/geo"
)

// State is the localization quality of the current session.
type State string

const (
	StatePretracking State = "pretracking" // Earth enabled, not yet tracking
	StateLocalizing  State = "localizing"  // Tracking, accuracy not yet good enough
	StateLocalized   State = "localized"   // Accuracy inside the low bands
	StateFailed      State = "failed"      // Terminal until the session restarts
)

// FailureCause records why a machine entered StateFailed.
type FailureCause string

const (
	FailureNone             FailureCause = ""
	FailureEarthDisabled    FailureCause = "earth_disabled"
	FailureTimeout          FailureCause = "timeout"
	FailurePermissionDenied FailureCause = "permission_denied"
)

// Thresholds are the hysteresis bands and timeout for the state machine.
// Entering Localized requires accuracy at or below the Low values; leaving
// it requires accuracy above the High values.
type Thresholds struct {
	LowHorizontalAccuracy  float64       // metres
	HighHorizontalAccuracy float64       // metres
	LowHeadingAccuracy     float64       // degrees
	HighHeadingAccuracy    float64       // degrees
	FailureTimeout         time.Duration // max continuous Localizing time
}

// DefaultThresholds returns the reference bands: 10/20 m, 15/25°, 3 minutes.
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.EmptyConfig())
}

// ThresholdsFromConfig builds Thresholds from a loaded Config.
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		LowHorizontalAccuracy:  cfg.GetLowHorizontalAccuracyM(),
		HighHorizontalAccuracy: cfg.GetHighHorizontalAccuracyM(),
		LowHeadingAccuracy:     cfg.GetLowHeadingAccuracyDeg(),
		HighHeadingAccuracy:    cfg.GetHighHeadingAccuracyDeg(),
		FailureTimeout:         cfg.GetFailureTimeout(),
	}
}

// Transition describes the outcome of one Advance call.
type Transition struct {
	From State
	To   State

	// JustLocalized is true on the single frame where Localizing became
	// Localized; callers use it to trigger saved-anchor restoration.
	JustLocalized bool
}

// Changed reports whether the state moved this frame.
func (t Transition) Changed() bool { return t.From != t.To }

// StateMachine tracks localization quality for one positioning session.
// It is not safe for concurrent use; the frame loop owns it.
type StateMachine struct {
	thresholds Thresholds

	state State
	cause FailureCause

	// lastLocalizingStart is when the current Localizing attempt began.
	lastLocalizingStart time.Time
}

// NewStateMachine creates a machine for a freshly started session. The
// session starting is what moves the state to Pretracking.
func NewStateMachine(thresholds Thresholds) *StateMachine {
	return &StateMachine{
		thresholds: thresholds,
		state:      StatePretracking,
	}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// FailureCause returns why the machine failed, or FailureNone.
func (m *StateMachine) FailureCause() FailureCause { return m.cause }

// Thresholds returns the configured bands.
func (m *StateMachine) Thresholds() Thresholds { return m.thresholds }

// LocalizingSince returns the start of the current Localizing attempt. It is
// the zero time until Localizing has been entered at least once.
func (m *StateMachine) LocalizingSince() time.Time { return m.lastLocalizingStart }

// Advance consumes one frame. It must be called exactly once per frame, in
// frame order. sample is nil when the positioning subsystem produced no
// geospatial transform this frame.
//
// Rules, in priority order:
//  1. Failed stays Failed.
//  2. Earth disabled: Failed.
//  3. Earth not tracking: Pretracking.
//  4. Tracking: Pretracking→Localizing; Localizing→Localized on good accuracy,
//     →Failed after the timeout; Localized→Localizing on bad accuracy.
func (m *StateMachine) Advance(sample *geo.GeospatialSample, earthEnabled, earthTracking bool, now time.Time) Transition {
	tr := Transition{From: m.state}

	switch {
	case m.state == StateFailed:
	case !earthEnabled:
		m.fail(FailureEarthDisabled)
	case !earthTracking:
		m.state = StatePretracking
	default:
		m.advanceTracking(sample, now, &tr)
	}

	tr.To = m.state
	return tr
}

func (m *StateMachine) advanceTracking(sample *geo.GeospatialSample, now time.Time, tr *Transition) {
	switch m.state {
	case StatePretracking:
		m.state = StateLocalizing
		m.lastLocalizingStart = now

	case StateLocalizing:
		if sample != nil && m.goodEnoughToEnter(sample) {
			m.state = StateLocalized
			tr.JustLocalized = true
			return
		}
		if now.Sub(m.lastLocalizingStart) >= m.thresholds.FailureTimeout {
			m.fail(FailureTimeout)
		}

	case StateLocalized:
		if sample == nil || m.badEnoughToExit(sample) {
			m.state = StateLocalizing
			m.lastLocalizingStart = now
		}
	}
}

func (m *StateMachine) goodEnoughToEnter(s *geo.GeospatialSample) bool {
	return s.HorizontalAccuracy <= m.thresholds.LowHorizontalAccuracy &&
		s.HeadingAccuracy <= m.thresholds.LowHeadingAccuracy
}

func (m *StateMachine) badEnoughToExit(s *geo.GeospatialSample) bool {
	return s.HorizontalAccuracy > m.thresholds.HighHorizontalAccuracy ||
		s.HeadingAccuracy > m.thresholds.HighHeadingAccuracy
}

func (m *StateMachine) fail(cause FailureCause) {
	m.state = StateFailed
	m.cause = cause
}

// Fail forces the machine into Failed, for session-level failures that do
// not come from a frame (e.g. location permission denied).
func (m *StateMachine) Fail(cause FailureCause) {
	if m.state != StateFailed {
		m.fail(cause)
	}
}

// allowedTransitions lists every edge the machine can take.
var allowedTransitions = map[State][]State{
	StatePretracking: {StatePretracking, StateLocalizing, StateFailed},
	StateLocalizing:  {StateLocalizing, StateLocalized, StatePretracking, StateFailed},
	StateLocalized:   {StateLocalized, StateLocalizing, StatePretracking, StateFailed},
	StateFailed:      {StateFailed},
}

// ValidTransition reports whether from→to is an edge of the machine.
func ValidTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
