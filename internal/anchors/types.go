package anchors

import (
	"fmt"

	"github.com/banshee-data/geoanchor/internal/geo"
)

// ID identifies an anchor for the lifetime of a positioning session.
type ID string

// Kind distinguishes anchors placed at a supplied altitude from anchors
// whose altitude is resolved against terrain.
type Kind int

const (
	KindWGS84 Kind = iota
	KindTerrain
)

func (k Kind) String() string {
	switch k {
	case KindWGS84:
		return "wgs84"
	case KindTerrain:
		return "terrain"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TrackingState is the backend's tracking confidence for one anchor.
type TrackingState string

const (
	TrackingTracking TrackingState = "tracking"
	TrackingPaused   TrackingState = "paused"
	TrackingStopped  TrackingState = "stopped"
)

// TerrainStatus is the coarse progress of terrain altitude resolution.
type TerrainStatus int

const (
	TerrainNone TerrainStatus = iota
	TerrainInProgress
	TerrainSuccess
	TerrainError
)

// TerrainErrorReason explains a TerrainError.
type TerrainErrorReason string

const (
	ReasonInternal            TerrainErrorReason = "internal"
	ReasonNotAuthorized       TerrainErrorReason = "not_authorized"
	ReasonUnsupportedLocation TerrainErrorReason = "unsupported_location"
)

// TerrainState is None, InProgress, Success or Error(reason).
type TerrainState struct {
	Status TerrainStatus
	Reason TerrainErrorReason // set only when Status == TerrainError
}

// Convenience constructors.
var (
	TerrainStateNone       = TerrainState{Status: TerrainNone}
	TerrainStateInProgress = TerrainState{Status: TerrainInProgress}
	TerrainStateSuccess    = TerrainState{Status: TerrainSuccess}
)

// TerrainStateError returns Error(reason).
func TerrainStateError(reason TerrainErrorReason) TerrainState {
	return TerrainState{Status: TerrainError, Reason: reason}
}

// Done reports whether resolution has finished, successfully or not.
func (s TerrainState) Done() bool {
	return s.Status == TerrainSuccess || s.Status == TerrainError
}

// rank orders states for the forward-only rule. Success and Error share a
// rank: neither may replace the other.
func (s TerrainState) rank() int {
	switch s.Status {
	case TerrainInProgress:
		return 1
	case TerrainSuccess, TerrainError:
		return 2
	default:
		return 0
	}
}

func (s TerrainState) String() string {
	switch s.Status {
	case TerrainNone:
		return "none"
	case TerrainInProgress:
		return "in progress"
	case TerrainSuccess:
		return "success"
	case TerrainError:
		switch s.Reason {
		case ReasonNotAuthorized:
			return "error (not authorized)"
		case ReasonUnsupportedLocation:
			return "error (unsupported location)"
		default:
			return "error (internal)"
		}
	default:
		return "unknown"
	}
}

// Record is one live anchor as seen by this process.
type Record struct {
	ID          ID
	Kind        Kind
	Coordinate  geo.Coordinate
	Altitude    float64 // meaningful only for KindWGS84
	Orientation geo.Orientation

	Tracking TrackingState
	Terrain  TerrainState // None unless Kind == KindTerrain

	// Pose is the latest world transform reported by the backend.
	Pose geo.Transform
}

// IsTerrain reports whether the anchor resolves altitude against terrain.
func (r Record) IsTerrain() bool { return r.Kind == KindTerrain }

// Renderable reports whether the presentation layer should draw the anchor:
// it must be tracking, and terrain anchors must have resolved.
func (r Record) Renderable() bool {
	if r.Tracking != TrackingTracking {
		return false
	}
	return r.Kind == KindWGS84 || r.Terrain.Status == TerrainSuccess
}

// LiveAnchor is the backend's per-frame view of one anchor.
type LiveAnchor struct {
	ID       ID
	Tracking TrackingState
	Terrain  TerrainState
	Pose     geo.Transform
}
