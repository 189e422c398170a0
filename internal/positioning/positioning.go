// Package positioning describes the external positioning subsystem: the
// per-frame snapshot it produces and the commands it accepts.
package positioning

import (
	"time"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
)

// EarthState is the subsystem's geospatial mode health.
type EarthState string

const (
	EarthEnabled                EarthState = "enabled"
	EarthErrorInternal          EarthState = "error_internal"
	EarthErrorNotAuthorized     EarthState = "error_not_authorized"
	EarthErrorResourceExhausted EarthState = "error_resource_exhausted"
)

// Enabled reports whether geospatial mode is usable.
func (s EarthState) Enabled() bool { return s == EarthEnabled }

// Frame is one tick of the subsystem.
type Frame struct {
	Timestamp     time.Time
	EarthState    EarthState
	EarthTracking bool

	// Sample is nil when the subsystem has no geospatial pose this frame.
	Sample *geo.GeospatialSample

	Anchors []anchors.LiveAnchor
}

// Backend is the command half of the subsystem. Implementations return
// anchors.ErrResourceExhausted from CreateTerrainAnchor when the terrain
// quota is full.
type Backend interface {
	CreateAnchor(coord geo.Coordinate, altitude float64, q geo.Quaternion) (anchors.ID, error)
	CreateTerrainAnchor(coord geo.Coordinate, q geo.Quaternion) (anchors.ID, error)
	RemoveAnchor(id anchors.ID) error
	// GeospatialTransformFromWorld converts a world-space pose to a
	// geospatial position and east-up-south rotation.
	GeospatialTransformFromWorld(world geo.Transform) (geo.GeospatialSample, error)
}

// Source produces frames in arrival order.
type Source interface {
	// NextFrame returns the frame observed at now.
	NextFrame(now time.Time) (Frame, error)
}

// Subsystem is a complete positioning subsystem.
type Subsystem interface {
	Source
	Backend
}
