// Package session holds the state scoped to one positioning session. A
// Context is created when the session starts and discarded when it is
// restarted; nothing in it outlives the session.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
)

// Context is the explicit home for every session-scoped flag. It is owned by
// the frame loop and is not safe for concurrent use.
type Context struct {
	ID        string
	StartedAt time.Time

	Machine *localization.StateMachine
	Store   *anchors.Store

	// RestoredSavedAnchors is set once saved anchors have been replayed,
	// whether or not any were found.
	RestoredSavedAnchors bool

	// UseTerrain is the anchor kind last requested by the user.
	UseTerrain bool

	EarthState   positioning.EarthState
	VPS          positioning.VPSAvailability
	Permission   positioning.PermissionStatus
	LatestSample *geo.GeospatialSample

	// Notice is the outcome text of the most recent user action. It stays
	// until the next action replaces or clears it.
	Notice string

	// Visible is the renderable set published on the previous frame.
	Visible map[anchors.ID]bool
}

// New starts a session in Pretracking.
func New(now time.Time, th localization.Thresholds) *Context {
	return &Context{
		ID:         "ses_" + uuid.NewString(),
		StartedAt:  now,
		Machine:    localization.NewStateMachine(th),
		Store:      anchors.NewStore(),
		EarthState: positioning.EarthEnabled,
		VPS:        positioning.VPSUnknown,
		Permission: positioning.PermissionUnknown,
		Visible:    make(map[anchors.ID]bool),
	}
}

// State is shorthand for the localization state.
func (c *Context) State() localization.State { return c.Machine.State() }

// Failed reports whether the session can no longer place anchors.
func (c *Context) Failed() bool { return c.Machine.State() == localization.StateFailed }
