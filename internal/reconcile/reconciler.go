// Package reconcile runs the per-frame control loop: it advances the
// localization state machine, folds the backend's anchor snapshot into the
// session store, narrates terrain resolution and publishes one Result per
// frame for the presentation layer.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/lifecycle"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/session"
)

// VisibleAnchor is one anchor the presentation layer should draw.
type VisibleAnchor struct {
	ID        anchors.ID    `json:"id"`
	Pose      geo.Transform `json:"pose"`
	IsTerrain bool          `json:"is_terrain"`
}

// Result is everything the presentation layer needs for one frame.
type Result struct {
	Timestamp     time.Time          `json:"timestamp"`
	SessionID     string             `json:"session_id"`
	State         localization.State `json:"state"`
	StatusMessage string             `json:"status_message"`
	TrackingText  string             `json:"tracking_text"`

	VisibleAnchors          []VisibleAnchor `json:"visible_anchors"`
	AnchorsRemovedThisFrame []anchors.ID    `json:"anchors_removed_this_frame"`
	// ResolvedTerrainThisFrame lists terrain anchors whose resolution
	// finished this frame and are no longer narrated.
	ResolvedTerrainThisFrame []anchors.ID `json:"resolved_terrain_this_frame"`

	AnchorCount  int  `json:"anchor_count"`
	CanAddAnchor bool `json:"can_add_anchor"`
	CanClear     bool `json:"can_clear"`

	Transition localization.Transition             `json:"-"`
	Sample     *geo.GeospatialSample               `json:"-"`
	Restored   int                                 `json:"-"`
	Terrain    map[anchors.ID]anchors.TerrainState `json:"-"`
}

// Reconciler applies one frame to a session.
type Reconciler struct {
	manager    *lifecycle.Manager
	stallDelay time.Duration
}

// NewReconciler returns a Reconciler that surfaces the terrain stall message
// once a resolution has been in progress for stallDelay.
func NewReconciler(manager *lifecycle.Manager, stallDelay time.Duration) *Reconciler {
	return &Reconciler{manager: manager, stallDelay: stallDelay}
}

// Manager returns the lifecycle manager used for restores and commands.
func (r *Reconciler) Manager() *lifecycle.Manager { return r.manager }

// Reconcile processes one frame. It must be called once per frame, in frame
// order, from the goroutine that owns sc.
func (r *Reconciler) Reconcile(sc *session.Context, frame positioning.Frame) Result {
	now := frame.Timestamp

	// 1. Localization.
	sc.EarthState = frame.EarthState
	sc.LatestSample = frame.Sample
	tr := sc.Machine.Advance(frame.Sample, frame.EarthState.Enabled(), frame.EarthTracking, now)
	if tr.Changed() {
		diagf("session %s: %s -> %s", sc.ID, tr.From, tr.To)
		sc.Notice = ""
		if tr.To == localization.StateFailed {
			opsf("session %s failed: %s", sc.ID, sc.Machine.FailureCause())
		}
	}

	// 2. Live snapshot.
	sc.Store.UpdateFromLiveSnapshot(frame.Anchors)

	// 3. Retire narration for resolutions that finished.
	var fs frameStatus
	resolvedIDs := []anchors.ID{}
	for _, e := range sc.Store.TerrainEntries() {
		rec, ok := sc.Store.Get(e.AnchorID)
		if !ok || rec.Terrain.Status == anchors.TerrainInProgress {
			continue
		}
		sc.Store.FinishTerrainResolution(e.AnchorID)
		resolvedIDs = append(resolvedIDs, e.AnchorID)
		fs.resolved = append(fs.resolved, rec.Terrain)
		diagf("session %s: terrain anchor %s %s after %s", sc.ID, e.AnchorID, rec.Terrain, now.Sub(e.StartedAt))
	}

	// 4. Stall check against each remaining start time.
	for _, e := range sc.Store.TerrainEntries() {
		fs.pending = true
		if now.Sub(e.StartedAt) >= r.stallDelay {
			fs.stalled = true
		}
	}

	// Restore after the snapshot so this frame's snapshot cannot mark the
	// restored anchors Stopped.
	restored := 0
	if tr.JustLocalized {
		restored = r.manager.RestoreSavedAnchors(sc, now)
	}

	// 5. Renderable set.
	res := Result{
		Timestamp:                now,
		SessionID:                sc.ID,
		State:                    sc.State(),
		Transition:               tr,
		Sample:                   frame.Sample,
		Restored:                 restored,
		ResolvedTerrainThisFrame: resolvedIDs,
		VisibleAnchors:           []VisibleAnchor{},
		AnchorsRemovedThisFrame:  []anchors.ID{},
		Terrain:                  make(map[anchors.ID]anchors.TerrainState),
	}
	visible := make(map[anchors.ID]bool)
	for _, rec := range sc.Store.Records() {
		if rec.IsTerrain() {
			res.Terrain[rec.ID] = rec.Terrain
		}
		if !rec.Renderable() {
			continue
		}
		visible[rec.ID] = true
		res.VisibleAnchors = append(res.VisibleAnchors, VisibleAnchor{
			ID:        rec.ID,
			Pose:      rec.Pose,
			IsTerrain: rec.IsTerrain(),
		})
	}
	for id := range sc.Visible {
		if !visible[id] {
			res.AnchorsRemovedThisFrame = append(res.AnchorsRemovedThisFrame, id)
		}
	}
	sort.Slice(res.AnchorsRemovedThisFrame, func(i, j int) bool {
		return res.AnchorsRemovedThisFrame[i] < res.AnchorsRemovedThisFrame[j]
	})
	sc.Visible = visible

	// 6. Status.
	fs.count = sc.Store.Len()
	res.AnchorCount = fs.count
	res.StatusMessage = statusMessage(sc, fs)
	res.TrackingText = trackingText(frame)
	res.CanAddAnchor = r.manager.CanAddAnchor(sc)
	res.CanClear = r.manager.CanClear(sc)

	tracef("session %s: state=%s anchors=%d visible=%d terrain_pending=%v", sc.ID, res.State, fs.count, len(res.VisibleAnchors), fs.pending)
	return res
}

func trackingText(frame positioning.Frame) string {
	if frame.Sample == nil {
		return fmt.Sprintf("EARTH STATE: %s\n    TRACKING: %v", frame.EarthState, frame.EarthTracking)
	}
	return frame.Sample.TrackingText()
}

// Execute runs one user command against the session and records its
// outcome as the session notice.
func (r *Reconciler) Execute(sc *session.Context, cmd Command, now time.Time) CommandResult {
	var out CommandResult
	switch c := cmd.(type) {
	case AddAnchorCommand:
		if c.WorldTransform != nil {
			out.AnchorID, out.Err = r.manager.AddAnchorAtWorldPoint(sc, *c.WorldTransform, c.UseTerrain, now)
		} else {
			out.AnchorID, out.Err = r.manager.AddAnchorAtCameraPose(sc, c.UseTerrain, now)
		}
	case ClearAllCommand:
		out.Removed, out.Err = r.manager.RemoveAll(sc)
	default:
		out.Err = fmt.Errorf("unsupported command %T", cmd)
		return out
	}
	sc.Notice = noticeFor(out.Err, r.manager.MaxAnchors())
	if out.Err != nil {
		diagf("session %s: %T: %v", sc.ID, cmd, out.Err)
	}
	return out
}
