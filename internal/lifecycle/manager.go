// Package lifecycle creates and removes anchors through the positioning
// backend, keeps the session's anchor store in step, and drives the
// saved-anchor round trip.
//
// Every method runs on the frame loop and takes the session it acts on.
// Backend failures, including panics, come back as errors; nothing here
// escapes the frame boundary.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/session"
)

const (
	opCreateAnchor        = "create_anchor"
	opCreateTerrainAnchor = "create_terrain_anchor"
)

// Manager applies anchor policy on top of a positioning backend.
type Manager struct {
	backend    positioning.Backend
	persist    anchors.Persistence // nil disables saving and restoring
	maxAnchors int
}

// NewManager returns a Manager that allows at most maxAnchors live anchors.
func NewManager(backend positioning.Backend, persist anchors.Persistence, maxAnchors int) *Manager {
	return &Manager{backend: backend, persist: persist, maxAnchors: maxAnchors}
}

// MaxAnchors returns the live anchor ceiling.
func (m *Manager) MaxAnchors() int { return m.maxAnchors }

// CanAddAnchor reports whether a create call could pass the session checks.
func (m *Manager) CanAddAnchor(sc *session.Context) bool {
	return sc.State() == localization.StateLocalized && sc.Store.Len() < m.maxAnchors
}

// CanClear reports whether RemoveAll would do anything.
func (m *Manager) CanClear(sc *session.Context) bool {
	return !sc.Failed() && sc.Store.Len() > 0
}

func (m *Manager) precheck(sc *session.Context, op string) error {
	switch {
	case sc.Failed():
		return &anchors.CreateError{Op: op, Kind: anchors.ErrSessionFailed}
	case sc.Store.Len() >= m.maxAnchors:
		return &anchors.CreateError{Op: op, Kind: anchors.ErrCapacityExceeded}
	case sc.State() != localization.StateLocalized:
		return &anchors.CreateError{Op: op, Kind: anchors.ErrNotLocalized}
	}
	return nil
}

// guard runs a backend call, converting a panic into an error.
func guard(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return call()
}

// CreateAnchor places a WGS84 anchor. When persist is set the anchor is
// also appended to the saved descriptors; a save failure is logged and does
// not fail the call.
func (m *Manager) CreateAnchor(sc *session.Context, coord geo.Coordinate, altitude float64, o geo.Orientation, persist bool) (anchors.ID, error) {
	if err := m.precheck(sc, opCreateAnchor); err != nil {
		return "", err
	}
	var id anchors.ID
	err := guard(func() (err error) {
		id, err = m.backend.CreateAnchor(coord, altitude, o.Quaternion())
		return err
	})
	if err != nil {
		opsf("create anchor at %s rejected: %v", coord, err)
		return "", &anchors.CreateError{Op: opCreateAnchor, Kind: anchors.ErrBackend, Err: err}
	}
	rec := anchors.Record{
		ID:          id,
		Kind:        anchors.KindWGS84,
		Coordinate:  coord,
		Altitude:    altitude,
		Orientation: o,
		Tracking:    anchors.TrackingPaused,
	}
	if err := m.insert(sc, rec); err != nil {
		return "", &anchors.CreateError{Op: opCreateAnchor, Kind: anchors.ErrBackend, Err: err}
	}
	diagf("session %s: anchor %s at %s alt=%.2f %s", sc.ID, id, coord, altitude, o)
	if persist {
		m.appendDescriptor(anchors.NewSavedDescriptor(anchors.KindWGS84, coord, altitude, o))
	}
	return id, nil
}

// CreateTerrainAnchor places a terrain anchor and starts narrating its
// resolution. A full backend terrain quota returns ErrResourceExhausted and
// leaves the session untouched.
func (m *Manager) CreateTerrainAnchor(sc *session.Context, coord geo.Coordinate, o geo.Orientation, persist bool, now time.Time) (anchors.ID, error) {
	if err := m.precheck(sc, opCreateTerrainAnchor); err != nil {
		return "", err
	}
	var id anchors.ID
	err := guard(func() (err error) {
		id, err = m.backend.CreateTerrainAnchor(coord, o.Quaternion())
		return err
	})
	if errors.Is(err, anchors.ErrResourceExhausted) {
		diagf("session %s: terrain quota exhausted", sc.ID)
		return "", &anchors.CreateError{Op: opCreateTerrainAnchor, Kind: anchors.ErrResourceExhausted, Err: err}
	}
	if err != nil {
		opsf("create terrain anchor at %s rejected: %v", coord, err)
		return "", &anchors.CreateError{Op: opCreateTerrainAnchor, Kind: anchors.ErrBackend, Err: err}
	}
	rec := anchors.Record{
		ID:          id,
		Kind:        anchors.KindTerrain,
		Coordinate:  coord,
		Orientation: o,
		Tracking:    anchors.TrackingPaused,
		Terrain:     anchors.TerrainStateNone,
	}
	if err := m.insert(sc, rec); err != nil {
		return "", &anchors.CreateError{Op: opCreateTerrainAnchor, Kind: anchors.ErrBackend, Err: err}
	}
	if err := sc.Store.BeginTerrainResolution(id, now); err != nil {
		// Unreachable for a record inserted with TerrainStateNone.
		opsf("begin terrain resolution for %s: %v", id, err)
	}
	diagf("session %s: terrain anchor %s at %s %s", sc.ID, id, coord, o)
	if persist {
		m.appendDescriptor(anchors.NewSavedDescriptor(anchors.KindTerrain, coord, 0, o))
	}
	return id, nil
}

// insert records a freshly created anchor. If the store refuses it the
// backend anchor is released again.
func (m *Manager) insert(sc *session.Context, rec anchors.Record) error {
	if err := sc.Store.Insert(rec); err != nil {
		opsf("store rejected backend anchor %s: %v", rec.ID, err)
		if rerr := guard(func() error { return m.backend.RemoveAnchor(rec.ID) }); rerr != nil {
			opsf("release anchor %s: %v", rec.ID, rerr)
		}
		return err
	}
	return nil
}

func (m *Manager) appendDescriptor(d anchors.SavedDescriptor) {
	if m.persist == nil {
		return
	}
	existing, err := m.persist.Load()
	if err != nil {
		// Saving now would overwrite descriptors we could not read.
		opsf("load saved anchors before append: %v; anchor not saved", err)
		return
	}
	if err := m.persist.Save(append(existing, d)); err != nil {
		opsf("save anchors: %v", err)
	}
}

// AddAnchorAtCameraPose places an anchor at the latest camera sample,
// facing the camera heading. The new anchor is saved.
func (m *Manager) AddAnchorAtCameraPose(sc *session.Context, useTerrain bool, now time.Time) (anchors.ID, error) {
	sc.UseTerrain = useTerrain
	op := opFor(useTerrain)
	if err := m.precheck(sc, op); err != nil {
		return "", err
	}
	sample := sc.LatestSample
	if sample == nil {
		return "", &anchors.CreateError{Op: op, Kind: anchors.ErrNotLocalized}
	}
	o := geo.HeadingOrientation(sample.Heading)
	if useTerrain {
		return m.CreateTerrainAnchor(sc, sample.Coordinate, o, true, now)
	}
	return m.CreateAnchor(sc, sample.Coordinate, sample.Altitude, o, true)
}

// AddAnchorAtWorldPoint places an anchor at a world-space pose, such as a
// tapped surface point, with the pose's rotation. The new anchor is saved.
func (m *Manager) AddAnchorAtWorldPoint(sc *session.Context, world geo.Transform, useTerrain bool, now time.Time) (anchors.ID, error) {
	sc.UseTerrain = useTerrain
	op := opFor(useTerrain)
	if err := m.precheck(sc, op); err != nil {
		return "", err
	}
	var gt geo.GeospatialSample
	err := guard(func() (err error) {
		gt, err = m.backend.GeospatialTransformFromWorld(world)
		return err
	})
	if err != nil {
		opsf("convert world pose: %v", err)
		return "", &anchors.CreateError{Op: op, Kind: anchors.ErrBackend, Err: err}
	}
	tracef("world pose resolved to %s alt=%.2f", gt.Coordinate, gt.Altitude)
	o := geo.QuaternionOrientation(gt.EastUpSouthQ)
	if useTerrain {
		return m.CreateTerrainAnchor(sc, gt.Coordinate, o, true, now)
	}
	return m.CreateAnchor(sc, gt.Coordinate, gt.Altitude, o, true)
}

func opFor(terrain bool) string {
	if terrain {
		return opCreateTerrainAnchor
	}
	return opCreateAnchor
}

// RemoveAll detaches every anchor from the backend, empties the store and
// clears the saved descriptors. Backend removal failures are logged and do
// not stop the sweep. It returns the removed ids in creation order.
func (m *Manager) RemoveAll(sc *session.Context) ([]anchors.ID, error) {
	if sc.Failed() {
		return nil, anchors.ErrSessionFailed
	}
	for _, id := range sc.Store.IDs() {
		if err := guard(func() error { return m.backend.RemoveAnchor(id) }); err != nil {
			opsf("remove anchor %s: %v", id, err)
			continue
		}
		tracef("released backend anchor %s", id)
	}
	removed := sc.Store.RemoveAll()
	diagf("session %s: removed %d anchors", sc.ID, len(removed))

	if m.persist != nil {
		if err := m.persist.Clear(); err != nil {
			opsf("clear saved anchors: %v", err)
			return removed, fmt.Errorf("clear saved anchors: %w", err)
		}
	}
	return removed, nil
}

// Teardown releases every backend anchor the session holds before the
// session is discarded. Unlike RemoveAll it runs on a failed session and
// leaves the saved descriptors alone, so the next session can restore them.
func (m *Manager) Teardown(sc *session.Context) []anchors.ID {
	for _, id := range sc.Store.IDs() {
		if err := guard(func() error { return m.backend.RemoveAnchor(id) }); err != nil {
			opsf("teardown anchor %s: %v", id, err)
		}
	}
	released := sc.Store.RemoveAll()
	diagf("session %s: released %d anchors on teardown", sc.ID, len(released))
	return released
}

// RestoreSavedAnchors replays the saved descriptors into the session. It
// runs at most once per session; later calls return zero. Descriptors that
// fail validation or creation are skipped. It returns the number of anchors
// restored.
func (m *Manager) RestoreSavedAnchors(sc *session.Context, now time.Time) int {
	if sc.RestoredSavedAnchors {
		return 0
	}
	sc.RestoredSavedAnchors = true
	if m.persist == nil {
		return 0
	}

	saved, err := m.persist.Load()
	if err != nil {
		opsf("load saved anchors: %v; continuing with none", err)
		return 0
	}

	restored := 0
	for i, d := range saved {
		if err := d.Validate(); err != nil {
			opsf("skip saved anchor %d: %v", i, err)
			continue
		}
		o, _ := d.Orientation()
		var err error
		if d.Kind() == anchors.KindTerrain {
			_, err = m.CreateTerrainAnchor(sc, d.Coordinate(), o, false, now)
		} else {
			_, err = m.CreateAnchor(sc, d.Coordinate(), *d.Altitude, o, false)
		}
		if err != nil {
			diagf("restore saved anchor %d: %v", i, err)
			continue
		}
		restored++
	}
	diagf("session %s: restored %d of %d saved anchors", sc.ID, restored, len(saved))
	return restored
}
