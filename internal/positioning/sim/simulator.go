// Package sim is a deterministic stand-in for the device positioning
// subsystem. It replays a recorded or generated frame trace, keeps the
// anchors it was asked to create, and resolves terrain anchors after a
// fixed delay.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/positioning"
)

// ErrNotTracking is returned for commands that need a geospatial pose while
// earth tracking is inactive.
var ErrNotTracking = errors.New("earth tracking is not active")

// Options configures a Simulator.
type Options struct {
	// TerrainResolveDelay is how long a terrain anchor stays in progress.
	TerrainResolveDelay time.Duration
	// TerrainQuota is the number of terrain anchors that may be held at once.
	TerrainQuota int
	// UnsupportedTerrain makes every terrain resolution fail with
	// UnsupportedLocation.
	UnsupportedTerrain bool
	// TerrainAltitude is the ellipsoid height of the ground at resolved
	// terrain anchors.
	TerrainAltitude float64
	// NewID overrides anchor id generation.
	NewID func() anchors.ID
}

type simAnchor struct {
	id        anchors.ID
	kind      anchors.Kind
	coord     geo.Coordinate
	altitude  float64
	q         geo.Quaternion
	createdAt time.Time
	terrain   anchors.TerrainState
}

// Simulator implements positioning.Subsystem.
type Simulator struct {
	mu sync.Mutex

	opts    Options
	frames  []TraceFrame
	idx     int
	start   time.Time
	started bool
	now     time.Time

	anchors map[anchors.ID]*simAnchor
	order   []anchors.ID
}

var _ positioning.Subsystem = (*Simulator)(nil)

// New creates a simulator replaying frames. frames must be non-empty.
func New(frames []TraceFrame, opts Options) (*Simulator, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("sim: no frames to replay")
	}
	if opts.TerrainQuota <= 0 {
		return nil, fmt.Errorf("sim: terrain quota must be positive, got %d", opts.TerrainQuota)
	}
	if opts.NewID == nil {
		opts.NewID = func() anchors.ID { return anchors.ID("anc_" + uuid.NewString()) }
	}
	return &Simulator{
		opts:    opts,
		frames:  frames,
		anchors: make(map[anchors.ID]*simAnchor),
	}, nil
}

// NextFrame returns the trace frame due at now, with the live anchor list.
// The first call fixes the replay epoch. Once the trace is exhausted the
// last frame is held.
func (s *Simulator) NextFrame(now time.Time) (positioning.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.start = now
		s.started = true
	}
	if now.Before(s.now) {
		return positioning.Frame{}, fmt.Errorf("sim: frame time %s precedes %s", now.Format(time.RFC3339Nano), s.now.Format(time.RFC3339Nano))
	}
	s.now = now
	elapsed := now.Sub(s.start)
	for s.idx+1 < len(s.frames) && s.frames[s.idx+1].Offset() <= elapsed {
		s.idx++
	}
	cur := s.frames[s.idx]

	s.resolveTerrain(now)

	frame := positioning.Frame{
		Timestamp:     now,
		EarthState:    cur.EarthState,
		EarthTracking: cur.EarthTracking,
		Anchors:       make([]anchors.LiveAnchor, 0, len(s.order)),
	}
	if cur.Sample != nil {
		sample := *cur.Sample
		frame.Sample = &sample
	}
	tracking := anchors.TrackingPaused
	if cur.EarthTracking && cur.Sample != nil {
		tracking = anchors.TrackingTracking
	}
	for _, id := range s.order {
		a := s.anchors[id]
		frame.Anchors = append(frame.Anchors, anchors.LiveAnchor{
			ID:       a.id,
			Tracking: tracking,
			Terrain:  a.terrain,
			Pose:     s.poseOf(a, cur.Sample),
		})
	}
	tracef("frame %d elapsed=%s tracking=%v anchors=%d", s.idx, elapsed, cur.EarthTracking, len(frame.Anchors))
	return frame, nil
}

func (s *Simulator) resolveTerrain(now time.Time) {
	for _, id := range s.order {
		a := s.anchors[id]
		if a.kind != anchors.KindTerrain || a.terrain.Status != anchors.TerrainInProgress {
			continue
		}
		if now.Sub(a.createdAt) < s.opts.TerrainResolveDelay {
			continue
		}
		if s.opts.UnsupportedTerrain {
			a.terrain = anchors.TerrainStateError(anchors.ReasonUnsupportedLocation)
		} else {
			a.terrain = anchors.TerrainStateSuccess
			a.altitude = s.opts.TerrainAltitude
		}
		diagf("terrain anchor %s resolved: %s", a.id, a.terrain)
	}
}

// poseOf places the anchor in a world frame whose origin is the camera.
func (s *Simulator) poseOf(a *simAnchor, cam *geo.GeospatialSample) geo.Transform {
	if cam == nil {
		return geo.RotationTransform(a.q, 0, 0, 0)
	}
	east, north := geo.LocalOffset(cam.Coordinate, a.coord)
	up := 0.0
	if a.kind == anchors.KindWGS84 || a.terrain.Status == anchors.TerrainSuccess {
		up = a.altitude - cam.Altitude
	}
	return geo.RotationTransform(a.q, float32(east), float32(up), float32(-north))
}

func (s *Simulator) currentSample() (*geo.GeospatialSample, error) {
	cur := s.frames[s.idx]
	if !cur.EarthTracking || cur.Sample == nil {
		return nil, ErrNotTracking
	}
	return cur.Sample, nil
}

// CreateAnchor places a WGS84 anchor.
func (s *Simulator) CreateAnchor(coord geo.Coordinate, altitude float64, q geo.Quaternion) (anchors.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !coord.Valid() {
		return "", fmt.Errorf("sim: invalid coordinate %s", coord)
	}
	if _, err := s.currentSample(); err != nil {
		return "", err
	}
	a := &simAnchor{
		id:        s.opts.NewID(),
		kind:      anchors.KindWGS84,
		coord:     coord,
		altitude:  altitude,
		q:         q,
		createdAt: s.now,
	}
	s.add(a)
	diagf("created anchor %s at %s alt=%.2f", a.id, coord, altitude)
	return a.id, nil
}

// CreateTerrainAnchor places a terrain anchor and starts resolving it.
// It fails with anchors.ErrResourceExhausted once TerrainQuota terrain
// anchors are held.
func (s *Simulator) CreateTerrainAnchor(coord geo.Coordinate, q geo.Quaternion) (anchors.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !coord.Valid() {
		return "", fmt.Errorf("sim: invalid coordinate %s", coord)
	}
	if _, err := s.currentSample(); err != nil {
		return "", err
	}
	held := 0
	for _, a := range s.anchors {
		if a.kind == anchors.KindTerrain {
			held++
		}
	}
	if held >= s.opts.TerrainQuota {
		opsf("terrain quota of %d reached", s.opts.TerrainQuota)
		return "", anchors.ErrResourceExhausted
	}
	a := &simAnchor{
		id:        s.opts.NewID(),
		kind:      anchors.KindTerrain,
		coord:     coord,
		q:         q,
		createdAt: s.now,
		terrain:   anchors.TerrainStateInProgress,
	}
	s.add(a)
	diagf("created terrain anchor %s at %s", a.id, coord)
	return a.id, nil
}

func (s *Simulator) add(a *simAnchor) {
	s.anchors[a.id] = a
	s.order = append(s.order, a.id)
}

// RemoveAnchor detaches an anchor. In-flight terrain resolution is dropped.
func (s *Simulator) RemoveAnchor(id anchors.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.anchors[id]; !ok {
		return fmt.Errorf("sim: remove %s: %w", id, anchors.ErrUnknownID)
	}
	delete(s.anchors, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	diagf("removed anchor %s", id)
	return nil
}

// GeospatialTransformFromWorld maps a world pose to a geospatial position.
// The world origin is the current camera position.
func (s *Simulator) GeospatialTransformFromWorld(world geo.Transform) (geo.GeospatialSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cam, err := s.currentSample()
	if err != nil {
		return geo.GeospatialSample{}, err
	}
	x, y, z := world.Translation()
	out := *cam
	out.Coordinate = geo.OffsetCoordinate(cam.Coordinate, float64(x), -float64(z))
	out.Altitude = cam.Altitude + float64(y)
	out.EastUpSouthQ = world.Rotation()
	return out, nil
}

// AnchorCount returns the number of anchors the simulator holds.
func (s *Simulator) AnchorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.anchors)
}
