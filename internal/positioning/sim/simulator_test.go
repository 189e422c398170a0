package sim

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/positioning"
)

var (
	epoch  = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	origin = geo.Coordinate{Latitude: 35.0, Longitude: 139.0}
)

func trackingFrame(offsetMS int64, acc float64) TraceFrame {
	return TraceFrame{
		OffsetMS:      offsetMS,
		EarthState:    positioning.EarthEnabled,
		EarthTracking: true,
		Sample: &geo.GeospatialSample{
			Coordinate:         origin,
			Altitude:           40,
			HorizontalAccuracy: acc,
			HeadingAccuracy:    5,
			EastUpSouthQ:       geo.IdentityQuaternion,
		},
	}
}

func sequentialIDs() func() anchors.ID {
	n := 0
	return func() anchors.ID {
		n++
		return anchors.ID(fmt.Sprintf("anc_%d", n))
	}
}

func newSim(t *testing.T, frames []TraceFrame, opts Options) *Simulator {
	t.Helper()
	if opts.TerrainQuota == 0 {
		opts.TerrainQuota = 3
	}
	if opts.NewID == nil {
		opts.NewID = sequentialIDs()
	}
	s, err := New(frames, opts)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Options{TerrainQuota: 1})
	assert.Error(t, err)
	_, err = New([]TraceFrame{trackingFrame(0, 5)}, Options{})
	assert.Error(t, err)
}

func TestNextFrame_ReplaysByOffset(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{
		{OffsetMS: 0, EarthState: positioning.EarthEnabled},
		trackingFrame(1000, 30),
		trackingFrame(2000, 8),
	}, Options{})

	f, err := s.NextFrame(epoch)
	require.NoError(t, err)
	assert.False(t, f.EarthTracking)
	assert.Nil(t, f.Sample)

	f, _ = s.NextFrame(epoch.Add(999 * time.Millisecond))
	assert.False(t, f.EarthTracking)

	f, _ = s.NextFrame(epoch.Add(time.Second))
	require.NotNil(t, f.Sample)
	assert.Equal(t, 30.0, f.Sample.HorizontalAccuracy)

	// Held after the end of the trace.
	f, _ = s.NextFrame(epoch.Add(time.Hour))
	assert.Equal(t, 8.0, f.Sample.HorizontalAccuracy)
	assert.Equal(t, epoch.Add(time.Hour), f.Timestamp)

	_, err = s.NextFrame(epoch)
	assert.Error(t, err, "time must not run backwards")
}

func TestNextFrame_SampleIsACopy(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{})
	f, _ := s.NextFrame(epoch)
	f.Sample.HorizontalAccuracy = 99
	f, _ = s.NextFrame(epoch.Add(time.Millisecond))
	assert.Equal(t, 5.0, f.Sample.HorizontalAccuracy)
}

func TestCreateAnchor_RequiresTracking(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{{OffsetMS: 0, EarthState: positioning.EarthEnabled}}, Options{})
	_, _ = s.NextFrame(epoch)
	_, err := s.CreateAnchor(origin, 10, geo.IdentityQuaternion)
	assert.ErrorIs(t, err, ErrNotTracking)
	_, err = s.GeospatialTransformFromWorld(geo.IdentityTransform)
	assert.ErrorIs(t, err, ErrNotTracking)
}

func TestCreateAnchor_PoseRelativeToCamera(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{})
	_, _ = s.NextFrame(epoch)

	_, err := s.CreateAnchor(geo.Coordinate{Latitude: 95, Longitude: 0}, 0, geo.IdentityQuaternion)
	assert.Error(t, err)

	target := geo.OffsetCoordinate(origin, 10, 20)
	id, err := s.CreateAnchor(target, 43, geo.IdentityQuaternion)
	require.NoError(t, err)
	assert.Equal(t, anchors.ID("anc_1"), id)

	f, _ := s.NextFrame(epoch.Add(time.Millisecond))
	require.Len(t, f.Anchors, 1)
	la := f.Anchors[0]
	assert.Equal(t, anchors.TrackingTracking, la.Tracking)
	assert.Equal(t, anchors.TerrainStateNone, la.Terrain)
	x, y, z := la.Pose.Translation()
	assert.InDelta(t, 10, x, 1e-3)
	assert.InDelta(t, 3, y, 1e-3)
	assert.InDelta(t, -20, z, 1e-3)
}

func TestTerrainAnchor_ResolvesAfterDelay(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{
		TerrainResolveDelay: 2 * time.Second,
		TerrainAltitude:     38,
	})
	_, _ = s.NextFrame(epoch)
	id, err := s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	require.NoError(t, err)

	f, _ := s.NextFrame(epoch.Add(1999 * time.Millisecond))
	assert.Equal(t, anchors.TerrainStateInProgress, f.Anchors[0].Terrain)

	f, _ = s.NextFrame(epoch.Add(2 * time.Second))
	assert.Equal(t, id, f.Anchors[0].ID)
	assert.Equal(t, anchors.TerrainStateSuccess, f.Anchors[0].Terrain)
	_, y, _ := f.Anchors[0].Pose.Translation()
	assert.InDelta(t, -2, y, 1e-4)
}

func TestTerrainAnchor_UnsupportedLocation(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{UnsupportedTerrain: true})
	_, _ = s.NextFrame(epoch)
	_, err := s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	require.NoError(t, err)
	f, _ := s.NextFrame(epoch.Add(time.Millisecond))
	assert.Equal(t, anchors.TerrainStateError(anchors.ReasonUnsupportedLocation), f.Anchors[0].Terrain)
}

func TestTerrainAnchor_Quota(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{TerrainQuota: 2})
	_, _ = s.NextFrame(epoch)

	first, err := s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	require.NoError(t, err)
	_, err = s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	require.NoError(t, err)
	_, err = s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	assert.ErrorIs(t, err, anchors.ErrResourceExhausted)
	assert.Equal(t, 2, s.AnchorCount())

	// WGS84 anchors do not count against the terrain quota.
	_, err = s.CreateAnchor(origin, 1, geo.IdentityQuaternion)
	assert.NoError(t, err)

	require.NoError(t, s.RemoveAnchor(first))
	_, err = s.CreateTerrainAnchor(origin, geo.IdentityQuaternion)
	assert.NoError(t, err)
}

func TestRemoveAnchor(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{})
	_, _ = s.NextFrame(epoch)
	id, err := s.CreateAnchor(origin, 1, geo.IdentityQuaternion)
	require.NoError(t, err)

	require.NoError(t, s.RemoveAnchor(id))
	assert.ErrorIs(t, s.RemoveAnchor(id), anchors.ErrUnknownID)
	f, _ := s.NextFrame(epoch.Add(time.Millisecond))
	assert.Empty(t, f.Anchors)
}

func TestAnchorsPauseWhenTrackingLost(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{
		trackingFrame(0, 5),
		{OffsetMS: 1000, EarthState: positioning.EarthEnabled},
	}, Options{})
	_, _ = s.NextFrame(epoch)
	_, err := s.CreateAnchor(origin, 1, geo.IdentityQuaternion)
	require.NoError(t, err)

	f, _ := s.NextFrame(epoch.Add(time.Second))
	assert.Equal(t, anchors.TrackingPaused, f.Anchors[0].Tracking)
}

func TestGeospatialTransformFromWorld(t *testing.T) {
	t.Parallel()
	s := newSim(t, []TraceFrame{trackingFrame(0, 5)}, Options{})
	_, _ = s.NextFrame(epoch)

	q := geo.HeadingToQuaternion(45)
	out, err := s.GeospatialTransformFromWorld(geo.RotationTransform(q, 3, -1.5, -4))
	require.NoError(t, err)

	east, north := geo.LocalOffset(origin, out.Coordinate)
	assert.InDelta(t, 3, east, 1e-6)
	assert.InDelta(t, 4, north, 1e-6)
	assert.InDelta(t, 38.5, out.Altitude, 1e-6)
	assert.True(t, q.ApproxEqual(out.EastUpSouthQ, 1e-5))
}

func TestTraceRoundTrip(t *testing.T) {
	t.Parallel()
	frames := GenerateTrace(GenerateOptions{
		Origin:                  origin,
		Interval:                time.Second,
		PretrackingFor:          2 * time.Second,
		ConvergeOver:            4 * time.Second,
		HoldFor:                 2 * time.Second,
		StartHorizontalAccuracy: 30,
		EndHorizontalAccuracy:   2,
		StartHeadingAccuracy:    40,
		EndHeadingAccuracy:      4,
	})
	require.Len(t, frames, 9)
	assert.False(t, frames[1].EarthTracking)
	assert.Nil(t, frames[1].Sample)
	require.NotNil(t, frames[2].Sample)
	assert.Equal(t, 30.0, frames[2].Sample.HorizontalAccuracy)
	assert.Equal(t, 2.0, frames[8].Sample.HorizontalAccuracy)
	assert.Equal(t, 4.0, frames[6].Sample.HeadingAccuracy)

	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, frames))
	back, err := ReadTrace(&buf)
	require.NoError(t, err)
	assert.Equal(t, frames, back)
}

func TestReadTrace_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad json", "{\"offset_ms\": 0}\nnot json\n"},
		{"out of order", "{\"offset_ms\": 10}\n{\"offset_ms\": 5}\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadTrace(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestReadTrace_DefaultsEarthState(t *testing.T) {
	t.Parallel()
	frames, err := ReadTrace(strings.NewReader("{\"offset_ms\": 0}\n\n{\"offset_ms\": 5, \"earth_state\": \"error_not_authorized\"}\n"))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, positioning.EarthEnabled, frames[0].EarthState)
	assert.False(t, frames[1].EarthState.Enabled())
}
