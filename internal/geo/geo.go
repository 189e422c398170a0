// Package geo holds the geospatial value types shared by the localization
// and anchor layers: coordinates, per-frame samples, orientations and world
// transforms.
//
// Dependency rule: geo depends on nothing else in this module.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the WGS84 equatorial radius used for local tangent
// plane offsets.
const EarthRadiusMeters = 6378137.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
}

// GeospatialSample is one frame's camera pose and accuracy reading, as
// produced by the positioning subsystem. Samples are immutable values.
type GeospatialSample struct {
	Coordinate         Coordinate `json:"coordinate"`
	Altitude           float64    `json:"altitude"`            // metres above the WGS84 ellipsoid
	HorizontalAccuracy float64    `json:"horizontal_accuracy"` // metres, 1-sigma
	VerticalAccuracy   float64    `json:"vertical_accuracy"`   // metres, 1-sigma
	Heading            float64    `json:"heading"`             // degrees, [0, 360)
	HeadingAccuracy    float64    `json:"heading_accuracy"`    // degrees, 1-sigma

	// EastUpSouthQ is the camera orientation in the east-up-south frame.
	EastUpSouthQ Quaternion `json:"east_up_south_q"`

	EarthTrackingActive bool `json:"earth_tracking_active"`
	EarthEnabled        bool `json:"earth_enabled"`
}

// TrackingText formats the sample for the on-screen tracking readout.
func (s GeospatialSample) TrackingText() string {
	return fmt.Sprintf(
		"LAT/LONG: %.6f°, %.6f°\n    ACCURACY: %.2fm\nALTITUDE: %.2fm\n    ACCURACY: %.2fm\nHEADING: %.1f°\n    ACCURACY: %.1f°",
		s.Coordinate.Latitude, s.Coordinate.Longitude, s.HorizontalAccuracy,
		s.Altitude, s.VerticalAccuracy,
		s.Heading, s.HeadingAccuracy,
	)
}

// OffsetCoordinate moves origin by east/north metres on the local tangent
// plane. Accurate to well under a centimetre for offsets of a few hundred
// metres, which is the range anchors are placed at.
func OffsetCoordinate(origin Coordinate, east, north float64) Coordinate {
	latRad := origin.Latitude * math.Pi / 180.0
	dLat := north / EarthRadiusMeters
	dLon := east / (EarthRadiusMeters * math.Cos(latRad))
	return Coordinate{
		Latitude:  origin.Latitude + dLat*180.0/math.Pi,
		Longitude: origin.Longitude + dLon*180.0/math.Pi,
	}
}

// LocalOffset is the inverse of OffsetCoordinate: the east/north metres
// from origin to c on the local tangent plane.
func LocalOffset(origin, c Coordinate) (east, north float64) {
	latRad := origin.Latitude * math.Pi / 180.0
	north = (c.Latitude - origin.Latitude) * math.Pi / 180.0 * EarthRadiusMeters
	east = (c.Longitude - origin.Longitude) * math.Pi / 180.0 * EarthRadiusMeters * math.Cos(latRad)
	return east, north
}
