package anchors

import (
	"fmt"

	"github.com/banshee-data/geoanchor/internal/geo"
)

// SavedDescriptor is the persisted form of an anchor. Exactly one of
// Heading or Quaternion is set. Altitude is absent for terrain anchors, and
// that absence is what decides the kind on read; Terrain is written for
// readers that prefer an explicit flag.
type SavedDescriptor struct {
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Altitude   *float64        `json:"altitude,omitempty"`
	Heading    *float64        `json:"heading,omitempty"`
	Quaternion *geo.Quaternion `json:"quaternion,omitempty"`
	Terrain    bool            `json:"terrain"`
}

// Persistence is durable storage for saved anchor descriptors.
type Persistence interface {
	Load() ([]SavedDescriptor, error)
	Save(descriptors []SavedDescriptor) error
	Clear() error
}

// NewSavedDescriptor builds the descriptor for an anchor being created.
func NewSavedDescriptor(kind Kind, coord geo.Coordinate, altitude float64, o geo.Orientation) SavedDescriptor {
	d := SavedDescriptor{
		Latitude:  coord.Latitude,
		Longitude: coord.Longitude,
		Terrain:   kind == KindTerrain,
	}
	if kind == KindWGS84 {
		alt := altitude
		d.Altitude = &alt
	}
	if h, ok := o.Heading(); ok {
		d.Heading = &h
	} else {
		q, _ := o.RawQuaternion()
		d.Quaternion = &q
	}
	return d
}

// Kind returns the anchor kind encoded by the descriptor.
func (d SavedDescriptor) Kind() Kind {
	if d.Altitude == nil {
		return KindTerrain
	}
	return KindWGS84
}

// Coordinate returns the descriptor's coordinate.
func (d SavedDescriptor) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: d.Latitude, Longitude: d.Longitude}
}

// Orientation decodes the descriptor's orientation.
func (d SavedDescriptor) Orientation() (geo.Orientation, error) {
	switch {
	case d.Heading != nil && d.Quaternion != nil:
		return geo.Orientation{}, fmt.Errorf("descriptor at %s has both heading and quaternion", d.Coordinate())
	case d.Heading != nil:
		return geo.HeadingOrientation(*d.Heading), nil
	case d.Quaternion != nil:
		return geo.QuaternionOrientation(*d.Quaternion), nil
	default:
		return geo.Orientation{}, fmt.Errorf("descriptor at %s has no orientation", d.Coordinate())
	}
}

// Validate checks that the descriptor can be replayed.
func (d SavedDescriptor) Validate() error {
	if !d.Coordinate().Valid() {
		return fmt.Errorf("descriptor coordinate %s out of range", d.Coordinate())
	}
	_, err := d.Orientation()
	return err
}
