package db

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
)

// PrivacyNoticeKey is the preferences row for the privacy acknowledgement.
const PrivacyNoticeKey = "privacy_notice_acknowledged"

// SavedAnchorStore keeps saved anchor descriptors and preferences in the
// saved_anchors and preferences tables.
type SavedAnchorStore struct {
	db *DB
}

// NewSavedAnchorStore wraps an opened, migrated database.
func NewSavedAnchorStore(db *DB) *SavedAnchorStore {
	return &SavedAnchorStore{db: db}
}

var _ anchors.Persistence = (*SavedAnchorStore)(nil)

// Load returns the descriptors in the order they were saved.
func (s *SavedAnchorStore) Load() ([]anchors.SavedDescriptor, error) {
	rows, err := s.db.Query(`
		SELECT latitude, longitude, altitude, heading, qx, qy, qz, qw, terrain
		FROM saved_anchors
		ORDER BY anchor_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query saved_anchors: %v", anchors.ErrPersistence, err)
	}
	defer rows.Close()

	out := []anchors.SavedDescriptor{}
	for rows.Next() {
		var (
			d              anchors.SavedDescriptor
			alt, heading   sql.NullFloat64
			qx, qy, qz, qw sql.NullFloat64
		)
		if err := rows.Scan(&d.Latitude, &d.Longitude, &alt, &heading, &qx, &qy, &qz, &qw, &d.Terrain); err != nil {
			return nil, fmt.Errorf("%w: scan saved_anchors: %v", anchors.ErrPersistence, err)
		}
		if alt.Valid {
			d.Altitude = &alt.Float64
		}
		if heading.Valid {
			d.Heading = &heading.Float64
		}
		if qw.Valid {
			d.Quaternion = &geo.Quaternion{
				X: float32(qx.Float64),
				Y: float32(qy.Float64),
				Z: float32(qz.Float64),
				W: float32(qw.Float64),
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate saved_anchors: %v", anchors.ErrPersistence, err)
	}
	return out, nil
}

// Save replaces every stored descriptor in one transaction.
func (s *SavedAnchorStore) Save(descriptors []anchors.SavedDescriptor) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", anchors.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM saved_anchors`); err != nil {
		return fmt.Errorf("%w: clear saved_anchors: %v", anchors.ErrPersistence, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO saved_anchors (latitude, longitude, altitude, heading, qx, qy, qz, qw, terrain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", anchors.ErrPersistence, err)
	}
	defer stmt.Close()

	for i, d := range descriptors {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: descriptor %d: %v", anchors.ErrPersistence, i, err)
		}
		var qx, qy, qz, qw sql.NullFloat64
		if d.Quaternion != nil {
			qx = sql.NullFloat64{Float64: float64(d.Quaternion.X), Valid: true}
			qy = sql.NullFloat64{Float64: float64(d.Quaternion.Y), Valid: true}
			qz = sql.NullFloat64{Float64: float64(d.Quaternion.Z), Valid: true}
			qw = sql.NullFloat64{Float64: float64(d.Quaternion.W), Valid: true}
		}
		if _, err := stmt.Exec(d.Latitude, d.Longitude, nullFloat(d.Altitude), nullFloat(d.Heading),
			qx, qy, qz, qw, d.Terrain); err != nil {
			return fmt.Errorf("%w: insert descriptor %d: %v", anchors.ErrPersistence, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", anchors.ErrPersistence, err)
	}
	return nil
}

// Clear deletes every stored descriptor.
func (s *SavedAnchorStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM saved_anchors`); err != nil {
		return fmt.Errorf("%w: clear saved_anchors: %v", anchors.ErrPersistence, err)
	}
	return nil
}

// PrivacyNoticeAcknowledged reports whether the notice was accepted.
func (s *SavedAnchorStore) PrivacyNoticeAcknowledged() (bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, PrivacyNoticeKey).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read preference: %v", anchors.ErrPersistence, err)
	}
	return v == "true", nil
}

// SetPrivacyNoticeAcknowledged stores the acknowledgement.
func (s *SavedAnchorStore) SetPrivacyNoticeAcknowledged(ack bool) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, PrivacyNoticeKey, fmt.Sprintf("%t", ack))
	if err != nil {
		return fmt.Errorf("%w: write preference: %v", anchors.ErrPersistence, err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
