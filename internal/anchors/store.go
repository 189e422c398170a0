package anchors

import (
	"fmt"
	"sort"
	"time"
)

// TerrainResolutionEntry marks a terrain anchor whose resolution is being
// narrated. It exists while the anchor is InProgress, and until the first
// frame that observes completion has consumed it.
type TerrainResolutionEntry struct {
	AnchorID  ID
	StartedAt time.Time
}

// Store holds the live anchor records and the terrain-resolution index.
// It is exclusively owned by the frame loop and is not safe for concurrent
// use.
type Store struct {
	records map[ID]*Record
	order   []ID // insertion order, for stable rendering

	// terrain is keyed by anchor id so per-frame scans cost
	// O(terrain anchors in flight), not O(all anchors).
	terrain map[ID]TerrainResolutionEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[ID]*Record),
		terrain: make(map[ID]TerrainResolutionEntry),
	}
}

// Len returns the number of records, including Stopped ones.
func (s *Store) Len() int { return len(s.records) }

// Insert adds a record. The store has no ceiling; the lifecycle manager
// applies capacity policy before calling Insert.
func (s *Store) Insert(r Record) error {
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("insert %s: %w", r.ID, ErrDuplicateID)
	}
	if r.Kind == KindWGS84 {
		r.Terrain = TerrainStateNone
	}
	rec := r
	s.records[r.ID] = &rec
	s.order = append(s.order, r.ID)
	return nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id ID) (Record, bool) {
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns copies of all records in insertion order.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// IDs returns all record ids in insertion order.
func (s *Store) IDs() []ID {
	out := make([]ID, len(s.order))
	copy(out, s.order)
	return out
}

// UpdateFromLiveSnapshot refreshes each record's volatile fields from the
// backend's anchor list. Records missing from the snapshot are marked
// Stopped but kept; removal is always explicit. Terrain state only moves
// forward (None → InProgress → Success|Error); regressions are ignored.
// Snapshot entries for unknown ids are ignored.
func (s *Store) UpdateFromLiveSnapshot(live []LiveAnchor) {
	seen := make(map[ID]bool, len(live))
	for _, la := range live {
		r, ok := s.records[la.ID]
		if !ok {
			continue
		}
		seen[la.ID] = true
		r.Tracking = la.Tracking
		r.Pose = la.Pose
		if r.Kind == KindTerrain {
			next := la.Terrain
			// Geospatial mode being disabled drops terrain anchors back to
			// None; from our side that is a failed resolution.
			if next.Status == TerrainNone && r.Terrain.Status != TerrainNone {
				next = TerrainStateError(ReasonInternal)
			}
			if next.rank() > r.Terrain.rank() {
				r.Terrain = next
			}
		}
	}
	for id, r := range s.records {
		if !seen[id] {
			r.Tracking = TrackingStopped
		}
	}
}

// Remove deletes a record and any terrain entry it owns. It reports whether
// the id was present.
func (s *Store) Remove(id ID) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	delete(s.terrain, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoveAll deletes every record and terrain entry, returning the removed
// ids in insertion order.
func (s *Store) RemoveAll() []ID {
	removed := s.order
	s.records = make(map[ID]*Record)
	s.terrain = make(map[ID]TerrainResolutionEntry)
	s.order = nil
	return removed
}

// BeginTerrainResolution starts narrating a terrain anchor's resolution.
// The record moves to InProgress. Calling it twice for the same anchor is
// an error; terrain state never goes InProgress → InProgress.
func (s *Store) BeginTerrainResolution(id ID, now time.Time) error {
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("begin terrain resolution %s: %w", id, ErrUnknownID)
	}
	if r.Kind != KindTerrain {
		return fmt.Errorf("begin terrain resolution %s: %w", id, ErrNotTerrain)
	}
	if _, ok := s.terrain[id]; ok || r.Terrain.Status != TerrainNone {
		return fmt.Errorf("begin terrain resolution %s: already %s", id, r.Terrain)
	}
	r.Terrain = TerrainStateInProgress
	s.terrain[id] = TerrainResolutionEntry{AnchorID: id, StartedAt: now}
	return nil
}

// FinishTerrainResolution drops the entry for id. It is a no-op when no
// entry exists.
func (s *Store) FinishTerrainResolution(id ID) {
	delete(s.terrain, id)
}

// TerrainEntry returns the resolution entry for id.
func (s *Store) TerrainEntry(id ID) (TerrainResolutionEntry, bool) {
	e, ok := s.terrain[id]
	return e, ok
}

// TerrainEntries returns all entries ordered by start time, then id.
func (s *Store) TerrainEntries() []TerrainResolutionEntry {
	out := make([]TerrainResolutionEntry, 0, len(s.terrain))
	for _, e := range s.terrain {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].AnchorID < out[j].AnchorID
	})
	return out
}
