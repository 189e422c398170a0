// Package persist provides saved-anchor storage backed by a JSON
// preferences file or by memory.
package persist

import (
	"sync"

	"github.com/banshee-data/geoanchor/internal/anchors"
)

// PrivacyNoticeKey is the preference recording that the user accepted the
// geospatial privacy notice.
const PrivacyNoticeKey = "privacy_notice_acknowledged"

// Preferences persists user acknowledgements alongside the anchors.
type Preferences interface {
	PrivacyNoticeAcknowledged() (bool, error)
	SetPrivacyNoticeAcknowledged(ack bool) error
}

// Store is a Persistence that also keeps preferences.
type Store interface {
	anchors.Persistence
	Preferences
}

// MemoryStore keeps descriptors for the life of the process.
type MemoryStore struct {
	mu          sync.Mutex
	descriptors []anchors.SavedDescriptor
	privacyAck  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the saved descriptors.
func (m *MemoryStore) Load() ([]anchors.SavedDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]anchors.SavedDescriptor, len(m.descriptors))
	copy(out, m.descriptors)
	return out, nil
}

// Save replaces the saved descriptors.
func (m *MemoryStore) Save(descriptors []anchors.SavedDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors = make([]anchors.SavedDescriptor, len(descriptors))
	copy(m.descriptors, descriptors)
	return nil
}

// Clear drops every descriptor.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors = nil
	return nil
}

// PrivacyNoticeAcknowledged reports the stored acknowledgement.
func (m *MemoryStore) PrivacyNoticeAcknowledged() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.privacyAck, nil
}

// SetPrivacyNoticeAcknowledged stores the acknowledgement.
func (m *MemoryStore) SetPrivacyNoticeAcknowledged(ack bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privacyAck = ack
	return nil
}
