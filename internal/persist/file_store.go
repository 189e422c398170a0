package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/fsutil"
)

// maxPrefsFileSize bounds the preferences file read at startup.
const maxPrefsFileSize = 1 << 20

// prefsFile is the on-disk layout. Unknown keys are preserved.
type prefsFile struct {
	SavedAnchors []anchors.SavedDescriptor  `json:"saved_anchors"`
	PrivacyAck   bool                       `json:"privacy_notice_acknowledged"`
	Extra        map[string]json.RawMessage `json:"-"`
}

func (p *prefsFile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["saved_anchors"]; ok {
		if err := json.Unmarshal(v, &p.SavedAnchors); err != nil {
			return fmt.Errorf("saved_anchors: %w", err)
		}
		delete(raw, "saved_anchors")
	}
	if v, ok := raw[PrivacyNoticeKey]; ok {
		if err := json.Unmarshal(v, &p.PrivacyAck); err != nil {
			return fmt.Errorf("%s: %w", PrivacyNoticeKey, err)
		}
		delete(raw, PrivacyNoticeKey)
	}
	p.Extra = raw
	return nil
}

func (p prefsFile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	saved := p.SavedAnchors
	if saved == nil {
		saved = []anchors.SavedDescriptor{}
	}
	out["saved_anchors"] = saved
	out[PrivacyNoticeKey] = p.PrivacyAck
	return json.Marshal(out)
}

// FileStore keeps descriptors and preferences in one JSON file. Every
// operation is a whole-file read-modify-write.
type FileStore struct {
	mu   sync.Mutex
	fs   fsutil.FileSystem
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore for path. The file is created on the
// first write.
func NewFileStore(fsys fsutil.FileSystem, path string) *FileStore {
	return &FileStore{fs: fsys, path: path}
}

func (s *FileStore) read() (prefsFile, error) {
	var p prefsFile
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("%w: read %s: %v", anchors.ErrPersistence, s.path, err)
	}
	if len(data) > maxPrefsFileSize {
		return p, fmt.Errorf("%w: %s too large (%d bytes, max %d)", anchors.ErrPersistence, s.path, len(data), maxPrefsFileSize)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: parse %s: %v", anchors.ErrPersistence, s.path, err)
	}
	return p, nil
}

func (s *FileStore) write(p prefsFile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", anchors.ErrPersistence, s.path, err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", anchors.ErrPersistence, err)
	}
	return nil
}

// Load returns the saved descriptors. A missing file holds none.
func (s *FileStore) Load() ([]anchors.SavedDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.read()
	if err != nil {
		return nil, err
	}
	return p.SavedAnchors, nil
}

// Save replaces the saved descriptors, keeping other preferences.
func (s *FileStore) Save(descriptors []anchors.SavedDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.read()
	if err != nil {
		return err
	}
	p.SavedAnchors = descriptors
	return s.write(p)
}

// Clear drops every descriptor, keeping other preferences.
func (s *FileStore) Clear() error {
	return s.Save(nil)
}

// PrivacyNoticeAcknowledged reports the stored acknowledgement.
func (s *FileStore) PrivacyNoticeAcknowledged() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.read()
	if err != nil {
		return false, err
	}
	return p.PrivacyAck, nil
}

// SetPrivacyNoticeAcknowledged stores the acknowledgement.
func (s *FileStore) SetPrivacyNoticeAcknowledged(ack bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.read()
	if err != nil {
		return err
	}
	p.PrivacyAck = ack
	return s.write(p)
}
