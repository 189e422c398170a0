package anchors

import (
	"errors"
	"fmt"
)

// Error taxonomy. None of these are fatal to the frame loop.
var (
	// ErrNotLocalized is returned for anchor actions outside Localized.
	ErrNotLocalized = errors.New("not localized")
	// ErrCapacityExceeded is returned when the live anchor count is at its limit.
	ErrCapacityExceeded = errors.New("anchor capacity exceeded")
	// ErrResourceExhausted is returned by the backend when too many terrain
	// resolutions are outstanding.
	ErrResourceExhausted = errors.New("terrain resolution quota exhausted")
	// ErrBackend wraps any other positioning subsystem rejection.
	ErrBackend = errors.New("positioning backend error")
	// ErrPersistence wraps descriptor read/write failures.
	ErrPersistence = errors.New("anchor persistence error")
	// ErrSessionFailed is returned for anchor actions once localization failed.
	ErrSessionFailed = errors.New("session failed")
	// ErrDuplicateID is returned by Store.Insert for an id already present.
	ErrDuplicateID = errors.New("duplicate anchor id")
	// ErrUnknownID is returned for operations on ids the store does not hold.
	ErrUnknownID = errors.New("unknown anchor id")
	// ErrNotTerrain is returned when terrain bookkeeping targets a WGS84 anchor.
	ErrNotTerrain = errors.New("anchor is not a terrain anchor")
)

// CreateError describes a failed anchor creation.
type CreateError struct {
	Op   string // "create_anchor" or "create_terrain_anchor"
	Kind error  // one of the sentinels above
	Err  error  // underlying cause, may be nil
}

func (e *CreateError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *CreateError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
