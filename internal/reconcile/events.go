package reconcile

import (
	"sync"

	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/session"
)

// Event is an asynchronous notification consumed between frames.
type Event interface {
	isEvent()
}

// VPSAvailabilityEvent reports the result of a VPS coverage check.
type VPSAvailabilityEvent struct {
	Availability positioning.VPSAvailability
}

// PermissionEvent reports a change in location permission.
type PermissionEvent struct {
	Status positioning.PermissionStatus
}

func (VPSAvailabilityEvent) isEvent() {}
func (PermissionEvent) isEvent()      {}

// EventQueue buffers events pushed from any goroutine until the frame loop
// drains them. Delivery is in push order, at most once.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

// Push enqueues an event.
func (q *EventQueue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// Drain removes and returns every queued event.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// ApplyEvent folds one event into the session.
func ApplyEvent(sc *session.Context, e Event) {
	switch ev := e.(type) {
	case VPSAvailabilityEvent:
		if ev.Availability.IsError() {
			opsf("session %s: VPS availability check failed: %s", sc.ID, ev.Availability)
			return
		}
		sc.VPS = ev.Availability
		diagf("session %s: VPS availability %s", sc.ID, ev.Availability)
	case PermissionEvent:
		sc.Permission = ev.Status
		diagf("session %s: location permission %s", sc.ID, ev.Status)
		if ev.Status == positioning.PermissionDenied {
			sc.Machine.Fail(localization.FailurePermissionDenied)
		}
	}
}
