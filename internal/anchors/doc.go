// Package anchors owns the anchor data model: live anchor records, the
// in-memory AnchorStore with its terrain-resolution bookkeeping, the
// persisted descriptor format, and the error taxonomy shared by the
// lifecycle manager and the frame reconciler.
//
// The store is pure data: it performs no I/O and enforces no capacity
// ceiling. Capacity and localization policy live in the lifecycle package.
package anchors
