// Package localization owns the localization-quality state machine.
//
// Responsibilities: turning the per-frame earth state and geospatial sample
// into one of Pretracking, Localizing, Localized or Failed, with asymmetric
// accuracy bands (hysteresis) and a frame-observed failure timeout.
// Key types: State, Thresholds, StateMachine.
//
// Dependency rule: localization may depend on geo and config, never on
// anchors or reconcile. No I/O is allowed in this package.
package localization
