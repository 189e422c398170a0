package reconcile

import (
	"errors"
	"fmt"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/session"
)

// Status texts shown to the user.
const (
	MsgPretracking         = "Localizing your device to set anchor."
	MsgLocalizingTip       = "Point your camera at buildings, stores, and signs near you."
	MsgVPSUnavailable      = "VPS is not available at this location.\nLocalization may take longer or not complete."
	MsgLocalizationFailed  = "Localization not possible.\nClose and open the app to restart the session."
	MsgPermissionDenied    = "Location permission denied.\nAllow precise location access to use geospatial anchors."
	MsgLocalizationDone    = "Localization complete."
	MsgTerrainStalled      = "Still resolving the terrain anchor.\nPlease make sure you're in an area that has VPS coverage."
	MsgTerrainExhausted    = "Too many terrain anchors have already been held. Clear all anchors to create new ones."
	MsgNotLocalized        = "Wait for localization to complete before adding anchors."
	MsgCreateFailed        = "Could not create the anchor. Try again."
	MsgClearPersistFailure = "Anchors cleared, but saved anchors could not be removed."
)

func earthErrorMessage(s positioning.EarthState) string {
	switch s {
	case positioning.EarthErrorNotAuthorized:
		return "Geospatial API is not authorized.\nCheck the API key and project setup."
	case positioning.EarthErrorResourceExhausted:
		return "Geospatial API quota exhausted.\nTry again later."
	case positioning.EarthErrorInternal:
		return "Geospatial API encountered an internal error."
	default:
		return fmt.Sprintf("Earth is not enabled (%s).", s)
	}
}

func capacityMessage(max int) string {
	return fmt.Sprintf("Cannot add more than %d anchors. Clear all anchors to create new ones.", max)
}

func terrainStateMessage(s anchors.TerrainState) string {
	return fmt.Sprintf("Terrain anchor state: %s", s)
}

func anchorCountMessage(n int) string {
	return fmt.Sprintf("Num anchors: %d", n)
}

// noticeFor maps a user-action error to the text shown until the next action.
func noticeFor(err error, maxAnchors int) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, anchors.ErrSessionFailed):
		return ""
	case errors.Is(err, anchors.ErrResourceExhausted):
		return MsgTerrainExhausted
	case errors.Is(err, anchors.ErrCapacityExceeded):
		return capacityMessage(maxAnchors)
	case errors.Is(err, anchors.ErrNotLocalized):
		return MsgNotLocalized
	case errors.Is(err, anchors.ErrPersistence):
		return MsgClearPersistFailure
	default:
		return MsgCreateFailed
	}
}

// frameStatus carries what statusMessage needs from one reconcile pass.
type frameStatus struct {
	stalled  bool
	resolved []anchors.TerrainState
	pending  bool
	count    int
}

// statusMessage picks the single status line, highest priority first:
// failure, pretracking, localizing tip, terrain narration, action notice,
// anchor count, localization complete.
func statusMessage(sc *session.Context, fs frameStatus) string {
	switch sc.State() {
	case localization.StateFailed:
		switch sc.Machine.FailureCause() {
		case localization.FailurePermissionDenied:
			return MsgPermissionDenied
		case localization.FailureEarthDisabled:
			return earthErrorMessage(sc.EarthState)
		default:
			return MsgLocalizationFailed
		}
	case localization.StatePretracking:
		return MsgPretracking
	case localization.StateLocalizing:
		if sc.VPS == positioning.VPSUnavailable {
			return MsgVPSUnavailable
		}
		return MsgLocalizingTip
	}

	switch {
	case fs.stalled:
		return MsgTerrainStalled
	case len(fs.resolved) > 0:
		return terrainStateMessage(fs.resolved[len(fs.resolved)-1])
	case fs.pending:
		return terrainStateMessage(anchors.TerrainStateInProgress)
	case sc.Notice != "":
		return sc.Notice
	case fs.count > 0:
		return anchorCountMessage(fs.count)
	default:
		return MsgLocalizationDone
	}
}
