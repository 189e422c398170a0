package reconcile

import (
	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
)

// Command is a user action executed on the frame timeline.
type Command interface {
	isCommand()
}

// AddAnchorCommand places an anchor at the camera, or at WorldTransform
// when it is set.
type AddAnchorCommand struct {
	UseTerrain     bool
	WorldTransform *geo.Transform
}

// ClearAllCommand removes every anchor and the saved descriptors.
type ClearAllCommand struct{}

// RestartSessionCommand discards the session and starts a fresh one.
type RestartSessionCommand struct{}

func (AddAnchorCommand) isCommand()      {}
func (ClearAllCommand) isCommand()       {}
func (RestartSessionCommand) isCommand() {}

// CommandResult is the outcome of one command.
type CommandResult struct {
	AnchorID  anchors.ID
	Removed   []anchors.ID
	SessionID string // set by RestartSessionCommand
	Err       error
}
