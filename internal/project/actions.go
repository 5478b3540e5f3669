package project

import (
	"github.com/dyluth/stave/pkg/protocol"
)

// ActionType names a reducer transition. Wire actions that change the
// document reuse the protocol name; the rest are local to the client.
type ActionType string

const (
	ActionLoadProject        ActionType = "LOAD_PROJECT"
	ActionAddTrack           ActionType = ActionType(protocol.ActionAddTrack)
	ActionRemoveTrack        ActionType = ActionType(protocol.ActionRemoveTrack)
	ActionUpdateTrack        ActionType = ActionType(protocol.ActionUpdateTrack)
	ActionSetTrackVolume     ActionType = ActionType(protocol.ActionSetTrackVolume)
	ActionMuteTrack          ActionType = ActionType(protocol.ActionMuteTrack)
	ActionSoloTrack          ActionType = ActionType(protocol.ActionSoloTrack)
	ActionArmTrack           ActionType = ActionType(protocol.ActionArmTrack)
	ActionLockTrack          ActionType = ActionType(protocol.ActionLockTrack)
	ActionUnlockTrack        ActionType = ActionType(protocol.ActionUnlockTrack)
	ActionAddBlock           ActionType = ActionType(protocol.ActionAddBlock)
	ActionRemoveBlock        ActionType = ActionType(protocol.ActionRemoveBlock)
	ActionMoveBlock          ActionType = ActionType(protocol.ActionMoveBlock)
	ActionResizeBlock        ActionType = ActionType(protocol.ActionResizeBlock)
	ActionUpdateBlock        ActionType = ActionType(protocol.ActionUpdateBlock)
	ActionStartEditingBlock  ActionType = ActionType(protocol.ActionStartEditingBlock)
	ActionEndEditingBlock    ActionType = ActionType(protocol.ActionEndEditingBlock)
	ActionAddMarker          ActionType = ActionType(protocol.ActionAddMarker)
	ActionUpdateMarker       ActionType = ActionType(protocol.ActionUpdateMarker)
	ActionRemoveMarker       ActionType = ActionType(protocol.ActionRemoveMarker)
	ActionSetPlaying         ActionType = "SET_PLAYING"
	ActionSetCurrentBeat     ActionType = "SET_CURRENT_BEAT"
	ActionSetBPM             ActionType = "SET_BPM"
	ActionSetMasterVolume    ActionType = "SET_MASTER_VOLUME"
	ActionUpdateSettings     ActionType = ActionType(protocol.ActionUpdateSettings)
	ActionSelectBlock        ActionType = "SELECT_BLOCK"
	ActionSetActiveTool      ActionType = "SET_ACTIVE_TOOL"
	ActionSetZoom            ActionType = "SET_ZOOM"
	ActionSetScroll          ActionType = "SET_SCROLL"
	ActionSetLoading         ActionType = "SET_LOADING"
	ActionSetError           ActionType = "SET_ERROR"
	ActionUserJoined         ActionType = ActionType(protocol.ActionUserJoined)
	ActionUserLeft           ActionType = ActionType(protocol.ActionUserLeft)
	ActionUpdateUserCursor   ActionType = "UPDATE_USER_CURSOR"
	ActionRestoreToTimestamp ActionType = "RESTORE_TO_TIMESTAMP"
)

// Action is one reducer input. Payload must be the type documented for
// Type; a mismatched payload leaves the state unchanged.
//
//	LOAD_PROJECT                 LoadProjectPayload
//	ADD_TRACK .. UPDATE_SETTINGS the matching *protocol.XxxParams
//	USER_JOINED, USER_LEFT       *protocol.UserJoinedParams, *protocol.UserLeftParams
//	SET_*, SELECT_BLOCK, ...     the payload struct of the same name below
type Action struct {
	Type    ActionType
	Payload any
	Meta    *Meta
}

// Meta describes who performed an action. Only actions with Trackable set
// are recorded in the history.
type Meta struct {
	UserID      string
	UserName    string
	Timestamp   int64
	Description string
	Trackable   bool
}

// NewMeta returns trackable metadata.
func NewMeta(userID, userName string, timestamp int64, description string) *Meta {
	return &Meta{
		UserID:      userID,
		UserName:    userName,
		Timestamp:   timestamp,
		Description: description,
		Trackable:   true,
	}
}

type LoadProjectPayload struct {
	Project protocol.Project
	Tracks  []protocol.Track
	Blocks  []protocol.Block
	Markers []protocol.Marker
}

type SetPlayingPayload struct{ Playing bool }

type SetCurrentBeatPayload struct{ Beat float64 }

type SetBPMPayload struct{ BPM float64 }

type SetMasterVolumePayload struct{ Volume float64 }

type SelectBlockPayload struct{ BlockID string }

type SetActiveToolPayload struct{ Tool string }

type SetZoomPayload struct{ Zoom float64 }

type SetScrollPayload struct{ X, Y float64 }

type SetLoadingPayload struct{ Loading bool }

type SetErrorPayload struct{ Error string }

type UpdateUserCursorPayload struct {
	UserID string
	X, Y   float64
}

type RestoreToTimestampPayload struct{ Timestamp int64 }

// FromMessage maps a wire message onto the reducer action that applies it.
// Messages with no document effect (file transfer, SAVE_PROJECT, ...)
// return ok=false.
func FromMessage(msg *protocol.UserInteractionMessage, userName string) (Action, bool) {
	meta := NewMeta(msg.UserID, userName, msg.Timestamp, protocol.Describe(msg.Action, msg.Params))

	switch p := msg.Params.(type) {
	case *protocol.ChangeBPMParams:
		return Action{Type: ActionSetBPM, Payload: SetBPMPayload{BPM: p.BPM}, Meta: meta}, true
	case *protocol.PlayParams:
		return Action{Type: ActionSetPlaying, Payload: SetPlayingPayload{Playing: true}}, true
	case *protocol.PauseParams:
		return Action{Type: ActionSetPlaying, Payload: SetPlayingPayload{Playing: false}}, true
	case *protocol.SeekParams:
		return Action{Type: ActionSetCurrentBeat, Payload: SetCurrentBeatPayload{Beat: p.Beat}}, true
	case *protocol.RestartParams:
		return Action{Type: ActionSetCurrentBeat, Payload: SetCurrentBeatPayload{Beat: 0}}, true
	case *protocol.CursorMoveParams:
		return Action{Type: ActionUpdateUserCursor, Payload: UpdateUserCursorPayload{UserID: msg.UserID, X: p.X, Y: p.Y}}, true
	case *protocol.ImportSampleParams:
		return Action{Type: ActionAddBlock, Payload: &protocol.AddBlockParams{Block: p.Block}, Meta: meta}, true
	case *protocol.UserJoinedParams, *protocol.UserLeftParams:
		return Action{Type: ActionType(msg.Action), Payload: p}, true
	case *protocol.StartEditingBlockParams, *protocol.EndEditingBlockParams:
		return Action{Type: ActionType(msg.Action), Payload: p}, true
	}

	switch msg.Action {
	case protocol.ActionAddTrack, protocol.ActionRemoveTrack, protocol.ActionUpdateTrack,
		protocol.ActionSetTrackVolume, protocol.ActionMuteTrack, protocol.ActionSoloTrack,
		protocol.ActionArmTrack, protocol.ActionLockTrack, protocol.ActionUnlockTrack,
		protocol.ActionAddBlock, protocol.ActionRemoveBlock, protocol.ActionMoveBlock,
		protocol.ActionResizeBlock, protocol.ActionUpdateBlock,
		protocol.ActionAddMarker, protocol.ActionUpdateMarker, protocol.ActionRemoveMarker,
		protocol.ActionUpdateSettings:
		return Action{Type: ActionType(msg.Action), Payload: msg.Params, Meta: meta}, true
	}
	return Action{}, false
}
