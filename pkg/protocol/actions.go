package protocol

import "fmt"

// ActionType names a user interaction that peers replicate.
// The set is closed: a peer that receives anything else keeps the message
// as RawParams and the reducer ignores it.
type ActionType string

const (
	// Project
	ActionCreateProject ActionType = "CREATE_PROJECT"
	ActionOpenProject   ActionType = "OPEN_PROJECT"
	ActionSaveProject   ActionType = "SAVE_PROJECT"

	// Tracks
	ActionAddTrack       ActionType = "ADD_TRACK"
	ActionRemoveTrack    ActionType = "REMOVE_TRACK"
	ActionUpdateTrack    ActionType = "UPDATE_TRACK"
	ActionMuteTrack      ActionType = "MUTE_TRACK"
	ActionSoloTrack      ActionType = "SOLO_TRACK"
	ActionArmTrack       ActionType = "ARM_TRACK"
	ActionSetTrackVolume ActionType = "SET_TRACK_VOLUME"
	ActionLockTrack      ActionType = "LOCK_TRACK"
	ActionUnlockTrack    ActionType = "UNLOCK_TRACK"

	// Blocks
	ActionAddBlock          ActionType = "ADD_BLOCK"
	ActionRemoveBlock       ActionType = "REMOVE_BLOCK"
	ActionMoveBlock         ActionType = "MOVE_BLOCK"
	ActionResizeBlock       ActionType = "RESIZE_BLOCK"
	ActionUpdateBlock       ActionType = "UPDATE_BLOCK"
	ActionStartEditingBlock ActionType = "START_EDITING_BLOCK"
	ActionEndEditingBlock   ActionType = "END_EDITING_BLOCK"

	// Markers
	ActionAddMarker    ActionType = "ADD_MARKER"
	ActionUpdateMarker ActionType = "UPDATE_MARKER"
	ActionRemoveMarker ActionType = "REMOVE_MARKER"

	// Files
	ActionInitiateUpload ActionType = "INITIATE_UPLOAD"
	ActionUploadChunk    ActionType = "UPLOAD_CHUNK"
	ActionCompleteUpload ActionType = "COMPLETE_UPLOAD"
	ActionImportSample   ActionType = "IMPORT_SAMPLE"

	// Playback
	ActionPlay      ActionType = "PLAY"
	ActionPause     ActionType = "PAUSE"
	ActionRestart   ActionType = "RESTART"
	ActionSeek      ActionType = "SEEK"
	ActionChangeBPM ActionType = "CHANGE_BPM"

	// Settings
	ActionUpdateSettings ActionType = "UPDATE_SETTINGS"

	// Presence
	ActionUserJoined ActionType = "USER_JOINED"
	ActionUserLeft   ActionType = "USER_LEFT"
	ActionCursorMove ActionType = "CURSOR_MOVE"
)

var allActionTypes = []ActionType{
	ActionCreateProject, ActionOpenProject, ActionSaveProject,
	ActionAddTrack, ActionRemoveTrack, ActionUpdateTrack, ActionMuteTrack,
	ActionSoloTrack, ActionArmTrack, ActionSetTrackVolume, ActionLockTrack,
	ActionUnlockTrack,
	ActionAddBlock, ActionRemoveBlock, ActionMoveBlock, ActionResizeBlock,
	ActionUpdateBlock, ActionStartEditingBlock, ActionEndEditingBlock,
	ActionAddMarker, ActionUpdateMarker, ActionRemoveMarker,
	ActionInitiateUpload, ActionUploadChunk, ActionCompleteUpload,
	ActionImportSample,
	ActionPlay, ActionPause, ActionRestart, ActionSeek, ActionChangeBPM,
	ActionUpdateSettings,
	ActionUserJoined, ActionUserLeft, ActionCursorMove,
}

// AllActionTypes returns every known action in declaration order.
func AllActionTypes() []ActionType {
	out := make([]ActionType, len(allActionTypes))
	copy(out, allActionTypes)
	return out
}

// Validate checks if the ActionType is a known enum value.
func (a ActionType) Validate() error {
	for _, known := range allActionTypes {
		if a == known {
			return nil
		}
	}
	return fmt.Errorf("unknown action type: %q", a)
}

// IsFileAction reports whether messages of this action may carry a FilePayload.
func (a ActionType) IsFileAction() bool {
	switch a {
	case ActionInitiateUpload, ActionUploadChunk, ActionCompleteUpload, ActionImportSample:
		return true
	}
	return false
}

// DispatchProcessStatus is the local delivery lifecycle of a message.
type DispatchProcessStatus string

const (
	StatusPending            DispatchProcessStatus = "PENDING"
	StatusSent               DispatchProcessStatus = "SENT"
	StatusBroadcastToClients DispatchProcessStatus = "BROADCAST_TO_CLIENTS"
	StatusReceivedByClients  DispatchProcessStatus = "RECEIVED_BY_CLIENTS"
	StatusProcessed          DispatchProcessStatus = "PROCESSED"
	StatusAcknowledged       DispatchProcessStatus = "ACKNOWLEDGED"
	StatusFailed             DispatchProcessStatus = "FAILED"

	// File transfer sub-chain
	StatusUploadingFile                DispatchProcessStatus = "UPLOADING_FILE"
	StatusFileUploadSuccessfulClient   DispatchProcessStatus = "FILE_UPLOAD_SUCCESSFUL_CLIENT"
	StatusFileProcessingServer         DispatchProcessStatus = "FILE_PROCESSING_SERVER"
	StatusFileAvailableToCollaborators DispatchProcessStatus = "FILE_AVAILABLE_TO_COLLABORATORS"
	StatusFileUploadFailed             DispatchProcessStatus = "FILE_UPLOAD_FAILED"
)

// Validate checks if the status is a known enum value.
func (s DispatchProcessStatus) Validate() error {
	switch s {
	case StatusPending, StatusSent, StatusBroadcastToClients, StatusReceivedByClients,
		StatusProcessed, StatusAcknowledged, StatusFailed,
		StatusUploadingFile, StatusFileUploadSuccessfulClient, StatusFileProcessingServer,
		StatusFileAvailableToCollaborators, StatusFileUploadFailed:
		return nil
	default:
		return fmt.Errorf("unknown dispatch status: %q", s)
	}
}

// IsTerminal reports whether no further transition is expected.
func (s DispatchProcessStatus) IsTerminal() bool {
	switch s {
	case StatusAcknowledged, StatusFileAvailableToCollaborators, StatusFileUploadFailed:
		return true
	}
	return false
}

// ValidTransition reports whether from → to is a legal lifecycle step.
//
//	PENDING → SENT → BROADCAST_TO_CLIENTS → RECEIVED_BY_CLIENTS → PROCESSED → ACKNOWLEDGED
//	                         │
//	                         └→ UPLOADING_FILE → FILE_UPLOAD_SUCCESSFUL_CLIENT
//	                              → FILE_PROCESSING_SERVER → FILE_AVAILABLE_TO_COLLABORATORS
//
// Any non-terminal step may fail. FAILED returns to PENDING when re-queued.
func ValidTransition(from, to DispatchProcessStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusFailed
	case StatusSent:
		return to == StatusBroadcastToClients || to == StatusFailed
	case StatusBroadcastToClients:
		switch to {
		case StatusReceivedByClients, StatusAcknowledged, StatusFailed,
			StatusUploadingFile, StatusFileAvailableToCollaborators:
			return true
		}
		return false
	case StatusReceivedByClients:
		return to == StatusProcessed || to == StatusAcknowledged || to == StatusFailed
	case StatusProcessed:
		return to == StatusAcknowledged || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	case StatusUploadingFile:
		return to == StatusFileUploadSuccessfulClient || to == StatusFileUploadFailed
	case StatusFileUploadSuccessfulClient:
		return to == StatusFileProcessingServer || to == StatusFileAvailableToCollaborators ||
			to == StatusFileUploadFailed
	case StatusFileProcessingServer:
		return to == StatusFileAvailableToCollaborators || to == StatusFileUploadFailed
	}
	return false
}
