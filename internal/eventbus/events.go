package eventbus

import "github.com/dyluth/stave/pkg/protocol"

// Event names produced for the UI and the session.
// In addition, every protocol.ActionType is emitted under its own name
// (see ActionEvent) carrying the full *protocol.UserInteractionMessage.
const (
	ConnectionStatusChanged = "connectionStatusChanged"
	Connected               = "connected"
	PresenceSync            = "presenceSync"
	PresenceJoin            = "presenceJoin"
	PresenceLeave           = "presenceLeave"
	CursorMove              = "cursorMove"
	Message                 = "message"
	MessageStatusChanged    = "messageStatusChanged"
	FileAvailable           = "fileAvailable"
	FileComplete            = "fileComplete"
	FileTransferExpired     = "fileTransferExpired"
	GeneralMessage          = "generalMessage"
	GeneralPresenceSync     = "generalPresenceSync"
	GeneralPresenceJoin     = "generalPresenceJoin"
	GeneralPresenceLeave    = "generalPresenceLeave"
	StateChanged            = "stateChanged"
)

// ActionEvent returns the event name used for an action's messages.
func ActionEvent(action protocol.ActionType) string {
	return string(action)
}

// ConnectionStatusEvent is the payload of ConnectionStatusChanged.
type ConnectionStatusEvent struct {
	Channel string `json:"channel"` // "general" or "project"
	Status  string `json:"status"`
}

// ConnectedEvent is the payload of Connected.
type ConnectedEvent struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
}

// PresenceEvent is the payload of the presence events. State is the full
// presence map after the change; Key and Meta describe the joining or
// leaving member (empty for sync).
type PresenceEvent struct {
	Topic string                           `json:"topic"`
	Key   string                           `json:"key,omitempty"`
	Meta  *protocol.PresenceMeta           `json:"meta,omitempty"`
	State map[string]protocol.PresenceMeta `json:"state,omitempty"`
}

// CursorEvent is the payload of CursorMove.
type CursorEvent struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// FileCompleteEvent is the payload of FileComplete.
type FileCompleteEvent struct {
	TransferID string `json:"transferId"`
	FileName   string `json:"fileName,omitempty"`
	Data       []byte `json:"data"`
}

// StatusChangeEvent is the payload of MessageStatusChanged.
type StatusChangeEvent struct {
	MessageID string                         `json:"messageId"`
	From      protocol.DispatchProcessStatus `json:"from"`
	To        protocol.DispatchProcessStatus `json:"to"`
}

// StateChangedEvent is the payload of StateChanged, emitted by a session
// after every reducer dispatch.
type StateChangedEvent struct {
	Action string `json:"action"`
	UserID string `json:"userId,omitempty"`
	Remote bool   `json:"remote"`
}
