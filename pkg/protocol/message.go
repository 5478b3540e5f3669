package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserInteractionMessage is the unit of synchronization between peers.
// MessageID is assigned once by the sender and never changes; State is the
// sender's local view of delivery and is only meaningful to peers for file
// transfers.
type UserInteractionMessage struct {
	UserID      string                `json:"userId"`
	Action      ActionType            `json:"action"`
	Params      Params                `json:"params"`
	Timestamp   int64                 `json:"timestamp"` // Unix milliseconds, set at send time
	State       DispatchProcessStatus `json:"state"`
	MessageID   string                `json:"messageId"`
	FilePayload *FilePayload          `json:"filePayload,omitempty"`
}

// FilePayload carries one chunk of a file transfer.
// Data is base64-encoded on the wire.
type FilePayload struct {
	TransferID  string `json:"transferId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	FileName    string `json:"fileName,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// GeneralMessageTypePing is never queued while the general channel is down.
const GeneralMessageTypePing = "ping"

// GeneralMessage is a cross-project announcement on the general channel.
type GeneralMessage struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// NewMessage builds a message stamped with now and a fresh id.
// The State starts at PENDING.
func NewMessage(userID string, params Params, now time.Time) *UserInteractionMessage {
	var action ActionType
	if params != nil {
		action = params.Action()
	}
	return &UserInteractionMessage{
		UserID:    userID,
		Action:    action,
		Params:    params,
		Timestamp: now.UnixMilli(),
		State:     StatusPending,
		MessageID: NewMessageID(now),
	}
}

// NewMessageID returns a globally unique id of the form msg-<unixms>-<random9>.
func NewMessageID(now time.Time) string {
	return fmt.Sprintf("msg-%d-%s", now.UnixMilli(), RandomSuffix(9))
}

// RandomSuffix returns n lowercase hex characters from a random UUID.
// n is capped at 32.
func RandomSuffix(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// Clone returns a copy whose State and FilePayload can be changed without
// affecting m. Params are treated as immutable and shared.
func (m *UserInteractionMessage) Clone() *UserInteractionMessage {
	c := *m
	if m.FilePayload != nil {
		fp := *m.FilePayload
		c.FilePayload = &fp
	}
	return &c
}

// Validate checks that the envelope is well formed.
// An unknown action is not an error here: peers keep forward compatibility.
func (m *UserInteractionMessage) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("message userId cannot be empty")
	}
	if m.Action == "" {
		return fmt.Errorf("message action cannot be empty")
	}
	if m.MessageID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if err := m.State.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	if m.Params != nil && m.Params.Action() != m.Action {
		return fmt.Errorf("params are for %s, message action is %s", m.Params.Action(), m.Action)
	}
	if m.FilePayload != nil {
		if m.FilePayload.TransferID == "" {
			return fmt.Errorf("file payload transferId cannot be empty")
		}
		if m.FilePayload.TotalChunks < 1 {
			return fmt.Errorf("file payload totalChunks must be >= 1, got %d", m.FilePayload.TotalChunks)
		}
		if m.FilePayload.ChunkIndex < 0 || m.FilePayload.ChunkIndex >= m.FilePayload.TotalChunks {
			return fmt.Errorf("file payload chunkIndex %d out of range [0,%d)", m.FilePayload.ChunkIndex, m.FilePayload.TotalChunks)
		}
	}
	return nil
}

type wireMessage struct {
	UserID      string                `json:"userId"`
	Action      ActionType            `json:"action"`
	Params      json.RawMessage       `json:"params"`
	Timestamp   int64                 `json:"timestamp"`
	State       DispatchProcessStatus `json:"state"`
	MessageID   string                `json:"messageId"`
	FilePayload *FilePayload          `json:"filePayload,omitempty"`
}

// MarshalJSON writes params as a plain object (never null).
func (m UserInteractionMessage) MarshalJSON() ([]byte, error) {
	params := json.RawMessage("{}")
	if m.Params != nil {
		raw, err := json.Marshal(m.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		params = raw
	}
	return json.Marshal(wireMessage{
		UserID:      m.UserID,
		Action:      m.Action,
		Params:      params,
		Timestamp:   m.Timestamp,
		State:       m.State,
		MessageID:   m.MessageID,
		FilePayload: m.FilePayload,
	})
}

// UnmarshalJSON selects the concrete Params type from the action field.
func (m *UserInteractionMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	params, err := DecodeParams(w.Action, w.Params)
	if err != nil {
		return fmt.Errorf("failed to unmarshal params for %s: %w", w.Action, err)
	}
	*m = UserInteractionMessage{
		UserID:      w.UserID,
		Action:      w.Action,
		Params:      params,
		Timestamp:   w.Timestamp,
		State:       w.State,
		MessageID:   w.MessageID,
		FilePayload: w.FilePayload,
	}
	return nil
}
