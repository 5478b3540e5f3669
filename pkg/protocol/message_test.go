package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageIDPattern = regexp.MustCompile(`^msg-\d+-[0-9a-f]{9}$`)

func TestNewMessageID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewMessageID(now)

	assert.Regexp(t, messageIDPattern, id)
	assert.True(t, strings.HasPrefix(id, "msg-1700000000123-"))
	assert.NotEqual(t, id, NewMessageID(now), "ids must be unique even within one millisecond")
}

func TestNewMessage(t *testing.T) {
	now := time.UnixMilli(42)
	msg := NewMessage("local-abc", &SeekParams{Beat: 8}, now)

	assert.Equal(t, ActionSeek, msg.Action)
	assert.Equal(t, int64(42), msg.Timestamp)
	assert.Equal(t, StatusPending, msg.State)
	assert.NoError(t, msg.Validate())
}

func TestMessageJSON_TypedParams(t *testing.T) {
	msg := NewMessage("local-abc", &MoveBlockParams{BlockID: "b1", Track: 2, StartBeat: 16}, time.Now())
	msg.State = StatusSent

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"MOVE_BLOCK"`)
	assert.Contains(t, string(data), `"blockId":"b1"`)

	var decoded UserInteractionMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	params, ok := decoded.Params.(*MoveBlockParams)
	require.True(t, ok, "expected *MoveBlockParams, got %T", decoded.Params)
	assert.Equal(t, "b1", params.BlockID)
	assert.Equal(t, 2, params.Track)
	assert.Equal(t, 16.0, params.StartBeat)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, StatusSent, decoded.State)
}

func TestMessageJSON_UnknownAction(t *testing.T) {
	raw := `{"userId":"u2","action":"TIME_STRETCH","params":{"factor":1.5},"timestamp":1,"state":"SENT","messageId":"msg-1-abc"}`

	var decoded UserInteractionMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	params, ok := decoded.Params.(*RawParams)
	require.True(t, ok)
	assert.Equal(t, ActionType("TIME_STRETCH"), params.Action())
	assert.Equal(t, 1.5, params.Fields["factor"])

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Contains(t, string(again), `"factor":1.5`)
}

func TestMessageJSON_NilParamsEncodeAsObject(t *testing.T) {
	msg := &UserInteractionMessage{UserID: "u", Action: ActionRestart, State: StatusPending, MessageID: "m"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"params":{}`)

	var decoded UserInteractionMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.IsType(t, &RestartParams{}, decoded.Params)
}

func TestMessageJSON_FilePayloadRoundTrip(t *testing.T) {
	msg := NewMessage("u", &UploadChunkParams{TransferID: "tx", ChunkIndex: 1, TotalChunks: 3}, time.Now())
	msg.FilePayload = &FilePayload{TransferID: "tx", ChunkIndex: 1, TotalChunks: 3, Data: []byte{0x00, 0xff, 0x10}}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded UserInteractionMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.FilePayload)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, decoded.FilePayload.Data)
}

func TestMessageValidate(t *testing.T) {
	msg := NewMessage("u", &AddTrackParams{}, time.Now())
	assert.NoError(t, msg.Validate())

	mismatch := msg.Clone()
	mismatch.Action = ActionRemoveTrack
	assert.Error(t, mismatch.Validate())

	badChunk := msg.Clone()
	badChunk.FilePayload = &FilePayload{TransferID: "tx", ChunkIndex: 3, TotalChunks: 3}
	assert.Error(t, badChunk.Validate())

	noUser := msg.Clone()
	noUser.UserID = ""
	assert.Error(t, noUser.Validate())
}

func TestMessageClone_IndependentState(t *testing.T) {
	msg := NewMessage("u", &PlayParams{}, time.Now())
	msg.FilePayload = &FilePayload{TransferID: "tx", TotalChunks: 1}

	c := msg.Clone()
	c.State = StatusSent
	c.FilePayload.ChunkIndex = 7

	assert.Equal(t, StatusPending, msg.State)
	assert.Equal(t, 0, msg.FilePayload.ChunkIndex)
}
