package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMirror(t *testing.T) *relay.Client {
	mr := miniredis.RunT(t)

	client, err := relay.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	seed := []struct {
		id     string
		user   string
		ts     int64
		params protocol.Params
	}{
		{"msg-3000-ccccccccc", "u2", 3000, &protocol.MoveBlockParams{BlockID: "b1", Track: 1, StartBeat: 4}},
		{"msg-1000-aaaaaaaaa", "u1", 1000, &protocol.AddTrackParams{Track: protocol.Track{ID: "t1", Name: "Drums", Volume: 50}}},
		{"msg-2000-bbbbbbbbb", "u1", 2000, &protocol.AddBlockParams{Block: protocol.Block{ID: "b1", Track: 0, LengthBeats: 4}}},
	}
	for _, s := range seed {
		msg := protocol.NewMessage(s.user, s.params, time.UnixMilli(s.ts))
		msg.MessageID = s.id
		require.NoError(t, client.MirrorMessage(ctx, "p1", msg))
	}
	return client
}

func TestMessages(t *testing.T) {
	client := setupMirror(t)
	ctx := context.Background()

	t.Run("sorted by timestamp", func(t *testing.T) {
		msgs, err := Messages(ctx, client, "p1", nil)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, protocol.ActionAddTrack, msgs[0].Action)
		assert.Equal(t, protocol.ActionMoveBlock, msgs[2].Action)
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name    string
			filters FilterCriteria
			want    int
		}{
			{"since", FilterCriteria{SinceTimestampMs: 2000}, 2},
			{"until", FilterCriteria{UntilTimestampMs: 1500}, 1},
			{"action glob", FilterCriteria{ActionGlob: "*_BLOCK"}, 2},
			{"user", FilterCriteria{UserID: "u2"}, 1},
			{"combined", FilterCriteria{ActionGlob: "*_BLOCK", UserID: "u1"}, 1},
			{"bad glob matches nothing", FilterCriteria{ActionGlob: "["}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				msgs, err := Messages(ctx, client, "p1", &tt.filters)
				require.NoError(t, err)
				assert.Len(t, msgs, tt.want)
			})
		}
	})
}

func TestList(t *testing.T) {
	client := setupMirror(t)
	ctx := context.Background()

	t.Run("default format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, "p1", OutputFormatDefault, nil, &buf))

		out := buf.String()
		assert.Contains(t, out, "Messages for project 'p1'")
		assert.Contains(t, out, "ADD_TRACK")
		assert.Contains(t, out, "3 messages found")
	})

	t.Run("empty project", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, "empty", OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "No messages found for project 'empty'")
	})

	t.Run("jsonl format", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, client, "p1", OutputFormatJSONL, nil, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		var first protocol.UserInteractionMessage
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "msg-1000-aaaaaaaaa", first.MessageID)
	})

	t.Run("unknown format", func(t *testing.T) {
		err := List(ctx, client, "p1", OutputFormat("xml"), nil, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestGet(t *testing.T) {
	client := setupMirror(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, Get(ctx, client, "p1", "msg-2000-bbbbbbbbb", &buf))
	assert.Contains(t, buf.String(), `"action": "ADD_BLOCK"`)

	err := Get(ctx, client, "p1", "msg-nope", &bytes.Buffer{})
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(errors.New("other")))

	assert.Error(t, Get(ctx, client, "p1", "", &bytes.Buffer{}))
}

func TestFormatHelpers(t *testing.T) {
	now := time.UnixMilli(10 * 24 * 3600 * 1000)

	assert.Equal(t, "-", formatAge(0, now))
	assert.Equal(t, "5s ago", formatAge(now.Add(-5*time.Second).UnixMilli(), now))
	assert.Equal(t, "3m ago", formatAge(now.Add(-3*time.Minute).UnixMilli(), now))
	assert.Equal(t, "2h ago", formatAge(now.Add(-2*time.Hour).UnixMilli(), now))
	assert.Equal(t, "4d ago", formatAge(now.Add(-96*time.Hour).UnixMilli(), now))

	assert.Equal(t, "aaaaaaaaa", formatID("aaaaaaaaa"))
	assert.Equal(t, "0-abcdef12", formatID("msg-1000-abcdef12"))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijkl", 10))
	assert.Equal(t, "-", orDash(""))
}
