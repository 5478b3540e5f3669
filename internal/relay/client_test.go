package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
		return Envelope{}
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-ns", client.Namespace())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
	})
}

func TestJoinAndSend(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("delivers broadcasts to subscribers", func(t *testing.T) {
		sub, err := client.Join(ctx, "project_p1")
		require.NoError(t, err)
		defer sub.Close()
		assert.Equal(t, "project_p1", sub.Topic())

		env, err := Broadcast("cursor", map[string]float64{"x": 1, "y": 2})
		require.NoError(t, err)
		require.NoError(t, client.Send(ctx, "project_p1", env))

		got := receive(t, sub)
		assert.Equal(t, TypeBroadcast, got.Type)
		assert.Equal(t, "cursor", got.Event)
		assert.JSONEq(t, `{"x":1,"y":2}`, string(got.Payload))
	})

	t.Run("topics are isolated", func(t *testing.T) {
		sub, err := client.Join(ctx, "project_a")
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.Send(ctx, "project_b", Envelope{Type: TypeBroadcast, Event: "other"}))
		require.NoError(t, client.Send(ctx, "project_a", Envelope{Type: TypeBroadcast, Event: "mine"}))

		assert.Equal(t, "mine", receive(t, sub).Event)
	})

	t.Run("handles multiple subscribers", func(t *testing.T) {
		sub1, err := client.Join(ctx, "general")
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := client.Join(ctx, "general")
		require.NoError(t, err)
		defer sub2.Close()

		require.NoError(t, client.Send(ctx, "general", Envelope{Type: TypeBroadcast, Event: "general"}))

		assert.Equal(t, "general", receive(t, sub1).Event)
		assert.Equal(t, "general", receive(t, sub2).Event)
	})

	t.Run("malformed frames go to the error channel", func(t *testing.T) {
		sub, err := client.Join(ctx, "project_bad")
		require.NoError(t, err)
		defer sub.Close()

		channel := protocol.TopicChannel("test-ns", "project_bad")
		require.NoError(t, client.RedisClient().Publish(ctx, channel, "not json").Err())

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal envelope")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("close ends the event stream", func(t *testing.T) {
		sub, err := client.Join(ctx, "project_close")
		require.NoError(t, err)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("events channel not closed")
		}
	})
}

func TestJoin_FailsWhenRedisUnavailable(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Join(ctx, "general")
	assert.Error(t, err)
}

func TestPresence(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	topic := protocol.ProjectTopic("p1")

	sub, err := client.Join(ctx, topic)
	require.NoError(t, err)
	defer sub.Close()

	meta := protocol.PresenceMeta{UserID: "u1", UserName: "Ada", Color: "#fff", ProjectID: "p1", OnlineAt: 10}

	t.Run("track stores meta and announces join", func(t *testing.T) {
		require.NoError(t, client.Track(ctx, topic, "u1", meta))

		env := receive(t, sub)
		assert.Equal(t, TypePresence, env.Type)
		assert.Equal(t, PresenceEventJoin, env.Event)
		assert.Equal(t, "u1", env.Key)

		var got protocol.PresenceMeta
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, meta, got)

		state, err := client.PresenceState(ctx, topic)
		require.NoError(t, err)
		assert.Equal(t, map[string]protocol.PresenceMeta{"u1": meta}, state)
	})

	t.Run("untrack removes meta and announces leave", func(t *testing.T) {
		require.NoError(t, client.Untrack(ctx, topic, "u1"))

		env := receive(t, sub)
		assert.Equal(t, PresenceEventLeave, env.Event)
		assert.Equal(t, "u1", env.Key)

		state, err := client.PresenceState(ctx, topic)
		require.NoError(t, err)
		assert.Empty(t, state)
	})

	t.Run("untracking an absent key is a no-op", func(t *testing.T) {
		assert.NoError(t, client.Untrack(ctx, topic, "ghost"))
	})

	t.Run("malformed entries are skipped", func(t *testing.T) {
		key := protocol.PresenceKey("test-ns", topic)
		require.NoError(t, client.RedisClient().HSet(ctx, key, "broken", "{").Err())

		state, err := client.PresenceState(ctx, topic)
		require.NoError(t, err)
		assert.NotContains(t, state, "broken")
	})
}

func TestCursors(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.StoreCursor(ctx, "p1", protocol.Cursor{UserID: "u1", X: 1, Y: 2, UpdatedAt: 5}))
	require.NoError(t, client.StoreCursor(ctx, "p1", protocol.Cursor{UserID: "u1", X: 3, Y: 4, UpdatedAt: 6}))
	require.NoError(t, client.StoreCursor(ctx, "p1", protocol.Cursor{UserID: "u2", X: 9, Y: 9, UpdatedAt: 7}))
	require.NoError(t, client.StoreCursor(ctx, "p2", protocol.Cursor{UserID: "u3"}))

	cursors, err := client.Cursors(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, cursors, 2)
	assert.Equal(t, protocol.Cursor{UserID: "u1", X: 3, Y: 4, UpdatedAt: 6}, cursors["u1"], "latest cursor wins")

	empty, err := client.Cursors(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageMirror(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := protocol.NewMessage("u1", &protocol.SetTrackVolumeParams{TrackID: "t1", Volume: i}, time.UnixMilli(int64(1000+i)))
		msg.MessageID = fmt.Sprintf("msg-%d", i)
		require.NoError(t, client.MirrorMessage(ctx, "p1", msg))
	}

	t.Run("reads everything in append order", func(t *testing.T) {
		msgs, err := client.MirroredMessages(ctx, "p1", "", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, msg := range msgs {
			assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.MessageID)
			params, ok := msg.Params.(*protocol.SetTrackVolumeParams)
			require.True(t, ok)
			assert.Equal(t, i, params.Volume)
		}
	})

	t.Run("respects count", func(t *testing.T) {
		msgs, err := client.MirroredMessages(ctx, "p1", "-", 2)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("trims to max length", func(t *testing.T) {
		client.SetMirrorMaxLen(2)
		msg := protocol.NewMessage("u1", &protocol.PlayParams{}, time.UnixMilli(2000))
		require.NoError(t, client.MirrorMessage(ctx, "p1", msg))

		msgs, err := client.MirroredMessages(ctx, "p1", "", 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
		assert.Equal(t, msg.MessageID, msgs[1].MessageID)
	})

	t.Run("empty stream reads as empty", func(t *testing.T) {
		msgs, err := client.MirroredMessages(ctx, "missing", "", 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(redis.Nil))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", redis.Nil)))
	assert.False(t, IsNotFound(fmt.Errorf("other")))
}
