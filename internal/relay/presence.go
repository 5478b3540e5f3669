package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Presence is stored as a hash per topic (key → PresenceMeta JSON) so late
// joiners can query the full state. Every change is also announced on the
// topic as a presence envelope.

// Track records meta under key on topic and announces the join.
func (c *Client) Track(ctx context.Context, topic, key string, meta protocol.PresenceMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal presence meta: %w", err)
	}

	if err := c.rdb.HSet(ctx, protocol.PresenceKey(c.namespace, topic), key, data).Err(); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}

	return c.Send(ctx, topic, Envelope{Type: TypePresence, Event: PresenceEventJoin, Key: key, Payload: data})
}

// Untrack removes key from topic's presence and announces the leave.
// Untracking an absent key is not an error.
func (c *Client) Untrack(ctx context.Context, topic, key string) error {
	presenceKey := protocol.PresenceKey(c.namespace, topic)

	data, err := c.rdb.HGet(ctx, presenceKey, key).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}
	if err == redis.Nil {
		return nil
	}

	if err := c.rdb.HDel(ctx, presenceKey, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	return c.Send(ctx, topic, Envelope{Type: TypePresence, Event: PresenceEventLeave, Key: key, Payload: data})
}

// PresenceState returns every tracked member of topic.
// Malformed entries are skipped with a warning.
func (c *Client) PresenceState(ctx context.Context, topic string) (map[string]protocol.PresenceMeta, error) {
	raw, err := c.rdb.HGetAll(ctx, protocol.PresenceKey(c.namespace, topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence state: %w", err)
	}

	state := make(map[string]protocol.PresenceMeta, len(raw))
	for key, value := range raw {
		var meta protocol.PresenceMeta
		if err := json.Unmarshal([]byte(value), &meta); err != nil {
			log.Printf("[Relay] Skipping malformed presence entry %s on %s: %v", key, topic, err)
			continue
		}
		state[key] = meta
	}
	return state, nil
}

// StoreCursor persists the latest cursor of a user in a project.
func (c *Client) StoreCursor(ctx context.Context, projectID string, cursor protocol.Cursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := c.rdb.HSet(ctx, protocol.CursorKey(c.namespace, projectID), cursor.UserID, data).Err(); err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	}
	return nil
}

// Cursors returns the latest stored cursor of every user in a project.
func (c *Client) Cursors(ctx context.Context, projectID string) (map[string]protocol.Cursor, error) {
	raw, err := c.rdb.HGetAll(ctx, protocol.CursorKey(c.namespace, projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cursors: %w", err)
	}

	cursors := make(map[string]protocol.Cursor, len(raw))
	for userID, value := range raw {
		var cur protocol.Cursor
		if err := json.Unmarshal([]byte(value), &cur); err != nil {
			log.Printf("[Relay] Skipping malformed cursor for %s: %v", userID, err)
			continue
		}
		cursors[userID] = cur
	}
	return cursors, nil
}
