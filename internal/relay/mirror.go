package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// The message mirror keeps an append-only copy of every broadcast action per
// project in a Redis stream, the relay's equivalent of row-insert change
// events. Entries hold the message JSON in the "message" field.

// MirrorMessage appends msg to the project's stream.
func (c *Client) MirrorMessage(ctx context.Context, projectID string, msg *protocol.UserInteractionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message for mirror: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: protocol.MessageStreamKey(c.namespace, projectID),
		Values: map[string]interface{}{
			"message_id": msg.MessageID,
			"message":    string(data),
		},
	}
	if c.mirrorMaxLen > 0 {
		args.MaxLen = c.mirrorMaxLen
	}

	if err := c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to mirror message %s: %w", msg.MessageID, err)
	}
	return nil
}

// MirroredMessages returns up to count mirrored messages in append order,
// starting after the given stream id ("-" or "" for the beginning).
// count <= 0 returns everything.
func (c *Client) MirroredMessages(ctx context.Context, projectID, after string, count int64) ([]*protocol.UserInteractionMessage, error) {
	start := "-"
	if after != "" && after != "-" {
		start = "(" + after
	}

	stream := protocol.MessageStreamKey(c.namespace, projectID)
	var entries []redis.XMessage
	var err error
	if count > 0 {
		entries, err = c.rdb.XRangeN(ctx, stream, start, "+", count).Result()
	} else {
		entries, err = c.rdb.XRange(ctx, stream, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message mirror: %w", err)
	}

	messages := make([]*protocol.UserInteractionMessage, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["message"].(string)
		if !ok {
			return nil, fmt.Errorf("mirror entry %s has no message field", entry.ID)
		}
		var msg protocol.UserInteractionMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mirror entry %s: %w", entry.ID, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
