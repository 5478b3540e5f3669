package transport

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/pkg/protocol"
)

// connected returns the channel of the given kind and its live
// subscription, or ErrNotConnected.
func (t *Transport) connected(kind string) (*channel, *relay.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, ErrClosed
	}
	ch := t.general
	if kind == ChannelProject {
		ch = t.project
	}
	if ch == nil || ch.status != StatusConnected {
		return nil, nil, ErrNotConnected
	}
	return ch, ch.sub, nil
}

func (t *Transport) send(ctx context.Context, kind, event string, payload any) (*channel, error) {
	ch, sub, err := t.connected(kind)
	if err != nil {
		return nil, err
	}

	env, err := relay.Broadcast(event, payload)
	if err != nil {
		return nil, err
	}

	if err := t.relay.Send(ctx, ch.topic, env); err != nil {
		t.fail(ch, sub, err)
		return nil, fmt.Errorf("failed to broadcast %s on %s: %w", event, ch.topic, err)
	}
	return ch, nil
}

// BroadcastMessage sends an action message to everyone on the project
// channel and mirrors it to the project's message stream. A send failure
// drops the channel into reconnect and is returned; a mirror failure is
// only logged.
func (t *Transport) BroadcastMessage(ctx context.Context, msg *protocol.UserInteractionMessage) error {
	ch, err := t.send(ctx, ChannelProject, EventAction, msg)
	if err != nil {
		return err
	}

	if err := t.relay.MirrorMessage(ctx, ch.projectID, msg); err != nil {
		log.Printf("[Transport] Failed to mirror message %s: %v", msg.MessageID, err)
	}
	return nil
}

// BroadcastGeneral sends a message on the general channel.
func (t *Transport) BroadcastGeneral(ctx context.Context, msg protocol.GeneralMessage) error {
	_, err := t.send(ctx, ChannelGeneral, EventGeneral, msg)
	return err
}

// BroadcastCursor shares the local pointer position with the project.
// At most one cursor is sent per CursorInterval, and only while the pointer
// is inside the configured project area; sent reports whether this call
// produced a broadcast. Sent cursors are also stored for late joiners.
func (t *Transport) BroadcastCursor(ctx context.Context, x, y float64) (sent bool, err error) {
	if area := t.cfg.ProjectArea; area != nil && !area.Contains(x, y) {
		return false, nil
	}
	if _, _, err := t.connected(ChannelProject); err != nil {
		return false, err
	}
	now := t.now()
	if !t.cursorLimit.AllowN(now, 1) {
		return false, nil
	}

	cursor := eventbus.CursorEvent{UserID: t.self.UserID, X: x, Y: y}
	ch, err := t.send(ctx, ChannelProject, EventCursor, cursor)
	if err != nil {
		return false, err
	}

	stored := protocol.Cursor{UserID: t.self.UserID, X: x, Y: y, UpdatedAt: now.UnixMilli()}
	if err := t.relay.StoreCursor(ctx, ch.projectID, stored); err != nil {
		log.Printf("[Transport] Failed to store cursor: %v", err)
	}
	return true, nil
}

// LatestCursors returns the last stored cursor of every other user in the
// current project.
func (t *Transport) LatestCursors(ctx context.Context) (map[string]protocol.Cursor, error) {
	projectID := t.ProjectID()
	if projectID == "" {
		return nil, ErrNotConnected
	}

	cursors, err := t.relay.Cursors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	delete(cursors, t.self.UserID)
	return cursors, nil
}

// PresenceState returns who is currently on the project channel.
func (t *Transport) PresenceState(ctx context.Context) (map[string]protocol.PresenceMeta, error) {
	projectID := t.ProjectID()
	if projectID == "" {
		return nil, ErrNotConnected
	}
	return t.relay.PresenceState(ctx, protocol.ProjectTopic(projectID))
}
