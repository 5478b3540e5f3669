package transport

import (
	"context"
	"encoding/json"
	"log"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/pkg/protocol"
)

// pump reads one subscription until it ends. A subscription that ends on
// its own is treated as a relay error.
func (t *Transport) pump(ch *channel, sub *relay.Subscription) {
	events := sub.Events()
	errs := sub.Errors()

	for {
		select {
		case env, ok := <-events:
			if !ok {
				t.fail(ch, sub, errSubscriptionClosed)
				return
			}
			t.touch(ch)
			t.dispatch(ch, env)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Transport] %s channel error: %v", ch.kind, err)
		}
	}
}

func (t *Transport) dispatch(ch *channel, env relay.Envelope) {
	switch env.Type {
	case relay.TypePresence:
		t.handlePresence(ch, env)
	case relay.TypeBroadcast:
		switch env.Event {
		case EventAction:
			t.handleAction(env)
		case EventCursor:
			t.handleCursor(env)
		case EventGeneral:
			t.handleGeneral(env)
		default:
			log.Printf("[Transport] Ignoring unknown broadcast event %q on %s", env.Event, ch.topic)
		}
	default:
		log.Printf("[Transport] Ignoring frame of unknown type %q on %s", env.Type, ch.topic)
	}
}

func (t *Transport) handleAction(env relay.Envelope) {
	var msg protocol.UserInteractionMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Printf("[Transport] Dropping undecodable action message: %v", err)
		return
	}
	if msg.UserID == t.self.UserID {
		return
	}

	t.bus.Emit(eventbus.Message, &msg)
	t.bus.Emit(eventbus.ActionEvent(msg.Action), &msg)
}

func (t *Transport) handleCursor(env relay.Envelope) {
	var cursor eventbus.CursorEvent
	if err := json.Unmarshal(env.Payload, &cursor); err != nil {
		log.Printf("[Transport] Dropping undecodable cursor: %v", err)
		return
	}
	if cursor.UserID == t.self.UserID {
		return
	}

	t.bus.Emit(eventbus.CursorMove, cursor)
}

func (t *Transport) handleGeneral(env relay.Envelope) {
	var msg protocol.GeneralMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Printf("[Transport] Dropping undecodable general message: %v", err)
		return
	}
	if msg.UserID == t.self.UserID {
		return
	}

	t.bus.Emit(eventbus.GeneralMessage, msg)
}

func (t *Transport) handlePresence(ch *channel, env relay.Envelope) {
	var meta protocol.PresenceMeta
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &meta); err != nil {
			log.Printf("[Transport] Dropping undecodable presence frame: %v", err)
			return
		}
	}

	var name string
	switch {
	case env.Event == relay.PresenceEventJoin && ch.kind == ChannelProject:
		name = eventbus.PresenceJoin
	case env.Event == relay.PresenceEventJoin:
		name = eventbus.GeneralPresenceJoin
	case env.Event == relay.PresenceEventLeave && ch.kind == ChannelProject:
		name = eventbus.PresenceLeave
	case env.Event == relay.PresenceEventLeave:
		name = eventbus.GeneralPresenceLeave
	default:
		log.Printf("[Transport] Ignoring unknown presence event %q", env.Event)
		return
	}

	t.bus.Emit(name, eventbus.PresenceEvent{Topic: ch.topic, Key: env.Key, Meta: &meta})
	t.syncPresence(ch)
}

// syncPresence re-reads the full presence state of ch and emits it.
func (t *Transport) syncPresence(ch *channel) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.OpTimeout)
	defer cancel()

	state, err := t.relay.PresenceState(ctx, ch.topic)
	if err != nil {
		log.Printf("[Transport] Failed to read presence state for %s: %v", ch.topic, err)
		return
	}

	name := eventbus.GeneralPresenceSync
	if ch.kind == ChannelProject {
		name = eventbus.PresenceSync
	}
	t.bus.Emit(name, eventbus.PresenceEvent{Topic: ch.topic, State: state})
}
