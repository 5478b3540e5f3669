// Package watch renders the live event stream of a project session for
// the terminal, either human-readable or as line-delimited JSON.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/pkg/protocol"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// Events are the bus events worth showing to a person.
var Events = []string{
	eventbus.ConnectionStatusChanged,
	eventbus.Connected,
	eventbus.PresenceJoin,
	eventbus.PresenceLeave,
	eventbus.Message,
	eventbus.MessageStatusChanged,
	eventbus.FileAvailable,
	eventbus.FileComplete,
	eventbus.FileTransferExpired,
	eventbus.GeneralMessage,
}

// record is one line of JSON output.
type record struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Summary   string `json:"summary"`
	Data      any    `json:"data,omitempty"`
}

// Stream writes events from the bus until ctx is done. Default output goes
// through the printer; JSON output goes to w.
func Stream(ctx context.Context, bus *eventbus.Bus, format OutputFormat, w io.Writer) error {
	if format != OutputFormatDefault && format != OutputFormatJSON {
		return fmt.Errorf("unknown output format: %s", format)
	}

	sub := bus.Subscribe(256, Events...)
	defer sub.Close()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			now := time.Now()
			summary := Summarize(ev)
			if format == OutputFormatDefault {
				printer.Event(now, ev.Name, summary)
				continue
			}
			rec := record{Timestamp: now.UTC().Format(time.RFC3339Nano), Event: ev.Name, Summary: summary}
			if len(ev.Args) > 0 {
				rec.Data = ev.Args[0]
			}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

// WaitFor blocks until an event named name satisfies match, ctx is done, or
// timeout elapses. A nil match accepts the first emission.
func WaitFor(ctx context.Context, bus *eventbus.Bus, name string, match func(args ...any) bool, timeout time.Duration) ([]any, error) {
	sub := bus.Subscribe(16, name)
	defer sub.Close()

	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for %s after %v", name, timeout)
		case ev, ok := <-sub.Events():
			if !ok {
				return nil, fmt.Errorf("subscription closed waiting for %s", name)
			}
			if match == nil || match(ev.Args...) {
				return ev.Args, nil
			}
		}
	}
}

// Summarize renders one event as a single line.
func Summarize(ev eventbus.Event) string {
	var arg any
	if len(ev.Args) > 0 {
		arg = ev.Args[0]
	}

	switch v := arg.(type) {
	case eventbus.ConnectionStatusEvent:
		icon := "🔌"
		if v.Status == "connected" {
			icon = "🟢"
		}
		return fmt.Sprintf("%s %s channel %s", icon, v.Channel, v.Status)
	case eventbus.ConnectedEvent:
		return fmt.Sprintf("🎛️  Joined project %s as %s", v.ProjectID, v.UserID)
	case eventbus.PresenceEvent:
		who := v.Key
		if v.Meta != nil && v.Meta.UserName != "" {
			who = v.Meta.UserName
		}
		if ev.Name == eventbus.PresenceLeave {
			return fmt.Sprintf("👋 %s left", who)
		}
		return fmt.Sprintf("👋 %s joined", who)
	case *protocol.UserInteractionMessage:
		if ev.Name == eventbus.FileAvailable {
			return fmt.Sprintf("📁 File for %s is available (%s)", v.Action, v.MessageID)
		}
		return fmt.Sprintf("📨 %s by %s: %s", v.Action, v.UserID, protocol.Describe(v.Action, v.Params))
	case eventbus.StatusChangeEvent:
		return fmt.Sprintf("🔄 %s %s -> %s", v.MessageID, v.From, v.To)
	case eventbus.FileCompleteEvent:
		return fmt.Sprintf("📁 Received %s (%d bytes)", v.FileName, len(v.Data))
	case protocol.GeneralMessage:
		return fmt.Sprintf("💬 %s from %s", v.Type, v.UserID)
	case string:
		if ev.Name == eventbus.FileTransferExpired {
			return fmt.Sprintf("⌛ Transfer %s expired", v)
		}
		return v
	case nil:
		return "-"
	}
	return fmt.Sprintf("%v", arg)
}
