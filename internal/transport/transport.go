// Package transport maintains the realtime channels a Stave client keeps
// open on the relay: one process-wide "general" channel and at most one
// channel for the currently open project.
//
// Each channel runs its own state machine:
//
//	disconnected → connecting → connected
//	connected → disconnected        (relay error, send failure, closed subscription)
//	disconnected → connecting       (after a fixed backoff, or forced by the liveness check)
//
// Inbound frames are translated into event bus emissions. Frames sent by the
// local user are never re-emitted: every client applies its own actions
// optimistically and only applies what others send.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/pkg/protocol"
	"golang.org/x/time/rate"
)

// Status is the connection state of one channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Channel kinds, reported in eventbus.ConnectionStatusEvent.
const (
	ChannelGeneral = "general"
	ChannelProject = "project"
)

// Broadcast event names on the relay.
const (
	EventAction  = "action"
	EventCursor  = "cursor"
	EventGeneral = "general"
)

var (
	// ErrNotConnected is returned when sending on a channel that is not connected.
	ErrNotConnected = errors.New("channel not connected")

	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport closed")

	errSubscriptionClosed = errors.New("subscription closed")
)

// Relay is the realtime relay the transport runs on. *relay.Client implements it.
type Relay interface {
	Join(ctx context.Context, topic string) (*relay.Subscription, error)
	Send(ctx context.Context, topic string, env relay.Envelope) error
	Track(ctx context.Context, topic, key string, meta protocol.PresenceMeta) error
	Untrack(ctx context.Context, topic, key string) error
	PresenceState(ctx context.Context, topic string) (map[string]protocol.PresenceMeta, error)
	StoreCursor(ctx context.Context, projectID string, cursor protocol.Cursor) error
	Cursors(ctx context.Context, projectID string) (map[string]protocol.Cursor, error)
	MirrorMessage(ctx context.Context, projectID string, msg *protocol.UserInteractionMessage) error
}

// Identity is the local user as announced in presence.
type Identity struct {
	UserID   string
	UserName string
	Color    string
}

// Rect is the on-screen project area cursors are broadcast from.
type Rect struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// Contains reports whether (x, y) lies inside the rectangle, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Config tunes the transport's timers.
type Config struct {
	ReconnectDelay   time.Duration
	LivenessInterval time.Duration
	StaleAfter       time.Duration
	CursorInterval   time.Duration
	OpTimeout        time.Duration // per relay call made from background goroutines
	ProjectArea      *Rect         // nil broadcasts cursors from anywhere
}

// DefaultConfig returns the production timer settings.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:   5 * time.Second,
		LivenessInterval: 30 * time.Second,
		StaleAfter:       120 * time.Second,
		CursorInterval:   50 * time.Millisecond,
		OpTimeout:        5 * time.Second,
	}
}

type channel struct {
	kind      string
	topic     string
	projectID string

	status   Status
	sub      *relay.Subscription
	lastSeen time.Time
	backoff  backoff.BackOff
	timer    *time.Timer // pending reconnect, at most one
	stop     chan struct{}
}

// Transport owns the general and project channels.
// It is safe for concurrent use. Event bus emissions always happen outside
// the transport's lock, so handlers may call back into the transport.
type Transport struct {
	relay Relay
	bus   *eventbus.Bus
	self  Identity
	cfg   Config
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	general      *channel
	project      *channel
	closed       bool
	cursorLimit  *rate.Limiter
	projectHooks []func(projectID string)
	generalHooks []func()
}

// New creates a transport for the local user. No channel is opened until
// ConnectGeneral or ConnectToProject is called.
func New(r Relay, bus *eventbus.Bus, self Identity, cfg Config) *Transport {
	defaults := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = defaults.LivenessInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.CursorInterval <= 0 {
		cfg.CursorInterval = defaults.CursorInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		relay:       r,
		bus:         bus,
		self:        self,
		cfg:         cfg,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		cursorLimit: rate.NewLimiter(rate.Every(cfg.CursorInterval), 1),
	}
}

// Self returns the local identity.
func (t *Transport) Self() Identity {
	return t.self
}

// OnProjectSubscribed registers fn to run every time the project channel
// reaches connected, including after reconnects.
func (t *Transport) OnProjectSubscribed(fn func(projectID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.projectHooks = append(t.projectHooks, fn)
}

// OnGeneralSubscribed registers fn to run every time the general channel
// reaches connected.
func (t *Transport) OnGeneralSubscribed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generalHooks = append(t.generalHooks, fn)
}

// ConnectGeneral opens the general channel. Calling it again while the
// channel exists is a no-op.
//
// A subscribe failure is returned, but the channel stays registered and
// keeps retrying in the background.
func (t *Transport) ConnectGeneral(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.general != nil {
		t.mu.Unlock()
		return nil
	}
	ch := t.newChannel(ChannelGeneral, protocol.GeneralTopic, "")
	t.general = ch
	t.mu.Unlock()

	go t.watchLiveness(ch)
	return t.subscribe(ch)
}

// ConnectToProject tears down any existing project channel and opens one
// scoped to projectID. On success the local user is tracked in the project's
// presence and the OnProjectSubscribed hooks run.
//
// A subscribe failure is returned, but the channel stays registered and
// keeps retrying in the background.
func (t *Transport) ConnectToProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if err := t.DisconnectFromProject(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	ch := t.newChannel(ChannelProject, protocol.ProjectTopic(projectID), projectID)
	t.project = ch
	t.mu.Unlock()

	go t.watchLiveness(ch)
	return t.subscribe(ch)
}

// DisconnectFromProject unsubscribes from the current project channel and
// removes the local user from its presence. Cursor broadcasting stops with it.
func (t *Transport) DisconnectFromProject(ctx context.Context) error {
	t.mu.Lock()
	ch := t.project
	t.project = nil
	t.mu.Unlock()

	if ch == nil {
		return nil
	}

	t.teardown(ch)
	if err := t.relay.Untrack(ctx, ch.topic, t.self.UserID); err != nil {
		log.Printf("[Transport] Failed to untrack presence on %s: %v", ch.topic, err)
	}

	t.logEvent("project_disconnected", map[string]interface{}{"project_id": ch.projectID})
	t.emitStatus(ch.kind, StatusDisconnected)
	return nil
}

// Close tears down both channels. The transport cannot be reused.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := []*channel{t.project, t.general}
	t.project, t.general = nil, nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OpTimeout)
	defer cancel()

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		t.teardown(ch)
		if err := t.relay.Untrack(ctx, ch.topic, t.self.UserID); err != nil {
			log.Printf("[Transport] Failed to untrack presence on %s: %v", ch.topic, err)
		}
	}
	t.cancel()
	return nil
}

// ProjectID returns the project the project channel is scoped to, or "".
func (t *Transport) ProjectID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.project == nil {
		return ""
	}
	return t.project.projectID
}

// ProjectStatus returns the project channel status.
func (t *Transport) ProjectStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.project == nil {
		return StatusDisconnected
	}
	return t.project.status
}

// GeneralStatus returns the general channel status.
func (t *Transport) GeneralStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.general == nil {
		return StatusDisconnected
	}
	return t.general.status
}

// IsProjectConnected reports whether project messages can be sent now.
func (t *Transport) IsProjectConnected() bool {
	return t.ProjectStatus() == StatusConnected
}

// IsGeneralConnected reports whether general messages can be sent now.
func (t *Transport) IsGeneralConnected() bool {
	return t.GeneralStatus() == StatusConnected
}

func (t *Transport) newChannel(kind, topic, projectID string) *channel {
	return &channel{
		kind:      kind,
		topic:     topic,
		projectID: projectID,
		status:    StatusDisconnected,
		backoff:   backoff.NewConstantBackOff(t.cfg.ReconnectDelay),
		stop:      make(chan struct{}),
	}
}

// isCurrent reports whether ch is still registered. Caller must hold t.mu.
func (t *Transport) isCurrent(ch *channel) bool {
	return !t.closed && (ch == t.general || ch == t.project)
}

// subscribe moves ch to connecting and joins its topic. Concurrent calls for
// the same channel collapse into one.
func (t *Transport) subscribe(ch *channel) error {
	t.mu.Lock()
	if !t.isCurrent(ch) {
		t.mu.Unlock()
		return ErrClosed
	}
	if ch.status == StatusConnecting {
		t.mu.Unlock()
		return nil
	}
	ch.status = StatusConnecting
	t.mu.Unlock()
	t.emitStatus(ch.kind, StatusConnecting)

	sub, err := t.relay.Join(t.ctx, ch.topic)
	if err != nil {
		t.logEvent("subscribe_failed", map[string]interface{}{
			"channel": ch.kind,
			"topic":   ch.topic,
			"error":   err.Error(),
		})
		t.fail(ch, nil, err)
		return fmt.Errorf("failed to subscribe to %s: %w", ch.topic, err)
	}

	t.mu.Lock()
	if !t.isCurrent(ch) {
		t.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	ch.sub = sub
	ch.lastSeen = t.now()
	ch.backoff.Reset()
	t.mu.Unlock()

	go t.pump(ch, sub)

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.OpTimeout)
	defer cancel()

	meta := protocol.PresenceMeta{
		UserID:    t.self.UserID,
		UserName:  t.self.UserName,
		Color:     t.self.Color,
		ProjectID: ch.projectID,
		OnlineAt:  t.now().UnixMilli(),
	}
	if err := t.relay.Track(ctx, ch.topic, t.self.UserID, meta); err != nil {
		log.Printf("[Transport] Failed to track presence on %s: %v", ch.topic, err)
	}

	t.mu.Lock()
	if ch.sub != sub {
		// Lost again while announcing presence; fail already rescheduled.
		t.mu.Unlock()
		return nil
	}
	ch.status = StatusConnected
	projectHooks := append([]func(string){}, t.projectHooks...)
	generalHooks := append([]func(){}, t.generalHooks...)
	t.mu.Unlock()

	t.logEvent("channel_connected", map[string]interface{}{
		"channel":    ch.kind,
		"topic":      ch.topic,
		"project_id": ch.projectID,
	})
	t.emitStatus(ch.kind, StatusConnected)

	if ch.kind == ChannelProject {
		t.bus.Emit(eventbus.Connected, eventbus.ConnectedEvent{UserID: t.self.UserID, ProjectID: ch.projectID})
		t.syncPresence(ch)
		for _, hook := range projectHooks {
			hook(ch.projectID)
		}
	} else {
		t.syncPresence(ch)
		for _, hook := range generalHooks {
			hook()
		}
	}
	return nil
}

// fail marks ch disconnected and schedules a reconnect. sub identifies the
// subscription that failed; a stale subscription (already replaced) is ignored.
func (t *Transport) fail(ch *channel, sub *relay.Subscription, cause error) {
	t.mu.Lock()
	if !t.isCurrent(ch) || (sub != nil && ch.sub != sub) {
		t.mu.Unlock()
		return
	}
	old := ch.sub
	ch.sub = nil
	changed := ch.status != StatusDisconnected
	ch.status = StatusDisconnected
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if changed {
		t.logEvent("channel_lost", map[string]interface{}{
			"channel": ch.kind,
			"topic":   ch.topic,
			"error":   cause.Error(),
		})
		t.emitStatus(ch.kind, StatusDisconnected)
	}
	t.scheduleReconnect(ch)
}

// scheduleReconnect arms the channel's reconnect timer unless one is
// already pending.
func (t *Transport) scheduleReconnect(ch *channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isCurrent(ch) || ch.timer != nil {
		return
	}
	delay := ch.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	ch.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		ch.timer = nil
		retry := t.isCurrent(ch) && ch.status == StatusDisconnected
		t.mu.Unlock()

		if retry {
			log.Printf("[Transport] Reconnecting %s channel (%s)", ch.kind, ch.topic)
			t.subscribe(ch)
		}
	})
}

// watchLiveness forces a reconnect when a channel has been silent for
// longer than StaleAfter and is not already connecting.
func (t *Transport) watchLiveness(ch *channel) {
	ticker := time.NewTicker(t.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.stop:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := t.isCurrent(ch) &&
				ch.status != StatusConnecting &&
				t.now().Sub(ch.lastSeen) > t.cfg.StaleAfter
			var old *relay.Subscription
			var prev Status
			if stale {
				if ch.timer != nil {
					ch.timer.Stop()
					ch.timer = nil
				}
				old = ch.sub
				ch.sub = nil
				prev = ch.status
				ch.status = StatusDisconnected
			}
			t.mu.Unlock()

			if !stale {
				continue
			}
			t.logEvent("liveness_reconnect", map[string]interface{}{
				"channel": ch.kind,
				"topic":   ch.topic,
			})
			if old != nil {
				old.Close()
			}
			if prev != StatusDisconnected {
				t.emitStatus(ch.kind, StatusDisconnected)
			}
			t.subscribe(ch)
		}
	}
}

// teardown stops every goroutine and timer owned by ch. ch must already be
// unregistered.
func (t *Transport) teardown(ch *channel) {
	t.mu.Lock()
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	sub := ch.sub
	ch.sub = nil
	ch.status = StatusDisconnected
	t.mu.Unlock()

	close(ch.stop)
	if sub != nil {
		sub.Close()
	}
}

func (t *Transport) touch(ch *channel) {
	t.mu.Lock()
	ch.lastSeen = t.now()
	t.mu.Unlock()
}

func (t *Transport) emitStatus(kind string, status Status) {
	t.bus.Emit(eventbus.ConnectionStatusChanged, eventbus.ConnectionStatusEvent{
		Channel: kind,
		Status:  string(status),
	})
}

// logEvent prints a structured JSON log line.
func (t *Transport) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "transport"
	data["event_type"] = eventType
	data["user_id"] = t.self.UserID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Transport] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
