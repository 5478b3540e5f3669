package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRelay(t *testing.T) (*relay.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := relay.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func fastConfig() Config {
	return Config{
		ReconnectDelay:   50 * time.Millisecond,
		LivenessInterval: time.Hour,
		StaleAfter:       time.Hour,
		CursorInterval:   50 * time.Millisecond,
		OpTimeout:        time.Second,
	}
}

func newTransport(t *testing.T, r Relay, userID string, cfg Config) (*Transport, *eventbus.Bus) {
	bus := eventbus.New()
	tr := New(r, bus, Identity{UserID: userID, UserName: "user " + userID}, cfg)
	t.Cleanup(func() { tr.Close() })
	return tr, bus
}

// recorder captures bus emissions for assertions.
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func record(bus *eventbus.Bus, names ...string) *recorder {
	r := &recorder{}
	for _, name := range names {
		name := name
		bus.On(name, func(args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, eventbus.Event{Name: name, Args: args})
		})
	}
	return r
}

func (r *recorder) named(name string) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// flakyRelay fails a configurable number of joins and sends.
type flakyRelay struct {
	*relay.Client

	mu           sync.Mutex
	joins        int
	joinFailures int
	sendFailures int
}

func (f *flakyRelay) Join(ctx context.Context, topic string) (*relay.Subscription, error) {
	f.mu.Lock()
	f.joins++
	fail := f.joinFailures > 0
	if fail {
		f.joinFailures--
	}
	f.mu.Unlock()

	if fail {
		return nil, errors.New("CHANNEL_ERROR")
	}
	return f.Client.Join(ctx, topic)
}

func (f *flakyRelay) Send(ctx context.Context, topic string, env relay.Envelope) error {
	f.mu.Lock()
	fail := f.sendFailures > 0
	if fail {
		f.sendFailures--
	}
	f.mu.Unlock()

	if fail {
		return errors.New("send failed")
	}
	return f.Client.Send(ctx, topic, env)
}

func (f *flakyRelay) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConnectToProject(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	tr, bus := newTransport(t, rc, "u1", fastConfig())
	rec := record(bus, eventbus.ConnectionStatusChanged, eventbus.Connected, eventbus.PresenceSync)

	var hooked []string
	tr.OnProjectSubscribed(func(projectID string) { hooked = append(hooked, projectID) })

	require.NoError(t, tr.ConnectToProject(ctx, "p1"))

	assert.Equal(t, StatusConnected, tr.ProjectStatus())
	assert.True(t, tr.IsProjectConnected())
	assert.Equal(t, "p1", tr.ProjectID())
	assert.Equal(t, []string{"p1"}, hooked)

	statuses := rec.named(eventbus.ConnectionStatusChanged)
	require.Len(t, statuses, 2)
	assert.Equal(t, eventbus.ConnectionStatusEvent{Channel: ChannelProject, Status: "connecting"}, statuses[0].Args[0])
	assert.Equal(t, eventbus.ConnectionStatusEvent{Channel: ChannelProject, Status: "connected"}, statuses[1].Args[0])

	connected := rec.named(eventbus.Connected)
	require.Len(t, connected, 1)
	assert.Equal(t, eventbus.ConnectedEvent{UserID: "u1", ProjectID: "p1"}, connected[0].Args[0])

	presence, err := tr.PresenceState(ctx)
	require.NoError(t, err)
	require.Contains(t, presence, "u1")
	assert.Equal(t, "user u1", presence["u1"].UserName)
	assert.Equal(t, "p1", presence["u1"].ProjectID)

	assert.NotEmpty(t, rec.named(eventbus.PresenceSync))
}

func TestConnectToProject_RejectsEmptyID(t *testing.T) {
	rc, _ := setupRelay(t)
	tr, _ := newTransport(t, rc, "u1", fastConfig())
	assert.Error(t, tr.ConnectToProject(context.Background(), ""))
}

func TestConnectToProject_ReplacesPreviousProject(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	tr, _ := newTransport(t, rc, "u1", fastConfig())

	require.NoError(t, tr.ConnectToProject(ctx, "p1"))
	require.NoError(t, tr.ConnectToProject(ctx, "p2"))

	assert.Equal(t, "p2", tr.ProjectID())
	old, err := rc.PresenceState(ctx, protocol.ProjectTopic("p1"))
	require.NoError(t, err)
	assert.NotContains(t, old, "u1", "leaving a project untracks presence")
}

func TestInboundActions_SuppressSelfEcho(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()

	local, localBus := newTransport(t, rc, "u1", fastConfig())
	peer, peerBus := newTransport(t, rc, "u2", fastConfig())
	localRec := record(localBus, eventbus.Message, string(protocol.ActionSetTrackVolume), string(protocol.ActionMuteTrack))
	peerRec := record(peerBus, eventbus.Message)

	require.NoError(t, local.ConnectToProject(ctx, "p1"))
	require.NoError(t, peer.ConnectToProject(ctx, "p1"))

	own := protocol.NewMessage("u1", &protocol.SetTrackVolumeParams{TrackID: "t1", Volume: 80}, time.Now())
	require.NoError(t, local.BroadcastMessage(ctx, own))

	theirs := protocol.NewMessage("u2", &protocol.MuteTrackParams{TrackID: "t1", Muted: true}, time.Now())
	require.NoError(t, peer.BroadcastMessage(ctx, theirs))

	require.Eventually(t, func() bool {
		return len(localRec.named(eventbus.Message)) >= 1 && len(peerRec.named(eventbus.Message)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Frames arrive in publish order, so the local echo was already dropped.
	msgs := localRec.named(eventbus.Message)
	require.Len(t, msgs, 1)
	got := msgs[0].Args[0].(*protocol.UserInteractionMessage)
	assert.Equal(t, theirs.MessageID, got.MessageID)
	assert.Empty(t, localRec.named(string(protocol.ActionSetTrackVolume)))
	assert.Len(t, localRec.named(string(protocol.ActionMuteTrack)), 1)

	peerGot := peerRec.named(eventbus.Message)[0].Args[0].(*protocol.UserInteractionMessage)
	assert.Equal(t, own.MessageID, peerGot.MessageID)
	params, ok := peerGot.Params.(*protocol.SetTrackVolumeParams)
	require.True(t, ok)
	assert.Equal(t, 80, params.Volume)

	mirrored, err := rc.MirroredMessages(ctx, "p1", "", 0)
	require.NoError(t, err)
	assert.Len(t, mirrored, 2)
}

func TestPresenceJoinLeave(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()

	local, localBus := newTransport(t, rc, "u1", fastConfig())
	peer, _ := newTransport(t, rc, "u2", fastConfig())
	rec := record(localBus, eventbus.PresenceJoin, eventbus.PresenceLeave, eventbus.PresenceSync)

	require.NoError(t, local.ConnectToProject(ctx, "p1"))
	require.NoError(t, peer.ConnectToProject(ctx, "p1"))

	require.Eventually(t, func() bool {
		for _, ev := range rec.named(eventbus.PresenceJoin) {
			if ev.Args[0].(eventbus.PresenceEvent).Key == "u2" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		syncs := rec.named(eventbus.PresenceSync)
		if len(syncs) == 0 {
			return false
		}
		last := syncs[len(syncs)-1].Args[0].(eventbus.PresenceEvent)
		return len(last.State) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, peer.DisconnectFromProject(ctx))

	require.Eventually(t, func() bool {
		leaves := rec.named(eventbus.PresenceLeave)
		return len(leaves) == 1 && leaves[0].Args[0].(eventbus.PresenceEvent).Key == "u2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastCursor(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()

	cfg := fastConfig()
	cfg.ProjectArea = &Rect{X: 0, Y: 0, Width: 100, Height: 100}
	local, _ := newTransport(t, rc, "u1", cfg)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	local.now = clock.Now

	peer, peerBus := newTransport(t, rc, "u2", fastConfig())
	rec := record(peerBus, eventbus.CursorMove)

	_, err := local.BroadcastCursor(ctx, 10, 10)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, local.ConnectToProject(ctx, "p1"))
	require.NoError(t, peer.ConnectToProject(ctx, "p1"))

	sent, err := local.BroadcastCursor(ctx, 10, 10)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = local.BroadcastCursor(ctx, 11, 11)
	require.NoError(t, err)
	assert.False(t, sent, "second cursor inside the interval is throttled")

	clock.Advance(60 * time.Millisecond)
	sent, err = local.BroadcastCursor(ctx, 20, 30)
	require.NoError(t, err)
	assert.True(t, sent)

	clock.Advance(60 * time.Millisecond)
	sent, err = local.BroadcastCursor(ctx, 200, 30)
	require.NoError(t, err)
	assert.False(t, sent, "cursor outside the project area is not sent")

	require.Eventually(t, func() bool {
		return len(rec.named(eventbus.CursorMove)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	last := rec.named(eventbus.CursorMove)[1].Args[0].(eventbus.CursorEvent)
	assert.Equal(t, eventbus.CursorEvent{UserID: "u1", X: 20, Y: 30}, last)

	cursors, err := peer.LatestCursors(ctx)
	require.NoError(t, err)
	require.Contains(t, cursors, "u1")
	assert.Equal(t, 20.0, cursors["u1"].X)
	assert.Equal(t, clock.Now().Add(-60*time.Millisecond).UnixMilli(), cursors["u1"].UpdatedAt)

	own, err := local.LatestCursors(ctx)
	require.NoError(t, err)
	assert.NotContains(t, own, "u1", "own cursor is excluded")
}

func TestSubscribeFailure_SchedulesSingleReconnect(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	flaky := &flakyRelay{Client: rc, joinFailures: 1}

	cfg := fastConfig()
	cfg.ReconnectDelay = 100 * time.Millisecond
	tr, bus := newTransport(t, flaky, "u1", cfg)
	rec := record(bus, eventbus.ConnectionStatusChanged)

	var hooks int
	var mu sync.Mutex
	tr.OnProjectSubscribed(func(string) {
		mu.Lock()
		hooks++
		mu.Unlock()
	})

	err := tr.ConnectToProject(ctx, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHANNEL_ERROR")

	// Repeated errors must not stack reconnect timers.
	tr.mu.Lock()
	ch := tr.project
	tr.mu.Unlock()
	tr.fail(ch, nil, errors.New("again"))
	tr.fail(ch, nil, errors.New("and again"))

	require.Eventually(t, tr.IsProjectConnected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 2, flaky.joinCount())

	mu.Lock()
	assert.Equal(t, 1, hooks)
	mu.Unlock()

	var seq []string
	for _, ev := range rec.named(eventbus.ConnectionStatusChanged) {
		seq = append(seq, ev.Args[0].(eventbus.ConnectionStatusEvent).Status)
	}
	assert.Equal(t, []string{"connecting", "disconnected", "connecting", "connected"}, seq)
}

func TestSendFailure_DisconnectsAndReconnects(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	flaky := &flakyRelay{Client: rc}
	tr, bus := newTransport(t, flaky, "u1", fastConfig())
	rec := record(bus, eventbus.ConnectionStatusChanged)

	require.NoError(t, tr.ConnectToProject(ctx, "p1"))

	flaky.mu.Lock()
	flaky.sendFailures = 1
	flaky.mu.Unlock()

	msg := protocol.NewMessage("u1", &protocol.PlayParams{FromBeat: 0}, time.Now())
	assert.Error(t, tr.BroadcastMessage(ctx, msg))

	require.Eventually(t, func() bool {
		for _, ev := range rec.named(eventbus.ConnectionStatusChanged) {
			if ev.Args[0].(eventbus.ConnectionStatusEvent).Status == "disconnected" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return tr.IsProjectConnected() && flaky.joinCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, tr.BroadcastMessage(ctx, msg))
}

func TestLiveness_ForcesReconnectWhenSilent(t *testing.T) {
	rc, _ := setupRelay(t)
	flaky := &flakyRelay{Client: rc}

	cfg := fastConfig()
	cfg.LivenessInterval = 20 * time.Millisecond
	cfg.StaleAfter = 30 * time.Millisecond
	tr, _ := newTransport(t, flaky, "u1", cfg)

	require.NoError(t, tr.ConnectToProject(context.Background(), "p1"))

	require.Eventually(t, func() bool {
		return flaky.joinCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLiveness_ReportsDisconnectBeforeReconnecting(t *testing.T) {
	rc, _ := setupRelay(t)
	flaky := &flakyRelay{Client: rc}

	cfg := fastConfig()
	cfg.LivenessInterval = 10 * time.Millisecond
	cfg.StaleAfter = time.Minute
	tr, bus := newTransport(t, flaky, "u1", cfg)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr.now = clock.Now
	rec := record(bus, eventbus.ConnectionStatusChanged)

	require.NoError(t, tr.ConnectToProject(context.Background(), "p1"))

	// Inbound traffic refreshes the channel, so keep the clock moving until
	// it goes stale.
	require.Eventually(t, func() bool {
		clock.Advance(2 * time.Minute)
		return flaky.joinCount() >= 2 && tr.IsProjectConnected()
	}, 2*time.Second, 10*time.Millisecond)

	var seq []string
	for _, ev := range rec.named(eventbus.ConnectionStatusChanged) {
		seq = append(seq, ev.Args[0].(eventbus.ConnectionStatusEvent).Status)
	}
	require.GreaterOrEqual(t, len(seq), 5)
	assert.Equal(t, []string{"connecting", "connected", "disconnected", "connecting", "connected"}, seq[:5])
}

func TestDisconnectFromProject(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	tr, _ := newTransport(t, rc, "u1", fastConfig())

	require.NoError(t, tr.DisconnectFromProject(ctx), "disconnect without a project is a no-op")
	require.NoError(t, tr.ConnectToProject(ctx, "p1"))
	require.NoError(t, tr.DisconnectFromProject(ctx))

	assert.Equal(t, StatusDisconnected, tr.ProjectStatus())
	assert.Equal(t, "", tr.ProjectID())

	presence, err := rc.PresenceState(ctx, protocol.ProjectTopic("p1"))
	require.NoError(t, err)
	assert.NotContains(t, presence, "u1")

	msg := protocol.NewMessage("u1", &protocol.PlayParams{}, time.Now())
	assert.ErrorIs(t, tr.BroadcastMessage(ctx, msg), ErrNotConnected)
	_, err = tr.BroadcastCursor(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = tr.LatestCursors(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGeneralChannel(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()

	local, localBus := newTransport(t, rc, "u1", fastConfig())
	peer, _ := newTransport(t, rc, "u2", fastConfig())
	rec := record(localBus, eventbus.GeneralMessage, eventbus.GeneralPresenceSync)

	assert.ErrorIs(t, peer.BroadcastGeneral(ctx, protocol.GeneralMessage{Type: "announce", UserID: "u2"}), ErrNotConnected)

	var hooked int
	local.OnGeneralSubscribed(func() { hooked++ })
	require.NoError(t, local.ConnectGeneral(ctx))
	require.NoError(t, local.ConnectGeneral(ctx), "second connect is a no-op")
	require.NoError(t, peer.ConnectGeneral(ctx))
	assert.Equal(t, 1, hooked)
	assert.True(t, local.IsGeneralConnected())

	require.NoError(t, peer.BroadcastGeneral(ctx, protocol.GeneralMessage{Type: "announce", UserID: "u2", Timestamp: 5}))
	require.NoError(t, local.BroadcastGeneral(ctx, protocol.GeneralMessage{Type: "announce", UserID: "u1"}))

	require.Eventually(t, func() bool {
		return len(rec.named(eventbus.GeneralMessage)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	got := rec.named(eventbus.GeneralMessage)[0].Args[0].(protocol.GeneralMessage)
	assert.Equal(t, "u2", got.UserID)
	assert.NotEmpty(t, rec.named(eventbus.GeneralPresenceSync))
}

func TestClose(t *testing.T) {
	rc, _ := setupRelay(t)
	ctx := context.Background()
	tr, _ := newTransport(t, rc, "u1", fastConfig())

	require.NoError(t, tr.ConnectGeneral(ctx))
	require.NoError(t, tr.ConnectToProject(ctx, "p1"))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.Equal(t, StatusDisconnected, tr.GeneralStatus())
	assert.ErrorIs(t, tr.ConnectToProject(ctx, "p1"), ErrClosed)
	assert.ErrorIs(t, tr.ConnectGeneral(ctx), ErrClosed)

	presence, err := rc.PresenceState(ctx, protocol.GeneralTopic)
	require.NoError(t, err)
	assert.Empty(t, presence)
}

func TestRectContains(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 5, Height: 5}
	assert.True(t, r.Contains(10, 10))
	assert.True(t, r.Contains(15, 15))
	assert.False(t, r.Contains(9.9, 12))
	assert.False(t, r.Contains(12, 15.1))
}
