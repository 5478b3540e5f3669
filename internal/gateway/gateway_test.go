package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/transport"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	state    project.State
	retryErr error
	retries  int
}

func (f *fakeSession) Snapshot() project.State            { return f.state.Clone() }
func (f *fakeSession) ProjectID() string                  { return f.state.Project.ID }
func (f *fakeSession) ConnectionStatus() transport.Status { return transport.StatusConnected }
func (f *fakeSession) Retry(ctx context.Context) error {
	f.retries++
	return f.retryErr
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func setupServer(t *testing.T, pingErr error) (*httptest.Server, *eventbus.Bus, *fakeSession) {
	bus := eventbus.New()
	st := project.NewState()
	st.Project = protocol.Project{ID: "p1", Name: "Demo", BPM: 120, Settings: protocol.DefaultSettings()}
	st.Tracks = []protocol.Track{{ID: "t1", Name: "Drums", Volume: 50}}
	st.Blocks = []protocol.Block{{ID: "b1", Track: 0, StartBeat: 0, LengthBeats: 8}}
	sess := &fakeSession{state: st}

	srv := httptest.NewServer(New(bus, sess, fakePinger{err: pingErr}).Handler())
	t.Cleanup(srv.Close)
	return srv, bus, sess
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv, _, _ := setupServer(t, nil)

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var h Health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.Equal(t, Health{Status: "ok", Relay: "ok", Project: "connected", ProjectID: "p1"}, h)
	})

	t.Run("relay down", func(t *testing.T) {
		srv, _, _ := setupServer(t, errors.New("connection refused"))

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var h Health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, "connection refused", h.Relay)
	})
}

func TestState(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var st project.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "Demo", st.Project.Name)
	assert.Len(t, st.Tracks, 1)
	assert.Equal(t, project.ToolSelect, st.ActiveTool, "local UI fields are included")
}

func TestStats(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Stats    project.Stats `json:"stats"`
		Problems []string      `json:"problems"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Stats.Tracks)
	assert.Equal(t, 8.0, body.Stats.Duration)
	assert.Empty(t, body.Problems)
}

func TestRetry(t *testing.T) {
	srv, _, sess := setupServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sess.retryErr = errors.New("project not found")
	resp, err = http.Post(srv.URL+"/api/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 2, sess.retries)
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := setupServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStream(t *testing.T) {
	srv, bus, _ := setupServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return bus.ListenerCount(eventbus.StateChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.Emit(eventbus.StateChanged, eventbus.StateChangedEvent{Action: "ADD_TRACK", UserID: "u2", Remote: true})
	bus.Emit(eventbus.CursorMove, eventbus.CursorEvent{UserID: "u2", X: 1, Y: 2})
	bus.Emit("not-streamed", 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Event string                     `json:"event"`
		Data  eventbus.StateChangedEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, eventbus.StateChanged, first.Event)
	assert.Equal(t, "ADD_TRACK", first.Data.Action)
	assert.True(t, first.Data.Remote)

	var second struct {
		Event string               `json:"event"`
		Data  eventbus.CursorEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, eventbus.CursorMove, second.Event)
	assert.Equal(t, 2.0, second.Data.Y)
}

func TestStreamUnsubscribesOnClose(t *testing.T) {
	srv, bus, _ := setupServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bus.ListenerCount(eventbus.Message) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return bus.ListenerCount(eventbus.Message) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToFrame(t *testing.T) {
	assert.Equal(t, Frame{Event: "a"}, toFrame(eventbus.Event{Name: "a"}))
	assert.Equal(t, Frame{Event: "a", Data: 1}, toFrame(eventbus.Event{Name: "a", Args: []any{1}}))
	assert.Equal(t, Frame{Event: "a", Data: []any{1, 2}}, toFrame(eventbus.Event{Name: "a", Args: []any{1, 2}}))
}
