// Package gateway exposes a project session to a UI over HTTP: health,
// a state snapshot, and a websocket stream of everything the session and
// its transport emit on the event bus.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// StreamedEvents are forwarded to every websocket client.
var StreamedEvents = []string{
	eventbus.StateChanged,
	eventbus.ConnectionStatusChanged,
	eventbus.Connected,
	eventbus.PresenceSync,
	eventbus.PresenceJoin,
	eventbus.PresenceLeave,
	eventbus.CursorMove,
	eventbus.Message,
	eventbus.MessageStatusChanged,
	eventbus.FileAvailable,
	eventbus.FileComplete,
	eventbus.FileTransferExpired,
	eventbus.GeneralMessage,
	eventbus.GeneralPresenceSync,
	eventbus.GeneralPresenceJoin,
	eventbus.GeneralPresenceLeave,
}

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = pingInterval * 2
	streamBuffer = 256
)

// Session is the part of *session.Session the gateway serves.
type Session interface {
	Snapshot() project.State
	ProjectID() string
	ConnectionStatus() transport.Status
	Retry(ctx context.Context) error
}

// Pinger checks the relay.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Frame is one websocket message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Health is the /healthz body.
type Health struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Relay     string `json:"relay"`
	Project   string `json:"project"`
	ProjectID string `json:"projectId,omitempty"`
}

// Server routes the UI endpoints.
type Server struct {
	bus      *eventbus.Bus
	session  Session
	relay    Pinger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New wires the routes.
func New(bus *eventbus.Bus, sess Session, relay Pinger) *Server {
	s := &Server{
		bus:     bus,
		session: sess,
		relay:   relay,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	s.router.Use(logRequests)
	s.router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	s.router.Methods(http.MethodGet).Path("/api/state").HandlerFunc(s.state)
	s.router.Methods(http.MethodGet).Path("/api/stats").HandlerFunc(s.stats)
	s.router.Methods(http.MethodPost).Path("/api/retry").HandlerFunc(s.retry)
	s.router.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.stream)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[Gateway] %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Microsecond))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h := Health{
		Status:    "ok",
		Relay:     "ok",
		Project:   string(s.session.ConnectionStatus()),
		ProjectID: s.session.ProjectID(),
	}
	code := http.StatusOK
	if err := s.relay.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Relay = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st := s.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":    project.ComputeStats(st),
		"problems": project.Validate(st),
	})
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Retry(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// stream upgrades to a websocket and forwards bus events until the client
// goes away. Slow clients lose events rather than stall the bus.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(streamBuffer, StreamedEvents...)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[Gateway] Websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toFrame(ev)); err != nil {
				log.Printf("[Gateway] Failed to write frame: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func toFrame(ev eventbus.Event) Frame {
	f := Frame{Event: ev.Name}
	switch len(ev.Args) {
	case 0:
	case 1:
		f.Data = ev.Args[0]
	default:
		f.Data = ev.Args
	}
	return f
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Gateway] Failed to encode response: %v", err)
	}
}
