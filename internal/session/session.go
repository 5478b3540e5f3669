// Package session owns one open project: its state, the wiring from remote
// events into the reducer, and the commands the UI issues against it.
//
// Commands apply optimistically. The local reducer runs first and the
// action is then handed to the collaboration service, which sends it now or
// queues it until the project channel is back.
//
// Track and block locks are advisory. Commands refuse to touch an entity
// another user holds, but the reducer applies whatever arrives from peers,
// so two clients that both believe they hold a lock can still race.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/stave/internal/collab"
	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/store"
	"github.com/dyluth/stave/internal/transport"
	"github.com/dyluth/stave/pkg/protocol"
)

var (
	// ErrLockedByOtherUser is returned when a command targets a track or
	// block another collaborator holds.
	ErrLockedByOtherUser = errors.New("locked by another user")

	// ErrNotFound is returned when a command names a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrNoProject is returned by Retry before any Load.
	ErrNoProject = errors.New("no project selected")
)

// Sender is the part of *collab.Service a session needs.
type Sender interface {
	Identity() collab.Identity
	SendMessage(ctx context.Context, params protocol.Params, file *protocol.FilePayload) string
}

// Connector is the part of *transport.Transport a session needs.
type Connector interface {
	ConnectToProject(ctx context.Context, projectID string) error
	DisconnectFromProject(ctx context.Context) error
	ProjectStatus() transport.Status
	BroadcastCursor(ctx context.Context, x, y float64) (bool, error)
}

// Persistence is the part of store.Store a session needs.
type Persistence interface {
	FetchProjectData(ctx context.Context, projectID string) (*store.ProjectData, error)
	UpdateProjectSettings(ctx context.Context, projectID string, settings protocol.Settings) error
	SaveProjectData(ctx context.Context, data *store.ProjectData) error
}

var (
	_ Sender      = (*collab.Service)(nil)
	_ Connector   = (*transport.Transport)(nil)
	_ Persistence = (store.Store)(nil)
)

// Config tunes a session.
type Config struct {
	// SeenLimit bounds how many remote message ids are remembered for
	// duplicate suppression.
	SeenLimit int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{SeenLimit: 2048}
}

type subscription struct {
	name     string
	listener *eventbus.Listener
}

// Session is safe for concurrent use. Bus handlers and commands may run on
// different goroutines.
type Session struct {
	bus    *eventbus.Bus
	sender Sender
	conn   Connector
	store  Persistence
	self   collab.Identity
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	state     project.State
	projectID string
	seen      map[string]struct{}
	seenOrder []string

	subs []subscription
}

// New creates a session with an empty, loading state and subscribes it to
// the bus.
func New(bus *eventbus.Bus, sender Sender, conn Connector, st Persistence, cfg Config) *Session {
	if cfg.SeenLimit <= 0 {
		cfg.SeenLimit = DefaultConfig().SeenLimit
	}

	s := &Session{
		bus:    bus,
		sender: sender,
		conn:   conn,
		store:  st,
		self:   sender.Identity(),
		cfg:    cfg,
		now:    time.Now,
		state:  project.NewState(),
		seen:   make(map[string]struct{}),
	}

	s.on(eventbus.Message, s.onMessage)
	s.on(eventbus.PresenceJoin, s.onPresenceJoin)
	s.on(eventbus.PresenceLeave, s.onPresenceLeave)
	s.on(eventbus.PresenceSync, s.onPresenceSync)
	s.on(eventbus.CursorMove, s.onCursor)
	return s
}

func (s *Session) on(name string, h eventbus.Handler) {
	s.subs = append(s.subs, subscription{name: name, listener: s.bus.On(name, h)})
}

// Open loads a project and joins its channel. A load failure is returned
// and recorded in State.Error; the channel is not joined until a Retry
// succeeds.
func (s *Session) Open(ctx context.Context, projectID string) error {
	if err := s.Load(ctx, projectID); err != nil {
		return err
	}
	if err := s.conn.ConnectToProject(ctx, projectID); err != nil {
		return fmt.Errorf("failed to join project channel: %w", err)
	}
	return nil
}

// Load fetches the project from persistence and replaces the state with it.
func (s *Session) Load(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.projectID = projectID
	s.mu.Unlock()

	s.dispatch(project.Action{Type: project.ActionSetLoading, Payload: project.SetLoadingPayload{Loading: true}}, false)

	data, err := s.store.FetchProjectData(ctx, projectID)
	if err != nil {
		msg := "Failed to load project"
		if store.IsNotFound(err) {
			msg = "Project not found"
		}
		s.dispatch(project.Action{Type: project.ActionSetError, Payload: project.SetErrorPayload{Error: msg}}, false)
		s.logEvent("load_failed", map[string]interface{}{
			"project_id": projectID,
			"error":      err.Error(),
		})
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	s.dispatch(project.Action{
		Type: project.ActionLoadProject,
		Payload: project.LoadProjectPayload{
			Project: data.Project,
			Tracks:  data.Tracks,
			Blocks:  data.Blocks,
			Markers: data.Markers,
		},
	}, false)
	s.logEvent("project_loaded", map[string]interface{}{
		"project_id": projectID,
		"tracks":     len(data.Tracks),
		"blocks":     len(data.Blocks),
	})
	return nil
}

// Retry reloads the project last passed to Load or Open, joining its
// channel if the load succeeds.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	id := s.projectID
	s.mu.Unlock()
	if id == "" {
		return ErrNoProject
	}
	return s.Open(ctx, id)
}

// Close leaves the project channel and detaches from the bus.
func (s *Session) Close(ctx context.Context) error {
	for _, sub := range s.subs {
		s.bus.Off(sub.name, sub.listener)
	}
	s.subs = nil
	return s.conn.DisconnectFromProject(ctx)
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() project.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ProjectID returns the project last passed to Load.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// ConnectionStatus reports the project channel status.
func (s *Session) ConnectionStatus() transport.Status {
	return s.conn.ProjectStatus()
}

// Self returns the local user.
func (s *Session) Self() collab.Identity {
	return s.self
}

// Dispatch applies an action to the state without sending it anywhere.
// It is how UI-only state (selection, zoom, scroll) changes.
func (s *Session) Dispatch(a project.Action) {
	s.dispatch(a, false)
}

func (s *Session) dispatch(a project.Action, remote bool) {
	s.mu.Lock()
	s.state = project.Reduce(s.state, a)
	s.mu.Unlock()

	ev := eventbus.StateChangedEvent{Action: string(a.Type), Remote: remote}
	if a.Meta != nil {
		ev.UserID = a.Meta.UserID
	}
	s.bus.Emit(eventbus.StateChanged, ev)
}

// markSeen records a remote message id and reports whether it is new. The
// oldest ids are forgotten once SeenLimit is reached.
func (s *Session) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[id]; dup {
		return false
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > s.cfg.SeenLimit {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	return true
}

// userName resolves a remote user's display name from presence.
func (s *Session) userName(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.state.RemoteUsers {
		if u.ID == userID {
			return u.Name
		}
	}
	return userID
}

// onMessage applies a peer's message at most once per message id.
func (s *Session) onMessage(args ...any) {
	if len(args) == 0 {
		return
	}
	msg, ok := args[0].(*protocol.UserInteractionMessage)
	if !ok || msg == nil || msg.UserID == s.self.UserID {
		return
	}
	if msg.MessageID != "" && !s.markSeen(msg.MessageID) {
		return
	}

	a, ok := project.FromMessage(msg, s.userName(msg.UserID))
	if !ok {
		return
	}
	s.dispatch(a, true)
}

func (s *Session) onPresenceJoin(args ...any) {
	ev, ok := presenceEvent(args)
	if !ok || ev.Meta == nil || ev.Meta.UserID == s.self.UserID {
		return
	}
	s.dispatch(project.Action{
		Type:    project.ActionUserJoined,
		Payload: &protocol.UserJoinedParams{UserID: ev.Meta.UserID, UserName: ev.Meta.UserName, Color: ev.Meta.Color},
	}, true)
}

func (s *Session) onPresenceLeave(args ...any) {
	ev, ok := presenceEvent(args)
	if !ok {
		return
	}
	userID := ev.Key
	if ev.Meta != nil {
		userID = ev.Meta.UserID
	}
	if userID == "" || userID == s.self.UserID {
		return
	}
	s.dispatch(project.Action{Type: project.ActionUserLeft, Payload: &protocol.UserLeftParams{UserID: userID}}, true)
}

// onPresenceSync reconciles RemoteUsers with the full presence map.
func (s *Session) onPresenceSync(args ...any) {
	ev, ok := presenceEvent(args)
	if !ok {
		return
	}

	s.mu.Lock()
	var gone []string
	for _, u := range s.state.RemoteUsers {
		if _, present := ev.State[u.ID]; !present {
			gone = append(gone, u.ID)
		}
	}
	s.mu.Unlock()

	for _, meta := range ev.State {
		if meta.UserID == "" || meta.UserID == s.self.UserID {
			continue
		}
		m := meta
		s.onPresenceJoin(eventbus.PresenceEvent{Topic: ev.Topic, Key: m.UserID, Meta: &m})
	}
	for _, id := range gone {
		s.dispatch(project.Action{Type: project.ActionUserLeft, Payload: &protocol.UserLeftParams{UserID: id}}, true)
	}
}

func presenceEvent(args []any) (eventbus.PresenceEvent, bool) {
	if len(args) == 0 {
		return eventbus.PresenceEvent{}, false
	}
	ev, ok := args[0].(eventbus.PresenceEvent)
	return ev, ok
}

func (s *Session) onCursor(args ...any) {
	if len(args) == 0 {
		return
	}
	c, ok := args[0].(eventbus.CursorEvent)
	if !ok || c.UserID == s.self.UserID {
		return
	}
	s.dispatch(project.Action{
		Type:    project.ActionUpdateUserCursor,
		Payload: project.UpdateUserCursorPayload{UserID: c.UserID, X: c.X, Y: c.Y},
	}, true)
}

// logEvent prints a structured JSON log line.
func (s *Session) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "session"
	data["event_type"] = eventType
	data["user_id"] = s.self.UserID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
