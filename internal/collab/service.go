// Package collab is the collaboration service layered over the transport:
// it owns the local identity, the outbound message history and offline
// queue, general-channel messaging, and reassembly of chunked file transfers.
//
// A Service is constructed explicitly and injected where it is needed; there
// is no package-level instance.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/transport"
	"github.com/dyluth/stave/pkg/protocol"
)

var (
	// ErrMessageNotFound is returned for an id that is not in the history.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidTransition is returned when a status change breaks the
	// delivery lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Transport is the part of *transport.Transport the service needs.
type Transport interface {
	IsProjectConnected() bool
	IsGeneralConnected() bool
	ProjectID() string
	BroadcastMessage(ctx context.Context, msg *protocol.UserInteractionMessage) error
	BroadcastGeneral(ctx context.Context, msg protocol.GeneralMessage) error
	OnProjectSubscribed(fn func(projectID string))
	OnGeneralSubscribed(fn func())
}

var _ Transport = (*transport.Transport)(nil)

// Config tunes the service.
type Config struct {
	// TransferTimeout evicts incomplete file transfers with no chunk activity
	// for this long. Zero keeps stalled transfers forever.
	TransferTimeout time.Duration

	// FileDelayBase and FileDelayPerMiB size the wait between broadcasting an
	// inline file and announcing it as available.
	FileDelayBase   time.Duration
	FileDelayPerMiB time.Duration
	FileDelayMax    time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		FileDelayBase:   500 * time.Millisecond,
		FileDelayPerMiB: time.Second,
		FileDelayMax:    10 * time.Second,
	}
}

// Service is the collaboration service. It is safe for concurrent use.
type Service struct {
	transport Transport
	bus       *eventbus.Bus
	notifier  Notifier
	identity  Identity
	cfg       Config

	now   func() time.Time
	after func(d time.Duration, fn func())

	mu           sync.Mutex
	history      []*protocol.UserInteractionMessage
	index        map[string]*protocol.UserInteractionMessage
	queue        []queuedMessage
	flushing     bool
	generalQueue []protocol.GeneralMessage
	transfers    map[string]*transfer
	everOnline   bool
	lost         bool

	listeners []*eventbus.Listener
	stop      chan struct{}
	closeOnce sync.Once
}

// queuedMessage is a message waiting for the channel of the project it was
// written for.
type queuedMessage struct {
	msg       *protocol.UserInteractionMessage
	projectID string
}

// NewService wires a service to its transport and bus. notifier may be nil,
// in which case notices are only logged.
//
// With a positive TransferTimeout the service evicts stalled inbound
// transfers in the background until Close.
func NewService(t Transport, bus *eventbus.Bus, id Identity, cfg Config, notifier Notifier) *Service {
	return newService(t, bus, id, cfg, notifier, time.Now)
}

func newService(t Transport, bus *eventbus.Bus, id Identity, cfg Config, notifier Notifier, now func() time.Time) *Service {
	if notifier == nil {
		notifier = logNotifier{}
	}

	s := &Service{
		transport: t,
		bus:       bus,
		notifier:  notifier,
		identity:  id,
		cfg:       cfg,
		now:       now,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		index:     make(map[string]*protocol.UserInteractionMessage),
		transfers: make(map[string]*transfer),
		stop:      make(chan struct{}),
	}

	t.OnProjectSubscribed(func(projectID string) { s.flushQueue(context.Background(), projectID) })
	t.OnGeneralSubscribed(func() { s.flushGeneralQueue(context.Background()) })

	s.listeners = append(s.listeners,
		bus.On(eventbus.ConnectionStatusChanged, s.onConnectionStatus),
		bus.On(eventbus.Message, s.onInboundMessage),
	)

	if cfg.TransferTimeout > 0 {
		go s.evictLoop()
	}
	return s
}

// Close detaches the service from the bus and stops background eviction.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.bus.Off(eventbus.ConnectionStatusChanged, s.listeners[0])
		s.bus.Off(eventbus.Message, s.listeners[1])
		close(s.stop)
	})
}

// Identity returns the local user.
func (s *Service) Identity() Identity {
	return s.identity
}

// SendMessage sends an action to the project and returns its message id.
//
// While the project channel is down the message is queued as PENDING, the
// user is warned, and it is sent when the channel comes back. Otherwise it
// goes SENT → broadcast → BROADCAST_TO_CLIENTS and the action's event is
// emitted locally before SendMessage returns. A broadcast failure marks the
// message FAILED and queues it again.
//
// A file payload carrying data is announced FILE_AVAILABLE_TO_COLLABORATORS
// after FileAvailabilityDelay.
func (s *Service) SendMessage(ctx context.Context, params protocol.Params, file *protocol.FilePayload) string {
	msg := protocol.NewMessage(s.identity.UserID, params, s.now())
	msg.FilePayload = file
	s.send(ctx, msg)
	return msg.MessageID
}

func (s *Service) send(ctx context.Context, msg *protocol.UserInteractionMessage) {
	// While queued messages are being replayed new ones line up behind them.
	s.mu.Lock()
	flushing := s.flushing
	s.mu.Unlock()
	if flushing {
		s.enqueue(msg)
		return
	}

	if !s.transport.IsProjectConnected() {
		s.enqueue(msg)
		s.notifier.Notify(SeverityWarning, "Not connected",
			fmt.Sprintf("%s will be sent when the connection is restored", msg.Action))
		return
	}

	if err := s.deliver(ctx, msg); err != nil {
		s.enqueue(msg)
		s.notifier.Notify(SeverityError, "Message failed",
			fmt.Sprintf("%s could not be sent and will be retried", msg.Action))
	}
}

// deliver broadcasts msg on the connected project channel. On failure the
// history entry is left FAILED and the caller decides whether to queue it.
func (s *Service) deliver(ctx context.Context, msg *protocol.UserInteractionMessage) error {
	msg.Timestamp = s.now().UnixMilli()
	s.record(msg)
	s.advance(msg.MessageID, protocol.StatusSent)

	if err := s.transport.BroadcastMessage(ctx, s.snapshot(msg.MessageID)); err != nil {
		s.logEvent("broadcast_failed", map[string]interface{}{
			"message_id": msg.MessageID,
			"action":     string(msg.Action),
			"error":      err.Error(),
		})
		s.advance(msg.MessageID, protocol.StatusFailed)
		return err
	}

	s.advance(msg.MessageID, protocol.StatusBroadcastToClients)
	s.bus.Emit(eventbus.ActionEvent(msg.Action), s.snapshot(msg.MessageID))

	if file := msg.FilePayload; file != nil && len(file.Data) > 0 && msg.Action != protocol.ActionUploadChunk {
		s.advance(msg.MessageID, protocol.StatusUploadingFile)
		s.after(s.FileAvailabilityDelay(len(file.Data)), func() {
			s.announceFile(context.Background(), msg.MessageID)
		})
	}
	return nil
}

// record puts msg into the history, or leaves the existing entry when a
// queued message is replayed.
func (s *Service) record(msg *protocol.UserInteractionMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[msg.MessageID]; ok {
		existing.Timestamp = msg.Timestamp
		return
	}
	stored := msg.Clone()
	stored.State = protocol.StatusPending
	s.history = append(s.history, stored)
	s.index[stored.MessageID] = stored
}

// enqueue appends msg to the offline queue, tagged with the project whose
// channel it must go out on. A message not yet in the history is recorded
// there as PENDING.
func (s *Service) enqueue(msg *protocol.UserInteractionMessage) {
	projectID := s.transport.ProjectID()

	s.mu.Lock()
	queued := msg.Clone()
	queued.State = protocol.StatusPending
	s.queue = append(s.queue, queuedMessage{msg: queued, projectID: projectID})
	size := len(s.queue)
	stored, inHistory := s.index[msg.MessageID]
	if !inHistory {
		entry := queued.Clone()
		s.history = append(s.history, entry)
		s.index[entry.MessageID] = entry
	}
	s.mu.Unlock()

	if inHistory && stored.State == protocol.StatusFailed {
		s.advance(msg.MessageID, protocol.StatusPending)
	}

	s.logEvent("message_queued", map[string]interface{}{
		"message_id":   msg.MessageID,
		"action":       string(msg.Action),
		"project_id":   projectID,
		"queue_length": size,
	})
}

// flushQueue replays the messages queued for projectID in enqueue order,
// each once, including any queued by concurrent sends during the replay.
// Messages written for another project are marked FAILED and dropped. If
// the channel drops or a broadcast fails mid-flush the rest stay queued in
// order.
func (s *Service) flushQueue(ctx context.Context, projectID string) {
	s.mu.Lock()
	s.flushing = true
	s.mu.Unlock()

	replayed := 0
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		if len(pending) == 0 {
			s.flushing = false
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		for i, q := range pending {
			if q.projectID != "" && q.projectID != projectID {
				s.discard(q)
				continue
			}
			if !s.transport.IsProjectConnected() {
				s.requeueFront(pending[i:])
				return
			}
			if err := s.deliver(ctx, q.msg); err != nil {
				s.advance(q.msg.MessageID, protocol.StatusPending)
				s.requeueFront(pending[i:])
				s.notifier.Notify(SeverityError, "Message failed",
					fmt.Sprintf("%s could not be sent and will be retried", q.msg.Action))
				return
			}
			replayed++
		}
	}

	if replayed > 0 {
		s.logEvent("queue_replay", map[string]interface{}{
			"project_id": projectID,
			"count":      replayed,
		})
	}
}

// requeueFront puts rest back ahead of anything queued meanwhile and ends
// the flush.
func (s *Service) requeueFront(rest []queuedMessage) {
	s.mu.Lock()
	s.queue = append(append([]queuedMessage{}, rest...), s.queue...)
	s.flushing = false
	s.mu.Unlock()
}

// discard drops a message queued for a project that is no longer joined.
func (s *Service) discard(q queuedMessage) {
	s.advance(q.msg.MessageID, protocol.StatusFailed)
	s.logEvent("queued_message_discarded", map[string]interface{}{
		"message_id": q.msg.MessageID,
		"action":     string(q.msg.Action),
		"project_id": q.projectID,
	})
	s.notifier.Notify(SeverityWarning, "Change discarded",
		fmt.Sprintf("%s was written for project %s and was not sent", q.msg.Action, q.projectID))
}

// evictLoop evicts stalled transfers every half TransferTimeout until Close.
func (s *Service) evictLoop() {
	interval := s.cfg.TransferTimeout / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.EvictStaleTransfers(s.now())
		}
	}
}

// advance moves a history entry to status, logging rather than failing on
// an illegal step.
func (s *Service) advance(id string, status protocol.DispatchProcessStatus) {
	if err := s.UpdateMessageStatus(id, status); err != nil {
		log.Printf("[Collab] %v", err)
	}
}

// UpdateMessageStatus changes a history entry in place and emits
// messageStatusChanged.
func (s *Service) UpdateMessageStatus(id string, status protocol.DispatchProcessStatus) error {
	s.mu.Lock()
	msg, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	from := msg.State
	if !protocol.ValidTransition(from, status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s → %s for %s", ErrInvalidTransition, from, status, id)
	}
	msg.State = status
	s.mu.Unlock()

	s.bus.Emit(eventbus.MessageStatusChanged, eventbus.StatusChangeEvent{MessageID: id, From: from, To: status})
	return nil
}

// Messages returns copies of every message in the history, oldest first.
func (s *Service) Messages() []*protocol.UserInteractionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*protocol.UserInteractionMessage, len(s.history))
	for i, msg := range s.history {
		out[i] = msg.Clone()
	}
	return out
}

// Message returns a copy of one history entry.
func (s *Service) Message(id string) (*protocol.UserInteractionMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// QueueLength returns how many messages wait for the project channel.
func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// FileAvailabilityDelay is how long an inline file of size bytes takes to be
// announced as available.
func (s *Service) FileAvailabilityDelay(size int) time.Duration {
	d := s.cfg.FileDelayBase + time.Duration(float64(s.cfg.FileDelayPerMiB)*float64(size)/(1<<20))
	if s.cfg.FileDelayMax > 0 && d > s.cfg.FileDelayMax {
		return s.cfg.FileDelayMax
	}
	return d
}

func (s *Service) announceFile(ctx context.Context, id string) {
	s.advance(id, protocol.StatusFileUploadSuccessfulClient)

	announcement := s.snapshot(id)
	if announcement == nil {
		return
	}
	announcement.State = protocol.StatusFileAvailableToCollaborators

	if err := s.transport.BroadcastMessage(ctx, announcement); err != nil {
		s.advance(id, protocol.StatusFileUploadFailed)
		s.notifier.Notify(SeverityError, "File upload failed", err.Error())
		return
	}

	s.advance(id, protocol.StatusFileAvailableToCollaborators)
	s.bus.Emit(eventbus.FileAvailable, announcement)
}

func (s *Service) snapshot(id string) *protocol.UserInteractionMessage {
	msg, _ := s.Message(id)
	return msg
}

// onConnectionStatus turns project channel transitions into
// "Connection Lost" and "Connection Restored" notices.
func (s *Service) onConnectionStatus(args ...any) {
	if len(args) == 0 {
		return
	}
	ev, ok := args[0].(eventbus.ConnectionStatusEvent)
	if !ok || ev.Channel != transport.ChannelProject {
		return
	}

	s.mu.Lock()
	var notice string
	switch transport.Status(ev.Status) {
	case transport.StatusConnected:
		if s.lost {
			notice = "restored"
		}
		// The subscribe hook that replays the queue runs right after this
		// event; hold new sends back until it has.
		if len(s.queue) > 0 {
			s.flushing = true
		}
		s.everOnline = true
		s.lost = false
	case transport.StatusDisconnected:
		if s.everOnline && !s.lost {
			notice = "lost"
			s.lost = true
		}
	}
	s.mu.Unlock()

	switch notice {
	case "lost":
		s.notifier.Notify(SeverityWarning, "Connection Lost", "Changes will be queued and sent when the connection is restored")
	case "restored":
		s.notifier.Notify(SeveritySuccess, "Connection Restored", "Queued changes are being sent")
	}
}

// onInboundMessage handles the file side of messages from peers: chunk
// reassembly and availability announcements.
func (s *Service) onInboundMessage(args ...any) {
	if len(args) == 0 {
		return
	}
	msg, ok := args[0].(*protocol.UserInteractionMessage)
	if !ok {
		return
	}

	if msg.State == protocol.StatusFileAvailableToCollaborators {
		s.bus.Emit(eventbus.FileAvailable, msg)
		return
	}
	if msg.Action == protocol.ActionUploadChunk && msg.FilePayload != nil {
		if err := s.ReceiveChunk(msg); err != nil {
			log.Printf("[Collab] Dropping chunk from %s: %v", msg.UserID, err)
		}
	}
}

// logEvent prints a structured JSON log line.
func (s *Service) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "collab"
	data["event_type"] = eventType
	data["user_id"] = s.identity.UserID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Collab] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
