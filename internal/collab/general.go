package collab

import (
	"context"
	"log"

	"github.com/dyluth/stave/pkg/protocol"
)

// SendGeneralMessage sends msg on the general channel, best effort.
// If the channel is not ready the message is queued and sent once it
// connects, except pings, which are dropped.
func (s *Service) SendGeneralMessage(ctx context.Context, msg protocol.GeneralMessage) {
	if msg.UserID == "" {
		msg.UserID = s.identity.UserID
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}

	if !s.transport.IsGeneralConnected() {
		s.queueGeneral(msg)
		return
	}
	if err := s.transport.BroadcastGeneral(ctx, msg); err != nil {
		log.Printf("[Collab] General message %q not sent: %v", msg.Type, err)
		s.queueGeneral(msg)
	}
}

func (s *Service) queueGeneral(msg protocol.GeneralMessage) {
	if msg.Type == protocol.GeneralMessageTypePing {
		return
	}
	s.mu.Lock()
	s.generalQueue = append(s.generalQueue, msg)
	s.mu.Unlock()
}

// GeneralQueueLength returns how many general messages wait for the channel.
func (s *Service) GeneralQueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generalQueue)
}

func (s *Service) flushGeneralQueue(ctx context.Context) {
	s.mu.Lock()
	pending := s.generalQueue
	s.generalQueue = nil
	s.mu.Unlock()

	for _, msg := range pending {
		s.SendGeneralMessage(ctx, msg)
	}
}
