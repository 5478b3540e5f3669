package collab

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/google/uuid"
)

// transfer accumulates the chunks of one inbound file.
type transfer struct {
	total        int
	fileName     string
	chunks       map[int][]byte
	lastActivity time.Time
}

// ReceiveChunk adds one chunk to its transfer. When every chunk index has
// arrived the chunks are joined in index order and fileComplete is emitted.
// A repeated chunk index counts once; the first copy wins.
//
// Transfers missing chunks wait indefinitely unless TransferTimeout is set,
// in which case the service evicts them in the background.
func (s *Service) ReceiveChunk(msg *protocol.UserInteractionMessage) error {
	fp := msg.FilePayload
	if fp == nil {
		return fmt.Errorf("message %s has no file payload", msg.MessageID)
	}
	if fp.TransferID == "" {
		return fmt.Errorf("chunk has no transferId")
	}
	if fp.TotalChunks < 1 {
		return fmt.Errorf("transfer %s: totalChunks must be >= 1, got %d", fp.TransferID, fp.TotalChunks)
	}
	if fp.ChunkIndex < 0 || fp.ChunkIndex >= fp.TotalChunks {
		return fmt.Errorf("transfer %s: chunk index %d out of range [0,%d)", fp.TransferID, fp.ChunkIndex, fp.TotalChunks)
	}

	s.mu.Lock()
	tr, ok := s.transfers[fp.TransferID]
	if !ok {
		tr = &transfer{
			total:  fp.TotalChunks,
			chunks: make(map[int][]byte, fp.TotalChunks),
		}
		s.transfers[fp.TransferID] = tr
	}
	if fp.TotalChunks != tr.total {
		s.mu.Unlock()
		return fmt.Errorf("transfer %s: chunk reports %d chunks, transfer has %d", fp.TransferID, fp.TotalChunks, tr.total)
	}
	if fp.FileName != "" {
		tr.fileName = fp.FileName
	}
	if _, dup := tr.chunks[fp.ChunkIndex]; !dup {
		tr.chunks[fp.ChunkIndex] = append([]byte(nil), fp.Data...)
	}
	tr.lastActivity = s.now()

	if len(tr.chunks) < tr.total {
		s.mu.Unlock()
		return nil
	}
	delete(s.transfers, fp.TransferID)
	s.mu.Unlock()

	parts := make([][]byte, tr.total)
	for i := 0; i < tr.total; i++ {
		parts[i] = tr.chunks[i]
	}
	data := bytes.Join(parts, nil)

	s.logEvent("file_complete", map[string]interface{}{
		"transfer_id": fp.TransferID,
		"chunks":      tr.total,
		"bytes":       len(data),
	})
	s.bus.Emit(eventbus.FileComplete, eventbus.FileCompleteEvent{
		TransferID: fp.TransferID,
		FileName:   tr.fileName,
		Data:       data,
	})
	return nil
}

// PendingTransfers returns the ids of incomplete inbound transfers.
func (s *Service) PendingTransfers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.transfers))
	for id := range s.transfers {
		ids = append(ids, id)
	}
	return ids
}

// EvictStaleTransfers drops incomplete transfers that have seen no chunk
// for longer than TransferTimeout, emitting fileTransferExpired for each.
// It does nothing when TransferTimeout is zero.
func (s *Service) EvictStaleTransfers(now time.Time) []string {
	if s.cfg.TransferTimeout <= 0 {
		return nil
	}

	s.mu.Lock()
	var evicted []string
	for id, tr := range s.transfers {
		if now.Sub(tr.lastActivity) > s.cfg.TransferTimeout {
			delete(s.transfers, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.logEvent("transfer_expired", map[string]interface{}{"transfer_id": id})
		s.bus.Emit(eventbus.FileTransferExpired, id)
	}
	return evicted
}

// SendFile splits data into chunks of at most chunkSize bytes and sends
// INITIATE_UPLOAD, one UPLOAD_CHUNK per chunk and COMPLETE_UPLOAD. Empty
// data is sent as a single empty chunk. Returns the transfer id.
func (s *Service) SendFile(ctx context.Context, fileName, mimeType string, data []byte, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		return "", fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	transferID := uuid.NewString()
	total := (len(data) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	s.SendMessage(ctx, &protocol.InitiateUploadParams{
		TransferID:  transferID,
		FileName:    fileName,
		MimeType:    mimeType,
		Size:        len(data),
		TotalChunks: total,
	}, nil)

	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		s.SendMessage(ctx, &protocol.UploadChunkParams{
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: total,
		}, &protocol.FilePayload{
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: total,
			FileName:    fileName,
			MimeType:    mimeType,
			Data:        data[start:end],
		})
	}

	s.SendMessage(ctx, &protocol.CompleteUploadParams{
		TransferID: transferID,
		FileID:     transferID,
		FileName:   fileName,
	}, nil)

	return transferID, nil
}
