package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Get finds one mirrored message by id and writes it as indented JSON.
func Get(ctx context.Context, src Source, projectID, messageID string, w io.Writer) error {
	if messageID == "" {
		return fmt.Errorf("message id cannot be empty")
	}

	messages, err := src.MirroredMessages(ctx, projectID, "", 0)
	if err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}

	for _, m := range messages {
		if m.MessageID == messageID {
			if err := FormatSingleJSON(w, m); err != nil {
				return fmt.Errorf("failed to format message: %w", err)
			}
			return nil
		}
	}
	return &MessageNotFoundError{ProjectID: projectID, MessageID: messageID}
}

// MessageNotFoundError lets callers tell a missing message from a read failure.
type MessageNotFoundError struct {
	ProjectID string
	MessageID string
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("message '%s' not found in project '%s'", e.MessageID, e.ProjectID)
}

// IsNotFound returns true if the error is a MessageNotFoundError.
func IsNotFound(err error) bool {
	var nf *MessageNotFoundError
	return errors.As(err, &nf)
}
