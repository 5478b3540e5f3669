package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/stave/pkg/protocol"
)

// FormatTable writes messages as a table with columns ID, ACTION, USER,
// AGE and DESCRIPTION. Returns the number of messages written.
func FormatTable(w io.Writer, messages []*protocol.UserInteractionMessage, projectID string, now time.Time) int {
	if len(messages) == 0 {
		fmt.Fprintf(w, "No messages found for project '%s'\n", projectID)
		return 0
	}

	fmt.Fprintf(w, "Messages for project '%s':\n\n", projectID)
	fmt.Fprintf(w, "%-10s %-20s %-12s %-8s %s\n", "ID", "ACTION", "USER", "AGE", "DESCRIPTION")
	fmt.Fprintf(w, "%-10s %-20s %-12s %-8s %s\n",
		"----------", "--------------------", "------------", "--------", "----------------------------------------")

	for _, m := range messages {
		fmt.Fprintf(w, "%-10s %-20s %-12s %-8s %s\n",
			formatID(m.MessageID),
			truncate(string(m.Action), 20),
			truncate(orDash(m.UserID), 12),
			formatAge(m.Timestamp, now),
			truncate(protocol.Describe(m.Action, m.Params), 60),
		)
	}

	noun := "message"
	if len(messages) != 1 {
		noun = "messages"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(messages), noun)
	return len(messages)
}

// FormatJSONL writes one compact JSON message per line.
func FormatJSONL(w io.Writer, messages []*protocol.UserInteractionMessage) error {
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one message as indented JSON.
func FormatSingleJSON(w io.Writer, m *protocol.UserInteractionMessage) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID keeps the tail of "msg-<ms>-<suffix>" ids, which is what
// distinguishes messages sent in the same millisecond.
func formatID(id string) string {
	if len(id) > 10 {
		return id[len(id)-10:]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge renders a Unix millisecond timestamp relative to now.
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
