// Package journal reads a project's message mirror: the append-only
// record of every action broadcast on the project channel.
package journal

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/dyluth/stave/internal/timespec"
	"github.com/dyluth/stave/pkg/protocol"
)

// OutputFormat specifies how to format list output.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSONL   OutputFormat = "jsonl"
)

// Source is the part of *relay.Client the journal reads from.
type Source interface {
	MirroredMessages(ctx context.Context, projectID, after string, count int64) ([]*protocol.UserInteractionMessage, error)
}

// FilterCriteria narrows a listing. All filters are ANDed together.
type FilterCriteria struct {
	SinceTimestampMs int64  // 0 = no filter
	UntilTimestampMs int64  // 0 = no filter
	ActionGlob       string // glob over the action type, e.g. "*_BLOCK"
	UserID           string // exact match
}

func (fc *FilterCriteria) matches(m *protocol.UserInteractionMessage) bool {
	if !timespec.InRange(m.Timestamp, fc.SinceTimestampMs, fc.UntilTimestampMs) {
		return false
	}
	if fc.ActionGlob != "" {
		matched, err := filepath.Match(fc.ActionGlob, string(m.Action))
		if err != nil || !matched {
			return false
		}
	}
	if fc.UserID != "" && m.UserID != fc.UserID {
		return false
	}
	return true
}

// Messages returns the project's mirrored messages that pass filters,
// oldest first.
func Messages(ctx context.Context, src Source, projectID string, filters *FilterCriteria) ([]*protocol.UserInteractionMessage, error) {
	all, err := src.MirroredMessages(ctx, projectID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	out := make([]*protocol.UserInteractionMessage, 0, len(all))
	for _, m := range all {
		if filters != nil && !filters.matches(m) {
			continue
		}
		out = append(out, m)
	}

	// Mirror order is append order; peers' clocks may disagree.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// List writes the project's messages in the requested format.
func List(ctx context.Context, src Source, projectID string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	messages, err := Messages(ctx, src, projectID, filters)
	if err != nil {
		return err
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, messages, projectID, time.Now())
	case OutputFormatJSONL:
		if err := FormatJSONL(w, messages); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}
