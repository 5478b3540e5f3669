package project

import (
	"fmt"
	"sort"

	"github.com/dyluth/stave/pkg/protocol"
)

// FindTrack returns the track with the given id.
func FindTrack(s State, id string) (protocol.Track, bool) {
	if i := TrackIndex(s, id); i >= 0 {
		return s.Tracks[i], true
	}
	return protocol.Track{}, false
}

// FindBlock returns the block with the given id.
func FindBlock(s State, id string) (protocol.Block, bool) {
	for _, b := range s.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return protocol.Block{}, false
}

// TrackIndex returns the position of a track, or -1.
func TrackIndex(s State, id string) int {
	for i, t := range s.Tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// IsTrackLockedByOther reports whether the track is locked by someone other
// than userID. Locks are advisory: the reducer applies mutations regardless.
func IsTrackLockedByOther(s State, trackID, userID string) bool {
	t, ok := FindTrack(s, trackID)
	return ok && t.Locked && t.LockedByUser != "" && t.LockedByUser != userID
}

// IsBlockEditedByOther reports whether another user holds the block's soft
// edit lock.
func IsBlockEditedByOther(s State, blockID, userID string) bool {
	b, ok := FindBlock(s, blockID)
	return ok && b.EditingUserID != "" && b.EditingUserID != userID
}

// BlocksForTrack returns the blocks placed on the track at index.
func BlocksForTrack(s State, index int) []protocol.Block {
	var out []protocol.Block
	for _, b := range s.Blocks {
		if b.Track == index {
			out = append(out, b)
		}
	}
	return out
}

// Stats aggregates a project for display.
type Stats struct {
	Tracks       int     `json:"tracks"`
	Blocks       int     `json:"blocks"`
	Markers      int     `json:"markers"`
	Duration     float64 `json:"duration"` // highest block end beat
	ActiveUsers  int     `json:"activeUsers"`
	LastActivity int64   `json:"lastActivity,omitempty"`
}

// ComputeStats returns aggregate statistics for s.
func ComputeStats(s State) Stats {
	st := Stats{
		Tracks:      len(s.Tracks),
		Blocks:      len(s.Blocks),
		Markers:     len(s.Markers),
		ActiveUsers: len(s.RemoteUsers),
	}
	for _, b := range s.Blocks {
		if end := b.EndBeat(); end > st.Duration {
			st.Duration = end
		}
	}
	for _, h := range s.History {
		if h.Timestamp > st.LastActivity {
			st.LastActivity = h.Timestamp
		}
	}
	return st
}

// Validate scans s for structural problems the reducer leaves in place:
// blocks pointing at missing tracks, a selection naming a missing block, and
// overlapping blocks on one track. It never modifies s.
func Validate(s State) []string {
	var problems []string

	for _, b := range s.Blocks {
		if b.Track < 0 || b.Track >= len(s.Tracks) {
			problems = append(problems, fmt.Sprintf("Orphaned block %q references track index %d", b.ID, b.Track))
		}
	}

	if s.SelectedBlockID != "" {
		if _, ok := FindBlock(s, s.SelectedBlockID); !ok {
			problems = append(problems, fmt.Sprintf("Selected block %q does not exist", s.SelectedBlockID))
		}
	}

	for i := range s.Tracks {
		blocks := BlocksForTrack(s, i)
		sort.SliceStable(blocks, func(a, b int) bool { return blocks[a].StartBeat < blocks[b].StartBeat })
		for j := 1; j < len(blocks); j++ {
			prev, cur := blocks[j-1], blocks[j]
			if prev.EndBeat() > cur.StartBeat {
				problems = append(problems, fmt.Sprintf("Overlapping blocks on track %d: %q and %q", i, prev.ID, cur.ID))
			}
		}
	}

	return problems
}
