package project

import (
	"fmt"
	"log"

	"github.com/cespare/xxhash/v2"
	"github.com/dyluth/stave/pkg/protocol"
)

// Reduce returns the state after applying a. It never mutates s and has no
// side effects besides logging: identical inputs give value-equal outputs.
//
// A trackable action (Meta.Trackable) appends exactly one history entry,
// before and regardless of the transition itself. Unknown actions and
// payloads of the wrong type leave the state unchanged.
//
// The reducer does not enforce locks. Callers check IsTrackLockedByOther and
// IsBlockEditedByOther before dispatching.
func Reduce(s State, a Action) State {
	next := s.Clone()

	if a.Meta != nil && a.Meta.Trackable {
		next.History = append(next.History, HistoryEntry{
			ID:          historyID(a, len(s.History)),
			Timestamp:   a.Meta.Timestamp,
			UserID:      a.Meta.UserID,
			UserName:    a.Meta.UserName,
			Action:      a.Type,
			Description: a.Meta.Description,
			Payload:     a.Payload,
		})
	}

	apply(&next, a)
	return next
}

// historyID derives "history-<timestamp>-<suffix9>" from the action and the
// history length, so the same input always yields the same id.
func historyID(a Action, n int) string {
	key := fmt.Sprintf("%s|%d|%d|%s|%s|%v", a.Type, n, a.Meta.Timestamp, a.Meta.UserID, a.Meta.Description, a.Payload)
	suffix := fmt.Sprintf("%016x", xxhash.Sum64String(key))[:9]
	return fmt.Sprintf("history-%d-%s", a.Meta.Timestamp, suffix)
}

// UserColor returns the default presence color for a user id.
func UserColor(userID string) string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", xxhash.Sum64String(userID)%360)
}

func mismatch(a Action) {
	log.Printf("[Reducer] Ignoring %s with unexpected payload %T", a.Type, a.Payload)
}

// apply performs a's transition on st, which the caller owns.
func apply(st *State, a Action) {
	switch a.Type {
	case ActionLoadProject:
		p, ok := a.Payload.(LoadProjectPayload)
		if !ok {
			mismatch(a)
			return
		}
		if st.Project.ID != p.Project.ID {
			st.History = []HistoryEntry{}
		}
		settings := st.Project.Settings.Merge(p.Project.Settings)
		st.Project = p.Project
		st.Project.Settings = settings
		st.Tracks = append([]protocol.Track{}, p.Tracks...)
		st.Blocks = append([]protocol.Block{}, p.Blocks...)
		st.Markers = append([]protocol.Marker{}, p.Markers...)
		st.Loading = false
		st.Error = ""
		baseline := st.Document()
		baseline.HistoryStart = len(st.History)
		st.Baseline = &baseline

	case ActionAddTrack:
		p, ok := a.Payload.(*protocol.AddTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		st.Tracks = append(st.Tracks, p.Track)

	case ActionRemoveTrack:
		p, ok := a.Payload.(*protocol.RemoveTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		removeTrack(st, p.TrackID)

	case ActionUpdateTrack:
		p, ok := a.Payload.(*protocol.UpdateTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, p.Updates.Apply)

	case ActionSetTrackVolume:
		p, ok := a.Payload.(*protocol.SetTrackVolumeParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Volume = p.Volume
			return t
		})

	case ActionMuteTrack:
		p, ok := a.Payload.(*protocol.MuteTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Muted = p.Muted
			return t
		})

	case ActionSoloTrack:
		p, ok := a.Payload.(*protocol.SoloTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Solo = p.Solo
			return t
		})

	case ActionArmTrack:
		p, ok := a.Payload.(*protocol.ArmTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Armed = p.Armed
			return t
		})

	case ActionLockTrack:
		p, ok := a.Payload.(*protocol.LockTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Locked = true
			t.LockedByUser = p.UserID
			t.LockedByUserName = p.UserName
			return t
		})

	case ActionUnlockTrack:
		p, ok := a.Payload.(*protocol.UnlockTrackParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateTrack(st, p.TrackID, func(t protocol.Track) protocol.Track {
			t.Locked = false
			t.LockedByUser = ""
			t.LockedByUserName = ""
			return t
		})

	case ActionAddBlock:
		p, ok := a.Payload.(*protocol.AddBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		st.Blocks = append(st.Blocks, p.Block)

	case ActionRemoveBlock:
		p, ok := a.Payload.(*protocol.RemoveBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		kept := st.Blocks[:0]
		for _, b := range st.Blocks {
			if b.ID != p.BlockID {
				kept = append(kept, b)
			}
		}
		st.Blocks = kept
		if st.SelectedBlockID == p.BlockID {
			st.SelectedBlockID = ""
		}

	case ActionMoveBlock:
		p, ok := a.Payload.(*protocol.MoveBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateBlock(st, p.BlockID, func(b protocol.Block) protocol.Block {
			b.Track = p.Track
			b.StartBeat = p.StartBeat
			return b
		})

	case ActionResizeBlock:
		p, ok := a.Payload.(*protocol.ResizeBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateBlock(st, p.BlockID, func(b protocol.Block) protocol.Block {
			b.LengthBeats = p.LengthBeats
			return b
		})

	case ActionUpdateBlock:
		p, ok := a.Payload.(*protocol.UpdateBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateBlock(st, p.BlockID, p.Updates.Apply)

	case ActionStartEditingBlock:
		p, ok := a.Payload.(*protocol.StartEditingBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateBlock(st, p.BlockID, func(b protocol.Block) protocol.Block {
			b.EditingUserID = p.UserID
			return b
		})

	case ActionEndEditingBlock:
		p, ok := a.Payload.(*protocol.EndEditingBlockParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		updateBlock(st, p.BlockID, func(b protocol.Block) protocol.Block {
			b.EditingUserID = ""
			return b
		})

	case ActionAddMarker:
		p, ok := a.Payload.(*protocol.AddMarkerParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		st.Markers = append(st.Markers, p.Marker)

	case ActionUpdateMarker:
		p, ok := a.Payload.(*protocol.UpdateMarkerParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		for i := range st.Markers {
			if st.Markers[i].ID == p.MarkerID {
				st.Markers[i] = p.Updates.Apply(st.Markers[i])
				break
			}
		}

	case ActionRemoveMarker:
		p, ok := a.Payload.(*protocol.RemoveMarkerParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		kept := st.Markers[:0]
		for _, m := range st.Markers {
			if m.ID != p.MarkerID {
				kept = append(kept, m)
			}
		}
		st.Markers = kept

	case ActionSetPlaying:
		p, ok := a.Payload.(SetPlayingPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.IsPlaying = p.Playing

	case ActionSetCurrentBeat:
		p, ok := a.Payload.(SetCurrentBeatPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.CurrentBeat = p.Beat

	case ActionSetBPM:
		p, ok := a.Payload.(SetBPMPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.Project.BPM = p.BPM

	case ActionSetMasterVolume:
		p, ok := a.Payload.(SetMasterVolumePayload)
		if !ok {
			mismatch(a)
			return
		}
		st.Project.MasterVolume = p.Volume

	case ActionUpdateSettings:
		p, ok := a.Payload.(*protocol.UpdateSettingsParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		st.Project.Settings = st.Project.Settings.Merge(p.Settings)

	case ActionSelectBlock:
		p, ok := a.Payload.(SelectBlockPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.SelectedBlockID = p.BlockID

	case ActionSetActiveTool:
		p, ok := a.Payload.(SetActiveToolPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.ActiveTool = p.Tool

	case ActionSetZoom:
		p, ok := a.Payload.(SetZoomPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.Zoom = p.Zoom

	case ActionSetScroll:
		p, ok := a.Payload.(SetScrollPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.ScrollX, st.ScrollY = p.X, p.Y

	case ActionSetLoading:
		p, ok := a.Payload.(SetLoadingPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.Loading = p.Loading

	case ActionSetError:
		p, ok := a.Payload.(SetErrorPayload)
		if !ok {
			mismatch(a)
			return
		}
		st.Error = p.Error
		st.Loading = false

	case ActionUserJoined:
		p, ok := a.Payload.(*protocol.UserJoinedParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		for _, u := range st.RemoteUsers {
			if u.ID == p.UserID {
				return
			}
		}
		color := p.Color
		if color == "" {
			color = UserColor(p.UserID)
		}
		st.RemoteUsers = append(st.RemoteUsers, protocol.RemoteUser{
			ID:       p.UserID,
			Name:     p.UserName,
			Color:    color,
			Position: protocol.Cursor{UserID: p.UserID},
		})

	case ActionUserLeft:
		p, ok := a.Payload.(*protocol.UserLeftParams)
		if !ok || p == nil {
			mismatch(a)
			return
		}
		kept := st.RemoteUsers[:0]
		for _, u := range st.RemoteUsers {
			if u.ID != p.UserID {
				kept = append(kept, u)
			}
		}
		st.RemoteUsers = kept

	case ActionUpdateUserCursor:
		p, ok := a.Payload.(UpdateUserCursorPayload)
		if !ok {
			mismatch(a)
			return
		}
		for i := range st.RemoteUsers {
			if st.RemoteUsers[i].ID == p.UserID {
				st.RemoteUsers[i].Position.X = p.X
				st.RemoteUsers[i].Position.Y = p.Y
				break
			}
		}

	case ActionRestoreToTimestamp:
		p, ok := a.Payload.(RestoreToTimestampPayload)
		if !ok {
			mismatch(a)
			return
		}
		restore(st, p.Timestamp)

	default:
		log.Printf("[Reducer] Unknown action type %q, state unchanged", a.Type)
	}
}

// removeTrack removes a track, its blocks, and shifts blocks on later
// tracks down by one so every block index stays valid.
func removeTrack(st *State, trackID string) {
	idx := TrackIndex(*st, trackID)
	if idx < 0 {
		return
	}

	st.Tracks = append(st.Tracks[:idx], st.Tracks[idx+1:]...)

	kept := st.Blocks[:0]
	for _, b := range st.Blocks {
		switch {
		case b.Track == idx:
			if st.SelectedBlockID == b.ID {
				st.SelectedBlockID = ""
			}
			continue
		case b.Track > idx:
			b.Track--
		}
		kept = append(kept, b)
	}
	st.Blocks = kept
}

func updateTrack(st *State, id string, fn func(protocol.Track) protocol.Track) {
	for i := range st.Tracks {
		if st.Tracks[i].ID == id {
			st.Tracks[i] = fn(st.Tracks[i])
			return
		}
	}
}

func updateBlock(st *State, id string, fn func(protocol.Block) protocol.Block) {
	for i := range st.Blocks {
		if st.Blocks[i].ID == id {
			st.Blocks[i] = fn(st.Blocks[i])
			return
		}
	}
}

// restore rebuilds the document from the last loaded baseline by replaying
// the actions recorded since that load and stamped at or before target, in
// the order they were applied here. Earlier restores are not replayed.
// History itself is kept.
func restore(st *State, target int64) {
	st.SelectedBlockID = ""
	if st.Baseline == nil {
		log.Printf("[Reducer] RESTORE_TO_TIMESTAMP before any project was loaded, ignoring")
		return
	}

	base := st.Baseline.clone()
	replay := State{
		Project: base.Project,
		Tracks:  base.Tracks,
		Blocks:  base.Blocks,
		Markers: base.Markers,
	}
	start := base.HistoryStart
	if start > len(st.History) {
		start = len(st.History)
	}
	for _, entry := range st.History[start:] {
		if entry.Timestamp > target ||
			entry.Action == ActionRestoreToTimestamp ||
			entry.Action == ActionLoadProject {
			continue
		}
		apply(&replay, Action{Type: entry.Action, Payload: entry.Payload})
	}

	st.Project = replay.Project
	st.Tracks = replay.Tracks
	st.Blocks = replay.Blocks
	st.Markers = replay.Markers
}
