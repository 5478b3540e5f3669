package session

import (
	"context"
	"fmt"

	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/store"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/google/uuid"
)

// perform applies a locally and sends params to collaborators. It returns
// the id of the outgoing message.
func (s *Session) perform(ctx context.Context, params protocol.Params, a project.Action) string {
	s.dispatch(a, false)
	return s.sender.SendMessage(ctx, params, nil)
}

func (s *Session) meta(params protocol.Params) *project.Meta {
	return project.NewMeta(s.self.UserID, s.self.UserName, s.now().UnixMilli(), protocol.Describe(params.Action(), params))
}

// tracked builds the trackable action for a document command whose reducer
// payload is the wire params itself.
func (s *Session) tracked(params protocol.Params) project.Action {
	return project.Action{Type: project.ActionType(params.Action()), Payload: params, Meta: s.meta(params)}
}

// checkTrack returns ErrNotFound or ErrLockedByOtherUser for a track the
// local user may not modify.
func (s *Session) checkTrack(trackID string) error {
	st := s.Snapshot()
	if project.TrackIndex(st, trackID) < 0 {
		return fmt.Errorf("track %s: %w", trackID, ErrNotFound)
	}
	if project.IsTrackLockedByOther(st, trackID, s.self.UserID) {
		t, _ := project.FindTrack(st, trackID)
		return fmt.Errorf("track %s is held by %s: %w", trackID, t.LockedByUserName, ErrLockedByOtherUser)
	}
	return nil
}

// checkBlock guards a block and the track it sits on.
func (s *Session) checkBlock(blockID string) error {
	st := s.Snapshot()
	b, ok := project.FindBlock(st, blockID)
	if !ok {
		return fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	if project.IsBlockEditedByOther(st, blockID, s.self.UserID) {
		return fmt.Errorf("block %s is being edited by %s: %w", blockID, b.EditingUserID, ErrLockedByOtherUser)
	}
	return s.checkTrackIndex(st, b.Track)
}

func (s *Session) checkTrackIndex(st project.State, index int) error {
	if index < 0 || index >= len(st.Tracks) {
		return fmt.Errorf("track index %d: %w", index, ErrNotFound)
	}
	if t := st.Tracks[index]; project.IsTrackLockedByOther(st, t.ID, s.self.UserID) {
		return fmt.Errorf("track %s is held by %s: %w", t.ID, t.LockedByUserName, ErrLockedByOtherUser)
	}
	return nil
}

// AddTrack appends a track. An empty id is replaced by a new UUID, which is
// returned.
func (s *Session) AddTrack(ctx context.Context, t protocol.Track) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid track: %w", err)
	}
	params := &protocol.AddTrackParams{Track: t}
	s.perform(ctx, params, s.tracked(params))
	return t.ID, nil
}

// RemoveTrack removes a track together with its blocks.
func (s *Session) RemoveTrack(ctx context.Context, trackID string) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.RemoveTrackParams{TrackID: trackID}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// UpdateTrack applies a partial update to a track.
func (s *Session) UpdateTrack(ctx context.Context, trackID string, updates protocol.TrackPatch) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.UpdateTrackParams{TrackID: trackID, Updates: updates}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// SetTrackVolume sets a track's volume, 0-100.
func (s *Session) SetTrackVolume(ctx context.Context, trackID string, volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("invalid track volume: must be 0-100, got %d", volume)
	}
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.SetTrackVolumeParams{TrackID: trackID, Volume: volume}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// MuteTrack sets a track's mute flag.
func (s *Session) MuteTrack(ctx context.Context, trackID string, muted bool) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.MuteTrackParams{TrackID: trackID, Muted: muted}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// SoloTrack sets a track's solo flag.
func (s *Session) SoloTrack(ctx context.Context, trackID string, solo bool) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.SoloTrackParams{TrackID: trackID, Solo: solo}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// ArmTrack sets a track's record-arm flag.
func (s *Session) ArmTrack(ctx context.Context, trackID string, armed bool) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.ArmTrackParams{TrackID: trackID, Armed: armed}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// LockTrack takes the advisory lock on a track for the local user.
func (s *Session) LockTrack(ctx context.Context, trackID string) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.LockTrackParams{TrackID: trackID, UserID: s.self.UserID, UserName: s.self.UserName}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// UnlockTrack releases a track. Only the holder may release it.
func (s *Session) UnlockTrack(ctx context.Context, trackID string) error {
	if err := s.checkTrack(trackID); err != nil {
		return err
	}
	params := &protocol.UnlockTrackParams{TrackID: trackID}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// AddBlock places a block. An empty id is replaced by a new UUID, which is
// returned.
func (s *Session) AddBlock(ctx context.Context, b protocol.Block) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("invalid block: %w", err)
	}
	if err := s.checkTrackIndex(s.Snapshot(), b.Track); err != nil {
		return "", err
	}
	params := &protocol.AddBlockParams{Block: b}
	s.perform(ctx, params, s.tracked(params))
	return b.ID, nil
}

// RemoveBlock deletes a block.
func (s *Session) RemoveBlock(ctx context.Context, blockID string) error {
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	params := &protocol.RemoveBlockParams{BlockID: blockID}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// MoveBlock moves a block to another track index and start beat.
func (s *Session) MoveBlock(ctx context.Context, blockID string, track int, startBeat float64) error {
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	if err := s.checkTrackIndex(s.Snapshot(), track); err != nil {
		return err
	}
	if startBeat < 0 {
		return fmt.Errorf("invalid start beat: must be >= 0, got %v", startBeat)
	}
	params := &protocol.MoveBlockParams{BlockID: blockID, Track: track, StartBeat: startBeat}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// ResizeBlock changes a block's length.
func (s *Session) ResizeBlock(ctx context.Context, blockID string, lengthBeats float64) error {
	if lengthBeats <= 0 {
		return fmt.Errorf("invalid length: must be > 0, got %v", lengthBeats)
	}
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	params := &protocol.ResizeBlockParams{BlockID: blockID, LengthBeats: lengthBeats}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// UpdateBlock applies a partial update to a block.
func (s *Session) UpdateBlock(ctx context.Context, blockID string, updates protocol.BlockPatch) error {
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	params := &protocol.UpdateBlockParams{BlockID: blockID, Updates: updates}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// StartEditingBlock takes the soft edit lock on a block. Editing markers
// are not recorded in the history.
func (s *Session) StartEditingBlock(ctx context.Context, blockID string) error {
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	params := &protocol.StartEditingBlockParams{BlockID: blockID, UserID: s.self.UserID, UserName: s.self.UserName}
	s.perform(ctx, params, project.Action{Type: project.ActionStartEditingBlock, Payload: params})
	return nil
}

// EndEditingBlock releases the soft edit lock.
func (s *Session) EndEditingBlock(ctx context.Context, blockID string) error {
	if err := s.checkBlock(blockID); err != nil {
		return err
	}
	params := &protocol.EndEditingBlockParams{BlockID: blockID}
	s.perform(ctx, params, project.Action{Type: project.ActionEndEditingBlock, Payload: params})
	return nil
}

// AddMarker places a timeline marker. Missing id, project and author are
// filled in; the id is returned.
func (s *Session) AddMarker(ctx context.Context, m protocol.Marker) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ProjectID == "" {
		m.ProjectID = s.ProjectID()
	}
	if m.CreatedBy == "" {
		m.CreatedBy = s.self.UserID
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = s.now().UnixMilli()
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("invalid marker: %w", err)
	}
	params := &protocol.AddMarkerParams{Marker: m}
	s.perform(ctx, params, s.tracked(params))
	return m.ID, nil
}

// UpdateMarker applies a partial update to a marker.
func (s *Session) UpdateMarker(ctx context.Context, markerID string, updates protocol.MarkerPatch) error {
	if !s.hasMarker(markerID) {
		return fmt.Errorf("marker %s: %w", markerID, ErrNotFound)
	}
	params := &protocol.UpdateMarkerParams{MarkerID: markerID, Updates: updates}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

// RemoveMarker deletes a marker.
func (s *Session) RemoveMarker(ctx context.Context, markerID string) error {
	if !s.hasMarker(markerID) {
		return fmt.Errorf("marker %s: %w", markerID, ErrNotFound)
	}
	params := &protocol.RemoveMarkerParams{MarkerID: markerID}
	s.perform(ctx, params, s.tracked(params))
	return nil
}

func (s *Session) hasMarker(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.state.Markers {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Play starts playback from the current beat for everyone.
func (s *Session) Play(ctx context.Context) {
	beat := s.Snapshot().CurrentBeat
	s.perform(ctx, &protocol.PlayParams{FromBeat: beat},
		project.Action{Type: project.ActionSetPlaying, Payload: project.SetPlayingPayload{Playing: true}})
}

// Pause stops playback at the current beat.
func (s *Session) Pause(ctx context.Context) {
	beat := s.Snapshot().CurrentBeat
	s.perform(ctx, &protocol.PauseParams{AtBeat: beat},
		project.Action{Type: project.ActionSetPlaying, Payload: project.SetPlayingPayload{Playing: false}})
}

// Restart moves the playhead to the start.
func (s *Session) Restart(ctx context.Context) {
	s.perform(ctx, &protocol.RestartParams{},
		project.Action{Type: project.ActionSetCurrentBeat, Payload: project.SetCurrentBeatPayload{Beat: 0}})
}

// Seek moves the playhead.
func (s *Session) Seek(ctx context.Context, beat float64) error {
	if beat < 0 {
		return fmt.Errorf("invalid beat: must be >= 0, got %v", beat)
	}
	s.perform(ctx, &protocol.SeekParams{Beat: beat},
		project.Action{Type: project.ActionSetCurrentBeat, Payload: project.SetCurrentBeatPayload{Beat: beat}})
	return nil
}

// ChangeBPM changes the project tempo.
func (s *Session) ChangeBPM(ctx context.Context, bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("invalid bpm: must be > 0, got %v", bpm)
	}
	params := &protocol.ChangeBPMParams{BPM: bpm}
	s.perform(ctx, params, project.Action{
		Type:    project.ActionSetBPM,
		Payload: project.SetBPMPayload{BPM: bpm},
		Meta:    s.meta(params),
	})
	return nil
}

// SetMasterVolume changes the master volume locally. There is no wire
// action for it; it is persisted with the project on Save.
func (s *Session) SetMasterVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("invalid master volume: must be 0-1, got %v", volume)
	}
	s.dispatch(project.Action{
		Type:    project.ActionSetMasterVolume,
		Payload: project.SetMasterVolumePayload{Volume: volume},
		Meta:    project.NewMeta(s.self.UserID, s.self.UserName, s.now().UnixMilli(), fmt.Sprintf("Set master volume to %.0f%%", volume*100)),
	}, false)
	return nil
}

// UpdateSettings merges settings into the project, tells collaborators and
// persists the change. The local state keeps the change even when
// persisting fails; the error is returned so the caller can retry.
func (s *Session) UpdateSettings(ctx context.Context, settings protocol.Settings) error {
	if err := protocol.DefaultSettings().Merge(settings).Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	params := &protocol.UpdateSettingsParams{Settings: settings.Clone()}
	s.perform(ctx, params, s.tracked(params))

	if err := s.store.UpdateProjectSettings(ctx, s.ProjectID(), settings); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	return nil
}

// ImportSample sends a sample file inline and places it as a block. The
// message follows the file availability lifecycle in the collaboration
// service.
func (s *Session) ImportSample(ctx context.Context, fileName, mimeType string, data []byte, b protocol.Block) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.FileID == "" {
		b.FileID = uuid.NewString()
	}
	if b.Name == "" {
		b.Name = fileName
	}
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("invalid block: %w", err)
	}
	if err := s.checkTrackIndex(s.Snapshot(), b.Track); err != nil {
		return "", err
	}

	params := &protocol.ImportSampleParams{FileID: b.FileID, FileName: fileName, Block: b}
	s.dispatch(project.Action{
		Type:    project.ActionAddBlock,
		Payload: &protocol.AddBlockParams{Block: b},
		Meta:    s.meta(params),
	}, false)
	return s.sender.SendMessage(ctx, params, &protocol.FilePayload{
		TransferID:  b.FileID,
		TotalChunks: 1,
		FileName:    fileName,
		MimeType:    mimeType,
		Data:        data,
	}), nil
}

// SendMessage applies params locally when they have a document effect and
// sends them. It is the escape hatch for actions without a dedicated
// command.
func (s *Session) SendMessage(ctx context.Context, params protocol.Params) string {
	msg := protocol.NewMessage(s.self.UserID, params, s.now())
	if a, ok := project.FromMessage(msg, s.self.UserName); ok {
		s.dispatch(a, false)
	}
	return s.sender.SendMessage(ctx, params, nil)
}

// MoveCursor shares the local pointer position. Moves are throttled by the
// transport; sent reports whether this one went out.
func (s *Session) MoveCursor(ctx context.Context, x, y float64) (sent bool, err error) {
	return s.conn.BroadcastCursor(ctx, x, y)
}

// Save writes the current document to persistence and announces it.
func (s *Session) Save(ctx context.Context) error {
	st := s.Snapshot()
	data := &store.ProjectData{
		Project: st.Project,
		Tracks:  st.Tracks,
		Blocks:  st.Blocks,
		Markers: st.Markers,
	}
	if err := s.store.SaveProjectData(ctx, data); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	s.sender.SendMessage(ctx, &protocol.SaveProjectParams{ProjectID: st.Project.ID}, nil)
	return nil
}

// RestoreToTimestamp rewinds the local document to how it looked at
// timestamp (unix milliseconds). The restore is recorded in the history but
// not broadcast; Save publishes it.
func (s *Session) RestoreToTimestamp(timestamp int64) {
	s.dispatch(project.Action{
		Type:    project.ActionRestoreToTimestamp,
		Payload: project.RestoreToTimestampPayload{Timestamp: timestamp},
		Meta:    project.NewMeta(s.self.UserID, s.self.UserName, s.now().UnixMilli(), "Restored project to an earlier version"),
	}, false)
}

// SelectBlock changes the local selection.
func (s *Session) SelectBlock(blockID string) {
	s.dispatch(project.Action{Type: project.ActionSelectBlock, Payload: project.SelectBlockPayload{BlockID: blockID}}, false)
}

// SetActiveTool changes the local editing tool.
func (s *Session) SetActiveTool(tool string) {
	s.dispatch(project.Action{Type: project.ActionSetActiveTool, Payload: project.SetActiveToolPayload{Tool: tool}}, false)
}

// SetZoom changes the local timeline zoom.
func (s *Session) SetZoom(zoom float64) {
	s.dispatch(project.Action{Type: project.ActionSetZoom, Payload: project.SetZoomPayload{Zoom: zoom}}, false)
}

// SetScroll changes the local timeline scroll offsets.
func (s *Session) SetScroll(x, y float64) {
	s.dispatch(project.Action{Type: project.ActionSetScroll, Payload: project.SetScrollPayload{X: x, Y: y}}, false)
}

// Stats returns aggregate statistics for the open project.
func (s *Session) Stats() project.Stats {
	return project.ComputeStats(s.Snapshot())
}

// Validate reports structural problems in the open project.
func (s *Session) Validate() []string {
	return project.Validate(s.Snapshot())
}
