package protocol

import (
	"fmt"
	"strconv"
)

// undefinedText is rendered for any value a description needs but the params
// do not carry.
const undefinedText = "undefined"

type extras []string

func (x extras) at(i int, fallback string) string {
	if i < len(x) && x[i] != "" {
		return x[i]
	}
	return str(fallback)
}

type describer func(p Params, x extras) string

// descriptions holds one entry per ActionType. Every entry is total: it
// accepts nil or mismatched params and renders missing values as "undefined".
var descriptions = map[ActionType]describer{
	ActionCreateProject: func(p Params, x extras) string {
		v, _ := as[CreateProjectParams](p)
		return fmt.Sprintf("Created project %q", str(v.Project.Name))
	},
	ActionOpenProject: func(p Params, x extras) string {
		v, _ := as[OpenProjectParams](p)
		return fmt.Sprintf("Opened project %s", x.at(0, v.ProjectID))
	},
	ActionSaveProject: func(p Params, x extras) string {
		v, _ := as[SaveProjectParams](p)
		return fmt.Sprintf("Saved project %s", x.at(0, v.ProjectID))
	},
	ActionAddTrack: func(p Params, x extras) string {
		v, _ := as[AddTrackParams](p)
		return fmt.Sprintf("Added track %q", str(v.Track.Name))
	},
	ActionRemoveTrack: func(p Params, x extras) string {
		v, _ := as[RemoveTrackParams](p)
		return fmt.Sprintf("Removed track %q", x.at(0, v.TrackID))
	},
	ActionUpdateTrack: func(p Params, x extras) string {
		v, _ := as[UpdateTrackParams](p)
		return fmt.Sprintf("Updated track %q", x.at(0, v.TrackID))
	},
	ActionMuteTrack: func(p Params, x extras) string {
		v, ok := as[MuteTrackParams](p)
		verb := "Muted"
		if ok && !v.Muted {
			verb = "Unmuted"
		}
		return fmt.Sprintf("%s track %q", verb, x.at(0, v.TrackID))
	},
	ActionSoloTrack: func(p Params, x extras) string {
		v, ok := as[SoloTrackParams](p)
		return fmt.Sprintf("Set solo %s on track %q", boolText(ok, v.Solo), x.at(0, v.TrackID))
	},
	ActionArmTrack: func(p Params, x extras) string {
		v, ok := as[ArmTrackParams](p)
		return fmt.Sprintf("Set record arm %s on track %q", boolText(ok, v.Armed), x.at(0, v.TrackID))
	},
	ActionSetTrackVolume: func(p Params, x extras) string {
		v, ok := as[SetTrackVolumeParams](p)
		return fmt.Sprintf("Set volume of track %q to %s", x.at(0, v.TrackID), intText(ok, v.Volume))
	},
	ActionLockTrack: func(p Params, x extras) string {
		v, _ := as[LockTrackParams](p)
		return fmt.Sprintf("%s locked track %q", str(v.UserName), x.at(0, v.TrackID))
	},
	ActionUnlockTrack: func(p Params, x extras) string {
		v, _ := as[UnlockTrackParams](p)
		return fmt.Sprintf("Unlocked track %q", x.at(0, v.TrackID))
	},
	ActionAddBlock: func(p Params, x extras) string {
		v, ok := as[AddBlockParams](p)
		return fmt.Sprintf("Added block %q on track %s", str(v.Block.Name), intText(ok, v.Block.Track+1))
	},
	ActionRemoveBlock: func(p Params, x extras) string {
		v, _ := as[RemoveBlockParams](p)
		return fmt.Sprintf("Removed block %q", x.at(0, v.BlockID))
	},
	ActionMoveBlock: func(p Params, x extras) string {
		v, ok := as[MoveBlockParams](p)
		return fmt.Sprintf("Moved block %q to track %s at beat %s",
			x.at(0, v.BlockID), intText(ok, v.Track+1), floatText(ok, v.StartBeat))
	},
	ActionResizeBlock: func(p Params, x extras) string {
		v, ok := as[ResizeBlockParams](p)
		return fmt.Sprintf("Resized block %q to %s beats", x.at(0, v.BlockID), floatText(ok, v.LengthBeats))
	},
	ActionUpdateBlock: func(p Params, x extras) string {
		v, _ := as[UpdateBlockParams](p)
		return fmt.Sprintf("Updated block %q", x.at(0, v.BlockID))
	},
	ActionStartEditingBlock: func(p Params, x extras) string {
		v, _ := as[StartEditingBlockParams](p)
		return fmt.Sprintf("%s started editing block %q", str(v.UserName), x.at(0, v.BlockID))
	},
	ActionEndEditingBlock: func(p Params, x extras) string {
		v, _ := as[EndEditingBlockParams](p)
		return fmt.Sprintf("Finished editing block %q", x.at(0, v.BlockID))
	},
	ActionAddMarker: func(p Params, x extras) string {
		v, ok := as[AddMarkerParams](p)
		return fmt.Sprintf("Added marker %q at beat %s", str(v.Marker.Label), floatText(ok, v.Marker.Position))
	},
	ActionUpdateMarker: func(p Params, x extras) string {
		v, _ := as[UpdateMarkerParams](p)
		return fmt.Sprintf("Updated marker %q", x.at(0, v.MarkerID))
	},
	ActionRemoveMarker: func(p Params, x extras) string {
		v, _ := as[RemoveMarkerParams](p)
		return fmt.Sprintf("Removed marker %q", x.at(0, v.MarkerID))
	},
	ActionInitiateUpload: func(p Params, x extras) string {
		v, ok := as[InitiateUploadParams](p)
		return fmt.Sprintf("Started uploading %q (%s chunks)", str(v.FileName), intText(ok, v.TotalChunks))
	},
	ActionUploadChunk: func(p Params, x extras) string {
		v, ok := as[UploadChunkParams](p)
		return fmt.Sprintf("Uploaded chunk %s of %s for transfer %s",
			intText(ok, v.ChunkIndex+1), intText(ok, v.TotalChunks), str(v.TransferID))
	},
	ActionCompleteUpload: func(p Params, x extras) string {
		v, _ := as[CompleteUploadParams](p)
		return fmt.Sprintf("Finished uploading %q", str(v.FileName))
	},
	ActionImportSample: func(p Params, x extras) string {
		v, ok := as[ImportSampleParams](p)
		return fmt.Sprintf("Imported sample %q to track %s", str(v.FileName), intText(ok, v.Block.Track+1))
	},
	ActionPlay: func(p Params, x extras) string {
		v, ok := as[PlayParams](p)
		return fmt.Sprintf("Started playback from beat %s", floatText(ok, v.FromBeat))
	},
	ActionPause: func(p Params, x extras) string {
		v, ok := as[PauseParams](p)
		return fmt.Sprintf("Paused playback at beat %s", floatText(ok, v.AtBeat))
	},
	ActionRestart: func(p Params, x extras) string {
		return "Restarted playback"
	},
	ActionSeek: func(p Params, x extras) string {
		v, ok := as[SeekParams](p)
		return fmt.Sprintf("Moved playhead to beat %s", floatText(ok, v.Beat))
	},
	ActionChangeBPM: func(p Params, x extras) string {
		v, ok := as[ChangeBPMParams](p)
		return fmt.Sprintf("Changed tempo to %s BPM", floatText(ok, v.BPM))
	},
	ActionUpdateSettings: func(p Params, x extras) string {
		v, ok := as[UpdateSettingsParams](p)
		return fmt.Sprintf("Updated %s project settings", intText(ok, len(v.Settings)))
	},
	ActionUserJoined: func(p Params, x extras) string {
		v, _ := as[UserJoinedParams](p)
		return fmt.Sprintf("%s joined the project", str(v.UserName))
	},
	ActionUserLeft: func(p Params, x extras) string {
		v, _ := as[UserLeftParams](p)
		return fmt.Sprintf("%s left the project", x.at(0, v.UserID))
	},
	ActionCursorMove: func(p Params, x extras) string {
		v, ok := as[CursorMoveParams](p)
		return fmt.Sprintf("Moved cursor to (%s, %s)", floatText(ok, v.X), floatText(ok, v.Y))
	},
}

// Describe renders a human-readable history line for an action.
// extraValues are optional display names (for example a track name to show
// instead of its id). Describe never panics, whatever params it is given.
func Describe(action ActionType, params Params, extraValues ...string) string {
	d, ok := descriptions[action]
	if !ok {
		return fmt.Sprintf("Performed %s", str(string(action)))
	}
	return d(params, extras(extraValues))
}

// HasDescription reports whether action has a dedicated description.
func HasDescription(action ActionType) bool {
	_, ok := descriptions[action]
	return ok
}

// as returns the concrete params value, or the zero value and false when p
// is nil or of another type.
func as[T any](p Params) (T, bool) {
	var zero T
	if p == nil {
		return zero, false
	}
	v, ok := any(p).(*T)
	if !ok || v == nil {
		return zero, false
	}
	return *v, true
}

func str(s string) string {
	if s == "" {
		return undefinedText
	}
	return s
}

func intText(ok bool, v int) string {
	if !ok {
		return undefinedText
	}
	return strconv.Itoa(v)
}

func floatText(ok bool, v float64) string {
	if !ok {
		return undefinedText
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolText(ok bool, v bool) string {
	if !ok {
		return undefinedText
	}
	if v {
		return "on"
	}
	return "off"
}
