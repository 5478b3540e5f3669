// Package protocol provides the wire-level types shared by every Stave
// component: the collaborative document entities (projects, tracks, blocks,
// markers), the closed action vocabulary, the delivery-status lifecycle and
// the UserInteractionMessage envelope that carries an action between peers.
//
// All relay topics and Redis keys are namespaced so several Stave
// deployments can safely share one Redis server.
package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Settings is the open, string-keyed project settings map.
// Values are JSON primitives; see the SettingTheme.. constants for the keys
// every project must carry.
type Settings map[string]any

const (
	SettingTheme             = "theme"
	SettingSnapToGrid        = "snapToGrid"
	SettingGridSize          = "gridSize"
	SettingAutoSave          = "autoSave"
	SettingShowCollaborators = "showCollaborators"
)

// RequiredSettings lists the keys a valid Settings map must contain.
var RequiredSettings = []string{
	SettingTheme,
	SettingSnapToGrid,
	SettingGridSize,
	SettingAutoSave,
	SettingShowCollaborators,
}

// DefaultSettings returns the settings a freshly created project starts with.
func DefaultSettings() Settings {
	return Settings{
		SettingTheme:             "dark",
		SettingSnapToGrid:        true,
		SettingGridSize:          0.25,
		SettingAutoSave:          true,
		SettingShowCollaborators: true,
	}
}

// Clone returns a shallow copy of the map. Values are primitives so this is
// effectively a deep copy.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with every key of over applied on top (over wins).
func (s Settings) Merge(over Settings) Settings {
	out := s.Clone()
	if out == nil {
		out = Settings{}
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Validate checks that every required key is present and primitive.
func (s Settings) Validate() error {
	for _, key := range RequiredSettings {
		if _, ok := s[key]; !ok {
			return fmt.Errorf("missing required setting %q", key)
		}
	}
	for key, v := range s {
		switch v.(type) {
		case nil, string, bool, float64, float32, int, int64:
		default:
			return fmt.Errorf("setting %q has non-primitive value of type %T", key, v)
		}
	}
	return nil
}

// Project is the top-level collaborative document header.
type Project struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	BPM          float64  `json:"bpm"`
	MasterVolume float64  `json:"masterVolume"`
	Settings     Settings `json:"settings"`
}

// Track is a single lane of the arrangement.
// Locked implies LockedByUser is set; unlocking clears both.
type Track struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Color            string `json:"color"`
	Volume           int    `json:"volume"` // 0-100
	Muted            bool   `json:"muted"`
	Solo             bool   `json:"solo"`
	Armed            bool   `json:"armed"`
	Locked           bool   `json:"locked"`
	LockedByUser     string `json:"lockedByUser,omitempty"`
	LockedByUserName string `json:"lockedByUserName,omitempty"`
}

// Block is an audio region placed on a track.
// Track is a position in the project's track list, not a track id.
type Block struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Track         int     `json:"track"`
	StartBeat     float64 `json:"startBeat"`
	LengthBeats   float64 `json:"lengthBeats"`
	Volume        float64 `json:"volume"`
	Pitch         float64 `json:"pitch"`
	EditingUserID string  `json:"editingUserId,omitempty"`
	FileID        string  `json:"fileId,omitempty"`
}

// EndBeat returns the beat at which the block stops playing.
func (b Block) EndBeat() float64 {
	return b.StartBeat + b.LengthBeats
}

// Marker is a labelled position on the timeline.
type Marker struct {
	ID        string  `json:"id"`
	Position  float64 `json:"position"`
	Color     string  `json:"color"`
	Icon      string  `json:"icon"`
	Label     string  `json:"label"`
	ProjectID string  `json:"projectId"`
	CreatedBy string  `json:"createdBy"`
	CreatedAt int64   `json:"createdAt"`
}

// Cursor is a pointer position inside the project area.
type Cursor struct {
	UserID    string  `json:"userId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	UpdatedAt int64   `json:"updatedAt,omitempty"`
}

// RemoteUser is a connected collaborator as seen by the local client.
type RemoteUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position Cursor `json:"position"`
	Color    string `json:"color"`
}

// PresenceMeta is the metadata a client tracks on a relay topic.
type PresenceMeta struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Color     string `json:"color,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	OnlineAt  int64  `json:"onlineAt"`
}

// Validate checks the track's invariants.
func (t *Track) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("track id cannot be empty")
	}
	if t.Volume < 0 || t.Volume > 100 {
		return fmt.Errorf("invalid track volume: must be 0-100, got %d", t.Volume)
	}
	if t.Locked && t.LockedByUser == "" {
		return fmt.Errorf("track %s is locked without lockedByUser", t.ID)
	}
	return nil
}

// Validate checks the block's field ranges. Track index validity depends on
// the surrounding project and is checked by the project validator.
func (b *Block) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("block id cannot be empty")
	}
	if b.Track < 0 {
		return fmt.Errorf("invalid track index: must be >= 0, got %d", b.Track)
	}
	if b.StartBeat < 0 {
		return fmt.Errorf("invalid start beat: must be >= 0, got %v", b.StartBeat)
	}
	if b.LengthBeats <= 0 {
		return fmt.Errorf("invalid length: must be > 0, got %v", b.LengthBeats)
	}
	return nil
}

// Validate checks the marker's field ranges.
func (m *Marker) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("marker id cannot be empty")
	}
	if m.Position < 0 {
		return fmt.Errorf("invalid marker position: must be >= 0, got %v", m.Position)
	}
	return nil
}

// Validate checks the project header. Persistence ids are UUIDs.
func (p *Project) Validate() error {
	if !IsValidUUID(p.ID) {
		return fmt.Errorf("invalid project ID: not a valid UUID")
	}
	if p.BPM <= 0 {
		return fmt.Errorf("invalid bpm: must be > 0, got %v", p.BPM)
	}
	if err := p.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// IsValidUUID checks if a string is a valid UUID format.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
