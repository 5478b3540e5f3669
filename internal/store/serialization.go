package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dyluth/stave/pkg/protocol"
)

// Redis hashes are flat string maps. Scalars are stored as their string
// form and settings as a JSON document, mirroring the relational columns.

// ProjectToHash converts a project header to hash fields.
func ProjectToHash(p *protocol.Project) (map[string]interface{}, error) {
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	return map[string]interface{}{
		"id":            p.ID,
		"name":          p.Name,
		"bpm":           p.BPM,
		"master_volume": p.MasterVolume,
		"settings":      string(settingsJSON),
	}, nil
}

// HashToProject converts hash fields back to a project header.
func HashToProject(hash map[string]string) (*protocol.Project, error) {
	bpm, err := strconv.ParseFloat(hash["bpm"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bpm field: %w", err)
	}
	masterVolume, _ := strconv.ParseFloat(hash["master_volume"], 64)

	var settings protocol.Settings
	if raw := hash["settings"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &protocol.Project{
		ID:           hash["id"],
		Name:         hash["name"],
		BPM:          bpm,
		MasterVolume: masterVolume,
		Settings:     protocol.DefaultSettings().Merge(settings),
	}, nil
}

// TrackToHash converts a track to hash fields.
func TrackToHash(t *protocol.Track) map[string]interface{} {
	return map[string]interface{}{
		"id":                  t.ID,
		"name":                t.Name,
		"color":               t.Color,
		"volume":              t.Volume,
		"muted":               t.Muted,
		"solo":                t.Solo,
		"armed":               t.Armed,
		"locked":              t.Locked,
		"locked_by_user":      t.LockedByUser,
		"locked_by_user_name": t.LockedByUserName,
	}
}

// HashToTrack converts hash fields back to a track.
func HashToTrack(hash map[string]string) (*protocol.Track, error) {
	volume, err := strconv.Atoi(hash["volume"])
	if err != nil {
		return nil, fmt.Errorf("invalid volume field: %w", err)
	}
	muted, _ := strconv.ParseBool(hash["muted"])
	solo, _ := strconv.ParseBool(hash["solo"])
	armed, _ := strconv.ParseBool(hash["armed"])
	locked, _ := strconv.ParseBool(hash["locked"])

	return &protocol.Track{
		ID:               hash["id"],
		Name:             hash["name"],
		Color:            hash["color"],
		Volume:           volume,
		Muted:            muted,
		Solo:             solo,
		Armed:            armed,
		Locked:           locked,
		LockedByUser:     hash["locked_by_user"],
		LockedByUserName: hash["locked_by_user_name"],
	}, nil
}

// BlockToHash converts an audio block to hash fields.
func BlockToHash(b *protocol.Block) map[string]interface{} {
	return map[string]interface{}{
		"id":              b.ID,
		"name":            b.Name,
		"track":           b.Track,
		"start_beat":      b.StartBeat,
		"length_beats":    b.LengthBeats,
		"volume":          b.Volume,
		"pitch":           b.Pitch,
		"editing_user_id": b.EditingUserID,
		"file_id":         b.FileID,
	}
}

// HashToBlock converts hash fields back to an audio block.
func HashToBlock(hash map[string]string) (*protocol.Block, error) {
	track, err := strconv.Atoi(hash["track"])
	if err != nil {
		return nil, fmt.Errorf("invalid track field: %w", err)
	}
	start, err := strconv.ParseFloat(hash["start_beat"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start_beat field: %w", err)
	}
	length, err := strconv.ParseFloat(hash["length_beats"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid length_beats field: %w", err)
	}
	volume, _ := strconv.ParseFloat(hash["volume"], 64)
	pitch, _ := strconv.ParseFloat(hash["pitch"], 64)

	return &protocol.Block{
		ID:            hash["id"],
		Name:          hash["name"],
		Track:         track,
		StartBeat:     start,
		LengthBeats:   length,
		Volume:        volume,
		Pitch:         pitch,
		EditingUserID: hash["editing_user_id"],
		FileID:        hash["file_id"],
	}, nil
}

// MarkerToHash converts a timeline marker to hash fields.
func MarkerToHash(m *protocol.Marker) map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"position":   m.Position,
		"color":      m.Color,
		"icon":       m.Icon,
		"label":      m.Label,
		"project_id": m.ProjectID,
		"created_by": m.CreatedBy,
		"created_at": m.CreatedAt,
	}
}

// HashToMarker converts hash fields back to a timeline marker.
func HashToMarker(hash map[string]string) (*protocol.Marker, error) {
	position, err := strconv.ParseFloat(hash["position"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid position field: %w", err)
	}
	createdAt, _ := strconv.ParseInt(hash["created_at"], 10, 64)

	return &protocol.Marker{
		ID:        hash["id"],
		Position:  position,
		Color:     hash["color"],
		Icon:      hash["icon"],
		Label:     hash["label"],
		ProjectID: hash["project_id"],
		CreatedBy: hash["created_by"],
		CreatedAt: createdAt,
	}, nil
}
