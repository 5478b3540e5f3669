// Package project holds the canonical collaborative project state and the
// pure reducer that transitions it.
//
// Blocks reference tracks by position in Tracks. Removing a track removes
// its blocks and shifts the index of every block on a later track.
package project

import "github.com/dyluth/stave/pkg/protocol"

// State is one client's view of a project. Project, Tracks, Blocks and
// Markers are the shared document; the remaining fields are local UI state
// and never leave the client.
type State struct {
	Project     protocol.Project      `json:"project"`
	Tracks      []protocol.Track      `json:"tracks"`
	Blocks      []protocol.Block      `json:"blocks"`
	Markers     []protocol.Marker     `json:"markers"`
	History     []HistoryEntry        `json:"history"`
	RemoteUsers []protocol.RemoteUser `json:"remoteUsers"`

	IsPlaying       bool    `json:"isPlaying"`
	CurrentBeat     float64 `json:"currentBeat"`
	SelectedBlockID string  `json:"selectedBlockId,omitempty"`
	ActiveTool      string  `json:"activeTool"`
	Zoom            float64 `json:"zoom"`
	ScrollX         float64 `json:"scrollX"`
	ScrollY         float64 `json:"scrollY"`
	Loading         bool    `json:"loading"`
	Error           string  `json:"error,omitempty"`

	// Baseline is the document as last loaded; RESTORE_TO_TIMESTAMP replays
	// history on top of it.
	Baseline *Document `json:"-"`
}

// Document is the shared part of State.
type Document struct {
	Project protocol.Project
	Tracks  []protocol.Track
	Blocks  []protocol.Block
	Markers []protocol.Marker

	// HistoryStart is the history length when the document was loaded.
	// Only later entries are replayed onto it.
	HistoryStart int
}

// HistoryEntry records one trackable action as it was applied locally.
type HistoryEntry struct {
	ID          string     `json:"id"`
	Timestamp   int64      `json:"timestamp"`
	UserID      string     `json:"userId"`
	UserName    string     `json:"userName"`
	Action      ActionType `json:"action"`
	Description string     `json:"description"`
	Payload     any        `json:"payload,omitempty"`
}

// Tools selectable in the editor.
const (
	ToolSelect = "select"
	ToolCut    = "cut"
	ToolDraw   = "draw"
)

// NewState returns the empty state a session starts from: default
// settings, no entities, loading until LOAD_PROJECT arrives.
func NewState() State {
	return State{
		Project: protocol.Project{
			BPM:          120,
			MasterVolume: 0.8,
			Settings:     protocol.DefaultSettings(),
		},
		Tracks:      []protocol.Track{},
		Blocks:      []protocol.Block{},
		Markers:     []protocol.Marker{},
		History:     []HistoryEntry{},
		RemoteUsers: []protocol.RemoteUser{},
		ActiveTool:  ToolSelect,
		Zoom:        1,
		Loading:     true,
	}
}

// Clone returns a deep copy. Payloads inside history entries are shared;
// they are never mutated.
func (s State) Clone() State {
	c := s
	c.Project = cloneProject(s.Project)
	c.Tracks = append([]protocol.Track{}, s.Tracks...)
	c.Blocks = append([]protocol.Block{}, s.Blocks...)
	c.Markers = append([]protocol.Marker{}, s.Markers...)
	c.History = append([]HistoryEntry{}, s.History...)
	c.RemoteUsers = append([]protocol.RemoteUser{}, s.RemoteUsers...)
	if s.Baseline != nil {
		b := s.Baseline.clone()
		c.Baseline = &b
	}
	return c
}

// Document returns a copy of the shared part of the state.
func (s State) Document() Document {
	return Document{
		Project: cloneProject(s.Project),
		Tracks:  append([]protocol.Track{}, s.Tracks...),
		Blocks:  append([]protocol.Block{}, s.Blocks...),
		Markers: append([]protocol.Marker{}, s.Markers...),
	}
}

func (d Document) clone() Document {
	return Document{
		Project:      cloneProject(d.Project),
		Tracks:       append([]protocol.Track{}, d.Tracks...),
		Blocks:       append([]protocol.Block{}, d.Blocks...),
		Markers:      append([]protocol.Marker{}, d.Markers...),
		HistoryStart: d.HistoryStart,
	}
}

func cloneProject(p protocol.Project) protocol.Project {
	p.Settings = p.Settings.Clone()
	return p
}
