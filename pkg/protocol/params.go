package protocol

import "encoding/json"

// Params is the action-specific body of a UserInteractionMessage.
// Each ActionType has exactly one concrete Params type; see newParams.
type Params interface {
	Action() ActionType
}

// TrackPatch is a partial track update. Nil fields are left untouched.
type TrackPatch struct {
	Name   *string `json:"name,omitempty"`
	Color  *string `json:"color,omitempty"`
	Volume *int    `json:"volume,omitempty"`
	Muted  *bool   `json:"muted,omitempty"`
	Solo   *bool   `json:"solo,omitempty"`
	Armed  *bool   `json:"armed,omitempty"`
}

// Apply returns t with every set field of p merged in.
func (p TrackPatch) Apply(t Track) Track {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Volume != nil {
		t.Volume = *p.Volume
	}
	if p.Muted != nil {
		t.Muted = *p.Muted
	}
	if p.Solo != nil {
		t.Solo = *p.Solo
	}
	if p.Armed != nil {
		t.Armed = *p.Armed
	}
	return t
}

// BlockPatch is a partial block update. Nil fields are left untouched.
type BlockPatch struct {
	Name        *string  `json:"name,omitempty"`
	Track       *int     `json:"track,omitempty"`
	StartBeat   *float64 `json:"startBeat,omitempty"`
	LengthBeats *float64 `json:"lengthBeats,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	Pitch       *float64 `json:"pitch,omitempty"`
	FileID      *string  `json:"fileId,omitempty"`
}

// Apply returns b with every set field of p merged in.
func (p BlockPatch) Apply(b Block) Block {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Track != nil {
		b.Track = *p.Track
	}
	if p.StartBeat != nil {
		b.StartBeat = *p.StartBeat
	}
	if p.LengthBeats != nil {
		b.LengthBeats = *p.LengthBeats
	}
	if p.Volume != nil {
		b.Volume = *p.Volume
	}
	if p.Pitch != nil {
		b.Pitch = *p.Pitch
	}
	if p.FileID != nil {
		b.FileID = *p.FileID
	}
	return b
}

// MarkerPatch is a partial marker update. Nil fields are left untouched.
type MarkerPatch struct {
	Position *float64 `json:"position,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Icon     *string  `json:"icon,omitempty"`
	Label    *string  `json:"label,omitempty"`
}

// Apply returns m with every set field of p merged in.
func (p MarkerPatch) Apply(m Marker) Marker {
	if p.Position != nil {
		m.Position = *p.Position
	}
	if p.Color != nil {
		m.Color = *p.Color
	}
	if p.Icon != nil {
		m.Icon = *p.Icon
	}
	if p.Label != nil {
		m.Label = *p.Label
	}
	return m
}

type CreateProjectParams struct {
	Project Project `json:"project"`
}

type OpenProjectParams struct {
	ProjectID string `json:"projectId"`
}

type SaveProjectParams struct {
	ProjectID string `json:"projectId"`
}

type AddTrackParams struct {
	Track Track `json:"track"`
}

type RemoveTrackParams struct {
	TrackID string `json:"trackId"`
}

type UpdateTrackParams struct {
	TrackID string     `json:"trackId"`
	Updates TrackPatch `json:"updates"`
}

type MuteTrackParams struct {
	TrackID string `json:"trackId"`
	Muted   bool   `json:"muted"`
}

type SoloTrackParams struct {
	TrackID string `json:"trackId"`
	Solo    bool   `json:"solo"`
}

type ArmTrackParams struct {
	TrackID string `json:"trackId"`
	Armed   bool   `json:"armed"`
}

type SetTrackVolumeParams struct {
	TrackID string `json:"trackId"`
	Volume  int    `json:"volume"`
}

type LockTrackParams struct {
	TrackID  string `json:"trackId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UnlockTrackParams struct {
	TrackID string `json:"trackId"`
}

type AddBlockParams struct {
	Block Block `json:"block"`
}

type RemoveBlockParams struct {
	BlockID string `json:"blockId"`
}

type MoveBlockParams struct {
	BlockID   string  `json:"blockId"`
	Track     int     `json:"track"`
	StartBeat float64 `json:"startBeat"`
}

type ResizeBlockParams struct {
	BlockID     string  `json:"blockId"`
	LengthBeats float64 `json:"lengthBeats"`
}

type UpdateBlockParams struct {
	BlockID string     `json:"blockId"`
	Updates BlockPatch `json:"updates"`
}

type StartEditingBlockParams struct {
	BlockID  string `json:"blockId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type EndEditingBlockParams struct {
	BlockID string `json:"blockId"`
}

type AddMarkerParams struct {
	Marker Marker `json:"marker"`
}

type UpdateMarkerParams struct {
	MarkerID string      `json:"markerId"`
	Updates  MarkerPatch `json:"updates"`
}

type RemoveMarkerParams struct {
	MarkerID string `json:"markerId"`
}

type InitiateUploadParams struct {
	TransferID  string `json:"transferId"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        int    `json:"size"`
	TotalChunks int    `json:"totalChunks"`
}

type UploadChunkParams struct {
	TransferID  string `json:"transferId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type CompleteUploadParams struct {
	TransferID string `json:"transferId"`
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
}

type ImportSampleParams struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Block    Block  `json:"block"`
}

type PlayParams struct {
	FromBeat float64 `json:"fromBeat"`
}

type PauseParams struct {
	AtBeat float64 `json:"atBeat"`
}

type RestartParams struct{}

type SeekParams struct {
	Beat float64 `json:"beat"`
}

type ChangeBPMParams struct {
	BPM float64 `json:"bpm"`
}

type UpdateSettingsParams struct {
	Settings Settings `json:"settings"`
}

type UserJoinedParams struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Color    string `json:"color,omitempty"`
}

type UserLeftParams struct {
	UserID string `json:"userId"`
}

type CursorMoveParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (*CreateProjectParams) Action() ActionType     { return ActionCreateProject }
func (*OpenProjectParams) Action() ActionType       { return ActionOpenProject }
func (*SaveProjectParams) Action() ActionType       { return ActionSaveProject }
func (*AddTrackParams) Action() ActionType          { return ActionAddTrack }
func (*RemoveTrackParams) Action() ActionType       { return ActionRemoveTrack }
func (*UpdateTrackParams) Action() ActionType       { return ActionUpdateTrack }
func (*MuteTrackParams) Action() ActionType         { return ActionMuteTrack }
func (*SoloTrackParams) Action() ActionType         { return ActionSoloTrack }
func (*ArmTrackParams) Action() ActionType          { return ActionArmTrack }
func (*SetTrackVolumeParams) Action() ActionType    { return ActionSetTrackVolume }
func (*LockTrackParams) Action() ActionType         { return ActionLockTrack }
func (*UnlockTrackParams) Action() ActionType       { return ActionUnlockTrack }
func (*AddBlockParams) Action() ActionType          { return ActionAddBlock }
func (*RemoveBlockParams) Action() ActionType       { return ActionRemoveBlock }
func (*MoveBlockParams) Action() ActionType         { return ActionMoveBlock }
func (*ResizeBlockParams) Action() ActionType       { return ActionResizeBlock }
func (*UpdateBlockParams) Action() ActionType       { return ActionUpdateBlock }
func (*StartEditingBlockParams) Action() ActionType { return ActionStartEditingBlock }
func (*EndEditingBlockParams) Action() ActionType   { return ActionEndEditingBlock }
func (*AddMarkerParams) Action() ActionType         { return ActionAddMarker }
func (*UpdateMarkerParams) Action() ActionType      { return ActionUpdateMarker }
func (*RemoveMarkerParams) Action() ActionType      { return ActionRemoveMarker }
func (*InitiateUploadParams) Action() ActionType    { return ActionInitiateUpload }
func (*UploadChunkParams) Action() ActionType       { return ActionUploadChunk }
func (*CompleteUploadParams) Action() ActionType    { return ActionCompleteUpload }
func (*ImportSampleParams) Action() ActionType      { return ActionImportSample }
func (*PlayParams) Action() ActionType              { return ActionPlay }
func (*PauseParams) Action() ActionType             { return ActionPause }
func (*RestartParams) Action() ActionType           { return ActionRestart }
func (*SeekParams) Action() ActionType              { return ActionSeek }
func (*ChangeBPMParams) Action() ActionType         { return ActionChangeBPM }
func (*UpdateSettingsParams) Action() ActionType    { return ActionUpdateSettings }
func (*UserJoinedParams) Action() ActionType        { return ActionUserJoined }
func (*UserLeftParams) Action() ActionType          { return ActionUserLeft }
func (*CursorMoveParams) Action() ActionType        { return ActionCursorMove }

// RawParams holds the params of an action this build does not know.
// It round-trips the original JSON object untouched.
type RawParams struct {
	Type   ActionType
	Fields map[string]any
}

func (r *RawParams) Action() ActionType { return r.Type }

func (r *RawParams) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}

var newParams = map[ActionType]func() Params{
	ActionCreateProject:     func() Params { return &CreateProjectParams{} },
	ActionOpenProject:       func() Params { return &OpenProjectParams{} },
	ActionSaveProject:       func() Params { return &SaveProjectParams{} },
	ActionAddTrack:          func() Params { return &AddTrackParams{} },
	ActionRemoveTrack:       func() Params { return &RemoveTrackParams{} },
	ActionUpdateTrack:       func() Params { return &UpdateTrackParams{} },
	ActionMuteTrack:         func() Params { return &MuteTrackParams{} },
	ActionSoloTrack:         func() Params { return &SoloTrackParams{} },
	ActionArmTrack:          func() Params { return &ArmTrackParams{} },
	ActionSetTrackVolume:    func() Params { return &SetTrackVolumeParams{} },
	ActionLockTrack:         func() Params { return &LockTrackParams{} },
	ActionUnlockTrack:       func() Params { return &UnlockTrackParams{} },
	ActionAddBlock:          func() Params { return &AddBlockParams{} },
	ActionRemoveBlock:       func() Params { return &RemoveBlockParams{} },
	ActionMoveBlock:         func() Params { return &MoveBlockParams{} },
	ActionResizeBlock:       func() Params { return &ResizeBlockParams{} },
	ActionUpdateBlock:       func() Params { return &UpdateBlockParams{} },
	ActionStartEditingBlock: func() Params { return &StartEditingBlockParams{} },
	ActionEndEditingBlock:   func() Params { return &EndEditingBlockParams{} },
	ActionAddMarker:         func() Params { return &AddMarkerParams{} },
	ActionUpdateMarker:      func() Params { return &UpdateMarkerParams{} },
	ActionRemoveMarker:      func() Params { return &RemoveMarkerParams{} },
	ActionInitiateUpload:    func() Params { return &InitiateUploadParams{} },
	ActionUploadChunk:       func() Params { return &UploadChunkParams{} },
	ActionCompleteUpload:    func() Params { return &CompleteUploadParams{} },
	ActionImportSample:      func() Params { return &ImportSampleParams{} },
	ActionPlay:              func() Params { return &PlayParams{} },
	ActionPause:             func() Params { return &PauseParams{} },
	ActionRestart:           func() Params { return &RestartParams{} },
	ActionSeek:              func() Params { return &SeekParams{} },
	ActionChangeBPM:         func() Params { return &ChangeBPMParams{} },
	ActionUpdateSettings:    func() Params { return &UpdateSettingsParams{} },
	ActionUserJoined:        func() Params { return &UserJoinedParams{} },
	ActionUserLeft:          func() Params { return &UserLeftParams{} },
	ActionCursorMove:        func() Params { return &CursorMoveParams{} },
}

// DecodeParams decodes raw JSON into the concrete Params type for action.
// Unknown actions decode into *RawParams.
func DecodeParams(action ActionType, raw json.RawMessage) (Params, error) {
	factory, ok := newParams[action]
	if !ok {
		fields := map[string]any{}
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, err
			}
		}
		return &RawParams{Type: action, Fields: fields}, nil
	}

	p := factory()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}
