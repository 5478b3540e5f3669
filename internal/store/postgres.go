package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables PostgresStore reads and writes. It is safe to
// run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	bpm           DOUBLE PRECISION NOT NULL,
	master_volume DOUBLE PRECISION NOT NULL DEFAULT 0.8,
	settings      JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracks (
	id                  UUID PRIMARY KEY,
	project_id          UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	position            INTEGER NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	color               TEXT NOT NULL DEFAULT '',
	volume              INTEGER NOT NULL DEFAULT 80,
	muted               BOOLEAN NOT NULL DEFAULT false,
	solo                BOOLEAN NOT NULL DEFAULT false,
	armed               BOOLEAN NOT NULL DEFAULT false,
	locked              BOOLEAN NOT NULL DEFAULT false,
	locked_by_user      TEXT NOT NULL DEFAULT '',
	locked_by_user_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audio_blocks (
	id              UUID PRIMARY KEY,
	project_id      UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	track           INTEGER NOT NULL,
	start_beat      DOUBLE PRECISION NOT NULL,
	length_beats    DOUBLE PRECISION NOT NULL,
	volume          DOUBLE PRECISION NOT NULL DEFAULT 1,
	pitch           DOUBLE PRECISION NOT NULL DEFAULT 0,
	editing_user_id TEXT NOT NULL DEFAULT '',
	file_id         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS timeline_markers (
	id         UUID PRIMARY KEY,
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	position   DOUBLE PRECISION NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	icon       TEXT NOT NULL DEFAULT '',
	label      TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL DEFAULT 0
);
`

const (
	upsertProjectSQL = `
INSERT INTO projects (id, name, bpm, master_volume, settings, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name, bpm = EXCLUDED.bpm,
	master_volume = EXCLUDED.master_volume, settings = EXCLUDED.settings,
	updated_at = now()`

	upsertTrackSQL = `
INSERT INTO tracks (id, project_id, position, name, color, volume, muted, solo, armed, locked, locked_by_user, locked_by_user_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position, name = EXCLUDED.name, color = EXCLUDED.color,
	volume = EXCLUDED.volume, muted = EXCLUDED.muted, solo = EXCLUDED.solo,
	armed = EXCLUDED.armed, locked = EXCLUDED.locked,
	locked_by_user = EXCLUDED.locked_by_user, locked_by_user_name = EXCLUDED.locked_by_user_name`

	upsertBlockSQL = `
INSERT INTO audio_blocks (id, project_id, position, name, track, start_beat, length_beats, volume, pitch, editing_user_id, file_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position, name = EXCLUDED.name, track = EXCLUDED.track,
	start_beat = EXCLUDED.start_beat, length_beats = EXCLUDED.length_beats,
	volume = EXCLUDED.volume, pitch = EXCLUDED.pitch,
	editing_user_id = EXCLUDED.editing_user_id, file_id = EXCLUDED.file_id`

	upsertMarkerSQL = `
INSERT INTO timeline_markers (id, project_id, position, color, icon, label, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position, color = EXCLUDED.color, icon = EXCLUDED.icon,
	label = EXCLUDED.label`
)

// PostgresStore keeps projects in PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// FetchProjectData loads a project and its entities in display order.
func (s *PostgresStore) FetchProjectData(ctx context.Context, projectID string) (*ProjectData, error) {
	data := &ProjectData{
		Tracks:  []protocol.Track{},
		Blocks:  []protocol.Block{},
		Markers: []protocol.Marker{},
	}

	var settingsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, name, bpm, master_volume, settings FROM projects WHERE id = $1`, projectID,
	).Scan(&data.Project.ID, &data.Project.Name, &data.Project.BPM, &data.Project.MasterVolume, &settingsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}

	var settings protocol.Settings
	if err := json.Unmarshal(settingsJSON, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	data.Project.Settings = protocol.DefaultSettings().Merge(settings)

	rows, err := s.pool.Query(ctx, `
SELECT id::text, name, color, volume, muted, solo, armed, locked, locked_by_user, locked_by_user_name
FROM tracks WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	data.Tracks, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (protocol.Track, error) {
		var t protocol.Track
		err := row.Scan(&t.ID, &t.Name, &t.Color, &t.Volume, &t.Muted, &t.Solo, &t.Armed, &t.Locked, &t.LockedByUser, &t.LockedByUserName)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
SELECT id::text, name, track, start_beat, length_beats, volume, pitch, editing_user_id, file_id
FROM audio_blocks WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audio blocks: %w", err)
	}
	data.Blocks, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (protocol.Block, error) {
		var b protocol.Block
		err := row.Scan(&b.ID, &b.Name, &b.Track, &b.StartBeat, &b.LengthBeats, &b.Volume, &b.Pitch, &b.EditingUserID, &b.FileID)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read audio blocks: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
SELECT id::text, position, color, icon, label, project_id::text, created_by, created_at
FROM timeline_markers WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline markers: %w", err)
	}
	data.Markers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (protocol.Marker, error) {
		var m protocol.Marker
		err := row.Scan(&m.ID, &m.Position, &m.Color, &m.Icon, &m.Label, &m.ProjectID, &m.CreatedBy, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline markers: %w", err)
	}

	return data, nil
}

// UpdateProjectSettings merges settings into the stored JSONB document.
func (s *PostgresStore) UpdateProjectSettings(ctx context.Context, projectID string, settings protocol.Settings) error {
	if err := protocol.DefaultSettings().Merge(settings).Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	patch, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET settings = settings || $2::jsonb, updated_at = now() WHERE id = $1`,
		projectID, patch)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	return nil
}

// SaveProject upserts the project header.
func (s *PostgresStore) SaveProject(ctx context.Context, p *protocol.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if _, err := s.pool.Exec(ctx, upsertProjectSQL, p.ID, p.Name, p.BPM, p.MasterVolume, settingsJSON); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// SaveProjectData replaces the whole project in one transaction.
func (s *PostgresStore) SaveProjectData(ctx context.Context, data *ProjectData) error {
	if err := data.Validate(); err != nil {
		return fmt.Errorf("invalid project data: %w", err)
	}
	settingsJSON, err := json.Marshal(data.Project.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	id := data.Project.ID
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		p := data.Project
		batch.Queue(upsertProjectSQL, p.ID, p.Name, p.BPM, p.MasterVolume, settingsJSON)
		batch.Queue(`DELETE FROM tracks WHERE project_id = $1`, id)
		batch.Queue(`DELETE FROM audio_blocks WHERE project_id = $1`, id)
		batch.Queue(`DELETE FROM timeline_markers WHERE project_id = $1`, id)
		for i, t := range data.Tracks {
			batch.Queue(upsertTrackSQL, t.ID, id, i, t.Name, t.Color, t.Volume, t.Muted, t.Solo, t.Armed, t.Locked, t.LockedByUser, t.LockedByUserName)
		}
		for i, b := range data.Blocks {
			batch.Queue(upsertBlockSQL, b.ID, id, i, b.Name, b.Track, b.StartBeat, b.LengthBeats, b.Volume, b.Pitch, b.EditingUserID, b.FileID)
		}
		for _, m := range data.Markers {
			batch.Queue(upsertMarkerSQL, m.ID, id, m.Position, m.Color, m.Icon, m.Label, m.CreatedBy, m.CreatedAt)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save project data: %w", err)
		}
		return nil
	})
}

// PutTrack upserts a track at position.
func (s *PostgresStore) PutTrack(ctx context.Context, projectID string, position int, t *protocol.Track) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid track: %w", err)
	}
	_, err := s.pool.Exec(ctx, upsertTrackSQL, t.ID, projectID, position, t.Name, t.Color, t.Volume, t.Muted, t.Solo, t.Armed, t.Locked, t.LockedByUser, t.LockedByUserName)
	if err != nil {
		return fmt.Errorf("failed to save track: %w", err)
	}
	return nil
}

// PutBlock upserts an audio block at position.
func (s *PostgresStore) PutBlock(ctx context.Context, projectID string, position int, b *protocol.Block) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}
	_, err := s.pool.Exec(ctx, upsertBlockSQL, b.ID, projectID, position, b.Name, b.Track, b.StartBeat, b.LengthBeats, b.Volume, b.Pitch, b.EditingUserID, b.FileID)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// PutMarker upserts a timeline marker.
func (s *PostgresStore) PutMarker(ctx context.Context, projectID string, m *protocol.Marker) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid marker: %w", err)
	}
	_, err := s.pool.Exec(ctx, upsertMarkerSQL, m.ID, projectID, m.Position, m.Color, m.Icon, m.Label, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save marker: %w", err)
	}
	return nil
}

// DeleteTrack removes a track. Deleting a missing track is not an error.
func (s *PostgresStore) DeleteTrack(ctx context.Context, projectID, trackID string) error {
	return s.remove(ctx, `DELETE FROM tracks WHERE project_id = $1 AND id = $2`, projectID, trackID)
}

// DeleteBlock removes an audio block.
func (s *PostgresStore) DeleteBlock(ctx context.Context, projectID, blockID string) error {
	return s.remove(ctx, `DELETE FROM audio_blocks WHERE project_id = $1 AND id = $2`, projectID, blockID)
}

// DeleteMarker removes a timeline marker.
func (s *PostgresStore) DeleteMarker(ctx context.Context, projectID, markerID string) error {
	return s.remove(ctx, `DELETE FROM timeline_markers WHERE project_id = $1 AND id = $2`, projectID, markerID)
}

func (s *PostgresStore) remove(ctx context.Context, sql, projectID, id string) error {
	if _, err := s.pool.Exec(ctx, sql, projectID, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}
