package store

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps projects in Redis. Each row is a hash; a project's
// tracks, blocks and markers are listed in sorted sets keyed by project.
// It is safe for concurrent use.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore creates a store for the given key namespace.
func NewRedisStore(opts *redis.Options, namespace string) (*RedisStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &RedisStore{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// FetchProjectData loads a project and its entities in display order.
// Returns ErrNotFound if the project hash does not exist. Entity rows whose
// hash is missing or malformed are skipped with a log line.
func (s *RedisStore) FetchProjectData(ctx context.Context, projectID string) (*ProjectData, error) {
	hash, err := s.rdb.HGetAll(ctx, protocol.ProjectKey(s.namespace, projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read project from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}

	project, err := HashToProject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize project: %w", err)
	}

	data := &ProjectData{
		Project: *project,
		Tracks:  []protocol.Track{},
		Blocks:  []protocol.Block{},
		Markers: []protocol.Marker{},
	}

	trackRows, err := s.rows(ctx, protocol.ProjectTracksKey(s.namespace, projectID), func(id string) string {
		return protocol.TrackKey(s.namespace, id)
	})
	if err != nil {
		return nil, err
	}
	for _, row := range trackRows {
		t, err := HashToTrack(row)
		if err != nil {
			log.Printf("[Store] Skipping malformed track %q in project %s: %v", row["id"], projectID, err)
			continue
		}
		data.Tracks = append(data.Tracks, *t)
	}

	blockRows, err := s.rows(ctx, protocol.ProjectBlocksKey(s.namespace, projectID), func(id string) string {
		return protocol.BlockKey(s.namespace, id)
	})
	if err != nil {
		return nil, err
	}
	for _, row := range blockRows {
		b, err := HashToBlock(row)
		if err != nil {
			log.Printf("[Store] Skipping malformed block %q in project %s: %v", row["id"], projectID, err)
			continue
		}
		data.Blocks = append(data.Blocks, *b)
	}

	markerRows, err := s.rows(ctx, protocol.ProjectMarkersKey(s.namespace, projectID), func(id string) string {
		return protocol.MarkerKey(s.namespace, id)
	})
	if err != nil {
		return nil, err
	}
	for _, row := range markerRows {
		m, err := HashToMarker(row)
		if err != nil {
			log.Printf("[Store] Skipping malformed marker %q in project %s: %v", row["id"], projectID, err)
			continue
		}
		data.Markers = append(data.Markers, *m)
	}

	return data, nil
}

// rows reads every hash listed in an index sorted set, in score order, with
// one pipelined round trip.
func (s *RedisStore) rows(ctx context.Context, indexKey string, rowKey func(string) string) ([]map[string]string, error) {
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, rowKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows for %s: %w", indexKey, err)
	}

	out := make([]map[string]string, 0, len(ids))
	for i, cmd := range cmds {
		row := cmd.Val()
		if len(row) == 0 {
			log.Printf("[Store] Index %s lists %q but its row is missing", indexKey, ids[i])
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// UpdateProjectSettings merges settings into the stored project settings.
func (s *RedisStore) UpdateProjectSettings(ctx context.Context, projectID string, settings protocol.Settings) error {
	key := protocol.ProjectKey(s.namespace, projectID)

	// Optimistic transaction so concurrent updates do not drop keys.
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		hash, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read project from Redis: %w", err)
		}
		if len(hash) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, projectID)
		}
		project, err := HashToProject(hash)
		if err != nil {
			return fmt.Errorf("failed to deserialize project: %w", err)
		}
		project.Settings = project.Settings.Merge(settings)
		if err := project.Settings.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}

		fields, err := ProjectToHash(project)
		if err != nil {
			return fmt.Errorf("failed to serialize project: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "settings", fields["settings"])
			return nil
		})
		return err
	}, key)
}

// SaveProject writes the project header.
func (s *RedisStore) SaveProject(ctx context.Context, p *protocol.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	hash, err := ProjectToHash(p)
	if err != nil {
		return fmt.Errorf("failed to serialize project: %w", err)
	}
	if err := s.rdb.HSet(ctx, protocol.ProjectKey(s.namespace, p.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write project to Redis: %w", err)
	}
	return nil
}

// SaveProjectData replaces the whole project atomically: rows that are no
// longer part of the data set are removed.
func (s *RedisStore) SaveProjectData(ctx context.Context, data *ProjectData) error {
	if err := data.Validate(); err != nil {
		return fmt.Errorf("invalid project data: %w", err)
	}
	projectHash, err := ProjectToHash(&data.Project)
	if err != nil {
		return fmt.Errorf("failed to serialize project: %w", err)
	}

	id := data.Project.ID
	tracksKey := protocol.ProjectTracksKey(s.namespace, id)
	blocksKey := protocol.ProjectBlocksKey(s.namespace, id)
	markersKey := protocol.ProjectMarkersKey(s.namespace, id)

	oldTracks, err := s.rdb.ZRange(ctx, tracksKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read track index: %w", err)
	}
	oldBlocks, err := s.rdb.ZRange(ctx, blocksKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read block index: %w", err)
	}
	oldMarkers, err := s.rdb.ZRange(ctx, markersKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read marker index: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tid := range oldTracks {
			pipe.Del(ctx, protocol.TrackKey(s.namespace, tid))
		}
		for _, bid := range oldBlocks {
			pipe.Del(ctx, protocol.BlockKey(s.namespace, bid))
		}
		for _, mid := range oldMarkers {
			pipe.Del(ctx, protocol.MarkerKey(s.namespace, mid))
		}
		pipe.Del(ctx, tracksKey, blocksKey, markersKey)

		pipe.HSet(ctx, protocol.ProjectKey(s.namespace, id), projectHash)
		for i := range data.Tracks {
			t := &data.Tracks[i]
			pipe.HSet(ctx, protocol.TrackKey(s.namespace, t.ID), TrackToHash(t))
			pipe.ZAdd(ctx, tracksKey, redis.Z{Score: float64(i), Member: t.ID})
		}
		for i := range data.Blocks {
			b := &data.Blocks[i]
			pipe.HSet(ctx, protocol.BlockKey(s.namespace, b.ID), BlockToHash(b))
			pipe.ZAdd(ctx, blocksKey, redis.Z{Score: float64(i), Member: b.ID})
		}
		for i := range data.Markers {
			m := &data.Markers[i]
			pipe.HSet(ctx, protocol.MarkerKey(s.namespace, m.ID), MarkerToHash(m))
			pipe.ZAdd(ctx, markersKey, redis.Z{Score: m.Position, Member: m.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write project data to Redis: %w", err)
	}
	return nil
}

// PutTrack creates or replaces a track at position.
func (s *RedisStore) PutTrack(ctx context.Context, projectID string, position int, t *protocol.Track) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid track: %w", err)
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, protocol.TrackKey(s.namespace, t.ID), TrackToHash(t))
		pipe.ZAdd(ctx, protocol.ProjectTracksKey(s.namespace, projectID), redis.Z{Score: float64(position), Member: t.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write track to Redis: %w", err)
	}
	return nil
}

// PutBlock creates or replaces an audio block at position.
func (s *RedisStore) PutBlock(ctx context.Context, projectID string, position int, b *protocol.Block) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid block: %w", err)
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, protocol.BlockKey(s.namespace, b.ID), BlockToHash(b))
		pipe.ZAdd(ctx, protocol.ProjectBlocksKey(s.namespace, projectID), redis.Z{Score: float64(position), Member: b.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write block to Redis: %w", err)
	}
	return nil
}

// PutMarker creates or replaces a timeline marker.
func (s *RedisStore) PutMarker(ctx context.Context, projectID string, m *protocol.Marker) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid marker: %w", err)
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, protocol.MarkerKey(s.namespace, m.ID), MarkerToHash(m))
		pipe.ZAdd(ctx, protocol.ProjectMarkersKey(s.namespace, projectID), redis.Z{Score: m.Position, Member: m.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write marker to Redis: %w", err)
	}
	return nil
}

// DeleteTrack removes a track. Deleting a missing track is not an error.
func (s *RedisStore) DeleteTrack(ctx context.Context, projectID, trackID string) error {
	return s.remove(ctx, protocol.ProjectTracksKey(s.namespace, projectID), protocol.TrackKey(s.namespace, trackID), trackID)
}

// DeleteBlock removes an audio block.
func (s *RedisStore) DeleteBlock(ctx context.Context, projectID, blockID string) error {
	return s.remove(ctx, protocol.ProjectBlocksKey(s.namespace, projectID), protocol.BlockKey(s.namespace, blockID), blockID)
}

// DeleteMarker removes a timeline marker.
func (s *RedisStore) DeleteMarker(ctx context.Context, projectID, markerID string) error {
	return s.remove(ctx, protocol.ProjectMarkersKey(s.namespace, projectID), protocol.MarkerKey(s.namespace, markerID), markerID)
}

func (s *RedisStore) remove(ctx context.Context, indexKey, rowKey, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, indexKey, id)
		pipe.Del(ctx, rowKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}
