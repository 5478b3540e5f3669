// Package store is the persistence collaborator behind a project session.
//
// Two implementations share the Store contract: RedisStore keeps project
// rows as Redis hashes ordered by sorted sets, PostgresStore keeps them in
// relational tables. Both key rows by their UUID and store project settings
// as JSON.
package store

import (
	"context"
	"errors"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("project not found")

// ProjectData is everything needed to open a project.
type ProjectData struct {
	Project protocol.Project  `json:"project"`
	Tracks  []protocol.Track  `json:"tracks"`
	Blocks  []protocol.Block  `json:"blocks"`
	Markers []protocol.Marker `json:"markers"`
}

// Store persists projects. Positions order tracks and blocks within their
// project; markers are ordered by their timeline position.
type Store interface {
	FetchProjectData(ctx context.Context, projectID string) (*ProjectData, error)
	UpdateProjectSettings(ctx context.Context, projectID string, settings protocol.Settings) error

	SaveProject(ctx context.Context, p *protocol.Project) error
	SaveProjectData(ctx context.Context, data *ProjectData) error

	PutTrack(ctx context.Context, projectID string, position int, t *protocol.Track) error
	PutBlock(ctx context.Context, projectID string, position int, b *protocol.Block) error
	PutMarker(ctx context.Context, projectID string, m *protocol.Marker) error

	DeleteTrack(ctx context.Context, projectID, trackID string) error
	DeleteBlock(ctx context.Context, projectID, blockID string) error
	DeleteMarker(ctx context.Context, projectID, markerID string) error

	Close() error
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// IsNotFound reports whether err means the requested row does not exist,
// whichever backend produced it.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil) || errors.Is(err, pgx.ErrNoRows)
}

// Validate checks every entity in the data set.
func (d *ProjectData) Validate() error {
	if err := d.Project.Validate(); err != nil {
		return err
	}
	for i := range d.Tracks {
		if err := d.Tracks[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Blocks {
		if err := d.Blocks[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Markers {
		if err := d.Markers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
