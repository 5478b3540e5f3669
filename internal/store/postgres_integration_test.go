//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used by wait.ForSQL
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns its connection URL.
func setupPostgres(t *testing.T) (string, func()) {
	ctx := context.Background()
	port := nat.Port("5432/tcp")

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "stave",
			"POSTGRES_PASSWORD": "stave",
			"POSTGRES_DB":       "stave",
		},
		WaitingFor: wait.ForSQL(port, "pgx", func(host string, p nat.Port) string {
			return fmt.Sprintf("postgres://stave:stave@%s:%s/stave?sslmode=disable", host, p.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	mapped, err := pgC.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://stave:stave@%s:%s/stave?sslmode=disable", host, mapped.Port())

	cleanup := func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return url, cleanup
}

func TestPostgresStore(t *testing.T) {
	url, cleanup := setupPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	data := sampleData()

	t.Run("save and fetch", func(t *testing.T) {
		require.NoError(t, s.SaveProjectData(ctx, data))

		got, err := s.FetchProjectData(ctx, data.Project.ID)
		require.NoError(t, err)
		assert.Equal(t, data.Project, got.Project)
		assert.Equal(t, data.Tracks, got.Tracks)
		assert.Equal(t, data.Blocks, got.Blocks)
		require.Len(t, got.Markers, 2)
		assert.Equal(t, "Intro", got.Markers[0].Label)
	})

	t.Run("settings merge", func(t *testing.T) {
		err := s.UpdateProjectSettings(ctx, data.Project.ID, protocol.Settings{protocol.SettingTheme: "light"})
		require.NoError(t, err)

		got, err := s.FetchProjectData(ctx, data.Project.ID)
		require.NoError(t, err)
		assert.Equal(t, "light", got.Project.Settings[protocol.SettingTheme])
		assert.Equal(t, true, got.Project.Settings[protocol.SettingAutoSave])
	})

	t.Run("put and delete", func(t *testing.T) {
		extra := protocol.Track{ID: uuid.NewString(), Name: "Keys", Volume: 60}
		require.NoError(t, s.PutTrack(ctx, data.Project.ID, 2, &extra))
		require.NoError(t, s.DeleteBlock(ctx, data.Project.ID, data.Blocks[0].ID))

		got, err := s.FetchProjectData(ctx, data.Project.ID)
		require.NoError(t, err)
		require.Len(t, got.Tracks, 3)
		assert.Equal(t, "Keys", got.Tracks[2].Name)
		assert.Len(t, got.Blocks, 1)
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := s.FetchProjectData(ctx, uuid.NewString())
		assert.True(t, IsNotFound(err))

		err = s.UpdateProjectSettings(ctx, uuid.NewString(), protocol.Settings{})
		assert.True(t, IsNotFound(err))
	})
}
