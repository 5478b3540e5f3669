package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/stave/internal/config"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{config.EnvRedisURL, config.EnvDatabaseURL, config.EnvNamespace, config.EnvDataDir, config.EnvUserName} {
		t.Setenv(k, "")
	}
}

func TestInitialize(t *testing.T) {
	clearEnv(t)

	t.Run("fresh directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, Initialize(dir, false))

		for _, name := range []string{ConfigFile, EnvFile} {
			_, err := os.Stat(filepath.Join(dir, name))
			assert.NoError(t, err, "%s should exist", name)
		}

		cfg, err := config.Load(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		assert.Equal(t, "stave", cfg.Redis.Namespace)
		assert.Equal(t, "127.0.0.1:7420", cfg.Gateway.Addr)
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old"), 0644))

		err := Initialize(dir, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workspace already initialized")
		assert.Contains(t, err.Error(), ConfigFile)

		content, _ := os.ReadFile(filepath.Join(dir, ConfigFile))
		assert.Equal(t, "old", string(content))
	})

	t.Run("force overwrites", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old"), 0644))

		require.NoError(t, Initialize(dir, true))
		content, err := os.ReadFile(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		assert.Contains(t, string(content), `version: "1.0"`)
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "ws")
		require.NoError(t, Initialize(dir, false))
		_, err := os.Stat(filepath.Join(dir, ConfigFile))
		assert.NoError(t, err)
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), nil, 0644))

	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Found existing files:")
	assert.Contains(t, err.Error(), "  - "+EnvFile)
}

func TestNewProject(t *testing.T) {
	data := NewProject("  Demo  ", 0)

	assert.True(t, protocol.IsValidUUID(data.Project.ID))
	assert.Equal(t, "Demo", data.Project.Name)
	assert.Equal(t, 120.0, data.Project.BPM)
	assert.Equal(t, protocol.DefaultSettings(), data.Project.Settings)
	assert.NotNil(t, data.Tracks)
	assert.NoError(t, data.Validate())

	assert.Equal(t, "Untitled Project", NewProject("", 90).Project.Name)
	assert.Equal(t, 90.0, NewProject("", 90).Project.BPM)
	assert.NotEqual(t, NewProject("a", 0).Project.ID, NewProject("a", 0).Project.ID)
}
