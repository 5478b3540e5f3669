package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every override so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	for _, k := range []string{EnvRedisURL, EnvDatabaseURL, EnvNamespace, EnvDataDir, EnvUserName} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "stave.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `version: "1.0"
redis:
  url: "redis://relay:6380/2"
  namespace: "band"
user:
  name: "Ada"
  data_dir: "/tmp/stave-test"
transport:
  cursor_interval: "100ms"
collab:
  transfer_timeout: "2m"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://relay:6380/2", config.Redis.URL)
	assert.Equal(t, "band", config.Redis.Namespace)
	assert.Equal(t, int64(10000), config.Redis.MirrorMaxLen, "unset fields keep defaults")
	assert.Equal(t, "Ada", config.User.Name)
	assert.Equal(t, "/tmp/stave-test/identity.db", config.IdentityPath())

	tc, err := config.TransportSettings()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, tc.CursorInterval)
	assert.Equal(t, 5*time.Second, tc.ReconnectDelay)

	cc, err := config.CollabSettings()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cc.TransferTimeout)

	opts, err := config.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "relay:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/stave.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
redis:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)

	config, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, "stave", config.Redis.Namespace)
	assert.Equal(t, 2048, config.SessionSettings().SeenLimit)
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRedisURL, "redis://env-host:6379/0")
	t.Setenv(EnvDatabaseURL, "postgres://u:p@db/stave")
	t.Setenv(EnvNamespace, "envns")
	t.Setenv(EnvDataDir, "/var/lib/stave")
	t.Setenv(EnvUserName, "Grace")

	path := writeConfig(t, `version: "1.0"
redis:
  url: "redis://file-host:6379/0"
  namespace: "filens"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://env-host:6379/0", config.Redis.URL)
	assert.Equal(t, "postgres://u:p@db/stave", config.Database.URL)
	assert.Equal(t, "envns", config.Redis.Namespace)
	assert.Equal(t, "/var/lib/stave", config.User.DataDir)
	assert.Equal(t, "Grace", config.User.Name)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	require.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STAVE_TEST_ONLY_VAR=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("STAVE_TEST_ONLY_VAR") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("STAVE_TEST_ONLY_VAR"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *StaveConfig)
		wantErr string
	}{
		{"defaults", func(c *StaveConfig) {}, ""},
		{"unsupported version", func(c *StaveConfig) { c.Version = "2.0" }, "unsupported version: 2.0"},
		{"missing redis url", func(c *StaveConfig) { c.Redis.URL = "" }, "redis.url is required"},
		{"bad redis url", func(c *StaveConfig) { c.Redis.URL = "http://nope" }, "invalid redis.url"},
		{"missing namespace", func(c *StaveConfig) { c.Redis.Namespace = "" }, "redis.namespace is required"},
		{"namespace with colon", func(c *StaveConfig) { c.Redis.Namespace = "a:b" }, "must not contain"},
		{"negative mirror length", func(c *StaveConfig) { c.Redis.MirrorMaxLen = -1 }, "mirror_max_len"},
		{"mysql database", func(c *StaveConfig) { c.Database.URL = "mysql://x" }, "only postgres"},
		{"blank user name", func(c *StaveConfig) { c.User.Name = "  " }, "user.name is required"},
		{"missing data dir", func(c *StaveConfig) { c.User.DataDir = "" }, "user.data_dir is required"},
		{"bad duration", func(c *StaveConfig) { c.Transport.StaleAfter = "soon" }, "invalid transport.stale_after"},
		{"zero reconnect", func(c *StaveConfig) { c.Transport.ReconnectDelay = "0s" }, "must be positive"},
		{"zero transfer timeout", func(c *StaveConfig) { c.Collab.TransferTimeout = "0" }, ""},
		{"negative seen limit", func(c *StaveConfig) { c.Session.SeenLimit = -5 }, "seen_limit"},
		{"missing gateway addr", func(c *StaveConfig) { c.Gateway.Addr = "" }, "gateway.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
