package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/stave/internal/collab"
	"github.com/dyluth/stave/internal/session"
	"github.com/dyluth/stave/internal/transport"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration.
const DefaultPath = "stave.yml"

// Environment variables that override the file.
const (
	EnvRedisURL    = "REDIS_URL"
	EnvDatabaseURL = "DATABASE_URL"
	EnvNamespace   = "STAVE_NAMESPACE"
	EnvDataDir     = "STAVE_DATA_DIR"
	EnvUserName    = "STAVE_USER_NAME"
)

// StaveConfig represents the top-level stave.yml configuration
type StaveConfig struct {
	Version   string          `yaml:"version"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	User      UserConfig      `yaml:"user"`
	Transport TransportConfig `yaml:"transport"`
	Collab    CollabConfig    `yaml:"collab"`
	Session   SessionConfig   `yaml:"session"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// RedisConfig locates the relay and the default project store.
type RedisConfig struct {
	URL          string `yaml:"url"`
	Namespace    string `yaml:"namespace"`
	MirrorMaxLen int64  `yaml:"mirror_max_len,omitempty"` // 0 = unbounded
}

// DatabaseConfig selects PostgreSQL persistence when URL is set; otherwise
// projects live in Redis next to the relay.
type DatabaseConfig struct {
	URL string `yaml:"url,omitempty"`
}

// UserConfig describes the local collaborator.
type UserConfig struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"` // holds identity.db
}

// TransportConfig holds channel timers as duration strings ("5s", "50ms").
type TransportConfig struct {
	ReconnectDelay   string `yaml:"reconnect_delay,omitempty"`
	LivenessInterval string `yaml:"liveness_interval,omitempty"`
	StaleAfter       string `yaml:"stale_after,omitempty"`
	CursorInterval   string `yaml:"cursor_interval,omitempty"`
	OpTimeout        string `yaml:"op_timeout,omitempty"`
}

// CollabConfig holds file transfer timings as duration strings.
type CollabConfig struct {
	TransferTimeout string `yaml:"transfer_timeout,omitempty"` // "" or "0" keeps stalled transfers
	FileDelayBase   string `yaml:"file_delay_base,omitempty"`
	FileDelayPerMiB string `yaml:"file_delay_per_mib,omitempty"`
	FileDelayMax    string `yaml:"file_delay_max,omitempty"`
}

// SessionConfig tunes the project session.
type SessionConfig struct {
	SeenLimit int `yaml:"seen_limit,omitempty"`
}

// GatewayConfig configures `stave serve`.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration that works against a local Redis.
func Default() *StaveConfig {
	return &StaveConfig{
		Version: "1.0",
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			Namespace:    "stave",
			MirrorMaxLen: 10000,
		},
		User: UserConfig{
			Name:    "Anonymous",
			DataDir: defaultDataDir(),
		},
		Transport: TransportConfig{
			ReconnectDelay:   "5s",
			LivenessInterval: "30s",
			StaleAfter:       "2m",
			CursorInterval:   "50ms",
			OpTimeout:        "5s",
		},
		Collab: CollabConfig{
			FileDelayBase:   "500ms",
			FileDelayPerMiB: "1s",
			FileDelayMax:    "10s",
		},
		Session: SessionConfig{SeenLimit: 2048},
		Gateway: GatewayConfig{Addr: "127.0.0.1:7420"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stave")
	}
	return ".stave"
}

// Validate performs strict validation on the configuration
func (c *StaveConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	if c.Redis.Namespace == "" {
		return fmt.Errorf("redis.namespace is required")
	}
	if strings.ContainsAny(c.Redis.Namespace, ": ") {
		return fmt.Errorf("invalid redis.namespace '%s': must not contain ':' or spaces", c.Redis.Namespace)
	}
	if c.Redis.MirrorMaxLen < 0 {
		return fmt.Errorf("redis.mirror_max_len must be >= 0 (0 = unbounded), got %d", c.Redis.MirrorMaxLen)
	}

	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("invalid database.url: only postgres:// URLs are supported")
	}

	if strings.TrimSpace(c.User.Name) == "" {
		return fmt.Errorf("user.name is required")
	}
	if c.User.DataDir == "" {
		return fmt.Errorf("user.data_dir is required")
	}

	if _, err := c.TransportSettings(); err != nil {
		return err
	}
	if _, err := c.CollabSettings(); err != nil {
		return err
	}

	if c.Session.SeenLimit < 0 {
		return fmt.Errorf("session.seen_limit must be >= 0, got %d", c.Session.SeenLimit)
	}

	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}

	return nil
}

// ApplyEnv overrides file values with any set environment variables.
func (c *StaveConfig) ApplyEnv() {
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Redis.Namespace = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.User.DataDir = v
	}
	if v := os.Getenv(EnvUserName); v != "" {
		c.User.Name = v
	}
}

// IdentityPath is the bbolt file holding the local identity.
func (c *StaveConfig) IdentityPath() string {
	return filepath.Join(c.User.DataDir, "identity.db")
}

// RedisOptions parses the relay URL.
func (c *StaveConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.url: %w", err)
	}
	return opts, nil
}

// TransportSettings converts the transport section, falling back to
// transport.DefaultConfig for empty fields.
func (c *StaveConfig) TransportSettings() (transport.Config, error) {
	out := transport.DefaultConfig()
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"transport.reconnect_delay", c.Transport.ReconnectDelay, &out.ReconnectDelay},
		{"transport.liveness_interval", c.Transport.LivenessInterval, &out.LivenessInterval},
		{"transport.stale_after", c.Transport.StaleAfter, &out.StaleAfter},
		{"transport.cursor_interval", c.Transport.CursorInterval, &out.CursorInterval},
		{"transport.op_timeout", c.Transport.OpTimeout, &out.OpTimeout},
	}
	for _, f := range fields {
		if err := parseDuration(f.name, f.value, f.dst, false); err != nil {
			return transport.Config{}, err
		}
	}
	return out, nil
}

// CollabSettings converts the collab section, falling back to
// collab.DefaultConfig for empty fields.
func (c *StaveConfig) CollabSettings() (collab.Config, error) {
	out := collab.DefaultConfig()
	if err := parseDuration("collab.transfer_timeout", c.Collab.TransferTimeout, &out.TransferTimeout, true); err != nil {
		return collab.Config{}, err
	}
	if err := parseDuration("collab.file_delay_base", c.Collab.FileDelayBase, &out.FileDelayBase, true); err != nil {
		return collab.Config{}, err
	}
	if err := parseDuration("collab.file_delay_per_mib", c.Collab.FileDelayPerMiB, &out.FileDelayPerMiB, true); err != nil {
		return collab.Config{}, err
	}
	if err := parseDuration("collab.file_delay_max", c.Collab.FileDelayMax, &out.FileDelayMax, true); err != nil {
		return collab.Config{}, err
	}
	return out, nil
}

// SessionSettings converts the session section.
func (c *StaveConfig) SessionSettings() session.Config {
	cfg := session.DefaultConfig()
	if c.Session.SeenLimit > 0 {
		cfg.SeenLimit = c.Session.SeenLimit
	}
	return cfg
}

// parseDuration leaves dst untouched for an empty value.
func parseDuration(name, value string, dst *time.Duration, allowZero bool) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, value, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	*dst = d
	return nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads stave.yml from the specified path over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*StaveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return finish(config)
}

// LoadOrDefault behaves like Load but uses the defaults when path does not
// exist.
func LoadOrDefault(path string) (*StaveConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return Load(path)
}

func finish(config *StaveConfig) (*StaveConfig, error) {
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
