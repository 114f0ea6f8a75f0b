package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/reveal/internal/reveal"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reveal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, 30*time.Millisecond, cfg.Reveal.Speed)
	assert.Equal(t, 20*time.Millisecond, cfg.Reveal.PrioritySpeed)
	assert.Equal(t, 3, cfg.Reveal.SoundInterval)
	assert.True(t, cfg.Reveal.SoundEnabled)
}

func TestMissingFileIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  listen_addr: ":9000"
nats:
  url: nats://yaml:4222
codec: msgpack
reveal:
  speed: 45ms
  sound_interval: 5
  sound_enabled: false
effects:
  rate_per_sec: 12.5
log:
  level: debug
`)
	t.Setenv("REVEAL_NATS_URL", "nats://env:4222")
	t.Setenv("REVEAL_ENGINE_MAX_CHARS_PER_TICK", "8")
	t.Setenv("REVEAL_RELAY_SEED", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, 45*time.Millisecond, cfg.Reveal.Speed)
	assert.Equal(t, 20*time.Millisecond, cfg.Reveal.PrioritySpeed, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Reveal.SoundInterval)
	assert.False(t, cfg.Reveal.SoundEnabled)
	assert.Equal(t, 8, cfg.Reveal.MaxCharsPerTick)
	assert.InDelta(t, 12.5, cfg.Effects.RatePerSec, 0.001)
	assert.Equal(t, uint64(42), cfg.Relay.Seed)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLegacyEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REVEAL_REDIS_ADDR", "override:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "override:6379", cfg.Redis.Addr, "prefixed key wins")
}

func TestCustomPrefix(t *testing.T) {
	t.Setenv("RV_ENGINE_SPEED", "10ms")
	cfg, err := NewLoader().WithEnvPrefix("RV").Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Reveal.Speed)
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("REVEAL_ENGINE_SPEED", "fast")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REVEAL_ENGINE_SPEED")
}

func TestBadYAML(t *testing.T) {
	path := writeFile(t, "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown codec", func(c *Config) { c.Codec = "xml" }},
		{"zero speed", func(c *Config) { c.Reveal.Speed = 0 }},
		{"zero interval", func(c *Config) { c.Reveal.SoundInterval = 0 }},
		{"negative cap", func(c *Config) { c.Reveal.MaxCharsPerTick = -1 }},
		{"chunk range", func(c *Config) { c.Relay.MinChunk, c.Relay.MaxChunk = 5, 2 }},
		{"redis without addr", func(c *Config) { c.Redis.Addr = "" }},
		{"no listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestExtraValidator(t *testing.T) {
	path := writeFile(t, "database:\n  dsn: \"\"\n")
	_, err := NewLoader().WithConfigPath(path).WithValidator(func(c *Config) error {
		if c.Database.DSN == "" {
			return assert.AnError
		}
		return nil
	}).Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRevealEngine(t *testing.T) {
	rc := DefaultRevealConfig()
	rc.MaxCharsPerTick = 4

	normal := rc.Engine(false)
	assert.Equal(t, reveal.DefaultSpeed, normal.Speed)
	assert.Equal(t, 4, normal.MaxCharsPerTick)
	assert.True(t, normal.SoundEnabled)

	fast := rc.Engine(true)
	assert.Equal(t, reveal.PrioritySpeed, fast.Speed)
}
