// Package config assembles the settings of the reveal binaries. Values come
// from built-in defaults, then an optional YAML file, then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/whisper/reveal/internal/logging"
	"github.com/whisper/reveal/internal/messaging"
	"github.com/whisper/reveal/internal/relay"
	"github.com/whisper/reveal/internal/reveal"
	"github.com/whisper/reveal/internal/sfx"
	"github.com/whisper/reveal/internal/transport"
	"github.com/whisper/reveal/internal/ws"
)

// Config is the full configuration tree.
type Config struct {
	Server   ws.ServerConfig      `yaml:"server" env:"SERVER"`
	NATS     messaging.NATSConfig `yaml:"nats" env:"NATS"`
	Codec    string               `yaml:"codec" env:"CODEC"` // frame codec: json or msgpack
	Redis    RedisConfig          `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig       `yaml:"database" env:"DATABASE"`
	Reveal   RevealConfig         `yaml:"reveal" env:"ENGINE"`
	Effects  sfx.PlayerConfig     `yaml:"effects" env:"EFFECTS"`
	Relay    relay.Options        `yaml:"relay" env:"RELAY"`
	Log      logging.Config       `yaml:"log" env:"LOG"`
}

// RedisConfig holds the session and rate-limit store address.
type RedisConfig struct {
	Addr    string `yaml:"addr" env:"ADDR"`
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
}

// DatabaseConfig holds the transcript database settings. An empty DSN
// disables transcripts.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn" env:"DSN"`
	Migrate bool   `yaml:"migrate" env:"MIGRATE"`
}

// RevealConfig holds the engine cadence shared by every session.
type RevealConfig struct {
	Speed           time.Duration `yaml:"speed" env:"SPEED"`
	PrioritySpeed   time.Duration `yaml:"priority_speed" env:"PRIORITY_SPEED"`
	SoundInterval   int           `yaml:"sound_interval" env:"SOUND_INTERVAL"`
	SoundEnabled    bool          `yaml:"sound_enabled" env:"SOUND_ENABLED"`
	Stagger         time.Duration `yaml:"stagger" env:"STAGGER"`
	MaxCharsPerTick int           `yaml:"max_chars_per_tick" env:"MAX_CHARS_PER_TICK"`

	// IdleTimeout aborts a stream whose transport stays silent that long.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ws.DefaultServerConfig(),
		NATS:     messaging.DefaultNATSConfig(),
		Codec:    transport.CodecJSON,
		Redis:    RedisConfig{Addr: "localhost:6379", Enabled: true},
		Database: DatabaseConfig{Migrate: true},
		Reveal:   DefaultRevealConfig(),
		Effects:  sfx.DefaultPlayerConfig(),
		Relay:    relay.DefaultOptions(),
		Log:      logging.DefaultConfig(),
	}
}

// DefaultRevealConfig returns the standard cadence.
func DefaultRevealConfig() RevealConfig {
	return RevealConfig{
		Speed:         reveal.DefaultSpeed,
		PrioritySpeed: reveal.PrioritySpeed,
		SoundInterval: reveal.DefaultSoundInterval,
		SoundEnabled:  true,
		Stagger:       reveal.DefaultStagger,
		IdleTimeout:   30 * time.Second,
	}
}

// Engine converts the section into a reveal.Config. priority selects the
// faster cadence.
func (r RevealConfig) Engine(priority bool) reveal.Config {
	cfg := reveal.DefaultConfig()
	cfg.Speed = r.Speed
	if priority {
		cfg.Speed = r.PrioritySpeed
	}
	cfg.SoundInterval = r.SoundInterval
	cfg.SoundEnabled = r.SoundEnabled
	cfg.Stagger = r.Stagger
	cfg.MaxCharsPerTick = r.MaxCharsPerTick
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.WorkerPoolSize <= 0 {
		errs = append(errs, errors.New("server.worker_pool_size must be positive"))
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, errors.New("server.max_connections must be positive"))
	}
	if _, err := transport.CodecByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Reveal.Speed <= 0 || c.Reveal.PrioritySpeed <= 0 {
		errs = append(errs, errors.New("reveal speeds must be positive"))
	}
	if c.Reveal.SoundInterval <= 0 {
		errs = append(errs, errors.New("reveal.sound_interval must be positive"))
	}
	if c.Reveal.Stagger < 0 {
		errs = append(errs, errors.New("reveal.stagger must not be negative"))
	}
	if c.Reveal.MaxCharsPerTick < 0 {
		errs = append(errs, errors.New("reveal.max_chars_per_tick must not be negative"))
	}
	if c.Relay.MinChunk <= 0 || c.Relay.MaxChunk < c.Relay.MinChunk {
		errs = append(errs, fmt.Errorf("relay chunk range [%d,%d] is invalid", c.Relay.MinChunk, c.Relay.MaxChunk))
	}
	return errors.Join(errs...)
}
