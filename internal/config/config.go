package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server contains the listener and storage location.
type Server struct {
	Port    int    `toml:"port"`
	DataDir string `toml:"data_dir"`
}

// Playback contains narration playback and music bed settings.
type Playback struct {
	VoiceID           string  `toml:"voice_id"`
	Speed             float64 `toml:"speed"`
	PartDelimiter     string  `toml:"part_delimiter"`
	MusicRef          string  `toml:"music_ref"`
	MusicVolume       float64 `toml:"music_volume"`
	MusicFadeOut      float64 `toml:"music_fade_out"`  // seconds
	Lookahead         float64 `toml:"lookahead"`       // seconds of audio kept scheduled ahead
	PreloadWorkers    int     `toml:"preload_workers"` // concurrent fetch+decode
	ProgressInterval  int     `toml:"progress_interval"`
	DurationTolerance float64 `toml:"duration_tolerance"` // seconds
}

// Synthesis contains the narration service connection.
type Synthesis struct {
	APIURL     string `toml:"api_url"`
	APIKey     string `toml:"api_key"`
	BatchSize  int    `toml:"batch_size"`
	BatchDelay int    `toml:"batch_delay"` // milliseconds
	Timeout    int    `toml:"timeout"`     // seconds
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds all runtime configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Playback  Playback  `toml:"playback"`
	Synthesis Synthesis `toml:"synthesis"`
	Logging   Logging   `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Port:    8080,
			DataDir: "data",
		},
		Playback: Playback{
			Speed:             1.0,
			PartDelimiter:     "|",
			MusicVolume:       0.15,
			MusicFadeOut:      2.0,
			Lookahead:         1.0,
			PreloadWorkers:    6,
			ProgressInterval:  100,
			DurationTolerance: 0.05,
		},
		Synthesis: Synthesis{
			APIURL:     "http://localhost:8001",
			BatchSize:  3,
			BatchDelay: 1000,
			Timeout:    120,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if it
// exists) and REEL_* environment overrides, then validates it. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("REEL_PORT", c.Server.Port)
	c.Server.DataDir = envStr("REEL_DATA_DIR", c.Server.DataDir)

	c.Playback.VoiceID = envStr("REEL_VOICE_ID", c.Playback.VoiceID)
	c.Playback.Speed = envFloat("REEL_SPEED", c.Playback.Speed)
	c.Playback.MusicRef = envStr("REEL_MUSIC_REF", c.Playback.MusicRef)
	c.Playback.MusicVolume = envFloat("REEL_MUSIC_VOLUME", c.Playback.MusicVolume)

	c.Synthesis.APIURL = envStr("REEL_SYNTH_API_URL", c.Synthesis.APIURL)
	c.Synthesis.APIKey = envStr("REEL_SYNTH_API_KEY", c.Synthesis.APIKey)
	c.Synthesis.BatchSize = envInt("REEL_SYNTH_BATCH_SIZE", c.Synthesis.BatchSize)

	c.Logging.Level = envStr("REEL_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envStr("REEL_LOG_FORMAT", c.Logging.Format)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.DataDir) == "" {
		return errors.New("server.data_dir must be set")
	}
	if c.Playback.Speed < 0.25 || c.Playback.Speed > 4 {
		return errors.New("playback.speed must be between 0.25 and 4")
	}
	if c.Playback.PartDelimiter == "" {
		return errors.New("playback.part_delimiter must be set")
	}
	if c.Playback.MusicVolume < 0 || c.Playback.MusicVolume > 1 {
		return errors.New("playback.music_volume must be between 0 and 1")
	}
	if c.Playback.MusicFadeOut < 0 {
		return errors.New("playback.music_fade_out must not be negative")
	}
	if c.Playback.Lookahead <= 0 {
		return errors.New("playback.lookahead must be positive")
	}
	if c.Playback.PreloadWorkers < 1 {
		return errors.New("playback.preload_workers must be at least 1")
	}
	if c.Playback.ProgressInterval < 10 {
		return errors.New("playback.progress_interval must be at least 10ms")
	}
	if c.Synthesis.BatchSize < 1 {
		return errors.New("synthesis.batch_size must be at least 1")
	}
	if c.Synthesis.BatchDelay < 0 || c.Synthesis.Timeout <= 0 {
		return errors.New("synthesis.batch_delay and synthesis.timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be auto, console or json", c.Logging.Format)
	}
	return nil
}

// ProgressInterval returns the progress report period.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Playback.ProgressInterval) * time.Millisecond
}

// BatchDelay returns the pause between synthesis batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Synthesis.BatchDelay) * time.Millisecond
}

// SynthesisTimeout returns the per-request synthesis deadline.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.Synthesis.Timeout) * time.Second
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
