package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration. It can be written as YAML
// or TOML; the format is picked from the file extension.
type Config struct {
	Server struct {
		Host string `yaml:"host" toml:"host"`
		Port int    `yaml:"port" toml:"port"`
	} `yaml:"server" toml:"server"`

	HTTP struct {
		Addr        string `yaml:"addr" toml:"addr"`
		UploadDir   string `yaml:"upload_dir" toml:"upload_dir"`
		MaxUploadMB int    `yaml:"max_upload_mb" toml:"max_upload_mb"`
	} `yaml:"http" toml:"http"`

	Engine EngineConfig `yaml:"engine" toml:"engine"`

	DefaultBackend string                   `yaml:"default_backend" toml:"default_backend"`
	Backends       map[string]BackendConfig `yaml:"backends" toml:"backends"`

	Redis RedisConfig `yaml:"redis" toml:"redis"`

	Archive struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"archive" toml:"archive"`

	Log LogConfig `yaml:"log" toml:"log"`

	Transcription struct {
		OutputDir       string `yaml:"output_dir" toml:"output_dir"`
		SaveTranscripts bool   `yaml:"save_transcripts" toml:"save_transcripts"`
		SaveAudio       bool   `yaml:"save_audio" toml:"save_audio"`
	} `yaml:"transcription" toml:"transcription"`
}

// EngineConfig holds the segmentation and dispatch parameters.
type EngineConfig struct {
	SegmentLengthMs   int64    `yaml:"segment_length_ms" toml:"segment_length_ms"`
	OverlapMs         int64    `yaml:"overlap_ms" toml:"overlap_ms"`
	MaxWorkers        int      `yaml:"max_workers" toml:"max_workers"`
	SegmentTimeout    Duration `yaml:"segment_timeout" toml:"segment_timeout"`
	ScratchDir        string   `yaml:"scratch_dir" toml:"scratch_dir"`
	Format            string   `yaml:"format" toml:"format"`
	Language          string   `yaml:"language" toml:"language"`
	RemoveRepetitions bool     `yaml:"remove_repetitions" toml:"remove_repetitions"`
	FFmpegPath        string   `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	FFprobePath       string   `yaml:"ffprobe_path" toml:"ffprobe_path"`
	Temperature       float64  `yaml:"temperature" toml:"temperature"`
	Seed              int      `yaml:"seed" toml:"seed"`
	RepetitionPenalty float64  `yaml:"repetition_penalty" toml:"repetition_penalty"`
}

// BackendConfig describes one selectable speech-to-text target.
type BackendConfig struct {
	Kind     string `yaml:"kind" toml:"kind"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Model    string `yaml:"model" toml:"model"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
}

// RedisConfig enables the segment result cache and the shared progress store.
// An empty Addr disables both.
type RedisConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	Password    string   `yaml:"password" toml:"password"`
	DB          int      `yaml:"db" toml:"db"`
	Prefix      string   `yaml:"prefix" toml:"prefix"`
	CacheTTL    Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	ProgressTTL Duration `yaml:"progress_ttl" toml:"progress_ttl"`
}

// LogConfig controls the process logger and the per-session JSONL event log.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	SessionDir string `yaml:"session_dir" toml:"session_dir"`
}

// Duration wraps time.Duration so it can be written as "30s" in both formats.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML accepts the same strings as UnmarshalText.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig presets the settings for which zero is a valid explicit value,
// so decoding a file only overrides the keys it contains.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Engine.OverlapMs = 300
	cfg.Engine.Seed = 42
	return cfg
}

// Load reads a YAML or TOML configuration file. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := newConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	cfg.applyDefaults()
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9092
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.HTTP.UploadDir == "" {
		c.HTTP.UploadDir = "./uploads"
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 512
	}

	e := &c.Engine
	if e.SegmentLengthMs == 0 {
		e.SegmentLengthMs = 30000
	}
	if e.MaxWorkers <= 0 {
		e.MaxWorkers = 6
	}
	if e.SegmentTimeout.Duration == 0 {
		e.SegmentTimeout.Duration = 5 * time.Minute
	}
	if e.ScratchDir == "" {
		e.ScratchDir = filepath.Join(os.TempDir(), "segscribe")
	}
	if e.Format == "" {
		e.Format = "timed"
	}
	if e.Language == "" {
		e.Language = "en"
	}
	if e.FFmpegPath == "" {
		e.FFmpegPath = "ffmpeg"
	}
	if e.FFprobePath == "" {
		e.FFprobePath = "ffprobe"
	}
	if e.RepetitionPenalty == 0 {
		e.RepetitionPenalty = 1.2
	}

	if len(c.Backends) == 0 {
		c.Backends = map[string]BackendConfig{
			"whisper": {
				Kind:     "openai",
				Endpoint: "http://localhost:9801/v1",
				Model:    "stt_model",
				APIKey:   "EMPTY",
			},
			"malaysia-whisper": {
				Kind:     "openai",
				Endpoint: "http://localhost:7801/v1",
				Model:    "stt_model",
				APIKey:   "EMPTY",
			},
		}
	}
	for name, b := range c.Backends {
		if b.Kind == "" {
			b.Kind = "openai"
			c.Backends[name] = b
		}
	}
	if c.DefaultBackend == "" {
		c.DefaultBackend = "whisper"
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "segscribe:"
	}
	if c.Redis.CacheTTL.Duration == 0 {
		c.Redis.CacheTTL.Duration = 24 * time.Hour
	}
	if c.Redis.ProgressTTL.Duration == 0 {
		c.Redis.ProgressTTL.Duration = time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Transcription.OutputDir == "" {
		c.Transcription.OutputDir = "./transcriptions"
	}
}

// expandEnvVars resolves ${VAR} references in secrets.
func (c *Config) expandEnvVars() {
	for name, b := range c.Backends {
		b.APIKey = os.ExpandEnv(b.APIKey)
		b.Endpoint = os.ExpandEnv(b.Endpoint)
		c.Backends[name] = b
	}
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
}

// Validate checks the settings that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	if c.Engine.SegmentLengthMs <= 0 {
		return fmt.Errorf("engine.segment_length_ms must be positive, got %d", c.Engine.SegmentLengthMs)
	}
	if c.Engine.OverlapMs < 0 || c.Engine.OverlapMs >= c.Engine.SegmentLengthMs {
		return fmt.Errorf("engine.overlap_ms must be in [0, %d), got %d", c.Engine.SegmentLengthMs, c.Engine.OverlapMs)
	}
	if _, ok := c.Backends[c.DefaultBackend]; !ok {
		return fmt.Errorf("default_backend %q is not defined in backends", c.DefaultBackend)
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: text records on stderr at the configured level.
func (l LogConfig) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l.SlogLevel()}))
}
