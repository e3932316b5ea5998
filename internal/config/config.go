// Package config loads the transcription core's YAML configuration file,
// in the same style as the rest of the pack: a typed struct with
// yaml tags, documented defaults, and tilde expansion for paths.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/tdt"
)

// Config holds all application configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Audio    AudioConfig    `yaml:"audio"`
	Decoding DecodingConfig `yaml:"decoding"`
	LogLevel string         `yaml:"log_level"`
}

// BackendConfig selects which inference runtime to load on startup.
type BackendConfig struct {
	Default   string `yaml:"default"` // "onnx", "purego", or "coreml"
	ModelsDir string `yaml:"models_dir"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
}

// DecodingConfig mirrors tdt.Config, including its chunker VAD toggle.
type DecodingConfig struct {
	BeamWidth    int     `yaml:"beam_width"`
	Temperature  float64 `yaml:"temperature"`
	BlankPenalty float64 `yaml:"blank_penalty"`
	Language     string  `yaml:"language"` // "", "english", "french"
	VADAware     bool    `yaml:"vad_aware_chunking"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "parakeet-core")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "parakeet-core")
}

// DefaultModelsDir returns the default directory holding models/<backend>/.
func DefaultModelsDir() string {
	return filepath.Join(DefaultDataDir(), "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Default:   string(backend.ONNX),
			ModelsDir: DefaultModelsDir(),
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Decoding: DecodingConfig{
			BeamWidth:    1,
			Temperature:  1.0,
			BlankPenalty: 6.0,
			Language:     "",
			VADAware:     false,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing file: %w", err)
	}

	cfg.Backend.ModelsDir = expandTilde(cfg.Backend.ModelsDir)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch backend.ID(c.Backend.Default) {
	case backend.ONNX, backend.Purego, backend.CoreML:
	default:
		return fmt.Errorf("config: backend.default must be %q, %q, or %q, got %q",
			backend.ONNX, backend.Purego, backend.CoreML, c.Backend.Default)
	}
	if c.Backend.ModelsDir == "" {
		return fmt.Errorf("config: backend.models_dir must not be empty")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("config: audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return fmt.Errorf("config: audio.channels must be > 0")
	}

	if c.Decoding.BeamWidth < 1 {
		return fmt.Errorf("config: decoding.beam_width must be >= 1")
	}
	switch c.Decoding.Language {
	case "", "english", "french":
	default:
		return fmt.Errorf("config: decoding.language must be \"\", \"english\", or \"french\", got %q", c.Decoding.Language)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ToTDTConfig converts the YAML decoding section into a tdt.Config.
func (d DecodingConfig) ToTDTConfig() tdt.Config {
	cfg := tdt.DefaultConfig()
	cfg.BeamWidth = d.BeamWidth
	cfg.Temperature = d.Temperature
	cfg.BlankPenalty = d.BlankPenalty
	cfg.VADAware = d.VADAware
	switch d.Language {
	case "english":
		cfg.Language = tdt.LanguageEnglish
	case "french":
		cfg.Language = tdt.LanguageFrench
	default:
		cfg.Language = tdt.LanguageAuto
	}
	return cfg
}

// WriteDefault creates the default config file with documented defaults.
// If the file already exists, it returns ("", nil) without overwriting.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("config: creating dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config: marshaling default config: %w", err)
	}

	header := "# parakeet-core configuration\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return "", fmt.Errorf("config: writing file: %w", err)
	}
	return path, nil
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ParseLogLevel converts a log level string to a slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
