package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/parakeet-core/internal/tdt"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.Default != "onnx" {
		t.Errorf("Backend.Default = %q, want %q", cfg.Backend.Default, "onnx")
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Audio.Channels = %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Decoding.BeamWidth != 1 {
		t.Errorf("Decoding.BeamWidth = %d, want 1", cfg.Decoding.BeamWidth)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
backend:
  default: purego
  models_dir: /tmp/models
audio:
  sample_rate: 44100
  channels: 2
decoding:
  beam_width: 4
  temperature: 0.8
  blank_penalty: 2
  language: french
  vad_aware_chunking: true
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.Default != "purego" {
		t.Errorf("Backend.Default = %q, want %q", cfg.Backend.Default, "purego")
	}
	if cfg.Backend.ModelsDir != "/tmp/models" {
		t.Errorf("Backend.ModelsDir = %q, want %q", cfg.Backend.ModelsDir, "/tmp/models")
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Audio.SampleRate = %d, want 44100", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("Audio.Channels = %d, want 2", cfg.Audio.Channels)
	}
	if cfg.Decoding.BeamWidth != 4 {
		t.Errorf("Decoding.BeamWidth = %d, want 4", cfg.Decoding.BeamWidth)
	}
	if cfg.Decoding.Language != "french" {
		t.Errorf("Decoding.Language = %q, want %q", cfg.Decoding.Language, "french")
	}
	if !cfg.Decoding.VADAware {
		t.Error("Decoding.VADAware = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
backend:
  models_dir: ~/models
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "models")
	if cfg.Backend.ModelsDir != expected {
		t.Errorf("Backend.ModelsDir = %q, want %q", cfg.Backend.ModelsDir, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{name: "invalid backend", modify: func(c *Config) { c.Backend.Default = "invalid" }, wantErr: true},
		{name: "empty models dir", modify: func(c *Config) { c.Backend.ModelsDir = "" }, wantErr: true},
		{name: "zero sample rate", modify: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: true},
		{name: "zero channels", modify: func(c *Config) { c.Audio.Channels = 0 }, wantErr: true},
		{name: "invalid beam width", modify: func(c *Config) { c.Decoding.BeamWidth = 0 }, wantErr: true},
		{name: "invalid language", modify: func(c *Config) { c.Decoding.Language = "klingon" }, wantErr: true},
		{name: "invalid log level", modify: func(c *Config) { c.LogLevel = "invalid" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefaultCreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "parakeet-core", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	content := string(data)
	if !strings.HasPrefix(content, "# parakeet-core") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("written config Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
}

func TestWriteDefaultNoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "parakeet-core")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestToTDTConfig(t *testing.T) {
	d := DecodingConfig{BeamWidth: 3, Temperature: 0.5, BlankPenalty: 1.5, Language: "french"}
	cfg := d.ToTDTConfig()
	if cfg.BeamWidth != 3 || cfg.Temperature != 0.5 || cfg.BlankPenalty != 1.5 {
		t.Errorf("ToTDTConfig() = %+v", cfg)
	}
	if cfg.Language != tdt.LanguageFrench {
		t.Errorf("Language = %v, want LanguageFrench", cfg.Language)
	}
}

func TestToTDTConfigDefaultLanguage(t *testing.T) {
	d := DecodingConfig{BeamWidth: 1}
	cfg := d.ToTDTConfig()
	if cfg.Language != tdt.LanguageAuto {
		t.Errorf("Language = %v, want LanguageAuto", cfg.Language)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got.String() != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
