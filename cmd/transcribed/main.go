// Command transcribed is a headless CLI driving the enginerpc session
// surface (spec §6): it replaces the teacher's hotkey/BLE/clipboard
// glue, which the spec places out of scope, with a plain terminal loop
// over the same list_input_devices / start_recording / stop_recording /
// transcribe_file / set_backend operations.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chaz8081/parakeet-core/internal/backend"
	_ "github.com/chaz8081/parakeet-core/internal/backend/coreml"
	_ "github.com/chaz8081/parakeet-core/internal/backend/onnxbackend"
	_ "github.com/chaz8081/parakeet-core/internal/backend/puregobackend"
	"github.com/chaz8081/parakeet-core/internal/capture"
	"github.com/chaz8081/parakeet-core/internal/config"
	"github.com/chaz8081/parakeet-core/internal/engine"
	"github.com/chaz8081/parakeet-core/internal/enginerpc"
	"github.com/chaz8081/parakeet-core/internal/models"
	"github.com/chaz8081/parakeet-core/internal/vocab"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/parakeet-core/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	filePath := flag.String("file", "", "transcribe a WAV file and exit instead of recording from the microphone")
	downloadModels := flag.Bool("download-models", false, "interactively download model files and exit")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("transcribed %s\n", version)
		return
	}

	if *downloadModels {
		if err := models.RunInteractiveDownload(); err != nil {
			fmt.Fprintf(os.Stderr, "download: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))

	printBanner(cfg)

	vocabulary, err := vocab.Load(filepath.Join(cfg.Backend.ModelsDir, "vocab.json"))
	if err != nil {
		slog.Error("Failed to load vocabulary", "error", err,
			"hint", "Run 'transcribed -download-models' to fetch model files")
		os.Exit(enginerpc.ExitIOFamily)
	}

	registry := backend.NewRegistry()
	eng := engine.New(registry, vocabulary)

	slog.Info("Loading backend...", "backend", cfg.Backend.Default)
	loadStart := time.Now()
	if err := eng.SetBackend(backend.ID(cfg.Backend.Default), cfg.Backend.ModelsDir); err != nil {
		slog.Error("Failed to load backend", "error", err, "backend", cfg.Backend.Default,
			"hint", "Run 'transcribed -download-models' to fetch model files")
		os.Exit(enginerpc.ExitCode(err))
	}
	slog.Info("Backend loaded", "backend", cfg.Backend.Default, "elapsed", time.Since(loadStart).Round(time.Millisecond))

	if *filePath != "" {
		runFileTranscription(eng, *filePath, cfg)
		return
	}

	recorder, err := capture.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		slog.Error("Failed to initialize audio recorder", "error", err,
			"hint", "Ensure microphone access is granted")
		os.Exit(enginerpc.ExitCode(err))
	}

	session := enginerpc.NewSession(eng, recorder, cfg.Backend.ModelsDir)
	defer session.Close()

	if *listDevices {
		runListDevices(session)
		return
	}

	runInteractiveSession(session, cfg)
}

func runFileTranscription(eng *engine.Engine, path string, cfg *config.Config) {
	if err := eng.ResetBackendState(); err != nil {
		slog.Error("Failed to reset backend state", "error", err)
		os.Exit(enginerpc.ExitCode(err))
	}

	result, err := eng.TranscribeFile(context.Background(), path, cfg.Decoding.ToTDTConfig())
	if err != nil {
		slog.Error("Transcription failed", "error", err, "path", path)
		os.Exit(enginerpc.ExitCode(err))
	}

	fmt.Println(result.RawText)
}

func runListDevices(session *enginerpc.Session) {
	devices, err := session.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list-devices: %v\n", err)
		os.Exit(enginerpc.ExitCode(err))
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " (default)"
		}
		fmt.Printf("  %s  %s%s\n", d.ID, d.Name, marker)
	}
}

// runInteractiveSession loops: Enter starts recording, Enter again stops
// and transcribes, "q" + Enter quits. This replaces the teacher's
// hotkey/BLE listener with the only input surface a headless CLI has.
func runInteractiveSession(session *enginerpc.Session, cfg *config.Config) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for ev := range session.Events() {
			slog.Info("progress", "kind", ev.Kind, "chunk", ev.Progress.ChunkIndex,
				"of", ev.Progress.ChunkCount, "current_ms", ev.Progress.CurrentMs)
		}
	}()

	fmt.Println("Press Enter to start recording, Enter again to stop and transcribe.")
	fmt.Println("Type q + Enter to quit. Ctrl+C also quits.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	recording := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "q" {
				return
			}

			if !recording {
				if err := session.StartRecording(enginerpc.StartRecordingRequest{}); err != nil {
					slog.Error("Failed to start recording", "error", err)
					continue
				}
				recording = true
				fmt.Println("Recording... press Enter to stop.")
				continue
			}

			recording = false
			result, err := session.StopRecording(context.Background(), enginerpc.StopRecordingRequest{Decoding: cfg.Decoding.ToTDTConfig()})
			if err != nil {
				slog.Error("Transcription failed", "error", err)
				continue
			}
			if result.RawText == "" {
				fmt.Println("(no speech detected)")
				continue
			}
			fmt.Println(result.RawText)

		case sig := <-sigCh:
			slog.Info("Shutting down...", "signal", sig)
			return
		}
	}
}

// loadConfig loads the config from path, or the default config path, or
// built-in defaults. On first run it writes a default config file.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	if created, err := config.WriteDefault(); err != nil {
		slog.Warn("Could not write default config", "error", err)
	} else if created != "" {
		slog.Info("Created default config", "path", created)
	}
	return config.Default(), nil
}

func printBanner(cfg *config.Config) {
	fmt.Println("=== parakeet-core ===")
	fmt.Printf("  Version: %s\n", version)
	fmt.Printf("  Backend: %s\n", cfg.Backend.Default)
	fmt.Printf("  Models:  %s\n", cfg.Backend.ModelsDir)
	fmt.Printf("  Audio:   %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}
