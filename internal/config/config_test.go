package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkDuration != 200*time.Millisecond {
		t.Errorf("ChunkDuration = %v, want 200ms", cfg.Audio.ChunkDuration)
	}
	if !cfg.Audio.CaptureSystemAudio {
		t.Error("CaptureSystemAudio should default to true")
	}
	if cfg.Workers.TranscribeInterval != 2*time.Second {
		t.Errorf("TranscribeInterval = %v, want 2s", cfg.Workers.TranscribeInterval)
	}
	if cfg.Workers.JoinTimeout != 5*time.Second {
		t.Errorf("JoinTimeout = %v, want 5s", cfg.Workers.JoinTimeout)
	}
	if cfg.Workers.SilenceTicks != 5 {
		t.Errorf("SilenceTicks = %d, want 5", cfg.Workers.SilenceTicks)
	}
	if cfg.Engines.OllamaModel != "mistral" {
		t.Errorf("OllamaModel = %q, want %q", cfg.Engines.OllamaModel, "mistral")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEETSCRIBE_HTTP_ADDR", ":9090")
	t.Setenv("MEETSCRIBE_AUDIO_BACKEND", "sim")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.Audio.Backend != "sim" {
		t.Errorf("Backend = %q, want %q", cfg.Audio.Backend, "sim")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meetscribe.yaml")
	content := []byte("http_addr: \":7777\"\naudio:\n  sample_rate: 44100\n  capture_system_audio: false\nworkers:\n  transcribe_interval: 500ms\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.HTTPAddr != ":7777" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":7777")
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.Audio.SampleRate)
	}
	if cfg.Audio.CaptureSystemAudio {
		t.Error("CaptureSystemAudio should be false")
	}
	if cfg.Workers.TranscribeInterval != 500*time.Millisecond {
		t.Errorf("TranscribeInterval = %v, want 500ms", cfg.Workers.TranscribeInterval)
	}
	// Unset keys keep their defaults.
	if cfg.Workers.HealthInterval != 2*time.Second {
		t.Errorf("HealthInterval = %v, want 2s", cfg.Workers.HealthInterval)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	got := expandHome(filepath.Join("~", "Documents"))
	want := filepath.Join(home, "Documents")
	if got != want {
		t.Errorf("expandHome = %q, want %q", got, want)
	}

	if got := expandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("expandHome should leave absolute paths alone, got %q", got)
	}
}
