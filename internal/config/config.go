// Package config handles server configuration with file and environment sources.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the orchestration engine.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	OutputDir string `mapstructure:"output_dir"`

	Audio   AudioConfig   `mapstructure:"audio"`
	Workers WorkersConfig `mapstructure:"workers"`
	Engines EnginesConfig `mapstructure:"engines"`
}

// AudioConfig controls capture devices and stream parameters.
type AudioConfig struct {
	Backend            string   `mapstructure:"backend"` // "portaudio" or "sim"
	SampleRate         int      `mapstructure:"sample_rate"`
	ChunkDuration      duration `mapstructure:"chunk_duration"`
	CaptureSystemAudio bool     `mapstructure:"capture_system_audio"`
	ExcludedDevices    []string `mapstructure:"excluded_devices"`
	FlushEvery         int      `mapstructure:"flush_every"` // chunks between temp-file flushes
}

// WorkersConfig controls the per-meeting background workers.
type WorkersConfig struct {
	TranscribeInterval duration `mapstructure:"transcribe_interval"`
	HealthInterval     duration `mapstructure:"health_interval"`
	JoinTimeout        duration `mapstructure:"join_timeout"`
	SilenceTicks       int      `mapstructure:"silence_ticks"` // consecutive silent ticks before reporting a problem
	SilenceThreshold   float64  `mapstructure:"silence_threshold"`
}

// EnginesConfig points at the external speech-to-text and summarization services.
type EnginesConfig struct {
	WhisperURL     string   `mapstructure:"whisper_url"`
	WhisperTimeout duration `mapstructure:"whisper_timeout"`
	OllamaURL      string   `mapstructure:"ollama_url"`
	OllamaModel    string   `mapstructure:"ollama_model"`
}

// duration keeps the struct tags readable; viper decodes "2s" style strings.
type duration = time.Duration

// Load reads meetscribe.yaml (optional) and MEETSCRIBE_* env overrides.
func Load() (*Config, error) {
	return load("")
}

// LoadFile reads an explicit config file path plus env overrides.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8000")
	v.SetDefault("output_dir", defaultOutputDir())
	v.SetDefault("audio.backend", "portaudio")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.chunk_duration", "200ms")
	v.SetDefault("audio.capture_system_audio", true)
	v.SetDefault("audio.excluded_devices", []string{"iphone", "teams"})
	v.SetDefault("audio.flush_every", 25)
	v.SetDefault("workers.transcribe_interval", "2s")
	v.SetDefault("workers.health_interval", "2s")
	v.SetDefault("workers.join_timeout", "5s")
	v.SetDefault("workers.silence_ticks", 5)
	v.SetDefault("workers.silence_threshold", 0.01)
	v.SetDefault("engines.whisper_url", "http://localhost:9000/transcribe")
	v.SetDefault("engines.whisper_timeout", "30s")
	v.SetDefault("engines.ollama_url", "http://localhost:11434/api/chat")
	v.SetDefault("engines.ollama_model", "mistral")

	v.SetEnvPrefix("MEETSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("meetscribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meetscribe")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	// Viper's default decode hooks handle "200ms" style duration strings.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.OutputDir = expandHome(cfg.OutputDir)
	return &cfg, nil
}

func defaultOutputDir() string {
	return filepath.Join("~", "Documents", "Meeting_Transcripts")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~"+string(os.PathSeparator)) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
