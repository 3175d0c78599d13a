package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// invalidInt marks a numeric value that failed to parse; validation
// replaces it with the default.
const invalidInt = -1

const (
	EngineAuto   = "auto"
	EngineNative = "native"
	EngineFFMPEG = "ffmpeg"
)

// Config stores runtime configuration for the recorder app.
type Config struct {
	// Engine selects the capture capability: auto tries native then ffmpeg.
	Engine  string `env:"MEDIAREC_ENGINE"`
	Audio   AudioConfig
	Session SessionConfig
	Log     LogConfig
}

type AudioConfig struct {
	RecorderCommand string `env:"MEDIAREC_FFMPEG_COMMAND"`
	InputFormat     string `env:"MEDIAREC_AUDIO_INPUT_FORMAT"`
	InputDevice     string `env:"MEDIAREC_AUDIO_INPUT_DEVICE"`
	SampleRate      int    `env:"MEDIAREC_SAMPLE_RATE"`
	Channels        int    `env:"MEDIAREC_CHANNELS"`
}

type SessionConfig struct {
	TimesliceMS   int `env:"MEDIAREC_TIMESLICE_MS"`
	ChunkSize     int `env:"MEDIAREC_READ_CHUNK_SIZE"`
	EventBuffer   int `env:"MEDIAREC_EVENT_BUFFER"`
	EventLogLimit int `env:"MEDIAREC_EVENT_LOG_LIMIT"`
}

// Timeslice is the default fragment interval for chunked takes.
func (s SessionConfig) Timeslice() time.Duration {
	return time.Duration(s.TimesliceMS) * time.Millisecond
}

type LogConfig struct {
	Level      string `env:"MEDIAREC_LOG_LEVEL"`
	File       string `env:"MEDIAREC_LOG_FILE"`
	MaxSizeMB  int    `env:"MEDIAREC_LOG_MAX_SIZE_MB"`
	MaxBackups int    `env:"MEDIAREC_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `env:"MEDIAREC_LOG_MAX_AGE_DAYS"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Engine: EngineAuto,
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      48000,
			Channels:        1,
		},
		Session: SessionConfig{
			TimesliceMS:   1000,
			ChunkSize:     4096,
			EventBuffer:   64,
			EventLogLimit: 500,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load resolves configuration from an optional .env file, environment
// variables and defaults. Malformed values fall back to their defaults.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("MEDIAREC_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Defaults()
	parsers := map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(0):  lenientInt,
		reflect.TypeOf(""): trimmedString,
	}
	if err := env.ParseWithFuncs(&cfg, parsers); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	normalize(&cfg)
	return cfg, nil
}

func lenientInt(value string) (interface{}, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return invalidInt, nil
	}
	return parsed, nil
}

func trimmedString(value string) (interface{}, error) {
	return strings.TrimSpace(value), nil
}

func normalize(cfg *Config) {
	def := Defaults()

	switch engine := strings.ToLower(cfg.Engine); engine {
	case EngineAuto, EngineNative, EngineFFMPEG:
		cfg.Engine = engine
	default:
		cfg.Engine = def.Engine
	}

	if cfg.Audio.RecorderCommand == "" {
		cfg.Audio.RecorderCommand = def.Audio.RecorderCommand
	}
	if cfg.Audio.InputFormat == "" {
		cfg.Audio.InputFormat = def.Audio.InputFormat
	}
	if cfg.Audio.InputDevice == "" {
		cfg.Audio.InputDevice = def.Audio.InputDevice
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}

	if cfg.Session.TimesliceMS <= 0 {
		cfg.Session.TimesliceMS = def.Session.TimesliceMS
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = def.Session.ChunkSize
	}
	if cfg.Session.EventBuffer <= 0 {
		cfg.Session.EventBuffer = def.Session.EventBuffer
	}
	if cfg.Session.EventLogLimit <= 0 {
		cfg.Session.EventLogLimit = def.Session.EventLogLimit
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays < 0 {
		cfg.Log.MaxAgeDays = def.Log.MaxAgeDays
	}
}
