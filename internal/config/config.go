// Package config loads the server configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Replay  ReplayConfig
	Capture CaptureConfig
}

type ServerConfig struct {
	Addr string
	// MaxUploadMB caps the size of an uploaded capture file.
	MaxUploadMB int
}

type LogConfig struct {
	Level   string
	Console bool
}

type ReplayConfig struct {
	// ComputeChecksums refreshes the checksums of edited layers. Turning it
	// off keeps the captured values, which receivers reject once the
	// covered bytes change.
	ComputeChecksums bool
	// DryRun rebuilds and logs replayed packets without sending them.
	DryRun bool
}

type CaptureConfig struct {
	// Preload is a capture file opened at startup.
	Preload string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", MaxUploadMB: 64},
		Log:    LogConfig{Level: "info", Console: true},
		Replay: ReplayConfig{ComputeChecksums: true},
	}
}

type fileConfig struct {
	Server struct {
		Addr        string `toml:"addr"`
		MaxUploadMB int    `toml:"max_upload_mb"`
	} `toml:"server"`
	Log struct {
		Level   string `toml:"level"`
		Console bool   `toml:"console"`
	} `toml:"log"`
	Replay struct {
		ComputeChecksums bool `toml:"compute_checksums"`
		DryRun           bool `toml:"dry_run"`
	} `toml:"replay"`
	Capture struct {
		Preload string `toml:"preload"`
	} `toml:"capture"`
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "max_upload_mb") {
		cfg.Server.MaxUploadMB = raw.Server.MaxUploadMB
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	if meta.IsDefined("log", "console") {
		cfg.Log.Console = raw.Log.Console
	}
	if meta.IsDefined("replay", "compute_checksums") {
		cfg.Replay.ComputeChecksums = raw.Replay.ComputeChecksums
	}
	if meta.IsDefined("replay", "dry_run") {
		cfg.Replay.DryRun = raw.Replay.DryRun
	}
	if meta.IsDefined("capture", "preload") {
		cfg.Capture.Preload = strings.TrimSpace(raw.Capture.Preload)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would only fail later at runtime.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: server.max_upload_mb must be positive", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// MaxUploadBytes is the upload cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
