package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigscope/internal/config"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigscope.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \":9000\"\n\n[capture]\npreload = \"n2.pcap\"\n"), 0o600))

	cfg, err := loadConfig(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "n2.pcap", cfg.Capture.Preload)

	cfg, err = loadConfig(path, "127.0.0.1:8081", "f1.pcapng")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8081", cfg.Server.Addr)
	assert.Equal(t, "f1.pcapng", cfg.Capture.Preload)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", "", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"), "", "")
	assert.Error(t, err)
}
