package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "UPLOAD_DIR", "LOG_LEVEL", "EXTRACT_MODE"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_CreatesDefaults(t *testing.T) {
	for _, name := range []string{"FirmwareIngest.config", "ingest.yaml"} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.FileExists(t, path)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, filepath.Join(dir, "uploads"), cfg.GetUploadDir())
			assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes())
			assert.Equal(t, ModeLibrary, cfg.Extraction.Mode)

			// The generated file loads back to the same values.
			again, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Server, again.Server)
			assert.Equal(t, cfg.Storage, again.Storage)
			assert.Equal(t, cfg.Extraction, again.Extraction)
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yml")
	content := `
server:
  port: 9000
storage:
  uploadsDirectory: /srv/firmware
  maxUploadSize: 10MiB
extraction:
  mode: command
  unzipCommand: /usr/bin/unzip
  outputSubdirectory: expanded
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/srv/firmware", cfg.GetUploadDir())
	assert.Equal(t, filepath.Join("/srv/firmware", "expanded"), cfg.GetExtractDir())
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, ModeCommand, cfg.Extraction.Mode)
	// unset keys keep their defaults
	assert.Equal(t, "101MiB", cfg.Server.BodyLimit)
	assert.True(t, cfg.Storage.EnableLedger)
}

func TestLoadConfig_XML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "FirmwareIngest.config")
	content := `<?xml version="1.0" encoding="UTF-8"?>
<FirmwareIngest>
  <Server>
    <Port>8181</Port>
  </Server>
  <Security>
    <AllowArchiveDeletion>false</AllowArchiveDeletion>
  </Security>
</FirmwareIngest>`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.False(t, cfg.Security.AllowArchiveDeletion)
	assert.Equal(t, "0.0.0.0:8181", cfg.GetServerAddr())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("UPLOAD_DIR", "/tmp/fw-uploads")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EXTRACT_MODE", ModeCommand)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "ingest.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/fw-uploads", cfg.GetUploadDir())
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, ModeCommand, cfg.Extraction.Mode)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad size", "storage:\n  maxUploadSize: lots\n", "max upload size"},
		{"bad body limit", "server:\n  bodyLimit: huge\n", "body limit"},
		{"unknown mode", "extraction:\n  mode: magic\n", "unknown mode"},
		{"escaping subdirectory", "extraction:\n  outputSubdirectory: ../elsewhere\n", "inside the uploads directory"},
		{"malformed", "server: [", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "ingest.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.UploadsDirectory = filepath.Join(dir, "uploads")
	cfg.Storage.LedgerPath = filepath.Join(dir, "data", "ingest.duckdb")
	cfg.Extraction.OutputSubdirectory = "out"

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(dir, "uploads", "out"))
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"512", 512, false},
		{"100MiB", 100 << 20, false},
		{"2GiB", 2 << 30, false},
		{" 1KiB ", 1024, false},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLogging(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())

	var text, js bytes.Buffer
	logger := SetupLoggerWithWriters(&text, &js, ParseLevel("info"))
	logger.Debug("hidden")
	logger.Info("archive extracted", "archive", "a.zip")

	assert.Contains(t, text.String(), "archive=a.zip")
	assert.NotContains(t, text.String(), "hidden")
	assert.True(t, strings.HasPrefix(js.String(), "{"))
	assert.Contains(t, js.String(), `"archive":"a.zip"`)
}
