// Package config provides file-based configuration management for the ingest server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"FirmwareIngest" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage" yaml:"storage"`

	// Extraction configuration
	Extraction ExtractionConfig `xml:"Extraction" yaml:"extraction"`

	// Security configuration
	Security SecurityConfig `xml:"Security" yaml:"security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bindAddress"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enableCORS"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"writeTimeoutSeconds"` // 0 disables; responses wait for extraction
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"bodyLimit"`
}

// StorageConfig contains upload directory and ledger settings
type StorageConfig struct {
	UploadsDirectory string `xml:"UploadsDirectory" yaml:"uploadsDirectory"`
	MaxUploadSize    string `xml:"MaxUploadSize" yaml:"maxUploadSize"`
	EnableLedger     bool   `xml:"EnableLedger" yaml:"enableLedger"`
	LedgerPath       string `xml:"LedgerPath" yaml:"ledgerPath"`
}

// ExtractionConfig controls how stored archives are expanded
type ExtractionConfig struct {
	Mode                string `xml:"Mode" yaml:"mode"` // "library" or "command"
	UnzipCommand        string `xml:"UnzipCommand" yaml:"unzipCommand"`
	OutputSubdirectory  string `xml:"OutputSubdirectory" yaml:"outputSubdirectory"`
	MaxDecompressedSize string `xml:"MaxDecompressedSize" yaml:"maxDecompressedSize"`
	MaxEntries          int    `xml:"MaxEntries" yaml:"maxEntries"`
	TimeoutSeconds      int    `xml:"TimeoutSeconds" yaml:"timeoutSeconds"`
	MaxConcurrent       int    `xml:"MaxConcurrent" yaml:"maxConcurrent"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowArchiveDeletion bool `xml:"AllowArchiveDeletion" yaml:"allowArchiveDeletion"`
}

// AdvancedConfig contains logging, metrics and housekeeping options
type AdvancedConfig struct {
	LogLevel               string `xml:"LogLevel" yaml:"logLevel"`
	LogFile                string `xml:"LogFile" yaml:"logFile"`
	EnableRequestLogging   bool   `xml:"EnableRequestLogging" yaml:"enableRequestLogging"`
	EnableMetrics          bool   `xml:"EnableMetrics" yaml:"enableMetrics"`
	JobRetentionMinutes    int    `xml:"JobRetentionMinutes" yaml:"jobRetentionMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes" yaml:"cleanupIntervalMinutes"`
}

const (
	ModeLibrary = "library"
	ModeCommand = "command"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8080,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  300,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "101MiB",
		},
		Storage: StorageConfig{
			UploadsDirectory: "./uploads",
			MaxUploadSize:    "100MiB",
			EnableLedger:     true,
			LedgerPath:       "./data/ingest.duckdb",
		},
		Extraction: ExtractionConfig{
			Mode:                ModeLibrary,
			UnzipCommand:        "unzip",
			OutputSubdirectory:  "",
			MaxDecompressedSize: "2GiB",
			MaxEntries:          10000,
			TimeoutSeconds:      0,
			MaxConcurrent:       2,
		},
		Security: SecurityConfig{
			AllowArchiveDeletion: true,
		},
		Advanced: AdvancedConfig{
			LogLevel:               "info",
			LogFile:                "",
			EnableRequestLogging:   true,
			EnableMetrics:          true,
			JobRetentionMinutes:    60,
			CleanupIntervalMinutes: 5,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file, chosen by extension.
// A missing file is created with defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if isYAML(configPath) {
			err = yaml.Unmarshal(data, config)
		} else {
			err = xml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves the configuration in the format implied by the file extension
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		output, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# Firmware ingest server configuration\n# This file is auto-generated on first run\n\n"), output...)
	} else {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Firmware ingest server configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise fail on the first request
func (c *AppConfig) Validate() error {
	if c.Storage.UploadsDirectory == "" {
		return fmt.Errorf("storage: uploads directory must be set")
	}
	if _, err := ParseSize(c.Storage.MaxUploadSize); err != nil {
		return fmt.Errorf("storage: max upload size: %w", err)
	}
	if _, err := ParseSize(c.Server.BodyLimit); err != nil {
		return fmt.Errorf("server: body limit: %w", err)
	}
	if _, err := ParseSize(c.Extraction.MaxDecompressedSize); err != nil {
		return fmt.Errorf("extraction: max decompressed size: %w", err)
	}
	switch c.Extraction.Mode {
	case ModeLibrary:
	case ModeCommand:
		if c.Extraction.UnzipCommand == "" {
			return fmt.Errorf("extraction: unzip command must be set in command mode")
		}
	default:
		return fmt.Errorf("extraction: unknown mode %q", c.Extraction.Mode)
	}
	if c.Extraction.OutputSubdirectory != "" {
		clean := filepath.Clean(c.Extraction.OutputSubdirectory)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("extraction: output subdirectory must stay inside the uploads directory")
		}
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		c.Storage.UploadsDirectory = dir
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}

	if mode := os.Getenv("EXTRACT_MODE"); mode != "" {
		c.Extraction.Mode = mode
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
	if c.Storage.LedgerPath != "" && !filepath.IsAbs(c.Storage.LedgerPath) {
		c.Storage.LedgerPath = filepath.Join(configDir, c.Storage.LedgerPath)
	}
	if c.Advanced.LogFile != "" && !filepath.IsAbs(c.Advanced.LogFile) {
		c.Advanced.LogFile = filepath.Join(configDir, c.Advanced.LogFile)
	}
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetExtractDir returns the directory archives are expanded into
func (c *AppConfig) GetExtractDir() string {
	if c.Extraction.OutputSubdirectory == "" {
		return c.Storage.UploadsDirectory
	}
	return filepath.Join(c.Storage.UploadsDirectory, c.Extraction.OutputSubdirectory)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// MaxUploadBytes returns the parsed upload limit. Validate has already accepted it.
func (c *AppConfig) MaxUploadBytes() int64 {
	n, _ := ParseSize(c.Storage.MaxUploadSize)
	return n
}

// MaxDecompressedBytes returns the parsed decompression ceiling.
func (c *AppConfig) MaxDecompressedBytes() int64 {
	n, _ := ParseSize(c.Extraction.MaxDecompressedSize)
	return n
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.GetUploadDir(),
		c.GetExtractDir(),
	}
	if c.Storage.EnableLedger && c.Storage.LedgerPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.LedgerPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ParseSize parses human readable sizes such as "100MiB" or "2G".
// An empty string means no limit and yields 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := bytes.Parse(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return n, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
