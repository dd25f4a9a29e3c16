// Package cli provides the command-line interface for the firmware ingest server.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benengr/bbb-programmer/internal/config"
	"github.com/spf13/cobra"
)

// DefaultConfigName is looked up next to the executable when --config is not given.
const DefaultConfigName = "FirmwareIngest.config"

var (
	// Version is set at build time.
	Version = "dev"
	// BuildTime is set at build time.
	BuildTime = "unknown"

	// Global flags
	configPath string
	logLevel   string

	// Loaded in PersistentPreRunE
	cfg      *config.AppConfig
	logger   *slog.Logger
	closeLog func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bbb-programmer",
	Short: "Firmware bundle ingest server",
	Long: `bbb-programmer receives firmware bundles over HTTP, stores them in the
uploads directory and expands them in place for the provisioning station.

Archives that fail to extract are kept on disk and can be retried with
"bbb-programmer extract <name>" or through the HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		path, err := resolveConfigPath(configPath)
		if err != nil {
			return err
		}
		configPath = path

		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Advanced.LogLevel = logLevel
		}

		if err := cfg.EnsureDirectories(); err != nil {
			return fmt.Errorf("create directories: %w", err)
		}

		logger, closeLog = config.SetupLogger(cfg.Advanced.LogFile, config.ParseLevel(cfg.Advanced.LogLevel))
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.config/.xml or .yaml); defaults to "+DefaultConfigName+" next to the binary")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveConfigPath returns path, or the default config file beside the executable.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), DefaultConfigName), nil
}
