package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/config"
	"github.com/user/deskhand/internal/vault"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "deskhand",
	Short:        "Autonomous assistant orchestration engine",
	SilenceUsage: true,
}

func init() {
	defaultCfg := filepath.Join(os.Getenv("HOME"), ".deskhand", "config.json")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "config file path")
}

// loadConfig loads the config file, exiting on failure. Commands that can
// run without a daemon still need the vault location from here.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openVault returns the shared store and audit logger for CLI commands that
// operate on the vault directly.
func openVault(cfg *config.Config) (*vault.Vault, *audit.Logger) {
	store := vault.New(cfg.VaultDir)
	log := audit.New(filepath.Join(cfg.VaultDir, vault.BucketLogs))
	return store, log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
