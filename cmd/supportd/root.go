package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-support-agent/internal/config"
	"github.com/tbourn/go-support-agent/internal/sysutil"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "supportd",
	Short: "Refund and return support agent",
	Long: `supportd serves a guided support chat that checks orders against a
deterministic refund policy, validates photo evidence and records every
tool call for audit.`,
	Version:       sysutil.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
}

// loadConfig loads dotenv files, reads the environment and installs the
// global logger.
func loadConfig() (config.Config, error) {
	if err := sysutil.LoadEnvFiles(envFiles...); err != nil {
		return config.Config{}, fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	sysutil.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	log.Debug().Strs("env_files", envFiles).Msg("configuration loaded")
	return cfg, nil
}
