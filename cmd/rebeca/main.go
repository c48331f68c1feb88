package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rebeca/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version     = "0.1.0"
	logger      *slog.Logger
	configPath  string // --config
	envFilePath string // --env-file
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "rebeca",
		Short:         "Rebeca: Slack bot that answers with Gemini",
		Long:          "Rebeca listens for direct messages and mentions on Slack, asks Gemini for a reply and posts it back.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.rebeca/config.yaml if present)")
	root.PersistentFlags().StringVar(&envFilePath, "env-file", "", "path to a .env file (default: ./.env if present)")

	root.AddCommand(runCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(askCmd())
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag, or the default file when it
// exists, or "" for environment-only configuration.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	def := filepath.Join(config.DefaultDataDir(), "config.yaml")
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

// loadConfig reads .env, the config file and the environment, then swaps the
// package logger for one built from the loaded settings.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFilePath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg.Log, os.Stderr)
	return cfg, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file in use",
		Run: func(cmd *cobra.Command, args []string) {
			if p := resolveConfigPath(); p != "" {
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "(none: environment only)")
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rebeca %s\n", version)
		},
	}
}
