package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"rebeca/internal/channel"
	"rebeca/internal/config"
	"rebeca/internal/metrics"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Slack listener",
		Long:  "Connects to Slack over Socket Mode and answers direct messages and mentions. Press Ctrl+C to stop.",
		RunE:  runListener,
	}
}

func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reportCredentials(cmd.ErrOrStderr(), config.Credentials(cfg))
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, a.metrics, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	slackCh := channel.NewSlack(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		APIURL:   cfg.Slack.APIURL,
		Debug:    cfg.Slack.Debug,
		Logger:   logger,
	})
	adapter := channel.NewAdapter(channel.AdapterConfig{
		Processor:     a.pipeline(slackCh),
		Poster:        slackCh,
		ReplyInThread: cfg.Slack.ReplyInThread,
		Apology:       cfg.FallbackCatalog().Apology,
		Events:        a.events,
		Logger:        logger,
	})

	logger.Info("rebeca started. Press Ctrl+C to stop.",
		"model", a.gemini.Model(),
		"language", cfg.Language,
		"reply_in_thread", cfg.Slack.ReplyInThread,
	)

	err = slackCh.Start(ctx, adapter)
	logger.Info("shutting down rebeca")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// reportCredentials logs and prints whether each secret is set, with its
// length. Values are never printed.
func reportCredentials(w io.Writer, creds []config.CredentialStatus) {
	for _, c := range creds {
		logger.Info("credential", "name", c.Name, "present", c.Present, "length", c.Length)
		if c.Present {
			fmt.Fprintf(w, "  %-16s set (%d chars)\n", c.Name, c.Length)
		} else {
			fmt.Fprintf(w, "  %-16s MISSING\n", c.Name)
		}
	}
}
