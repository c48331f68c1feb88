package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rebeca/internal/domain"

	"github.com/spf13/cobra"
)

const consoleChannel = "console"

// consoleReactor logs reactions instead of calling Slack.
type consoleReactor struct {
	logger *slog.Logger
}

func (r consoleReactor) AddReaction(ctx context.Context, name, channel, ts string) error {
	r.logger.Info("reaction added", "name", name, "channel", channel, "ts", ts)
	return nil
}

func (r consoleReactor) RemoveReaction(ctx context.Context, name, channel, ts string) error {
	r.logger.Info("reaction removed", "name", name, "channel", channel, "ts", ts)
	return nil
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Run one message through the pipeline and print the reply",
		Long:  "Sends text to Gemini exactly as a Slack message would be handled. Reactions are logged instead of applied.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			user := os.Getenv("USER")
			if user == "" {
				user = "local"
			}
			msg := domain.Message{
				Content:   strings.Join(args, " "),
				Author:    user,
				Channel:   consoleChannel,
				Timestamp: strconv.FormatInt(time.Now().UnixMicro(), 10),
			}

			resp := a.pipeline(consoleReactor{logger: logger}).Process(ctx, msg)
			if resp.Deliverable() {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			}
			if resp.Outcome != domain.OutcomeReplied {
				return fmt.Errorf("no generated reply (outcome=%s, category=%s)", resp.Outcome, resp.Category)
			}
			return nil
		},
	}
}
