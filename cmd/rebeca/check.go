package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"rebeca/internal/audit"
	"rebeca/internal/channel"
	"rebeca/internal/config"

	"github.com/spf13/cobra"
)

// checker tallies PASS/WARN/FAIL lines.
type checker struct {
	w                      io.Writer
	passed, warned, failed int
}

func (c *checker) pass(check, detail string) {
	c.passed++
	fmt.Fprintf(c.w, "  [PASS] %-20s %s\n", check, detail)
}

func (c *checker) fail(check, detail string) {
	c.failed++
	fmt.Fprintf(c.w, "  [FAIL] %-20s %s\n", check, detail)
}

func (c *checker) warn(check, detail string) {
	c.warned++
	fmt.Fprintf(c.w, "  [WARN] %-20s %s\n", check, detail)
}

func checkCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configuration and credentials",
		Long: `Reports whether the configuration loads, which credentials are set and
whether local resources are usable. With --online it also calls Slack auth.test
and asks Gemini for the configured model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rebeca check v%s\n\n", version)

			c := &checker{w: out}
			cfg, err := loadConfig()
			if err != nil {
				c.fail("Config", err.Error())
				return c.summary()
			}
			if p := resolveConfigPath(); p != "" {
				c.pass("Config", p)
			} else {
				c.pass("Config", "environment only")
			}

			for _, cred := range config.Credentials(cfg) {
				if cred.Present {
					c.pass(cred.Name, fmt.Sprintf("set (%d chars)", cred.Length))
				} else {
					c.fail(cred.Name, "missing")
				}
			}

			if cfg.Audit.Enabled {
				if err := checkAuditDB(cfg.Audit.DBPath); err != nil {
					c.fail("Audit database", err.Error())
				} else {
					c.pass("Audit database", cfg.Audit.DBPath)
				}
			}

			if cfg.Metrics.Addr != "" {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					c.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					c.pass("Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			if online {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				checkOnline(ctx, c, cfg)
			}

			return c.summary()
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also contact Slack and Gemini")
	return cmd
}

func checkOnline(ctx context.Context, c *checker, cfg *config.Config) {
	slackCh := channel.NewSlack(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		APIURL:   cfg.Slack.APIURL,
		Logger:   logger,
	})
	if user, id, err := slackCh.Identify(ctx); err != nil {
		c.fail("Slack auth", err.Error())
	} else {
		c.pass("Slack auth", fmt.Sprintf("%s (%s)", user, id))
	}

	gemini := newGemini(cfg, logger)
	if err := gemini.Healthy(ctx); err != nil {
		c.fail("Gemini", err.Error())
	} else {
		c.pass("Gemini", gemini.Model())
	}
}

func (c *checker) summary() error {
	fmt.Fprintf(c.w, "\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	return nil
}

// checkAuditDB opens (and migrates) the audit database.
func checkAuditDB(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	store, err := audit.Open(dbPath, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
