package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"rebeca/internal/audit"
	"rebeca/internal/domain"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent pipeline runs from the audit database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if _, err := os.Stat(cfg.Audit.DBPath); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No audit database at %s (set audit.enabled to record runs).\n", cfg.Audit.DBPath)
				return nil
			}

			store, err := audit.Open(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func printRuns(w io.Writer, runs []audit.Run, summary map[domain.Outcome]int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tCHANNEL\tAUTHOR\tOUTCOME\tCATEGORY\tLATENCY")
	for _, r := range runs {
		category := string(r.Category)
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.DateTime), shortID(r.RunID), r.Channel, r.Author,
			r.Outcome, category, r.Latency.Round(time.Millisecond))
	}
	tw.Flush()

	outcomes := make([]string, 0, len(summary))
	for o := range summary {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	fmt.Fprint(w, "\nTotals:")
	for _, o := range outcomes {
		fmt.Fprintf(w, " %s=%d", o, summary[domain.Outcome(o)])
	}
	fmt.Fprintln(w)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
