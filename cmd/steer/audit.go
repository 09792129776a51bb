package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/steer/pkg/audit"
	"github.com/pario-ai/steer/pkg/models"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the routing decision audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(configPath),
		newAuditStatsCmd(configPath),
		newAuditCleanupCmd(configPath),
	)
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		opts  models.AuditQueryOpts
		since string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since != "" {
				t, err := models.ParseDate(since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.RequestID, "request-id", "", "filter by request ID")
	f.StringVar(&opts.Model, "model", "", "filter by model")
	f.StringVar(&opts.Provider, "provider", "", "filter by provider")
	f.StringVar(&opts.Outcome, "outcome", "", "served, cached, blocked, failed or rejected")
	f.StringVar(&opts.UserID, "user", "", "filter by user")
	f.StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	f.IntVar(&opts.Limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request counts and spend by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(cfg.Audit, logger)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {
		_ = l.Close()
		_ = logger.Sync()
	}, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-16s %-18s %-10s %-8s %10s %8s %-20s\n",
		"REQUEST ID", "USER", "MODEL", "PROVIDER", "OUTCOME", "COST", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 136) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-16s %-18s %-10s %-8s %10.6f %6dms %-20s\n",
			e.RequestID, e.UserID, e.Model, e.Provider, e.Outcome,
			e.ActualCost, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
		if e.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", e.Error)
		}
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s %12s\n", "MODEL", "DAY", "COUNT", "COST")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %8d %12.6f\n", s.Model, s.Day, s.Count, s.Cost)
	}
	return b.String()
}
