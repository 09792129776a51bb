package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/steer/pkg/models"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage scoped spending budgets",
	}
	cmd.AddCommand(
		newBudgetCreateCmd(configPath),
		newBudgetListCmd(configPath),
		newBudgetStatusCmd(configPath),
		newBudgetUsageCmd(configPath),
		newBudgetDeactivateCmd(configPath),
	)
	return cmd
}

func newBudgetCreateCmd(configPath *string) *cobra.Command {
	var (
		req      models.CreateBudgetRequest
		scope    string
		period   string
		warning  float64
		critical float64
		actor    string
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a budget",
		Example: `  steer budget create --name eng --scope-type team --scope-id eng --amount 500 --period monthly
  steer budget create --file budget.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile != "" {
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("parse %s: %w", fromFile, err)
				}
			} else {
				req.ScopeType = models.ScopeType(scope)
				req.Period = models.Period(period)
				if req.StartDate == "" {
					req.StartDate = time.Now().UTC().Format(time.DateOnly)
				}
				if cmd.Flags().Changed("warning") {
					req.WarningThreshold = &warning
				}
				if cmd.Flags().Changed("critical") {
					req.CriticalThreshold = &critical
				}
			}

			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if req.Currency == "" {
				req.Currency = a.cfg.Currency
			}
			b, err := a.registry.CreateBudget(cmd.Context(), req, actor)
			if err != nil {
				return err
			}
			fmt.Printf("Created budget %s (%s:%s, %.2f %s %s)\n", b.ID, b.ScopeType, b.ScopeID, b.Amount, b.Currency, b.Period)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "budget name")
	f.StringVar(&scope, "scope-type", "", "organization, team, user or project")
	f.StringVar(&req.ScopeID, "scope-id", "", "scope identifier")
	f.Float64Var(&req.Amount, "amount", 0, "spending limit")
	f.StringVar(&req.Currency, "currency", "", "currency (defaults to the configured currency)")
	f.StringVar(&period, "period", string(models.PeriodMonthly), "daily, weekly, monthly, quarterly, annual or custom")
	f.StringVar(&req.StartDate, "start", "", "start date YYYY-MM-DD (defaults to today)")
	f.StringVar(&req.EndDate, "end", "", "end date YYYY-MM-DD (required for custom periods)")
	f.BoolVar(&req.Recurring, "recurring", false, "roll the window forward when it ends")
	f.StringVar(&req.ParentBudgetID, "parent", "", "parent budget id")
	f.Float64Var(&warning, "warning", 0, "warning threshold percent")
	f.Float64Var(&critical, "critical", 0, "critical threshold percent")
	f.StringSliceVar(&req.Tags, "tag", nil, "tag (repeatable)")
	f.StringVar(&actor, "actor", os.Getenv("USER"), "recorded as created_by")
	f.StringVar(&fromFile, "file", "", "read the request from a JSON file instead of flags")
	return cmd
}

func newBudgetListCmd(configPath *string) *cobra.Command {
	var scopeType, scopeID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := scopeFlag(scopeType, scopeID)
			if err != nil {
				return err
			}
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			budgets, err := a.registry.ListBudgets(cmd.Context(), st, scopeID)
			if err != nil {
				return err
			}
			if len(budgets) == 0 {
				fmt.Println("No active budgets.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPE\tAMOUNT\tPERIOD\tSTART\tTAGS")
			for _, b := range budgets {
				fmt.Fprintf(w, "%s\t%s\t%s:%s\t%.2f %s\t%s\t%s\t%s\n",
					b.ID, b.Name, b.ScopeType, b.ScopeID, b.Amount, b.Currency, b.Period,
					b.StartDate.Format(time.DateOnly), strings.Join(b.Tags, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&scopeType, "scope-type", "", "filter by scope type")
	cmd.Flags().StringVar(&scopeID, "scope-id", "", "filter by scope id")
	return cmd
}

func newBudgetStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <budget-id>...",
		Short: "Show spend, burn rate and projection for budgets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUDGET\tSPENT\tLIMIT\tUSED\tREMAINING\tBURN/DAY\tPROJECTED\tDAYS LEFT\tSTATUS")
			for _, id := range args {
				st, err := a.tracker.GetBudgetStatus(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("budget %s: %w", id, err)
				}
				fmt.Fprintf(w, "%s\t%.4f\t%.2f\t%.1f%%\t%.4f\t%.4f\t%.4f\t%d\t%s\n",
					st.BudgetID, st.CurrentAmount, st.Limit, st.PercentUsed, st.Remaining,
					st.BurnRate, st.ProjectedTotal, st.DaysRemaining, st.Status)
			}
			return w.Flush()
		},
	}
}

func newBudgetUsageCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Record or list usage against a budget",
	}

	var (
		req  models.RecordUsageRequest
		meta map[string]string
	)
	record := &cobra.Command{
		Use:   "record <budget-id>",
		Short: "Append a usage record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if req.Currency == "" {
				req.Currency = a.cfg.Currency
			}
			req.Metadata = meta
			rec, err := a.tracker.RecordUsage(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %.6f %s against %s (record %s)\n", rec.Amount, rec.Currency, rec.BudgetID, rec.ID)
			return nil
		},
	}
	record.Flags().Float64Var(&req.Amount, "amount", 0, "amount spent")
	record.Flags().StringVar(&req.Currency, "currency", "", "currency (defaults to the configured currency)")
	record.Flags().StringVar(&req.Source, "source", "cli", "usage source")
	record.Flags().StringVar(&req.Description, "description", "", "free-form description")
	record.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")

	var (
		since string
		limit int
	)
	list := &cobra.Command{
		Use:   "list <budget-id>",
		Short: "List usage records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := models.ParseDate(since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				from = t
			}
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			recs, err := a.tracker.ListUsage(cmd.Context(), args[0], from, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tAMOUNT\tSOURCE\tREQUEST")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%.6f %s\t%s\t%s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.Amount, r.Currency, r.Source, r.Metadata["request_id"])
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	list.Flags().IntVar(&limit, "limit", 50, "max records")

	cmd.AddCommand(record, list)
	return cmd
}

func newBudgetDeactivateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <budget-id>",
		Short: "Deactivate a budget; its usage history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.registry.DeactivateBudget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Budget %s deactivated.\n", args[0])
			return nil
		},
	}
}
