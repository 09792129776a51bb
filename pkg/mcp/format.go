package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/resilience"
)

func formatDecision(d models.RoutingDecision) string {
	var b strings.Builder
	b.WriteString("Routing Decision\n")
	fmt.Fprintf(&b, "  Provider:   %s\n", d.Provider)
	fmt.Fprintf(&b, "  Model:      %s\n", d.Model)
	fmt.Fprintf(&b, "  Est. Cost:  $%.6f\n", d.EstimatedCost)
	fmt.Fprintf(&b, "  Latency:    %s\n", d.ExpectedLatency)
	fmt.Fprintf(&b, "  Confidence: %.2f\n", d.ConfidenceScore)
	if d.FallbackModel != "" {
		fmt.Fprintf(&b, "  Fallback:   %s/%s\n", d.FallbackProvider, d.FallbackModel)
	}
	fmt.Fprintf(&b, "  Rules:      %s\n", strings.Join(d.RoutingRulesApplied, ", "))
	fmt.Fprintf(&b, "  Reasoning:  %s\n", d.Reasoning)
	return b.String()
}

func formatConstraints(res models.RequestConstraintResult) string {
	var b strings.Builder
	if res.CanProceed {
		b.WriteString("Request may proceed.\n")
	} else {
		fmt.Fprintf(&b, "Request blocked: %s\n", res.Reason)
	}
	if len(res.BudgetChecks) == 0 {
		b.WriteString("No budgets cover this scope.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\n%-38s %-22s %8s %10s\n", "Budget", "Scope", "Proceed", "Projected")
	b.WriteString(strings.Repeat("-", 81) + "\n")
	for _, c := range res.BudgetChecks {
		fmt.Fprintf(&b, "%-38s %-22s %8t %9.1f%%\n",
			c.BudgetID, string(c.ScopeType)+":"+c.ScopeID, c.CanProceed, c.ProjectedPercent)
	}
	if len(res.SuggestedActions) > 0 {
		acts := make([]string, len(res.SuggestedActions))
		for i, a := range res.SuggestedActions {
			acts[i] = string(a)
		}
		fmt.Fprintf(&b, "\nSuggested actions: %s\n", strings.Join(acts, ", "))
	}
	return b.String()
}

type budgetRow struct {
	budget *models.Budget
	status *models.BudgetStatus
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(rows []budgetRow) string {
	if len(rows) == 0 {
		return "No active budgets found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %-9s %12s %12s %7s %10s %-8s\n",
		"Name", "Scope", "Period", "Spent", "Limit", "Used%", "Burn/day", "Status")
	b.WriteString(strings.Repeat("-", 106) + "\n")
	for _, r := range rows {
		name := r.budget.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		scope := string(r.budget.ScopeType) + ":" + r.budget.ScopeID
		if len(scope) > 20 {
			scope = scope[:17] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-20s %-9s %12.4f %12.2f %6.1f%% %10.4f %-8s\n",
			name, scope, r.budget.Period, r.status.CurrentAmount, r.status.Limit,
			r.status.PercentUsed, r.status.BurnRate, r.status.Status)
	}
	return b.String()
}

func formatBreakers(ms []resilience.Metrics) string {
	if len(ms) == 0 {
		return "No circuit breakers registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-10s %9s %9s %-20s\n", "Breaker", "State", "Failures", "Successes", "Last Failure")
	b.WriteString(strings.Repeat("-", 82) + "\n")
	for _, m := range ms {
		last := "-"
		if !m.LastFailureTime.IsZero() {
			last = m.LastFailureTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%-30s %-10s %9d %9d %-20s\n", m.Name, m.State, m.FailureCount, m.SuccessCount, last)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %-12s %-18s %-8s %10s %8s\n",
		"Time", "Request", "User", "Model", "Outcome", "Cost", "Latency")
	b.WriteString(strings.Repeat("-", 106) + "\n")
	for _, e := range entries {
		id := e.RequestID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-24s %-12s %-18s %-8s %10.6f %6dms\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), id, e.UserID, e.Model, e.Outcome, e.ActualCost, e.LatencyMs)
		if e.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", e.Error)
		}
	}
	return b.String()
}
