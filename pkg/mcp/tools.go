package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pario-ai/steer/pkg/models"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"steer_route":             handleRoute,
	"steer_check_constraints": handleCheckConstraints,
	"steer_budget_status":     handleBudgetStatus,
	"steer_breakers":          handleBreakers,
	"steer_cache_stats":       handleCacheStats,
	"steer_audit_search":      handleAuditSearch,
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var scopeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"user_id":         str("User the request is accounted to"),
		"team_id":         str("Team (optional)"),
		"project_id":      str("Project (optional)"),
		"organization_id": str("Organization (optional)"),
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "steer_route",
		Description: "Show which provider and model the steering rules pick for a prompt, with cost estimate and reasoning.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt":  str("The prompt to route"),
				"scope":   scopeSchema,
				"context": map[string]any{"type": "object", "description": "Request context, e.g. {\"priority\": \"high\"}"},
				"metadata": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_type":           str("code-generation, summarization, analysis, ..."),
						"quality_requirement": str("standard, high or maximum"),
						"budget_priority":     str("cost-saving, balanced or quality-first"),
					},
				},
			},
		},
	},
	{
		Name:        "steer_check_constraints",
		Description: "Check whether a request of the given estimated cost may proceed under every budget covering its scope.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"scope"},
			"properties": map[string]any{
				"scope":          scopeSchema,
				"estimated_cost": map[string]any{"type": "number", "description": "Estimated request cost (defaults to 0)"},
			},
		},
	},
	{
		Name:        "steer_budget_status",
		Description: "Show spend, limit, burn rate and status of the active budgets, optionally for one scope.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope_type": str("organization, team, user or project (optional, omit for all budgets)"),
				"scope_id":   str("Scope identifier (required with scope_type)"),
			},
		},
	},
	{
		Name:        "steer_breakers",
		Description: "Show the state and counters of every circuit breaker.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "steer_cache_stats",
		Description: "Show semantic cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "steer_audit_search",
		Description: "Search the gateway audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request_id": str("Filter by request ID (optional)"),
				"model":      str("Filter by model (optional)"),
				"provider":   str("Filter by provider (optional)"),
				"outcome":    str("served, cached, blocked, failed or rejected (optional)"),
				"user_id":    str("Filter by user (optional)"),
				"since":      str("Start date in YYYY-MM-DD format (optional)"),
			},
		},
	},
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func handleRoute(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.opts.Router == nil {
		return textResult("Routing is not configured.")
	}
	var req models.SelectionRequest
	if err := decodeArgs(rawArgs, &req); err != nil {
		return errorResult(err.Error())
	}
	if err := req.Validate(false); err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatDecision(s.opts.Router.DetermineRouting(ctx, &req)))
}

type constraintArgs struct {
	Scope         models.RequestScope `json:"scope"`
	EstimatedCost float64             `json:"estimated_cost"`
}

func handleCheckConstraints(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.opts.Constraints == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args constraintArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	if args.EstimatedCost < 0 {
		return errorResult("estimated_cost must not be negative")
	}
	res, err := s.opts.Constraints.CheckRequestConstraints(ctx, args.Scope, args.EstimatedCost)
	if err != nil {
		return errorResult("Error checking constraints: " + err.Error())
	}
	return textResult(formatConstraints(res))
}

type budgetStatusArgs struct {
	ScopeType models.ScopeType `json:"scope_type"`
	ScopeID   string           `json:"scope_id"`
}

func handleBudgetStatus(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.opts.Budgets == nil || s.opts.Status == nil {
		return textResult("Budget tracking is not configured.")
	}
	var args budgetStatusArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	if args.ScopeType != "" && !args.ScopeType.Valid() {
		return errorResult("scope_type must be one of organization, team, user, project")
	}
	budgets, err := s.opts.Budgets.ListBudgets(ctx, args.ScopeType, args.ScopeID)
	if err != nil {
		return errorResult("Error listing budgets: " + err.Error())
	}
	rows := make([]budgetRow, 0, len(budgets))
	for i := range budgets {
		st, err := s.opts.Status.GetBudgetStatus(ctx, budgets[i].ID)
		if err != nil {
			return errorResult("Error fetching budget status: " + err.Error())
		}
		rows = append(rows, budgetRow{budget: &budgets[i], status: st})
	}
	return textResult(formatBudgetStatus(rows))
}

func handleBreakers(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.opts.Breakers == nil {
		return textResult("Circuit breakers are not configured.")
	}
	return textResult(formatBreakers(s.opts.Breakers.Metrics()))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.opts.Cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.opts.Cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type auditSearchArgs struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Outcome   string `json:"outcome"`
	UserID    string `json:"user_id"`
	Since     string `json:"since"`
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.opts.Audit == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}

	opts := models.AuditQueryOpts{
		RequestID: args.RequestID,
		Model:     args.Model,
		Provider:  args.Provider,
		Outcome:   args.Outcome,
		UserID:    args.UserID,
		Limit:     50,
	}
	if args.Since != "" {
		t, err := models.ParseDate(args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.opts.Audit.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
