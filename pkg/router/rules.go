package router

import (
	"time"

	"github.com/pario-ai/steer/pkg/models"
)

// Rule tags that do not come from a rule.
const (
	TagDefault          = "default"
	TagBudgetConstraint = "budget_constraint"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() []models.SteeringRule {
	return []models.SteeringRule{
		{
			ID:       "automotive-context",
			Name:     "Automotive domain requests",
			Tag:      "automotive_context",
			Priority: 10,
			Enabled:  true,
			Conditions: []models.Condition{
				{Field: "context.automotive_context", Operator: models.OpEquals, Value: true},
			},
			Action: models.RuleAction{
				Provider:         "neuroweaver",
				Model:            "automotive-specialist-v1",
				FallbackProvider: "anthropic",
				FallbackModel:    "claude-3-sonnet",
				Confidence:       0.95,
				Reasoning:        "Automotive context routed to the domain specialist model",
			},
		},
		{
			ID:       "high-priority",
			Name:     "High priority requests",
			Tag:      "high_priority",
			Priority: 20,
			Enabled:  true,
			Conditions: []models.Condition{
				{Field: "context.priority", Operator: models.OpEquals, Value: "high"},
			},
			Action: models.RuleAction{
				Provider:         "openai",
				Model:            "gpt-4",
				FallbackProvider: "anthropic",
				FallbackModel:    "claude-3-opus",
				Confidence:       0.9,
				Reasoning:        "High priority request routed to a premium model",
			},
		},
		{
			ID:       "complex-reasoning",
			Name:     "Long reasoning prompts",
			Tag:      "complex_reasoning",
			Priority: 30,
			Enabled:  true,
			Conditions: []models.Condition{
				{Field: "prompt_length", Operator: models.OpGreaterThan, Value: 500},
				{Field: "context.task_type", Operator: models.OpEquals, Value: models.TaskReasoning},
			},
			Action: models.RuleAction{
				Provider:         "anthropic",
				Model:            "claude-3-opus",
				FallbackProvider: "openai",
				FallbackModel:    "gpt-4",
				Confidence:       0.85,
				Reasoning:        "Long reasoning prompt routed to a strong reasoning model",
			},
		},
		{
			ID:       "code-generation",
			Name:     "Code generation tasks",
			Tag:      "code_generation",
			Priority: 40,
			Enabled:  true,
			Conditions: []models.Condition{
				{Field: "metadata.task_type", Operator: models.OpEquals, Value: models.TaskCodeGeneration},
			},
			Action: models.RuleAction{
				Provider:         "openai",
				Model:            "gpt-4",
				FallbackProvider: "anthropic",
				FallbackModel:    "claude-3-sonnet",
				Confidence:       0.85,
				Reasoning:        "Code generation routed to a code-capable model",
			},
		},
		{
			ID:       "cost-saving",
			Name:     "Cost sensitive callers",
			Tag:      "cost_saving",
			Priority: 50,
			Enabled:  true,
			Conditions: []models.Condition{
				{Field: "metadata.budget_priority", Operator: models.OpEquals, Value: "cost-saving"},
			},
			Action: models.RuleAction{
				Provider:   "openai",
				Model:      "gpt-3.5-turbo",
				Confidence: 0.85,
				Reasoning:  "Caller asked for the cheapest adequate model",
			},
		},
	}
}

// DefaultCatalog is used when no models are configured.
func DefaultCatalog() []models.ModelInfo {
	return []models.ModelInfo{
		{Provider: "openai", Model: "gpt-3.5-turbo", CostPer1K: 0.002, Latency: 800 * time.Millisecond, ContextWindow: 16385, Quality: 70, Capabilities: []string{"chat", "function-calling"}, GeneralPurpose: true},
		{Provider: "openai", Model: "gpt-4", CostPer1K: 0.03, Latency: 2500 * time.Millisecond, ContextWindow: 8192, Quality: 90, Capabilities: []string{"chat", "function-calling", "code"}, GeneralPurpose: true},
		{Provider: "anthropic", Model: "claude-3-sonnet", CostPer1K: 0.003, Latency: 1500 * time.Millisecond, ContextWindow: 200000, Quality: 82, Capabilities: []string{"chat", "code"}, GeneralPurpose: true},
		{Provider: "anthropic", Model: "claude-3-opus", CostPer1K: 0.015, Latency: 3000 * time.Millisecond, ContextWindow: 200000, Quality: 95, Capabilities: []string{"chat", "code", "reasoning"}, GeneralPurpose: true},
		{Provider: "neuroweaver", Model: "automotive-specialist-v1", CostPer1K: 0.01, Latency: 1200 * time.Millisecond, ContextWindow: 32768, Quality: 85, Capabilities: []string{"chat", "automotive"}},
	}
}
