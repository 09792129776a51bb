package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/spend"
)

func ptr[T any](v T) *T { return &v }

func newEngine(t *testing.T, rules []models.SteeringRule, ceiling float64) *Engine {
	t.Helper()
	e := New(Options{Source: StaticSource(rules), Counter: spend.NewDailyCounter(ceiling)})
	require.NoError(t, e.Reload(context.Background()))
	return e
}

func TestAutomotiveContextWins(t *testing.T) {
	e := newEngine(t, DefaultRules(), 100)
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{
		Prompt: strings.Repeat("x", 600),
		Context: map[string]any{
			"automotive_context": true,
			"priority":           "high",
			"task_type":          "reasoning",
		},
		Metadata: models.SelectionMetadata{TaskType: models.TaskCodeGeneration},
	})
	assert.Equal(t, "neuroweaver", dec.Provider)
	assert.Equal(t, "automotive-specialist-v1", dec.Model)
	assert.Contains(t, dec.RoutingRulesApplied, "automotive_context")
}

func TestComplexReasoningRoute(t *testing.T) {
	e := newEngine(t, DefaultRules(), 100)
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{
		Prompt:  strings.Repeat("p", 600),
		Context: map[string]any{"task_type": "reasoning"},
	})
	assert.Equal(t, "anthropic", dec.Provider)
	assert.Equal(t, "claude-3-opus", dec.Model)
	assert.Equal(t, []string{"complex_reasoning"}, dec.RoutingRulesApplied)
	assert.InDelta(t, 0.015*150/1000, dec.EstimatedCost, 1e-12)
	assert.Equal(t, "openai", dec.FallbackProvider)
}

func TestShortReasoningPromptFallsThrough(t *testing.T) {
	e := newEngine(t, DefaultRules(), 100)
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{
		Prompt:  "why?",
		Context: map[string]any{"task_type": "reasoning"},
	})
	assert.Equal(t, []string{TagDefault}, dec.RoutingRulesApplied)
}

func TestDefaultDecision(t *testing.T) {
	e := newEngine(t, DefaultRules(), 100)
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{Prompt: "hello"})
	assert.Equal(t, "openai", dec.Provider)
	assert.Equal(t, "gpt-3.5-turbo", dec.Model)
	assert.Equal(t, []string{TagDefault}, dec.RoutingRulesApplied)
	assert.Equal(t, defaultConfidence, dec.ConfidenceScore)
	assert.Equal(t, "anthropic", dec.FallbackProvider)
	assert.Equal(t, "claude-3-sonnet", dec.FallbackModel)
}

func TestNoRulesLowersConfidence(t *testing.T) {
	e := newEngine(t, nil, 100)
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{Prompt: "hello"})
	assert.Equal(t, "gpt-3.5-turbo", dec.Model)
	assert.Less(t, dec.ConfidenceScore, 0.8)

	unloaded := New(Options{})
	dec = unloaded.DetermineRouting(context.Background(), &models.SelectionRequest{Prompt: "hello"})
	assert.Less(t, dec.ConfidenceScore, 0.8)
}

type failingSource struct{}

func (failingSource) Load(context.Context) ([]models.SteeringRule, error) {
	return nil, errors.New("rules table missing")
}

func TestReloadFailureKeepsServing(t *testing.T) {
	e := New(Options{Source: failingSource{}})
	err := e.Reload(context.Background())
	assert.ErrorContains(t, err, "rules table missing")

	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{Prompt: "hi"})
	assert.NotEmpty(t, dec.Provider)
	assert.Less(t, dec.ConfidenceScore, 0.8)
}

func TestReloadRejectsInvalidRule(t *testing.T) {
	bad := DefaultRules()
	bad[2].Conditions[0].Operator = models.Operator(42)
	e := New(Options{Source: StaticSource(bad)})
	assert.ErrorContains(t, e.Reload(context.Background()), "unknown operator")
	assert.Empty(t, e.Rules())
}

func TestBudgetConstraintForced(t *testing.T) {
	e := newEngine(t, DefaultRules(), 1.0)
	req := &models.SelectionRequest{Prompt: "hi", Context: map[string]any{"automotive_context": true}}

	e.RecordRequestCost(0.6)
	e.RecordRequestCost(0.6)
	assert.InDelta(t, 1.2, e.DailySpend(), 1e-9)

	dec := e.DetermineRouting(context.Background(), req)
	assert.Equal(t, []string{TagBudgetConstraint}, dec.RoutingRulesApplied)
	assert.Contains(t, strings.ToLower(dec.Reasoning), "budget exhausted")
	assert.Equal(t, "gpt-3.5-turbo", dec.Model)

	e.ResetDailyTracking()
	dec = e.DetermineRouting(context.Background(), req)
	assert.Equal(t, []string{"automotive_context"}, dec.RoutingRulesApplied)
}

type brokenGuard struct{}

func (brokenGuard) Check(context.Context, models.RequestScope, float64) (spend.Verdict, error) {
	return spend.Verdict{}, errors.New("ledger offline")
}

func (brokenGuard) Record(context.Context, models.RequestScope, float64) error { return nil }

func TestGuardErrorForcesBudgetConstraint(t *testing.T) {
	e := New(Options{Source: StaticSource(DefaultRules()), Guard: brokenGuard{}})
	require.NoError(t, e.Reload(context.Background()))
	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{Prompt: "hi"})
	assert.Equal(t, []string{TagBudgetConstraint}, dec.RoutingRulesApplied)
}

func TestConstraintsSkipRules(t *testing.T) {
	e := newEngine(t, DefaultRules(), 100)
	ctx := context.Background()

	dec := e.DetermineRouting(ctx, &models.SelectionRequest{
		Prompt:      "write a parser",
		Metadata:    models.SelectionMetadata{TaskType: models.TaskCodeGeneration},
		Constraints: models.SelectionConstraints{ExcludedModels: []string{"gpt-4"}},
	})
	assert.NotEqual(t, "gpt-4", dec.Model)
	assert.Equal(t, []string{TagDefault}, dec.RoutingRulesApplied)

	dec = e.DetermineRouting(ctx, &models.SelectionRequest{
		Prompt:      strings.Repeat("p", 600),
		Context:     map[string]any{"task_type": "reasoning"},
		Constraints: models.SelectionConstraints{MaxCost: ptr(0.001)},
	})
	assert.NotEqual(t, "claude-3-opus", dec.Model)
	assert.LessOrEqual(t, dec.EstimatedCost, 0.001)

	dec = e.DetermineRouting(ctx, &models.SelectionRequest{
		Prompt:      "hello",
		Constraints: models.SelectionConstraints{MinQuality: ptr(90.0)},
	})
	assert.Equal(t, "claude-3-opus", dec.Model)
}

func TestPriorityOrderAndDisabled(t *testing.T) {
	rules := []models.SteeringRule{
		{
			ID: "late", Tag: "late", Priority: 50, Enabled: true,
			Conditions: []models.Condition{{Field: "user_id", Operator: models.OpStartsWith, Value: "vip"}},
			Action:     models.RuleAction{Provider: "openai", Model: "gpt-4"},
		},
		{
			ID: "off", Tag: "off", Priority: 1, Enabled: false,
			Conditions: []models.Condition{{Field: "user_id", Operator: models.OpStartsWith, Value: "vip"}},
			Action:     models.RuleAction{Provider: "anthropic", Model: "claude-3-opus"},
		},
		{
			ID: "early", Tag: "early", Priority: 5, Enabled: true,
			Conditions: []models.Condition{
				{Field: "user_id", Operator: models.OpIn, Value: []any{"vip-1", "vip-2"}},
				{Field: "metadata.quality_requirement", Operator: models.OpEquals, Value: "HIGH"},
			},
			Action: models.RuleAction{Provider: "anthropic", Model: "claude-3-sonnet"},
		},
	}
	e := newEngine(t, rules, 100)
	require.Len(t, e.Rules(), 2)

	dec := e.DetermineRouting(context.Background(), &models.SelectionRequest{
		Prompt:   "hi",
		Scope:    models.RequestScope{UserID: "vip-1"},
		Metadata: models.SelectionMetadata{QualityRequirement: "high"},
	})
	assert.Equal(t, []string{"early"}, dec.RoutingRulesApplied)
	assert.Equal(t, ruleConfidence, dec.ConfidenceScore)

	dec = e.DetermineRouting(context.Background(), &models.SelectionRequest{
		Prompt: "hi",
		Scope:  models.RequestScope{UserID: "vip-3"},
	})
	assert.Equal(t, []string{"late"}, dec.RoutingRulesApplied)
}
