// Package router selects the provider and model that serve a request.
package router

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/optimizer"
	"github.com/pario-ai/steer/pkg/spend"
)

// Confidence of decisions not produced by a rule.
const (
	defaultConfidence  = 0.8
	degradedConfidence = 0.5
	budgetConfidence   = 0.95
	ruleConfidence     = 0.9
)

// Options configures an Engine.
type Options struct {
	Catalog   []models.ModelInfo
	Source    RuleSource
	Counter   *spend.DailyCounter
	Guard     spend.Guard // defaults to a DailyGuard over Counter
	Optimizer *optimizer.Optimizer
	Logger    *zap.Logger
}

// Engine evaluates steering rules against requests.
type Engine struct {
	catalog []models.ModelInfo
	source  RuleSource
	counter *spend.DailyCounter
	guard   spend.Guard
	opt     *optimizer.Optimizer
	logger  *zap.Logger

	mu      sync.RWMutex
	rules   []models.SteeringRule
	loadErr error
}

// New builds an engine. Call Reload to load rules.
func New(opts Options) *Engine {
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Counter == nil {
		opts.Counter = spend.NewDailyCounter(0)
	}
	if opts.Guard == nil {
		opts.Guard = spend.DailyGuard{Counter: opts.Counter}
	}
	if opts.Optimizer == nil {
		opts.Optimizer = optimizer.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		catalog: opts.Catalog,
		source:  opts.Source,
		counter: opts.Counter,
		guard:   opts.Guard,
		opt:     opts.Optimizer,
		logger:  opts.Logger.Named("router"),
	}
}

// Reload replaces the rule set from the source. On failure the previous
// rules stay in effect and the error is returned.
func (e *Engine) Reload(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	rules, err := e.source.Load(ctx)
	if err == nil {
		for _, r := range rules {
			if err = ValidateRule(r); err != nil {
				break
			}
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadErr = err
	if err != nil {
		e.logger.Error("rule load failed", zap.Error(err))
		return fmt.Errorf("load rules: %w", err)
	}

	enabled := make([]models.SteeringRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })
	e.rules = enabled
	e.logger.Info("rules loaded", zap.Int("enabled", len(enabled)), zap.Int("total", len(rules)))
	return nil
}

// Rules returns the enabled rules in evaluation order.
func (e *Engine) Rules() []models.SteeringRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.rules)
}

// LoadError returns the error of the last Reload, or nil.
func (e *Engine) LoadError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadErr
}

// Catalog returns the routable models.
func (e *Engine) Catalog() []models.ModelInfo {
	return slices.Clone(e.catalog)
}

// RecordRequestCost adds amount to the daily spend counter.
func (e *Engine) RecordRequestCost(amount float64) {
	e.counter.Add(amount)
}

// ResetDailyTracking zeroes the daily spend counter.
func (e *Engine) ResetDailyTracking() {
	e.counter.Reset()
	e.logger.Info("daily spend reset")
}

// DailySpend returns the spend recorded since the last reset.
func (e *Engine) DailySpend() float64 {
	return e.counter.Total()
}

// Counter returns the daily spend counter shared with the gateway.
func (e *Engine) Counter() *spend.DailyCounter {
	return e.counter
}

// Estimate counts the prompt tokens of req and prices them with the cheapest
// eligible model, the lower bound of what any decision can cost.
func (e *Engine) Estimate(req *models.SelectionRequest) (tokens int, cost float64) {
	tokens = e.opt.CountTokens(req.PromptText())
	m, _ := e.cheapest(req.Constraints, tokens, "")
	return tokens, m.EstimateCost(tokens)
}

// DetermineRouting picks a provider and model for req. It always returns a
// usable decision.
func (e *Engine) DetermineRouting(ctx context.Context, req *models.SelectionRequest) models.RoutingDecision {
	prompt := req.PromptText()
	tokens, lowest := e.Estimate(req)

	verdict, err := e.guard.Check(ctx, req.Scope, lowest)
	if err != nil {
		e.logger.Warn("spend guard unavailable", zap.String("request_id", req.RequestID), zap.Error(err))
		verdict = spend.Verdict{Reason: "spend state unavailable"}
	}
	if !verdict.CanProceed {
		return e.budgetDecision(req, tokens, verdict.Reason)
	}

	e.mu.RLock()
	rules, loadErr := e.rules, e.loadErr
	e.mu.RUnlock()

	doc := newDocument(req, prompt, tokens)
	for _, rule := range rules {
		if !matches(rule.Conditions, doc) {
			continue
		}
		dec, ok := e.ruleDecision(rule, req.Constraints, tokens)
		if !ok {
			e.logger.Debug("rule matched but violates constraints",
				zap.String("rule", rule.ID), zap.String("model", rule.Action.Model))
			continue
		}
		return dec
	}

	confidence := defaultConfidence
	reason := "No steering rule matched; using the lowest-cost general-purpose model"
	if loadErr != nil || len(rules) == 0 {
		confidence = degradedConfidence
		reason = "No steering rules loaded; using the lowest-cost general-purpose model"
	}
	return e.defaultDecision(req.Constraints, tokens, confidence, reason, TagDefault)
}

// Model returns the catalog entry for provider and model.
func (e *Engine) Model(provider, model string) (models.ModelInfo, bool) {
	for _, m := range e.catalog {
		if m.Provider == provider && m.Model == model {
			return m, true
		}
	}
	return models.ModelInfo{}, false
}

func (e *Engine) ruleDecision(rule models.SteeringRule, c models.SelectionConstraints, tokens int) (models.RoutingDecision, bool) {
	a := rule.Action
	if slices.Contains(c.ExcludedModels, a.Model) {
		return models.RoutingDecision{}, false
	}
	info, known := e.Model(a.Provider, a.Model)
	cost := info.EstimateCost(tokens)
	if c.MaxCost != nil && known && cost > *c.MaxCost {
		return models.RoutingDecision{}, false
	}
	if known && !info.HasCapabilities(c.RequiredCapabilities) {
		return models.RoutingDecision{}, false
	}

	confidence := a.Confidence
	if confidence <= 0 {
		confidence = ruleConfidence
	}
	reason := a.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("Matched steering rule %q", rule.Name)
	}
	tag := rule.Tag
	if tag == "" {
		tag = rule.ID
	}
	dec := models.RoutingDecision{
		Provider:            a.Provider,
		Model:               a.Model,
		EstimatedCost:       cost,
		ExpectedLatency:     info.Latency,
		ConfidenceScore:     confidence,
		Reasoning:           reason,
		FallbackProvider:    a.FallbackProvider,
		FallbackModel:       a.FallbackModel,
		RoutingRulesApplied: []string{tag},
	}
	if slices.Contains(c.ExcludedModels, dec.FallbackModel) {
		dec.FallbackProvider, dec.FallbackModel = "", ""
	}
	return dec, true
}

// eligible reports whether m may serve a request under c.
func eligible(m models.ModelInfo, c models.SelectionConstraints, tokens int) bool {
	if !m.GeneralPurpose || slices.Contains(c.ExcludedModels, m.Model) {
		return false
	}
	if c.MaxCost != nil && m.EstimateCost(tokens) > *c.MaxCost {
		return false
	}
	if c.MinQuality != nil && m.Quality < *c.MinQuality {
		return false
	}
	return m.HasCapabilities(c.RequiredCapabilities)
}

// cheapest returns the lowest-cost eligible model, skipping provider skip.
// Without an eligible model it falls back to the cheapest general-purpose one.
func (e *Engine) cheapest(c models.SelectionConstraints, tokens int, skip string) (models.ModelInfo, bool) {
	var (
		best  models.ModelInfo
		found bool
	)
	for _, m := range e.catalog {
		if m.Provider == skip || !eligible(m, c, tokens) {
			continue
		}
		if !found || m.CostPer1K < best.CostPer1K {
			best, found = m, true
		}
	}
	if found || skip != "" {
		return best, found
	}
	for _, m := range e.catalog {
		if m.GeneralPurpose && (!found || m.CostPer1K < best.CostPer1K) {
			best, found = m, true
		}
	}
	return best, false
}

func (e *Engine) defaultDecision(c models.SelectionConstraints, tokens int, confidence float64, reason, tag string) models.RoutingDecision {
	m, ok := e.cheapest(c, tokens, "")
	if !ok {
		reason += " (no model satisfies the request constraints)"
		confidence = degradedConfidence
	}
	dec := models.RoutingDecision{
		Provider:            m.Provider,
		Model:               m.Model,
		EstimatedCost:       m.EstimateCost(tokens),
		ExpectedLatency:     m.Latency,
		ConfidenceScore:     confidence,
		Reasoning:           reason,
		RoutingRulesApplied: []string{tag},
	}
	if fb, ok := e.cheapest(c, tokens, m.Provider); ok {
		dec.FallbackProvider, dec.FallbackModel = fb.Provider, fb.Model
	}
	return dec
}

func (e *Engine) budgetDecision(req *models.SelectionRequest, tokens int, reason string) models.RoutingDecision {
	e.logger.Warn("budget constraint forced routing",
		zap.String("request_id", req.RequestID),
		zap.Float64("daily_spend", e.counter.Total()),
		zap.String("reason", reason),
	)
	text := "Budget exhausted, routing to the lowest-cost model"
	if reason != "" {
		text += ": " + reason
	}
	return e.defaultDecision(req.Constraints, tokens, budgetConfidence, text, TagBudgetConstraint)
}
