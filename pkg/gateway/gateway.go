// Package gateway runs requests through budget checks, the semantic cache,
// routing and provider dispatch, and serves the HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/audit"
	"github.com/pario-ai/steer/pkg/budget"
	"github.com/pario-ai/steer/pkg/cache"
	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/errsink"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/optimizer"
	"github.com/pario-ai/steer/pkg/provider"
	"github.com/pario-ai/steer/pkg/router"
	"github.com/pario-ai/steer/pkg/spend"
)

const (
	defaultBatchConcurrency = 4
	spendSource             = "gateway"
)

// Completer sends chat messages to a provider.
type Completer interface {
	Complete(ctx context.Context, p config.ProviderConfig, model string, messages []models.ChatMessage, maxTokens *int) (*provider.Completion, error)
}

// Options wires a Gateway. Engine, Providers and Client are required; the
// rest may be nil.
type Options struct {
	Engine           *router.Engine
	Providers        []config.ProviderConfig
	Client           Completer
	Budgets          *budget.Integration
	Cache            *cache.SemanticCache
	Optimizer        *optimizer.Optimizer
	Audit            *audit.Logger
	Errors           *errsink.Reporter
	Metrics          *Metrics
	Tracer           trace.Tracer
	Logger           *zap.Logger
	BatchConcurrency int
}

// Gateway serves chat requests.
type Gateway struct {
	engine    *router.Engine
	providers []config.ProviderConfig
	client    Completer
	budgets   *budget.Integration
	spend     spend.Guard
	cache     *cache.SemanticCache
	opt       *optimizer.Optimizer
	audit     *audit.Logger
	errs      *errsink.Reporter
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	batchSize int
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	if opts.Optimizer == nil {
		opts.Optimizer = optimizer.New(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/pario-ai/steer/pkg/gateway")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	guards := spend.Guards{spend.DailyGuard{Counter: opts.Engine.Counter()}}
	if opts.Budgets != nil {
		guards = append(guards, budget.LedgerGuard{Integration: opts.Budgets, Source: spendSource})
	}
	return &Gateway{
		engine:    opts.Engine,
		providers: opts.Providers,
		client:    opts.Client,
		budgets:   opts.Budgets,
		spend:     guards,
		cache:     opts.Cache,
		opt:       opts.Optimizer,
		audit:     opts.Audit,
		errs:      opts.Errors,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger.Named("gateway"),
		batchSize: opts.BatchConcurrency,
	}
}

// ChatResponse is the result of a served request.
type ChatResponse struct {
	RequestID  string                  `json:"request_id"`
	Content    string                  `json:"content"`
	Provider   string                  `json:"provider,omitempty"`
	Model      string                  `json:"model,omitempty"`
	Decision   *models.RoutingDecision `json:"decision,omitempty"`
	Usage      models.Usage            `json:"usage"`
	Cost       float64                 `json:"cost"`
	Cached     bool                    `json:"cached"`
	Similarity float64                 `json:"similarity,omitempty"`
	Fallback   bool                    `json:"fallback,omitempty"`
	LatencyMs  int64                   `json:"latency_ms"`
}

// EstimateResponse is a routing decision and budget verdict without dispatch.
type EstimateResponse struct {
	Decision     models.RoutingDecision          `json:"decision"`
	PromptTokens int                             `json:"prompt_tokens"`
	Constraints  *models.RequestConstraintResult `json:"constraints,omitempty"`
}

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	RequestID string        `json:"request_id"`
	Response  *ChatResponse `json:"response,omitempty"`
	Error     *ErrorBody    `json:"error,omitempty"`
}

// Chat serves req: budget pre-check, cache lookup, routing, prompt shaping,
// provider dispatch with fallback, spend recording and cache write.
func (g *Gateway) Chat(ctx context.Context, req *models.SelectionRequest) (*ChatResponse, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway.chat", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("scope.user_id", req.Scope.UserID),
	))
	defer span.End()

	entry := models.AuditEntry{
		RequestID: req.RequestID,
		UserID:    req.Scope.UserID,
		TeamID:    req.Scope.TeamID,
		ProjectID: req.Scope.ProjectID,
		Prompt:    req.PromptText(),
		CreatedAt: start.UTC(),
	}

	resp, err := g.chat(ctx, req, &entry)
	entry.LatencyMs = time.Since(start).Milliseconds()
	if resp != nil {
		resp.LatencyMs = entry.LatencyMs
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Error = err.Error()
		if entry.Outcome == "" {
			entry.Outcome = models.OutcomeFailed
		}
		g.report(ctx, req, err)
	}
	if aerr := g.audit.Log(context.WithoutCancel(ctx), entry); aerr != nil {
		g.logger.Warn("audit write failed", zap.String("request_id", req.RequestID), zap.Error(aerr))
	}
	return resp, err
}

func (g *Gateway) chat(ctx context.Context, req *models.SelectionRequest, entry *models.AuditEntry) (*ChatResponse, error) {
	if err := req.Validate(true); err != nil {
		entry.Outcome = models.OutcomeRejected
		return nil, err
	}
	// Cache keys and embeddings use the normalized prompt.
	prompt := g.opt.OptimizePrompt(entry.Prompt)

	tokens, lowest := g.engine.Estimate(req)
	entry.PromptTokens = tokens
	entry.EstimatedCost = lowest
	if err := g.precheck(ctx, req.Scope, lowest); err != nil {
		entry.Outcome = models.OutcomeBlocked
		return nil, err
	}

	if hit := g.lookup(ctx, prompt); hit != nil {
		entry.Outcome = models.OutcomeCached
		entry.CacheHit = true
		return &ChatResponse{
			RequestID:  req.RequestID,
			Content:    hit.Response,
			Cached:     true,
			Similarity: hit.Similarity,
		}, nil
	}

	dec := g.decide(ctx, req)
	entry.Provider, entry.Model = dec.Provider, dec.Model
	entry.RulesApplied = dec.RoutingRulesApplied
	entry.EstimatedCost = dec.EstimatedCost

	comp, route, fallback, err := g.dispatch(ctx, req, dec)
	if err != nil {
		return nil, err
	}
	entry.Provider, entry.Model = route.Provider.Name, route.Model

	if comp.Usage.TotalTokens == 0 {
		comp.Usage.PromptTokens = tokens
		comp.Usage.CompletionTokens = g.opt.CountTokens(comp.Content)
		comp.Usage.TotalTokens = comp.Usage.PromptTokens + comp.Usage.CompletionTokens
	}
	cost := dec.EstimatedCost
	if info, ok := g.engine.Model(route.Provider.Name, route.Model); ok {
		cost = info.EstimateCost(comp.Usage.TotalTokens)
	}
	entry.ActualCost = cost
	entry.OutputTokens = comp.Usage.CompletionTokens
	entry.Outcome = models.OutcomeServed

	g.record(ctx, req, route, cost)
	g.store(ctx, prompt, comp.Content)

	return &ChatResponse{
		RequestID: req.RequestID,
		Content:   comp.Content,
		Provider:  route.Provider.Name,
		Model:     route.Model,
		Decision:  &dec,
		Usage:     comp.Usage,
		Cost:      cost,
		Fallback:  fallback,
	}, nil
}

// precheck refuses the request when a persistent budget forbids it. Budget
// state that cannot be read refuses the request too.
func (g *Gateway) precheck(ctx context.Context, scope models.RequestScope, estimated float64) error {
	if g.budgets == nil {
		return nil
	}
	ctx, span := g.tracer.Start(ctx, "budget.check")
	defer span.End()

	res, err := g.budgets.CheckRequestConstraints(ctx, scope, estimated)
	if err != nil {
		g.metrics.blocked.Inc()
		return fmt.Errorf("budget check: %w", err)
	}
	if !res.CanProceed {
		g.metrics.blocked.Inc()
		span.SetAttributes(attribute.String("budget.reason", res.Reason))
		return &budget.ConstraintError{Result: res}
	}
	return nil
}

func (g *Gateway) lookup(ctx context.Context, prompt string) *models.CacheHit {
	if g.cache == nil {
		return nil
	}
	ctx, span := g.tracer.Start(ctx, "cache.lookup")
	defer span.End()

	hit, err := g.cache.Get(ctx, prompt)
	if err != nil {
		g.logger.Warn("cache lookup failed", zap.Error(err))
	}
	if hit == nil {
		g.metrics.cacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	g.metrics.cacheLookups.WithLabelValues("hit").Inc()
	span.SetAttributes(attribute.Float64("cache.similarity", hit.Similarity))
	return hit
}

func (g *Gateway) decide(ctx context.Context, req *models.SelectionRequest) models.RoutingDecision {
	ctx, span := g.tracer.Start(ctx, "router.decide")
	defer span.End()

	dec := g.engine.DetermineRouting(ctx, req)
	tag := router.TagDefault
	if len(dec.RoutingRulesApplied) > 0 {
		tag = dec.RoutingRulesApplied[0]
	}
	g.metrics.decisions.WithLabelValues(dec.Provider, dec.Model, tag).Inc()
	span.SetAttributes(
		attribute.String("route.provider", dec.Provider),
		attribute.String("route.model", dec.Model),
		attribute.String("route.tag", tag),
	)
	return dec
}

// dispatch tries the primary route, then the fallback once.
func (g *Gateway) dispatch(ctx context.Context, req *models.SelectionRequest, dec models.RoutingDecision) (*provider.Completion, router.Route, bool, error) {
	routes, err := router.Resolve(g.providers, dec)
	if err != nil {
		return nil, router.Route{}, false, err
	}

	var errs []error
	for i, route := range routes {
		limit := contextLimit(g.engine, route, req.MaxTokens)
		messages := g.shape(req.ChatMessages(), limit)

		comp, err := g.complete(ctx, route, messages, req.MaxTokens)
		if err == nil {
			if i > 0 {
				g.metrics.fallbacks.Inc()
			}
			return comp, route, i > 0, nil
		}
		errs = append(errs, fmt.Errorf("%s/%s: %w", route.Provider.Name, route.Model, err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(routes) {
			g.logger.Warn("provider failed, trying fallback",
				zap.String("request_id", req.RequestID),
				zap.String("provider", route.Provider.Name),
				zap.String("model", route.Model),
				zap.Error(err),
			)
		}
	}
	return nil, router.Route{}, false, errors.Join(errs...)
}

func (g *Gateway) complete(ctx context.Context, route router.Route, messages []models.ChatMessage, maxTokens *int) (*provider.Completion, error) {
	ctx, span := g.tracer.Start(ctx, "provider.complete", trace.WithAttributes(
		attribute.String("provider", route.Provider.Name),
		attribute.String("model", route.Model),
	))
	defer span.End()

	comp, err := g.client.Complete(ctx, route.Provider, route.Model, messages, maxTokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return comp, err
}

// contextLimit is the prompt token budget of a route, or 0 when unbounded.
func contextLimit(e *router.Engine, route router.Route, maxTokens *int) int {
	info, ok := e.Model(route.Provider.Name, route.Model)
	if !ok || info.ContextWindow <= 0 {
		return 0
	}
	reserve := provider.DefaultMaxTokens
	if maxTokens != nil && *maxTokens > 0 {
		reserve = *maxTokens
	}
	if limit := info.ContextWindow - reserve; limit > 0 {
		return limit
	}
	return info.ContextWindow
}

// shape normalizes whitespace in every message and, over limit tokens, keeps
// system messages and the newest turns, trimming the oldest turn that still
// fits partially.
func (g *Gateway) shape(messages []models.ChatMessage, limit int) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	total := 0
	for i, m := range messages {
		m.Content = g.opt.OptimizePrompt(m.Content)
		out[i] = m
		total += g.opt.CountTokens(m.Content)
	}
	if limit <= 0 || total <= limit {
		return out
	}

	remaining := limit
	for _, m := range out {
		if m.Role == models.RoleSystem {
			remaining -= g.opt.CountTokens(m.Content)
		}
	}
	keep := make([]bool, len(out))
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == models.RoleSystem {
			keep[i] = true
			continue
		}
		if remaining <= 0 {
			continue
		}
		n := g.opt.CountTokens(out[i].Content)
		if n > remaining {
			out[i].Content = g.opt.OptimizeContextWindow(out[i].Content, remaining)
			n = remaining
		}
		remaining -= n
		keep[i] = true
	}
	shaped := out[:0]
	for i, m := range out {
		if keep[i] {
			shaped = append(shaped, m)
		}
	}
	return shaped
}

// record charges cost to the daily counter and every covering budget. The
// response has already been produced, so failures are logged and reported.
func (g *Gateway) record(ctx context.Context, req *models.SelectionRequest, route router.Route, cost float64) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := g.tracer.Start(ctx, "budget.record", trace.WithAttributes(attribute.Float64("cost", cost)))
	defer span.End()

	ctx = spend.WithMetadata(ctx, map[string]string{
		"request_id": req.RequestID,
		"provider":   route.Provider.Name,
		"model":      route.Model,
		"cost":       strconv.FormatFloat(cost, 'f', 6, 64),
	})
	if err := g.spend.Record(ctx, req.Scope, cost); err != nil {
		span.RecordError(err)
		g.logger.Error("record spend failed", zap.String("request_id", req.RequestID), zap.Error(err))
		g.report(ctx, req, err)
	}
	g.metrics.spend.WithLabelValues(route.Provider.Name, route.Model).Add(cost)
	g.metrics.dailySpend.Set(g.engine.DailySpend())
}

func (g *Gateway) store(ctx context.Context, prompt, response string) {
	if g.cache == nil || response == "" {
		return
	}
	if err := g.cache.Set(context.WithoutCancel(ctx), prompt, response); err != nil {
		g.logger.Warn("cache write failed", zap.Error(err))
	}
}

func (g *Gateway) report(ctx context.Context, req *models.SelectionRequest, err error) {
	ae := classify(err)
	if ae.category == errsink.CategoryValidation || ae.category == errsink.CategoryBudget {
		return
	}
	g.errs.Go(ctx, errsink.Report{
		Message:       err.Error(),
		Code:          ae.body.Code,
		Category:      ae.category,
		Severity:      ae.severity,
		Context:       map[string]any{"status": ae.status},
		CorrelationID: trace.SpanContextFromContext(ctx).TraceID().String(),
		RequestID:     req.RequestID,
		UserID:        req.Scope.UserID,
	})
}

// Estimate returns the routing decision and budget verdict for req without
// calling a provider.
func (g *Gateway) Estimate(ctx context.Context, req *models.SelectionRequest) (*EstimateResponse, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.estimate")
	defer span.End()

	if err := req.Validate(false); err != nil {
		return nil, err
	}
	tokens, _ := g.engine.Estimate(req)
	dec := g.engine.DetermineRouting(ctx, req)
	out := &EstimateResponse{Decision: dec, PromptTokens: tokens}
	if g.budgets != nil {
		res, err := g.budgets.CheckRequestConstraints(ctx, req.Scope, dec.EstimatedCost)
		if err != nil {
			return nil, fmt.Errorf("budget check: %w", err)
		}
		out.Constraints = &res
	}
	return out, nil
}

// Batch serves every request with bounded concurrency. Results keep the
// input order.
func (g *Gateway) Batch(ctx context.Context, reqs []models.SelectionRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	sem := make(chan struct{}, g.batchSize)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			resp, err := g.Chat(ctx, &reqs[i])
			results[i] = BatchResult{RequestID: reqs[i].RequestID, Response: resp}
			if err != nil {
				body := classify(err).body
				results[i].Error = &body
			}
		}(i)
	}
	wg.Wait()
	return results
}

// ResetDailySpend zeroes the in-process daily counter and returns the total
// it held.
func (g *Gateway) ResetDailySpend() float64 {
	prev := g.engine.DailySpend()
	g.engine.ResetDailyTracking()
	g.metrics.dailySpend.Set(0)
	g.logger.Info("daily spend reset", zap.Float64("previous", prev))
	return prev
}
