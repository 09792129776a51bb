package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/budget"
	"github.com/pario-ai/steer/pkg/cache"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/resilience"
	"github.com/pario-ai/steer/pkg/router"
	"github.com/pario-ai/steer/pkg/tracker"
)

// MaxBatchSize bounds the number of requests in one batch call.
const MaxBatchSize = 100

// ServerOptions wires the HTTP API.
type ServerOptions struct {
	Listen   string
	Gateway  *Gateway
	Engine   *router.Engine
	Budgets  *budget.Registry
	Tracker  *tracker.Tracker
	Breakers *resilience.Registry
	Cache    *cache.SemanticCache
	Gatherer prometheus.Gatherer
	Health   func(ctx context.Context) error
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Server is the gin HTTP front of the gateway.
type Server struct {
	opts   ServerOptions
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router and registers every route.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = opts.Gateway.tracer
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	s := &Server{opts: opts, router: r, logger: opts.Logger.Named("http")}
	r.Use(gin.Recovery())
	r.Use(tracingMiddleware(opts.Tracer))
	r.Use(loggingMiddleware(s.logger))
	r.Use(metricsMiddleware(opts.Gateway.metrics))
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/healthz", s.health)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/chat", s.chat)
		v1.POST("/batch", s.batch)
		v1.POST("/estimate", s.estimate)

		v1.POST("/budgets", s.createBudget)
		v1.GET("/budgets", s.listBudgets)
		v1.GET("/budgets/:id", s.getBudget)
		v1.PATCH("/budgets/:id", s.updateBudget)
		v1.DELETE("/budgets/:id", s.deactivateBudget)
		v1.GET("/budgets/:id/status", s.budgetStatus)
		v1.GET("/budgets/:id/check", s.checkBudget)
		v1.POST("/budgets/:id/usage", s.recordUsage)
		v1.GET("/budgets/:id/usage", s.listUsage)

		v1.GET("/breakers", s.breakers)
		v1.POST("/breakers/:name/reset", s.resetBreaker)

		v1.GET("/spend", s.dailySpend)
		v1.POST("/spend/reset", s.resetSpend)

		v1.GET("/rules", s.rules)
		v1.POST("/rules/reload", s.reloadRules)

		v1.GET("/cache/stats", s.cacheStats)
		v1.DELETE("/cache", s.clearCache)
	}
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("steer gateway listening", zap.String("addr", s.opts.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	ae := classify(err)
	if ae.status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", ae.status),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(ae.status, gin.H{"error": ae.body})
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return &models.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func requestID(c *gin.Context, id string) string {
	if id != "" {
		return id
	}
	if h := c.GetHeader("X-Request-ID"); h != "" {
		return h
	}
	return uuid.NewString()
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	c.JSON(status, body)
}

func (s *Server) chat(c *gin.Context) {
	var req models.SelectionRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	req.RequestID = requestID(c, req.RequestID)
	c.Header("X-Request-ID", req.RequestID)

	resp, err := s.opts.Gateway.Chat(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type batchRequest struct {
	Requests []models.SelectionRequest `json:"requests"`
}

func (s *Server) batch(c *gin.Context) {
	var req batchRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	switch n := len(req.Requests); {
	case n == 0:
		s.fail(c, &models.ValidationError{Field: "requests", Message: "at least one request is required"})
		return
	case n > MaxBatchSize:
		s.fail(c, &models.ValidationError{Field: "requests", Message: "at most " + strconv.Itoa(MaxBatchSize) + " requests per batch"})
		return
	}
	for i := range req.Requests {
		if req.Requests[i].RequestID == "" {
			req.Requests[i].RequestID = uuid.NewString()
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": s.opts.Gateway.Batch(c.Request.Context(), req.Requests)})
}

func (s *Server) estimate(c *gin.Context) {
	var req models.SelectionRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.opts.Gateway.Estimate(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createBudget(c *gin.Context) {
	var req models.CreateBudgetRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	b, err := s.opts.Budgets.CreateBudget(c.Request.Context(), req, c.GetHeader("X-Actor-ID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) listBudgets(c *gin.Context) {
	scopeType := models.ScopeType(c.Query("scope_type"))
	if scopeType != "" && !scopeType.Valid() {
		s.fail(c, &models.ValidationError{Field: "scope_type", Message: "must be one of organization, team, user, project"})
		return
	}
	list, err := s.opts.Budgets.ListBudgets(c.Request.Context(), scopeType, c.Query("scope_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"budgets": list, "count": len(list)})
}

func (s *Server) getBudget(c *gin.Context) {
	b, err := s.opts.Budgets.GetBudget(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) updateBudget(c *gin.Context) {
	var req models.UpdateBudgetRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	b, err := s.opts.Budgets.UpdateBudget(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) deactivateBudget(c *gin.Context) {
	if err := s.opts.Budgets.DeactivateBudget(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) budgetStatus(c *gin.Context) {
	st, err := s.opts.Tracker.GetBudgetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) checkBudget(c *gin.Context) {
	est, err := strconv.ParseFloat(c.DefaultQuery("estimated_cost", "0"), 64)
	if err != nil || est < 0 {
		s.fail(c, &models.ValidationError{Field: "estimated_cost", Message: "must be a non-negative number"})
		return
	}
	check, err := s.opts.Tracker.CheckBudgetConstraints(c.Request.Context(), c.Param("id"), est)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) recordUsage(c *gin.Context) {
	var req models.RecordUsageRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.opts.Tracker.RecordUsage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) listUsage(c *gin.Context) {
	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := models.ParseDate(v)
		if err != nil {
			s.fail(c, &models.ValidationError{Field: "since", Message: "must be an ISO-8601 date"})
			return
		}
		since = t
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := s.opts.Tracker.ListUsage(c.Request.Context(), c.Param("id"), since, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": recs, "count": len(recs)})
}

func (s *Server) breakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.opts.Breakers.Metrics()})
}

func (s *Server) resetBreaker(c *gin.Context) {
	b, ok := s.opts.Breakers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrorBody{Code: "NOT_FOUND", Message: "unknown circuit breaker " + c.Param("name")}})
		return
	}
	b.Reset()
	s.logger.Info("circuit breaker reset", zap.String("breaker", b.Name()))
	c.JSON(http.StatusOK, b.Metrics())
}

func (s *Server) dailySpend(c *gin.Context) {
	counter := s.opts.Engine.Counter()
	c.JSON(http.StatusOK, gin.H{
		"daily_spend": counter.Total(),
		"ceiling":     counter.Ceiling(),
		"exceeded":    counter.Exceeded(),
	})
}

func (s *Server) resetSpend(c *gin.Context) {
	prev := s.opts.Gateway.ResetDailySpend()
	c.JSON(http.StatusOK, gin.H{"previous": prev, "daily_spend": 0})
}

func (s *Server) rules(c *gin.Context) {
	rules := s.opts.Engine.Rules()
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) reloadRules(c *gin.Context) {
	if err := s.opts.Engine.Reload(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(s.opts.Engine.Rules())})
}

func (s *Server) cacheStats(c *gin.Context) {
	if s.opts.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	st, err := s.opts.Cache.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "stats": st})
}

func (s *Server) clearCache(c *gin.Context) {
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Clear(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
