package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pario-ai/steer/pkg/audit"
	"github.com/pario-ai/steer/pkg/budget"
	"github.com/pario-ai/steer/pkg/cache"
	cacheredis "github.com/pario-ai/steer/pkg/cache/redis"
	cachesqlite "github.com/pario-ai/steer/pkg/cache/sqlite"
	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/errsink"
	"github.com/pario-ai/steer/pkg/gateway"
	"github.com/pario-ai/steer/pkg/logging"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/notify"
	"github.com/pario-ai/steer/pkg/provider"
	"github.com/pario-ai/steer/pkg/resilience"
	"github.com/pario-ai/steer/pkg/router"
	"github.com/pario-ai/steer/pkg/spend"
	"github.com/pario-ai/steer/pkg/store"
	"github.com/pario-ai/steer/pkg/tracker"
)

// embeddingBreaker guards the embeddings endpoint used by the semantic cache.
const embeddingBreaker = "embedding"

// app holds every wired component. Fields are nil when their subsystem is
// disabled in the config.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *gorm.DB
	registry    *budget.Registry
	tracker     *tracker.Tracker
	integration *budget.Integration
	rules       *store.Rules
	breakers    *resilience.Registry
	metrics     *gateway.Metrics
	prom        *prometheus.Registry
	engine      *router.Engine
	cache       *cache.SemanticCache
	audit       *audit.Logger
	errs        *errsink.Reporter
	gateway     *gateway.Gateway

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// bootstrap loads the config and builds the logger.
func bootstrap(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore wires the relational store and the budget components over it.
func openStore(ctx context.Context, configPath string) (*app, error) {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, closerFunc(func() error { return store.Close(db) }))

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if len(cfg.Notify.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.Notify.Brokers, cfg.Notify.Topic, logger)
		notifier = notify.Multi{notifier, kn}
		a.closers = append(a.closers, kn)
	}

	a.registry = budget.NewRegistry(db, logger)
	a.tracker = tracker.New(db, notifier, logger)
	a.integration = budget.NewIntegration(a.registry, a.tracker, cfg.Currency, logger)
	a.rules = store.NewRules(db)
	return a, nil
}

// openGateway wires everything the gateway needs on top of openStore.
func openGateway(ctx context.Context, configPath string) (*app, error) {
	a, err := openStore(ctx, configPath)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = gateway.NewMetrics(a.prom)

	a.breakers = resilience.NewRegistry(resilience.BreakerOptions{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
		HalfOpenSuccess:  cfg.Resilience.HalfOpenSuccess,
		IsFailure:        resilience.DependencyFailure,
		OnStateChange:    a.metrics.ObserveBreaker,
	}, a.logger)

	a.engine = buildEngine(ctx, a)

	if a.cache, err = buildCache(ctx, a); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Audit.Enabled {
		if a.audit, err = audit.New(cfg.Audit, a.logger); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.audit)
	}

	a.errs = errsink.New(cfg.ErrorSink.URL, cfg.ErrorSink.Timeout, a.logger)

	a.gateway = gateway.New(gateway.Options{
		Engine:    a.engine,
		Providers: cfg.Providers,
		Client:    provider.NewClient(a.breakers, a.logger),
		Budgets:   a.integration,
		Cache:     a.cache,
		Audit:     a.audit,
		Errors:    a.errs,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	return a, nil
}

func ruleSource(cfg *config.Config, rules *store.Rules) router.RuleSource {
	if cfg.Router.RulesSource == "database" {
		return router.DBSource{Rules: rules}
	}
	set := cfg.Router.Rules
	if cfg.Router.UseDefaults {
		set = append(router.DefaultRules(), set...)
	}
	return router.StaticSource(set)
}

func buildEngine(ctx context.Context, a *app) *router.Engine {
	engine := router.New(router.Options{
		Catalog: a.cfg.Models,
		Source:  ruleSource(a.cfg, a.rules),
		Counter: spend.NewDailyCounter(a.cfg.Router.DailyCeiling),
		Logger:  a.logger,
	})
	if err := engine.Reload(ctx); err != nil {
		a.logger.Warn("serving default routing until rules reload", zap.Error(err))
	}
	return engine
}

func buildCache(ctx context.Context, a *app) (*cache.SemanticCache, error) {
	cc := a.cfg.Cache
	if !cc.Enabled {
		return nil, nil
	}

	var (
		backend cache.Store
		closer  io.Closer
	)
	switch cc.Backend {
	case "redis":
		s, err := cacheredis.Dial(ctx, cc.Redis.Addr, cc.Redis.Password, cc.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connect cache redis: %w", err)
		}
		backend, closer = s, s
	default:
		s, err := cachesqlite.New(cc.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open cache db: %w", err)
		}
		backend, closer = s, s
	}
	a.closers = append(a.closers, closer)

	var breaker *resilience.CircuitBreaker
	if a.breakers != nil {
		breaker = a.breakers.GetWith(embeddingBreaker, resilience.DependencyFailure)
	}
	embedder := cache.NewHTTPEmbedder(cc.Embedding.URL, cc.Embedding.APIKey, cc.Embedding.Model, cc.Embedding.Timeout, breaker)
	return cache.New(backend, embedder, cache.Options{
		Prefix:    cc.Prefix,
		TTL:       cc.TTL,
		Threshold: cc.Threshold,
	}, a.logger), nil
}

// health pings the relational store.
func (a *app) health(ctx context.Context) error {
	return store.Ping(ctx, a.db)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func scopeFlag(scopeType, scopeID string) (models.ScopeType, error) {
	st := models.ScopeType(scopeType)
	if st != "" && !st.Valid() {
		return "", fmt.Errorf("--scope-type must be one of organization, team, user, project")
	}
	if st != "" && scopeID == "" {
		return "", fmt.Errorf("--scope-id is required with --scope-type")
	}
	return st, nil
}
