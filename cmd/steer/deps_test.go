package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/router"
	"github.com/pario-ai/steer/pkg/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STEER_TEST_DIR", dir)
	path := filepath.Join(dir, "steer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testConfig = `
log:
  level: error
database:
  driver: sqlite
  dsn: ${STEER_TEST_DIR}/steer.db
providers:
  - name: openai
    url: http://openai.invalid
router:
  daily_ceiling: 50
  rules_source: config
  use_default_rules: true
cache:
  enabled: true
  backend: sqlite
  db_path: ${STEER_TEST_DIR}/cache.db
audit:
  enabled: true
  db_path: ${STEER_TEST_DIR}/audit.db
  retention_days: 7
`

func TestOpenGatewayWiresComponents(t *testing.T) {
	path := writeConfig(t, testConfig)

	a, err := openGateway(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	assert.NotNil(t, a.gateway)
	assert.NotNil(t, a.cache)
	assert.NotNil(t, a.audit)
	assert.False(t, a.errs.Enabled())
	assert.Len(t, a.engine.Rules(), len(router.DefaultRules()))
	assert.InDelta(t, 50, a.engine.Counter().Ceiling(), 1e-9)
	assert.NoError(t, a.health(context.Background()))

	_, ok := a.breakers.Lookup(embeddingBreaker)
	assert.True(t, ok)

	prev := a.gateway.ResetDailySpend()
	assert.Zero(t, prev)
}

func TestOpenGatewayDisabledSubsystems(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: ${STEER_TEST_DIR}/steer.db
cache:
  enabled: false
`)
	a, err := openGateway(context.Background(), path)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.cache)
	assert.Nil(t, a.audit)
}

func TestRuleSourceDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "rules.db"), nil)
	require.NoError(t, err)
	defer store.Close(db)
	rules := store.NewRules(db)

	r := router.DefaultRules()[0]
	require.NoError(t, rules.Upsert(ctx, &r))

	cfg := config.Default()
	cfg.Router.RulesSource = "database"
	got, err := ruleSource(cfg, rules).Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)

	cfg.Router.RulesSource = "config"
	cfg.Router.UseDefaults = false
	cfg.Router.Rules = []models.SteeringRule{r}
	got, err = ruleSource(cfg, rules).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBuildEngineServesDefaultsOnLoadFailure(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "rules.db"), nil)
	require.NoError(t, err)
	defer store.Close(db)
	rules := store.NewRules(db)
	require.NoError(t, rules.Upsert(ctx, &models.SteeringRule{ID: "broken", Enabled: true}))

	cfg := config.Default()
	cfg.Router.RulesSource = "database"
	a := &app{cfg: cfg, logger: zap.NewNop(), rules: rules}

	engine := buildEngine(ctx, a)
	require.NotNil(t, engine)
	assert.Error(t, engine.LoadError())
	assert.Empty(t, engine.Rules())

	dec := engine.DetermineRouting(ctx, &models.SelectionRequest{Prompt: "hello"})
	assert.Equal(t, []string{router.TagDefault}, dec.RoutingRulesApplied)
	assert.Less(t, dec.ConfidenceScore, 0.8)
}

func TestScopeFlag(t *testing.T) {
	st, err := scopeFlag("team", "eng")
	require.NoError(t, err)
	assert.Equal(t, models.ScopeTeam, st)

	st, err = scopeFlag("", "")
	require.NoError(t, err)
	assert.Empty(t, st)

	_, err = scopeFlag("galaxy", "x")
	assert.Error(t, err)
	_, err = scopeFlag("user", "")
	assert.Error(t, err)
}
