package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pario-ai/steer/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:        true,
		DBPath:         filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays:  90,
		IncludePrompts: true,
		MaxPromptSize:  1024,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:     "req-001",
		UserID:        "u1",
		TeamID:        "t1",
		Provider:      "openai",
		Model:         "gpt-4",
		RulesApplied:  []string{"complex-reasoning"},
		Outcome:       models.OutcomeServed,
		EstimatedCost: 0.03,
		ActualCost:    0.025,
		PromptTokens:  10,
		OutputTokens:  20,
		LatencyMs:     150,
		Prompt:        "why is the sky blue?",
		CreatedAt:     time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.RequestID != "req-001" || e.TeamID != "t1" || e.Outcome != models.OutcomeServed {
		t.Errorf("unexpected entry %+v", e)
	}
	if len(e.RulesApplied) != 1 || e.RulesApplied[0] != "complex-reasoning" {
		t.Errorf("rules not round-tripped: %v", e.RulesApplied)
	}
	if e.ActualCost != 0.025 {
		t.Errorf("expected actual cost 0.025, got %v", e.ActualCost)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	cached := sampleEntry()
	cached.RequestID = "req-002"
	cached.UserID = "u2"
	cached.Outcome = models.OutcomeCached
	cached.CacheHit = true
	_ = l.Log(ctx, cached)

	tests := []struct {
		name string
		opts models.AuditQueryOpts
		want int
	}{
		{"request id", models.AuditQueryOpts{RequestID: "req-001"}, 1},
		{"user", models.AuditQueryOpts{UserID: "u2"}, 1},
		{"outcome", models.AuditQueryOpts{Outcome: models.OutcomeCached}, 1},
		{"provider", models.AuditQueryOpts{Provider: "openai"}, 2},
		{"limit", models.AuditQueryOpts{Limit: 1}, 1},
		{"since future", models.AuditQueryOpts{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d, got %d", tt.want, len(entries))
			}
		})
	}

	entries, _ := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-002"})
	if len(entries) == 1 && !entries[0].CacheHit {
		t.Error("expected cache hit flag")
	}
}

func TestExcludeModels(t *testing.T) {
	cfg := tempCfg(t)
	cfg.ExcludeModels = []string{"gpt-4"}
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries for excluded model, got %d", len(entries))
	}
}

func TestPromptTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxPromptSize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Prompt = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Prompt) != 16 {
		t.Errorf("expected truncated prompt len 16, got %d", len(entries[0].Prompt))
	}
}

func TestPromptTruncationKeepsRunes(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxPromptSize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Prompt = "a" + strings.Repeat("é", 20)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := entries[0].Prompt
	if !utf8.ValidString(got) {
		t.Fatalf("truncated prompt is not valid UTF-8: %q", got)
	}
	if want := "a" + strings.Repeat("é", 7); got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}

	for _, tc := range []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
	} {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestPromptsExcludedByDefault(t *testing.T) {
	cfg := tempCfg(t)
	cfg.IncludePrompts = false
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].Prompt != "" {
		t.Errorf("expected empty prompt, got %q", entries[0].Prompt)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 {
		t.Errorf("expected count 2, got %d", stats[0].Count)
	}
	if stats[0].Cost < 0.0499 || stats[0].Cost > 0.0501 {
		t.Errorf("expected cost 0.05, got %v", stats[0].Cost)
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg, nil)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
