package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pario-ai/steer/pkg/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Logger writes and queries gateway decisions in a dedicated SQLite database.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	logger  *zap.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	exclude map[string]bool
	now     func() time.Time
}

// New opens the audit SQLite database, creates the schema and starts the
// hourly retention loop.
func New(cfg models.AuditConfig, logger *zap.Logger) (*Logger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	exc := make(map[string]bool)
	for _, v := range cfg.ExcludeModels {
		exc[v] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		logger:  logger.Named("audit"),
		done:    make(chan struct{}),
		exclude: exc,
		now:     func() time.Time { return time.Now().UTC() },
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		request_id     TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL DEFAULT '',
		team_id        TEXT,
		project_id     TEXT,
		provider       TEXT,
		model          TEXT NOT NULL DEFAULT '',
		rules_applied  TEXT,
		cache_hit      INTEGER NOT NULL DEFAULT 0,
		outcome        TEXT NOT NULL,
		estimated_cost REAL NOT NULL DEFAULT 0,
		actual_cost    REAL NOT NULL DEFAULT 0,
		prompt_tokens  INTEGER,
		output_tokens  INTEGER,
		latency_ms     INTEGER,
		error          TEXT,
		prompt         TEXT,
		created_at     DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_model ON audit_log(model)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Log inserts an entry. Excluded models are skipped and prompts are kept
// only when configured, truncated to MaxPromptSize.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[entry.Model] {
		return nil
	}

	prompt := entry.Prompt
	if !l.cfg.IncludePrompts {
		prompt = ""
	}
	if l.cfg.MaxPromptSize > 0 {
		prompt = truncate(prompt, l.cfg.MaxPromptSize)
	}

	var rules string
	if len(entry.RulesApplied) > 0 {
		b, _ := json.Marshal(entry.RulesApplied)
		rules = string(b)
	}

	created := entry.CreatedAt
	if created.IsZero() {
		created = l.now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, user_id, team_id, project_id, provider, model,
		 rules_applied, cache_hit, outcome, estimated_cost, actual_cost,
		 prompt_tokens, output_tokens, latency_ms, error, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.UserID, entry.TeamID, entry.ProjectID,
		entry.Provider, entry.Model, rules, entry.CacheHit, entry.Outcome,
		entry.EstimatedCost, entry.ActualCost,
		entry.PromptTokens, entry.OutputTokens, entry.LatencyMs,
		entry.Error, prompt, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// Query returns entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, user_id, team_id, project_id, provider, model,
		rules_applied, cache_hit, outcome, estimated_cost, actual_cost,
		prompt_tokens, output_tokens, latency_ms, error, prompt, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	filters := []struct {
		column, value string
	}{
		{"request_id", opts.RequestID},
		{"model", opts.Model},
		{"provider", opts.Provider},
		{"outcome", opts.Outcome},
		{"user_id", opts.UserID},
	}
	for _, f := range filters {
		if f.value != "" {
			q += " AND " + f.column + " = ?"
			args = append(args, f.value)
		}
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var team, project, provider, rules, errText, prompt sql.NullString
		var promptTokens, outputTokens, latency sql.NullInt64
		if err := rows.Scan(
			&e.RequestID, &e.UserID, &team, &project, &provider, &e.Model,
			&rules, &e.CacheHit, &e.Outcome, &e.EstimatedCost, &e.ActualCost,
			&promptTokens, &outputTokens, &latency, &errText, &prompt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.TeamID = team.String
		e.ProjectID = project.String
		e.Provider = provider.String
		e.Error = errText.String
		e.Prompt = prompt.String
		e.PromptTokens = int(promptTokens.Int64)
		e.OutputTokens = int(outputTokens.Int64)
		e.LatencyMs = latency.Int64
		if rules.Valid && rules.String != "" {
			_ = json.Unmarshal([]byte(rules.String), &e.RulesApplied)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns request counts and actual spend grouped by model and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, date(created_at) as day, count(*) as cnt, coalesce(sum(actual_cost), 0)
		 FROM audit_log GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		if err := rows.Scan(&s.Model, &day, &s.Count, &s.Cost); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.logger.Warn("audit retention failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Info("audit entries expired", zap.Int64("deleted", n))
			}
		}
	}
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
