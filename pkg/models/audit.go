package models

import "time"

// AuditEntry records one gateway decision and its outcome.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	TeamID        string    `json:"team_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	RulesApplied  []string  `json:"rules_applied,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	Outcome       string    `json:"outcome"`
	EstimatedCost float64   `json:"estimated_cost"`
	ActualCost    float64   `json:"actual_cost"`
	PromptTokens  int       `json:"prompt_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Audit outcomes.
const (
	OutcomeServed   = "served"
	OutcomeCached   = "cached"
	OutcomeBlocked  = "blocked"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DBPath         string   `yaml:"db_path"`
	RetentionDays  int      `yaml:"retention_days"`
	IncludePrompts bool     `yaml:"include_prompts"`
	ExcludeModels  []string `yaml:"exclude_models"`
	MaxPromptSize  int      `yaml:"max_prompt_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Model     string
	Provider  string
	Outcome   string
	UserID    string
	RequestID string
	Since     time.Time
	Limit     int
}

// AuditStat holds aggregate audit counts for a model/day combination.
type AuditStat struct {
	Model string  `json:"model"`
	Day   string  `json:"day"`
	Count int     `json:"count"`
	Cost  float64 `json:"cost"`
}
