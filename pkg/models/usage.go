package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is an append-only entry of spend against a budget.
type UsageRecord struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	BudgetID    string            `gorm:"size:36;not null;index:idx_usage_budget_time" json:"budget_id"`
	Amount      float64           `gorm:"not null" json:"amount"`
	Currency    string            `gorm:"size:8;not null" json:"currency"`
	Timestamp   time.Time         `gorm:"column:recorded_at;not null;index:idx_usage_budget_time" json:"timestamp"`
	Source      string            `gorm:"size:64" json:"source"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
}

// RecordUsageRequest is the payload for accounting spend against a budget.
type RecordUsageRequest struct {
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Source      string            `json:"source"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
