package models

import (
	"fmt"
	"time"
)

// ScopeType identifies what a budget limits spend for.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeTeam         ScopeType = "team"
	ScopeUser         ScopeType = "user"
	ScopeProject      ScopeType = "project"
)

// Valid reports whether s is a known scope type.
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeTeam, ScopeUser, ScopeProject:
		return true
	}
	return false
}

// Period defines the time window of a budget.
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
	PeriodCustom    Period = "custom"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodAnnual, PeriodCustom:
		return true
	}
	return false
}

// Advance returns the end of a period that starts at t.
// Custom periods have no implicit length and report ok=false.
func (p Period) Advance(t time.Time) (time.Time, bool) {
	switch p {
	case PeriodDaily:
		return t.AddDate(0, 0, 1), true
	case PeriodWeekly:
		return t.AddDate(0, 0, 7), true
	case PeriodMonthly:
		return t.AddDate(0, 1, 0), true
	case PeriodQuarterly:
		return t.AddDate(0, 3, 0), true
	case PeriodAnnual:
		return t.AddDate(0, 12, 0), true
	}
	return time.Time{}, false
}

// Action is a threshold action taken when spend crosses an alert threshold.
type Action string

const (
	ActionNotify          Action = "notify"
	ActionRestrictModels  Action = "restrict-models"
	ActionRequireApproval Action = "require-approval"
	ActionBlockAll        Action = "block-all"
	ActionAutoDowngrade   Action = "auto-downgrade"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionNotify, ActionRestrictModels, ActionRequireApproval, ActionBlockAll, ActionAutoDowngrade:
		return true
	}
	return false
}

// Blocking reports whether the action stops a request from proceeding.
func (a Action) Blocking() bool {
	return a == ActionRequireApproval || a == ActionBlockAll
}

// Alert is a percentage threshold with the actions it triggers.
type Alert struct {
	Threshold            float64  `json:"threshold" yaml:"threshold"`
	Actions              []Action `json:"actions" yaml:"actions"`
	NotificationChannels []string `json:"notification_channels,omitempty" yaml:"notification_channels"`
}

// Budget is a scoped spending limit.
type Budget struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	Name              string     `gorm:"not null" json:"name"`
	ScopeType         ScopeType  `gorm:"size:32;not null;index:idx_budget_scope" json:"scope_type"`
	ScopeID           string     `gorm:"size:128;not null;index:idx_budget_scope" json:"scope_id"`
	Amount            float64    `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"size:8;not null" json:"currency"`
	Period            Period     `gorm:"size:16;not null" json:"period"`
	StartDate         time.Time  `gorm:"not null" json:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Recurring         bool       `json:"recurring"`
	ParentBudgetID    *string    `gorm:"size:36;index" json:"parent_budget_id,omitempty"`
	Alerts            []Alert    `gorm:"serializer:json" json:"alerts"`
	Tags              []string   `gorm:"serializer:json" json:"tags,omitempty"`
	WarningThreshold  *float64   `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64   `json:"critical_threshold,omitempty"`
	Active            bool       `gorm:"not null;index" json:"active"`
	CreatedBy         string     `gorm:"size:128" json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Window returns the accounting period containing now. Recurring budgets
// roll forward past their end date; others stay on their configured window.
func (b *Budget) Window(now time.Time) (start, end time.Time) {
	start = b.StartDate
	if b.EndDate != nil {
		end = *b.EndDate
	} else if e, ok := b.Period.Advance(start); ok {
		end = e
	} else {
		return start, start
	}
	if !b.Recurring {
		return start, end
	}
	span := end.Sub(start)
	for span > 0 && !now.Before(end) {
		start = end
		if e, ok := b.Period.Advance(start); ok {
			end = e
		} else {
			end = start.Add(span)
		}
	}
	return start, end
}

// Expired reports whether a non-recurring budget's window closed before now.
func (b *Budget) Expired(now time.Time) bool {
	if b.Recurring {
		return false
	}
	start, end := b.Window(now)
	return end.After(start) && !now.Before(end)
}

// BudgetStatusCache is the running total kept next to every budget row.
type BudgetStatusCache struct {
	BudgetID      string    `gorm:"primaryKey;size:36"`
	CurrentAmount float64   `gorm:"not null"`
	PeriodKey     string    `gorm:"size:40;not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName pins the status cache table name.
func (BudgetStatusCache) TableName() string { return "budget_status_cache" }

// PeriodKey formats a window start as a stable comparison key.
func PeriodKey(start time.Time) string {
	return start.UTC().Format(time.RFC3339)
}

// StatusLevel summarizes how close a budget is to its limit.
type StatusLevel string

const (
	StatusOK       StatusLevel = "ok"
	StatusWarning  StatusLevel = "warning"
	StatusCritical StatusLevel = "critical"
	StatusExceeded StatusLevel = "exceeded"
)

// BudgetStatus is derived on read from the usage ledger.
type BudgetStatus struct {
	BudgetID       string      `json:"budget_id"`
	CurrentAmount  float64     `json:"current_amount"`
	Limit          float64     `json:"limit"`
	Currency       string      `json:"currency"`
	PercentUsed    float64     `json:"percent_used"`
	Remaining      float64     `json:"remaining"`
	DaysRemaining  int         `json:"days_remaining"`
	BurnRate       float64     `json:"burn_rate"`
	ProjectedTotal float64     `json:"projected_total"`
	Status         StatusLevel `json:"status"`
	ActiveAlerts   []Alert     `json:"active_alerts"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
}

// ConstraintCheck is the outcome of checking one budget against an estimated cost.
type ConstraintCheck struct {
	BudgetID         string    `json:"budget_id"`
	ScopeType        ScopeType `json:"scope_type,omitempty"`
	ScopeID          string    `json:"scope_id,omitempty"`
	CanProceed       bool      `json:"can_proceed"`
	Reason           string    `json:"reason,omitempty"`
	ProjectedPercent float64   `json:"projected_percent"`
	SuggestedActions []Action  `json:"suggested_actions"`
}

// RequestConstraintResult aggregates the budget checks for one request.
type RequestConstraintResult struct {
	CanProceed       bool              `json:"can_proceed"`
	Reason           string            `json:"reason,omitempty"`
	SuggestedActions []Action          `json:"suggested_actions"`
	BudgetChecks     []ConstraintCheck `json:"budget_checks"`
}

// RequestScope names the budget scopes a request is accounted against.
type RequestScope struct {
	OrganizationID string `json:"organization_id,omitempty"`
	UserID         string `json:"user_id"`
	TeamID         string `json:"team_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

// Scopes lists the non-empty scopes in evaluation order.
func (s RequestScope) Scopes() []ScopeRef {
	var refs []ScopeRef
	add := func(t ScopeType, id string) {
		if id != "" {
			refs = append(refs, ScopeRef{Type: t, ID: id})
		}
	}
	add(ScopeUser, s.UserID)
	add(ScopeTeam, s.TeamID)
	add(ScopeProject, s.ProjectID)
	add(ScopeOrganization, s.OrganizationID)
	return refs
}

// ScopeRef identifies a single budget scope.
type ScopeRef struct {
	Type ScopeType
	ID   string
}

func (r ScopeRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// CreateBudgetRequest is the administrative payload for a new budget.
type CreateBudgetRequest struct {
	Name              string    `json:"name"`
	ScopeType         ScopeType `json:"scope_type"`
	ScopeID           string    `json:"scope_id"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Period            Period    `json:"period"`
	StartDate         string    `json:"start_date"`
	EndDate           string    `json:"end_date,omitempty"`
	Recurring         bool      `json:"recurring"`
	ParentBudgetID    string    `json:"parent_budget_id,omitempty"`
	WarningThreshold  *float64  `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64  `json:"critical_threshold,omitempty"`
	WarningAction     Action    `json:"warning_action,omitempty"`
	CriticalAction    Action    `json:"critical_action,omitempty"`
	ExhaustedAction   Action    `json:"exhausted_action,omitempty"`
	Alerts            []Alert   `json:"alerts,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
}

// UpdateBudgetRequest carries the mutable budget fields. Nil fields are left unchanged.
type UpdateBudgetRequest struct {
	Name              *string  `json:"name,omitempty"`
	Amount            *float64 `json:"amount,omitempty"`
	WarningThreshold  *float64 `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64 `json:"critical_threshold,omitempty"`
	Alerts            []Alert  `json:"alerts,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}
