package models

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date, in UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func checkPercent(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 100) {
		return invalid(field, "must be between 0 and 100")
	}
	return nil
}

func checkAlerts(alerts []Alert) error {
	for i, a := range alerts {
		field := fmt.Sprintf("alerts[%d]", i)
		if a.Threshold < 0 || a.Threshold > 100 {
			return invalid(field+".threshold", "must be between 0 and 100")
		}
		if len(a.Actions) == 0 {
			return invalid(field+".actions", "at least one action is required")
		}
		for _, act := range a.Actions {
			if !act.Valid() {
				return invalid(field+".actions", "unknown action %q", act)
			}
		}
	}
	return nil
}

// Validate checks every field of the request before it reaches storage.
func (r *CreateBudgetRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name", "is required")
	}
	if !r.ScopeType.Valid() {
		return invalid("scope_type", "must be one of organization, team, user, project")
	}
	if strings.TrimSpace(r.ScopeID) == "" {
		return invalid("scope_id", "is required")
	}
	if r.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return invalid("currency", "is required")
	}
	if !r.Period.Valid() {
		return invalid("period", "must be one of daily, weekly, monthly, quarterly, annual, custom")
	}
	start, err := ParseDate(r.StartDate)
	if err != nil {
		return invalid("start_date", "must be an ISO-8601 date")
	}
	if r.EndDate != "" {
		end, err := ParseDate(r.EndDate)
		if err != nil {
			return invalid("end_date", "must be an ISO-8601 date")
		}
		if !end.After(start) {
			return invalid("end_date", "must be after start_date")
		}
	} else if r.Period == PeriodCustom {
		return invalid("end_date", "is required for custom periods")
	}
	if err := checkPercent("warning_threshold", r.WarningThreshold); err != nil {
		return err
	}
	if err := checkPercent("critical_threshold", r.CriticalThreshold); err != nil {
		return err
	}
	if r.WarningThreshold != nil && r.CriticalThreshold != nil && *r.CriticalThreshold <= *r.WarningThreshold {
		return invalid("critical_threshold", "must be greater than warning_threshold")
	}
	for _, a := range []struct {
		field string
		act   Action
	}{
		{"warning_action", r.WarningAction},
		{"critical_action", r.CriticalAction},
		{"exhausted_action", r.ExhaustedAction},
	} {
		if a.act != "" && !a.act.Valid() {
			return invalid(a.field, "unknown action %q", a.act)
		}
	}
	return checkAlerts(r.Alerts)
}

// Validate checks the mutable fields of an update.
func (r *UpdateBudgetRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return invalid("name", "must not be empty")
	}
	if r.Amount != nil && *r.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if err := checkPercent("warning_threshold", r.WarningThreshold); err != nil {
		return err
	}
	if err := checkPercent("critical_threshold", r.CriticalThreshold); err != nil {
		return err
	}
	if r.WarningThreshold != nil && r.CriticalThreshold != nil && *r.CriticalThreshold <= *r.WarningThreshold {
		return invalid("critical_threshold", "must be greater than warning_threshold")
	}
	return checkAlerts(r.Alerts)
}

// Validate checks a usage payload.
func (r *RecordUsageRequest) Validate() error {
	if r.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return invalid("currency", "is required")
	}
	if strings.TrimSpace(r.Source) == "" {
		return invalid("source", "is required")
	}
	return nil
}

var (
	validRoles = map[string]bool{
		RoleSystem: true, RoleUser: true, RoleAssistant: true, RoleFunction: true,
	}
	validTaskTypes = map[string]bool{
		TaskGeneralChat: true, TaskCreativeWriting: true, TaskCodeGeneration: true,
		TaskDataAnalysis: true, TaskReasoning: true, TaskSummarization: true,
		TaskTranslation: true, TaskQuestionAnswering: true,
	}
	validQuality = map[string]bool{"standard": true, "high": true, "maximum": true}
	validBudget  = map[string]bool{"cost-saving": true, "balanced": true, "quality-first": true}
)

// Validate checks a selection request. requireID is set for create requests.
func (r *SelectionRequest) Validate(requireID bool) error {
	if requireID && strings.TrimSpace(r.RequestID) == "" {
		return invalid("request_id", "is required")
	}
	if len(r.Messages) == 0 && strings.TrimSpace(r.Prompt) == "" {
		return invalid("content", "either messages or prompt is required")
	}
	for i, m := range r.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		if !validRoles[m.Role] {
			return invalid(field+".role", "must be one of system, user, assistant, function")
		}
		if m.Role != RoleFunction && m.Content == "" {
			return invalid(field+".content", "is required")
		}
		if m.FunctionCall != nil && strings.TrimSpace(m.FunctionCall.Name) == "" {
			return invalid(field+".function_call.name", "is required")
		}
	}
	if t := r.Metadata.TaskType; t != "" && !validTaskTypes[t] {
		return invalid("metadata.task_type", "unknown task type %q", t)
	}
	if q := r.Metadata.QualityRequirement; q != "" && !validQuality[q] {
		return invalid("metadata.quality_requirement", "must be one of standard, high, maximum")
	}
	if b := r.Metadata.BudgetPriority; b != "" && !validBudget[b] {
		return invalid("metadata.budget_priority", "must be one of cost-saving, balanced, quality-first")
	}
	if c := r.Constraints.MaxCost; c != nil && *c < 0 {
		return invalid("constraints.max_cost", "must not be negative")
	}
	return checkPercent("constraints.min_quality", r.Constraints.MinQuality)
}
