// Package budget manages scoped spending limits and applies them to requests.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/store"
	"github.com/pario-ai/steer/pkg/tracker"
)

// ErrBudgetNotFound is returned for an unknown budget or parent budget.
var ErrBudgetNotFound = tracker.ErrBudgetNotFound

// Registry creates, lists and updates budgets.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry returns a registry on db.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, logger: logger.Named("budget"), now: time.Now}
}

// CreateBudget validates req and stores the budget together with its zeroed
// status row.
func (r *Registry) CreateBudget(ctx context.Context, req models.CreateBudgetRequest, actorID string) (*models.Budget, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start, _ := models.ParseDate(req.StartDate)
	var end time.Time
	if req.EndDate != "" {
		end, _ = models.ParseDate(req.EndDate)
	} else {
		end, _ = req.Period.Advance(start)
	}

	now := r.now().UTC()
	b := &models.Budget{
		ID:                uuid.NewString(),
		Name:              req.Name,
		ScopeType:         req.ScopeType,
		ScopeID:           req.ScopeID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Period:            req.Period,
		StartDate:         start,
		EndDate:           &end,
		Recurring:         req.Recurring,
		Alerts:            deriveAlerts(req),
		Tags:              req.Tags,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		Active:            true,
		CreatedBy:         actorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.ParentBudgetID != "" {
		parent := req.ParentBudgetID
		b.ParentBudgetID = &parent
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b.ParentBudgetID != nil {
			var n int64
			if err := tx.Model(&models.Budget{}).Where("id = ?", *b.ParentBudgetID).Count(&n).Error; err != nil {
				return store.Wrap("check parent", err)
			}
			if n == 0 {
				return fmt.Errorf("parent budget %s: %w", *b.ParentBudgetID, ErrBudgetNotFound)
			}
		}
		if err := tx.Create(b).Error; err != nil {
			return store.Wrap("insert budget", err)
		}
		status := &models.BudgetStatusCache{
			BudgetID:  b.ID,
			PeriodKey: models.PeriodKey(start),
			UpdatedAt: now,
		}
		if err := tx.Create(status).Error; err != nil {
			return store.Wrap("insert status cache", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("budget created",
		zap.String("budget_id", b.ID),
		zap.String("scope", string(b.ScopeType)+":"+b.ScopeID),
		zap.Float64("amount", b.Amount),
		zap.String("period", string(b.Period)),
		zap.String("actor", actorID),
	)
	return b, nil
}

type thresholdMove struct {
	from *float64
	to   float64
}

// moveAlerts shifts each alert sitting at a move's old threshold to the new
// one, keeping its actions. A move with no such alert adds a notify alert.
func moveAlerts(alerts []models.Alert, moves []thresholdMove) []models.Alert {
	if len(moves) == 0 {
		return alerts
	}
	out := append([]models.Alert(nil), alerts...)
	taken := make(map[int]bool, len(moves))
	var added []models.Alert
	for _, m := range moves {
		idx := -1
		if m.from != nil {
			for i := range alerts {
				if !taken[i] && alerts[i].Threshold == *m.from {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			added = append(added, models.Alert{Threshold: m.to, Actions: []models.Action{models.ActionNotify}})
			continue
		}
		taken[idx] = true
		out[idx].Threshold = m.to
	}
	out = append(out, added...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

// deriveAlerts turns the threshold shorthand of a request into alerts and
// merges them with the explicit ones, ordered by threshold.
func deriveAlerts(req models.CreateBudgetRequest) []models.Alert {
	var alerts []models.Alert
	add := func(threshold float64, action models.Action) {
		if action == "" {
			action = models.ActionNotify
		}
		alerts = append(alerts, models.Alert{Threshold: threshold, Actions: []models.Action{action}})
	}
	if req.WarningThreshold != nil {
		add(*req.WarningThreshold, req.WarningAction)
	}
	if req.CriticalThreshold != nil {
		add(*req.CriticalThreshold, req.CriticalAction)
	}
	if req.ExhaustedAction != "" {
		add(100, req.ExhaustedAction)
	}
	alerts = append(alerts, req.Alerts...)
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Threshold < alerts[j].Threshold })
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts
}

// GetBudget returns a budget by id, active or not.
func (r *Registry) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	var b models.Budget
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, store.Wrap("get budget", err)
	}
	return &b, nil
}

// ListBudgets returns the active budgets of a scope, oldest first. An empty
// scopeType lists every active budget.
func (r *Registry) ListBudgets(ctx context.Context, scopeType models.ScopeType, scopeID string) ([]models.Budget, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if scopeType != "" {
		q = q.Where("scope_type = ? AND scope_id = ?", scopeType, scopeID)
	}
	var budgets []models.Budget
	if err := q.Order("created_at").Order("id").Find(&budgets).Error; err != nil {
		return nil, store.Wrap("list budgets", err)
	}
	return budgets, nil
}

// UpdateBudget applies the non-nil fields of req.
func (r *Registry) UpdateBudget(ctx context.Context, id string, req models.UpdateBudgetRequest) (*models.Budget, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var b models.Budget
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&b, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBudgetNotFound
			}
			return store.Wrap("load budget", err)
		}
		if req.Name != nil {
			b.Name = *req.Name
		}
		if req.Amount != nil {
			b.Amount = *req.Amount
		}
		var moves []thresholdMove
		if req.WarningThreshold != nil {
			moves = append(moves, thresholdMove{from: b.WarningThreshold, to: *req.WarningThreshold})
			b.WarningThreshold = req.WarningThreshold
		}
		if req.CriticalThreshold != nil {
			moves = append(moves, thresholdMove{from: b.CriticalThreshold, to: *req.CriticalThreshold})
			b.CriticalThreshold = req.CriticalThreshold
		}
		b.Alerts = moveAlerts(b.Alerts, moves)
		if b.WarningThreshold != nil && b.CriticalThreshold != nil && *b.CriticalThreshold <= *b.WarningThreshold {
			return &models.ValidationError{Field: "critical_threshold", Message: "must be greater than warning_threshold"}
		}
		if req.Alerts != nil {
			alerts := append([]models.Alert(nil), req.Alerts...)
			sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Threshold < alerts[j].Threshold })
			b.Alerts = alerts
		}
		if req.Tags != nil {
			b.Tags = req.Tags
		}
		b.UpdatedAt = r.now().UTC()
		return store.Wrap("save budget", tx.Save(&b).Error)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeactivateBudget marks a budget inactive. Its usage history is kept.
func (r *Registry) DeactivateBudget(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Budget{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": r.now().UTC()})
	if res.Error != nil {
		return store.Wrap("deactivate budget", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBudgetNotFound
	}
	r.logger.Info("budget deactivated", zap.String("budget_id", id))
	return nil
}
