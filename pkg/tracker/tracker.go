// Package tracker accounts spend against budgets and derives their status.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/notify"
	"github.com/pario-ai/steer/pkg/store"
)

// ErrBudgetNotFound is returned for an unknown budget id.
var ErrBudgetNotFound = errors.New("budget not found")

// Tracker records usage and computes budget status from the usage ledger.
type Tracker struct {
	db       *gorm.DB
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a Tracker over db. notifier may be nil.
func New(db *gorm.DB, notifier notify.Notifier, logger *zap.Logger) *Tracker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		db:       db,
		notifier: notifier,
		logger:   logger.Named("tracker"),
		now:      time.Now,
	}
}

func lookupErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBudgetNotFound
	}
	return store.Wrap(op, err)
}

// RecordUsage appends a usage record and bumps the running total in one
// transaction. Concurrent calls for the same budget are serialized by the
// database.
func (t *Tracker) RecordUsage(ctx context.Context, budgetID string, req models.RecordUsageRequest) (*models.UsageRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := t.now().UTC()
	rec := &models.UsageRecord{
		ID:          uuid.NewString(),
		BudgetID:    budgetID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Timestamp:   now,
		Source:      req.Source,
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	var (
		budget models.Budget
		after  float64
	)
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&budget, "id = ?", budgetID).Error; err != nil {
			return lookupErr("load budget", err)
		}
		if !strings.EqualFold(budget.Currency, req.Currency) {
			return &models.ValidationError{
				Field:   "currency",
				Message: fmt.Sprintf("budget is accounted in %s, got %s", budget.Currency, req.Currency),
			}
		}
		if err := tx.Create(rec).Error; err != nil {
			return store.Wrap("insert usage", err)
		}

		start, _ := budget.Window(now)
		key := models.PeriodKey(start)
		seed := models.BudgetStatusCache{BudgetID: budgetID, PeriodKey: key, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return store.Wrap("seed status cache", err)
		}
		err := tx.Model(&models.BudgetStatusCache{}).
			Where("budget_id = ?", budgetID).
			Updates(map[string]any{
				"current_amount": gorm.Expr("CASE WHEN period_key = ? THEN current_amount + ? ELSE ? END", key, req.Amount, req.Amount),
				"period_key":     key,
				"updated_at":     now,
			}).Error
		if err != nil {
			return store.Wrap("update status cache", err)
		}

		var cache models.BudgetStatusCache
		if err := tx.First(&cache, "budget_id = ?", budgetID).Error; err != nil {
			return store.Wrap("read status cache", err)
		}
		after = cache.CurrentAmount
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Debug("usage recorded",
		zap.String("budget_id", budgetID),
		zap.Float64("amount", req.Amount),
		zap.String("source", req.Source),
	)
	t.publishCrossings(ctx, &budget, after-req.Amount, after)
	return rec, nil
}

// publishCrossings notifies every alert whose threshold lies in (before, after].
func (t *Tracker) publishCrossings(ctx context.Context, b *models.Budget, before, after float64) {
	if b.Amount <= 0 {
		return
	}
	pctBefore := before / b.Amount * 100
	pctAfter := after / b.Amount * 100
	for _, alert := range sortedAlerts(b.Alerts) {
		if pctBefore < alert.Threshold && alert.Threshold <= pctAfter {
			event := notify.NewAlertEvent(b, alert, after, pctAfter)
			if err := t.notifier.Notify(ctx, event); err != nil {
				t.logger.Warn("alert delivery failed", zap.String("budget_id", b.ID), zap.Error(err))
			}
		}
	}
}

func sortedAlerts(alerts []models.Alert) []models.Alert {
	out := make([]models.Alert, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

func (t *Tracker) loadBudget(ctx context.Context, budgetID string) (*models.Budget, error) {
	var b models.Budget
	if err := t.db.WithContext(ctx).First(&b, "id = ?", budgetID).Error; err != nil {
		return nil, lookupErr("load budget", err)
	}
	return &b, nil
}

// CurrentSpend sums the usage of b inside the period containing now. An
// expired budget also counts usage recorded after its end date.
func (t *Tracker) CurrentSpend(ctx context.Context, b *models.Budget) (float64, time.Time, time.Time, error) {
	now := t.now().UTC()
	start, end := b.Window(now)
	q := t.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("budget_id = ? AND recorded_at >= ?", b.ID, start.UTC())
	if !b.Expired(now) {
		q = q.Where("recorded_at < ?", end.UTC())
	}
	var total float64
	err := q.Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	if err != nil {
		return 0, start, end, store.Wrap("sum usage", err)
	}
	return total, start, end, nil
}

// GetBudgetStatus derives the current status of a budget.
func (t *Tracker) GetBudgetStatus(ctx context.Context, budgetID string) (*models.BudgetStatus, error) {
	b, err := t.loadBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	current, start, end, err := t.CurrentSpend(ctx, b)
	if err != nil {
		return nil, err
	}
	return computeStatus(b, current, t.now().UTC(), start, end), nil
}

func computeStatus(b *models.Budget, current float64, now, start, end time.Time) *models.BudgetStatus {
	var pct float64
	if b.Amount > 0 {
		pct = current / b.Amount * 100
	}
	elapsedDays := math.Max(1, now.Sub(start).Hours()/24)
	burn := current / elapsedDays
	remainingDays := math.Max(0, end.Sub(now).Hours()/24)

	st := &models.BudgetStatus{
		BudgetID:       b.ID,
		CurrentAmount:  current,
		Limit:          b.Amount,
		Currency:       b.Currency,
		PercentUsed:    pct,
		Remaining:      remaining(b, current, now),
		DaysRemaining:  int(math.Ceil(remainingDays)),
		BurnRate:       burn,
		ProjectedTotal: current + burn*remainingDays,
		Status:         level(b, current, pct, now),
		ActiveAlerts:   []models.Alert{},
		PeriodStart:    start,
		PeriodEnd:      end,
	}
	for _, a := range sortedAlerts(b.Alerts) {
		if a.Threshold <= pct {
			st.ActiveAlerts = append(st.ActiveAlerts, a)
		}
	}
	return st
}

func remaining(b *models.Budget, current float64, now time.Time) float64 {
	if b.Expired(now) {
		return 0
	}
	return math.Max(0, b.Amount-current)
}

func level(b *models.Budget, current, pct float64, now time.Time) models.StatusLevel {
	switch {
	case current >= b.Amount, b.Expired(now):
		return models.StatusExceeded
	case b.CriticalThreshold != nil && pct >= *b.CriticalThreshold:
		return models.StatusCritical
	case b.WarningThreshold != nil && pct >= *b.WarningThreshold:
		return models.StatusWarning
	default:
		return models.StatusOK
	}
}

// CheckBudgetConstraints projects estimatedCost onto the budget's current spend.
func (t *Tracker) CheckBudgetConstraints(ctx context.Context, budgetID string, estimatedCost float64) (models.ConstraintCheck, error) {
	b, err := t.loadBudget(ctx, budgetID)
	if err != nil {
		return models.ConstraintCheck{BudgetID: budgetID}, err
	}
	return t.CheckBudget(ctx, b, estimatedCost)
}

// CheckBudget is CheckBudgetConstraints for an already loaded budget.
func (t *Tracker) CheckBudget(ctx context.Context, b *models.Budget, estimatedCost float64) (models.ConstraintCheck, error) {
	check := models.ConstraintCheck{
		BudgetID:         b.ID,
		ScopeType:        b.ScopeType,
		ScopeID:          b.ScopeID,
		SuggestedActions: []models.Action{},
	}
	current, _, _, err := t.CurrentSpend(ctx, b)
	if err != nil {
		check.Reason = "budget state unavailable"
		return check, err
	}
	check = evaluate(b, current, estimatedCost, check)
	if now := t.now().UTC(); b.Expired(now) {
		_, end := b.Window(now)
		check.CanProceed = false
		check.Reason = fmt.Sprintf("budget %q expired on %s", b.Name, end.Format(time.DateOnly))
	}
	return check, nil
}

func evaluate(b *models.Budget, current, estimatedCost float64, check models.ConstraintCheck) models.ConstraintCheck {
	projected := math.Inf(1)
	if b.Amount > 0 {
		projected = (current + estimatedCost) / b.Amount * 100
	}
	check.ProjectedPercent = projected

	var applicable *models.Alert
	alerts := sortedAlerts(b.Alerts)
	for i := range alerts {
		if alerts[i].Threshold <= projected {
			applicable = &alerts[i]
		}
	}
	if applicable != nil {
		check.SuggestedActions = append(check.SuggestedActions, applicable.Actions...)
	}

	check.CanProceed = true
	if projected >= 100 {
		check.CanProceed = false
		check.Reason = fmt.Sprintf("budget %q would reach %.1f%% of its %.2f %s limit",
			b.Name, projected, b.Amount, b.Currency)
		return check
	}
	for _, a := range check.SuggestedActions {
		if a.Blocking() {
			check.CanProceed = false
			check.Reason = fmt.Sprintf("budget %q at projected %.1f%% requires %s", b.Name, projected, a)
			break
		}
	}
	return check
}

// ListUsage returns the usage records of a budget since the given time, newest first.
func (t *Tracker) ListUsage(ctx context.Context, budgetID string, since time.Time, limit int) ([]models.UsageRecord, error) {
	if _, err := t.loadBudget(ctx, budgetID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	q := t.db.WithContext(ctx).Where("budget_id = ?", budgetID)
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since.UTC())
	}
	var recs []models.UsageRecord
	if err := q.Order("recorded_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, store.Wrap("list usage", err)
	}
	return recs, nil
}
