package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/spend"
	"github.com/pario-ai/steer/pkg/tracker"
)

// ErrBudgetExceeded is matched by every ConstraintError.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ConstraintError carries the checks that refused a request.
type ConstraintError struct {
	Result models.RequestConstraintResult
}

func (e *ConstraintError) Error() string {
	return "budget exceeded: " + e.Result.Reason
}

func (e *ConstraintError) Unwrap() error { return ErrBudgetExceeded }

// Integration applies every budget covering a request scope.
type Integration struct {
	registry *Registry
	tracker  *tracker.Tracker
	currency string
	logger   *zap.Logger
}

// NewIntegration returns an Integration. Spend is recorded in currency;
// budgets kept in another currency are skipped when recording.
func NewIntegration(reg *Registry, tr *tracker.Tracker, currency string, logger *zap.Logger) *Integration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Integration{registry: reg, tracker: tr, currency: currency, logger: logger.Named("budget")}
}

// CheckRequestConstraints checks every active budget of every scope in the
// request. Each budget is checked on its own and the request may proceed only
// if all of them allow it. A storage failure refuses the request.
func (i *Integration) CheckRequestConstraints(ctx context.Context, scope models.RequestScope, estimatedCost float64) (models.RequestConstraintResult, error) {
	res := models.RequestConstraintResult{
		CanProceed:       true,
		SuggestedActions: []models.Action{},
		BudgetChecks:     []models.ConstraintCheck{},
	}
	failClosed := func(ref models.ScopeRef, err error) (models.RequestConstraintResult, error) {
		res.CanProceed = false
		res.Reason = fmt.Sprintf("budget state unavailable for %s", ref)
		i.logger.Error("budget check failed", zap.Stringer("scope", ref), zap.Error(err))
		return res, err
	}

	for _, ref := range scope.Scopes() {
		budgets, err := i.registry.ListBudgets(ctx, ref.Type, ref.ID)
		if err != nil {
			return failClosed(ref, err)
		}
		for idx := range budgets {
			check, err := i.tracker.CheckBudget(ctx, &budgets[idx], estimatedCost)
			if err != nil {
				return failClosed(ref, err)
			}
			res.BudgetChecks = append(res.BudgetChecks, check)
			if !check.CanProceed && res.CanProceed {
				res.CanProceed = false
				res.Reason = check.Reason
			}
			res.SuggestedActions = spend.MergeActions(res.SuggestedActions, check.SuggestedActions)
		}
	}
	return res, nil
}

// RecordRequestUsage records amount against every active budget of the scope.
// Non-positive amounts record nothing.
func (i *Integration) RecordRequestUsage(ctx context.Context, scope models.RequestScope, amount float64, source string, metadata map[string]string) ([]models.UsageRecord, error) {
	if amount <= 0 {
		return nil, nil
	}
	var (
		recs []models.UsageRecord
		errs []error
	)
	for _, ref := range scope.Scopes() {
		budgets, err := i.registry.ListBudgets(ctx, ref.Type, ref.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, b := range budgets {
			if i.currency != "" && !strings.EqualFold(b.Currency, i.currency) {
				i.logger.Warn("skip usage for budget in other currency",
					zap.String("budget_id", b.ID), zap.String("currency", b.Currency))
				continue
			}
			rec, err := i.tracker.RecordUsage(ctx, b.ID, models.RecordUsageRequest{
				Amount:      amount,
				Currency:    b.Currency,
				Source:      source,
				Description: fmt.Sprintf("request spend for %s", ref),
				Metadata:    metadata,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("record usage for budget %s: %w", b.ID, err))
				continue
			}
			recs = append(recs, *rec)
		}
	}
	return recs, errors.Join(errs...)
}

// LedgerGuard exposes the persistent budgets as a spend.Guard.
type LedgerGuard struct {
	Integration *Integration
	Source      string
}

// Check runs CheckRequestConstraints.
func (g LedgerGuard) Check(ctx context.Context, scope models.RequestScope, estimatedCost float64) (spend.Verdict, error) {
	res, err := g.Integration.CheckRequestConstraints(ctx, scope, estimatedCost)
	return spend.Verdict{
		CanProceed:       res.CanProceed,
		Reason:           res.Reason,
		SuggestedActions: res.SuggestedActions,
	}, err
}

// Record runs RecordRequestUsage with the metadata attached to ctx.
func (g LedgerGuard) Record(ctx context.Context, scope models.RequestScope, amount float64) error {
	source := g.Source
	if source == "" {
		source = "gateway"
	}
	_, err := g.Integration.RecordRequestUsage(ctx, scope, amount, source, spend.MetadataFrom(ctx))
	return err
}
