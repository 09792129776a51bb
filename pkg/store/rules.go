package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pario-ai/steer/pkg/models"
)

// Rules persists steering rules.
type Rules struct {
	db *gorm.DB
}

// NewRules returns a rule repository on db.
func NewRules(db *gorm.DB) *Rules {
	return &Rules{db: db}
}

// List returns every rule in ascending priority order, enabled or not.
func (r *Rules) List(ctx context.Context) ([]models.SteeringRule, error) {
	var rules []models.SteeringRule
	err := r.db.WithContext(ctx).Order("priority").Order("id").Find(&rules).Error
	return rules, Wrap("list rules", err)
}

// Get returns the rule with id.
func (r *Rules) Get(ctx context.Context, id string) (*models.SteeringRule, error) {
	var rule models.SteeringRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, Wrap("get rule", err)
	}
	return &rule, nil
}

// Upsert inserts rule or replaces the stored rule with the same id.
func (r *Rules) Upsert(ctx context.Context, rule *models.SteeringRule) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rule).Error
	return Wrap("upsert rule", err)
}

// SetEnabled toggles a rule.
func (r *Rules) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.SteeringRule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return Wrap("update rule", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (r *Rules) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.SteeringRule{}, "id = ?", id)
	if res.Error != nil {
		return Wrap("delete rule", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
