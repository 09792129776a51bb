package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/store"
)

// RuleSource supplies the steering rules.
type RuleSource interface {
	Load(ctx context.Context) ([]models.SteeringRule, error)
}

// StaticSource serves a fixed rule set, typically from the config file.
type StaticSource []models.SteeringRule

// Load returns a copy of the rules.
func (s StaticSource) Load(context.Context) ([]models.SteeringRule, error) {
	return append([]models.SteeringRule(nil), s...), nil
}

// DBSource reads rules from the steering_rules table.
type DBSource struct {
	Rules *store.Rules
}

// Load lists the stored rules.
func (s DBSource) Load(ctx context.Context) ([]models.SteeringRule, error) {
	return s.Rules.List(ctx)
}

// ValidateRule rejects rules the engine cannot evaluate.
func ValidateRule(r models.SteeringRule) error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if r.Action.Provider == "" || r.Action.Model == "" {
		return fmt.Errorf("rule %q: action requires provider and model", r.ID)
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			return fmt.Errorf("rule %q: condition %d has no field", r.ID, i)
		}
		if c.Operator < 0 || c.Operator >= models.NumOperators {
			return fmt.Errorf("rule %q: condition %d: unknown operator %d", r.ID, i, int(c.Operator))
		}
	}
	return nil
}
