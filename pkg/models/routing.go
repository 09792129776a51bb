package models

import (
	"fmt"
	"time"
)

// Operator is a steering rule comparison.
type Operator int

const (
	OpEquals Operator = iota
	OpContains
	OpStartsWith
	OpEndsWith
	OpGreaterThan
	OpLessThan
	OpIn
	OpNotIn

	// NumOperators is the number of defined operators.
	NumOperators
)

var operatorNames = [NumOperators]string{
	OpEquals:      "equals",
	OpContains:    "contains",
	OpStartsWith:  "starts_with",
	OpEndsWith:    "ends_with",
	OpGreaterThan: "greater_than",
	OpLessThan:    "less_than",
	OpIn:          "in",
	OpNotIn:       "not_in",
}

// Operators returns every defined operator.
func Operators() []Operator {
	ops := make([]Operator, 0, NumOperators)
	for op := range NumOperators {
		ops = append(ops, op)
	}
	return ops
}

func (o Operator) String() string {
	if o < 0 || o >= NumOperators {
		return fmt.Sprintf("operator(%d)", int(o))
	}
	return operatorNames[o]
}

// ParseOperator maps an operator name to its Operator.
func ParseOperator(name string) (Operator, error) {
	for i, n := range operatorNames {
		if n == name {
			return Operator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (o Operator) MarshalText() ([]byte, error) {
	if o < 0 || o >= NumOperators {
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}
	return []byte(operatorNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Condition matches one field of a routing request.
type Condition struct {
	Field         string   `json:"field" yaml:"field"`
	Operator      Operator `json:"operator" yaml:"operator"`
	Value         any      `json:"value" yaml:"value"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" yaml:"case_sensitive"`
}

// RuleAction is the routing target a matching rule selects.
type RuleAction struct {
	Provider         string  `json:"provider" yaml:"provider"`
	Model            string  `json:"model" yaml:"model"`
	FallbackProvider string  `json:"fallback_provider,omitempty" yaml:"fallback_provider"`
	FallbackModel    string  `json:"fallback_model,omitempty" yaml:"fallback_model"`
	Confidence       float64 `json:"confidence,omitempty" yaml:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty" yaml:"reasoning"`
}

// SteeringRule selects a routing target when all of its conditions match.
type SteeringRule struct {
	ID         string      `gorm:"primaryKey;size:64" json:"id" yaml:"id"`
	Name       string      `gorm:"not null" json:"name" yaml:"name"`
	Tag        string      `gorm:"size:64" json:"tag" yaml:"tag"`
	Conditions []Condition `gorm:"serializer:json" json:"conditions" yaml:"conditions"`
	Action     RuleAction  `gorm:"serializer:json" json:"action" yaml:"action"`
	Priority   int         `gorm:"index" json:"priority" yaml:"priority"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
	UpdatedAt  time.Time   `json:"updated_at" yaml:"-"`
}

// RoutingDecision is the provider and model chosen for a request.
type RoutingDecision struct {
	Provider            string        `json:"provider"`
	Model               string        `json:"model"`
	EstimatedCost       float64       `json:"estimated_cost"`
	ExpectedLatency     time.Duration `json:"expected_latency"`
	ConfidenceScore     float64       `json:"confidence_score"`
	Reasoning           string        `json:"reasoning"`
	FallbackProvider    string        `json:"fallback_provider,omitempty"`
	FallbackModel       string        `json:"fallback_model,omitempty"`
	RoutingRulesApplied []string      `json:"routing_rules_applied"`
}
