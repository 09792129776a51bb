package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/steer/pkg/models"
)

// document is the view of a request that rule conditions address.
type document map[string]any

func newDocument(req *models.SelectionRequest, prompt string, tokens int) document {
	meta := map[string]any{}
	if req.Metadata.TaskType != "" {
		meta["task_type"] = req.Metadata.TaskType
	}
	if req.Metadata.QualityRequirement != "" {
		meta["quality_requirement"] = req.Metadata.QualityRequirement
	}
	if req.Metadata.BudgetPriority != "" {
		meta["budget_priority"] = req.Metadata.BudgetPriority
	}
	cons := map[string]any{}
	if req.Constraints.MaxCost != nil {
		cons["max_cost"] = *req.Constraints.MaxCost
	}
	if req.Constraints.MinQuality != nil {
		cons["min_quality"] = *req.Constraints.MinQuality
	}
	if len(req.Constraints.ExcludedModels) > 0 {
		cons["excluded_models"] = req.Constraints.ExcludedModels
	}

	doc := document{
		"prompt":           prompt,
		"prompt_length":    float64(utf8.RuneCountInString(prompt)),
		"estimated_tokens": float64(tokens),
		"metadata":         meta,
		"constraints":      cons,
	}
	ctx := map[string]any{}
	for k, v := range req.Context {
		ctx[k] = v
	}
	doc["context"] = ctx

	for k, v := range map[string]string{
		"user_id":         req.Scope.UserID,
		"team_id":         req.Scope.TeamID,
		"project_id":      req.Scope.ProjectID,
		"organization_id": req.Scope.OrganizationID,
	} {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

// lookup resolves a dotted field path.
func (d document) lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// evaluator compares a resolved field against a rule value.
type evaluator func(field, value any, caseSensitive bool) bool

var evaluators = [models.NumOperators]evaluator{
	models.OpEquals:      equals,
	models.OpContains:    contains,
	models.OpStartsWith:  stringOp(strings.HasPrefix),
	models.OpEndsWith:    stringOp(strings.HasSuffix),
	models.OpGreaterThan: numericOp(func(a, b float64) bool { return a > b }),
	models.OpLessThan:    numericOp(func(a, b float64) bool { return a < b }),
	models.OpIn:          in,
	models.OpNotIn:       func(f, v any, cs bool) bool { return !in(f, v, cs) },
}

// matches reports whether every condition holds for d.
func matches(conds []models.Condition, d document) bool {
	for _, c := range conds {
		field, ok := d.lookup(c.Field)
		if !ok {
			if c.Operator == models.OpNotIn {
				continue
			}
			return false
		}
		if !evaluators[c.Operator](field, c.Value, c.CaseSensitive) {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func equals(field, value any, caseSensitive bool) bool {
	if fb, ok := field.(bool); ok {
		if vb, ok := value.(bool); ok {
			return fb == vb
		}
	}
	_, fs := field.(string)
	_, vs := value.(string)
	if !fs || !vs {
		if a, ok := toFloat(field); ok {
			if b, ok := toFloat(value); ok {
				return a == b
			}
		}
	}
	return fold(toString(field), caseSensitive) == fold(toString(value), caseSensitive)
}

func list(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func contains(field, value any, caseSensitive bool) bool {
	if items, ok := list(field); ok {
		for _, it := range items {
			if equals(it, value, caseSensitive) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fold(toString(field), caseSensitive), fold(toString(value), caseSensitive))
}

func in(field, value any, caseSensitive bool) bool {
	items, ok := list(value)
	if !ok {
		return equals(field, value, caseSensitive)
	}
	for _, it := range items {
		if equals(field, it, caseSensitive) {
			return true
		}
	}
	return false
}

func stringOp(op func(s, affix string) bool) evaluator {
	return func(field, value any, caseSensitive bool) bool {
		return op(fold(toString(field), caseSensitive), fold(toString(value), caseSensitive))
	}
}

func numericOp(cmp func(a, b float64) bool) evaluator {
	return func(field, value any, _ bool) bool {
		a, ok := toFloat(field)
		if !ok {
			return false
		}
		b, ok := toFloat(value)
		return ok && cmp(a, b)
	}
}
