package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pario-ai/steer/pkg/models"
)

func TestEvaluatorsCoverEveryOperator(t *testing.T) {
	for _, op := range models.Operators() {
		assert.NotNil(t, evaluators[op], "operator %s has no evaluator", op)
	}
}

func TestEvaluators(t *testing.T) {
	tests := []struct {
		name  string
		op    models.Operator
		field any
		value any
		cs    bool
		want  bool
	}{
		{"equals string folded", models.OpEquals, "High", "high", false, true},
		{"equals string case sensitive", models.OpEquals, "High", "high", true, false},
		{"equals bool", models.OpEquals, true, true, false, true},
		{"equals bool mismatch", models.OpEquals, false, true, false, false},
		{"equals number and int", models.OpEquals, 3.0, 3, false, true},
		{"equals numeric string", models.OpEquals, "3", 3, false, true},
		{"contains substring", models.OpContains, "Diagnose the ENGINE", "engine", false, true},
		{"contains substring case sensitive", models.OpContains, "Diagnose the ENGINE", "engine", true, false},
		{"contains list element", models.OpContains, []any{"a", "b"}, "b", false, true},
		{"contains list miss", models.OpContains, []string{"a"}, "c", false, false},
		{"starts_with", models.OpStartsWith, "vip-42", "VIP", false, true},
		{"ends_with", models.OpEndsWith, "report.pdf", ".pdf", true, true},
		{"greater_than", models.OpGreaterThan, 600.0, 500, false, true},
		{"greater_than equal", models.OpGreaterThan, 500.0, 500, false, false},
		{"greater_than json number", models.OpGreaterThan, json.Number("7.5"), "7", false, true},
		{"greater_than non numeric", models.OpGreaterThan, "abc", 1, false, false},
		{"less_than", models.OpLessThan, 10, 20.5, false, true},
		{"in", models.OpIn, "team-b", []any{"team-a", "team-b"}, false, true},
		{"in scalar", models.OpIn, "team-b", "team-b", false, true},
		{"in miss", models.OpIn, "team-c", []string{"team-a"}, false, false},
		{"not_in", models.OpNotIn, "team-c", []any{"team-a"}, false, true},
		{"not_in hit", models.OpNotIn, "TEAM-A", []any{"team-a"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluators[tt.op](tt.field, tt.value, tt.cs))
		})
	}
}

func TestDocumentLookup(t *testing.T) {
	req := &models.SelectionRequest{
		Scope:       models.RequestScope{UserID: "u1", TeamID: "t1"},
		Context:     map[string]any{"vehicle": map[string]any{"make": "volvo"}},
		Metadata:    models.SelectionMetadata{TaskType: models.TaskSummarization},
		Constraints: models.SelectionConstraints{MaxCost: ptr(0.5)},
	}
	d := newDocument(req, "héllo", 2)

	v, ok := d.lookup("prompt_length")
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)
	v, _ = d.lookup("context.vehicle.make")
	assert.Equal(t, "volvo", v)
	v, _ = d.lookup("metadata.task_type")
	assert.Equal(t, models.TaskSummarization, v)
	v, _ = d.lookup("constraints.max_cost")
	assert.Equal(t, 0.5, v)
	v, _ = d.lookup("team_id")
	assert.Equal(t, "t1", v)

	_, ok = d.lookup("project_id")
	assert.False(t, ok)
	_, ok = d.lookup("prompt.length")
	assert.False(t, ok)
}

func TestMatchesMissingField(t *testing.T) {
	d := newDocument(&models.SelectionRequest{}, "", 0)
	assert.False(t, matches([]models.Condition{{Field: "context.x", Operator: models.OpEquals, Value: "y"}}, d))
	assert.True(t, matches([]models.Condition{{Field: "context.x", Operator: models.OpNotIn, Value: []any{"y"}}}, d))
	assert.True(t, matches(nil, d), "a rule without conditions always matches")
}

func TestValidateRule(t *testing.T) {
	ok := models.SteeringRule{ID: "r", Action: models.RuleAction{Provider: "p", Model: "m"}}
	assert.NoError(t, ValidateRule(ok))

	noID := ok
	noID.ID = ""
	assert.Error(t, ValidateRule(noID))

	noModel := ok
	noModel.Action.Model = ""
	assert.Error(t, ValidateRule(noModel))

	badOp := ok
	badOp.Conditions = []models.Condition{{Field: "prompt", Operator: models.NumOperators}}
	assert.ErrorContains(t, ValidateRule(badOp), "unknown operator")
}
