package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/servicehub/taskflow-engine/types"
)

func TestExprEvaluator(t *testing.T) {
	t.Run("BooleanExpression", func(t *testing.T) {
		e := NewExprEvaluator()
		result, err := e.Evaluate(`service_type == "warranty"`, map[string]interface{}{"service_type": "warranty"})
		assert.NoError(t, err)
		assert.True(t, result)

		result, err = e.Evaluate(`service_type == "warranty"`, map[string]interface{}{"service_type": "billable"})
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("CachedProgramReused", func(t *testing.T) {
		e := NewExprEvaluator()
		_, err := e.Evaluate("count > 3", map[string]interface{}{"count": 5})
		assert.NoError(t, err)
		assert.Len(t, e.cache, 1)

		result, err := e.Evaluate("count > 3", map[string]interface{}{"count": 1})
		assert.NoError(t, err)
		assert.False(t, result)
		assert.Len(t, e.cache, 1)
	})

	t.Run("NonBooleanResult", func(t *testing.T) {
		e := NewExprEvaluator()
		_, err := e.Evaluate("count + 1", map[string]interface{}{"count": 5})
		assert.Error(t, err)
	})

	t.Run("CompileError", func(t *testing.T) {
		e := NewExprEvaluator()
		_, err := e.Evaluate("count >", map[string]interface{}{"count": 5})
		assert.Error(t, err)
	})
}

func TestEntityContext(t *testing.T) {
	ctx := EntityContext(types.TicketRef(42), map[string]interface{}{"service_type": "warranty"})
	assert.Equal(t, "service_ticket", ctx["entity_kind"])
	assert.Equal(t, uint64(42), ctx["entity_id"])
	assert.Equal(t, "warranty", ctx["service_type"])
}

func TestDocumentContext(t *testing.T) {
	doc := types.StockDocument{
		ID:     7,
		Kind:   types.DocumentIssue,
		Status: types.DocumentDraft,
		Items: []types.LineItem{
			{ProductID: 1, DeclaredQuantity: 4, Serials: []string{"A", "B"}},
			{ProductID: 2, DeclaredQuantity: 6},
		},
	}
	ctx := DocumentContext(doc)
	assert.Equal(t, "issue", ctx["kind"])
	assert.Equal(t, 2, ctx["line_count"])
	assert.Equal(t, 10, ctx["declared_total"])
	assert.Equal(t, 2, ctx["serials_recorded"])
	assert.Equal(t, 20, ctx["percent_complete"])

	e := NewExprEvaluator()
	result, err := e.Evaluate(`kind == "issue" && percent_complete < 100`, ctx)
	assert.NoError(t, err)
	assert.True(t, result)
}
