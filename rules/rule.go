package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/servicehub/taskflow-engine/types"
)

// Evaluator evaluates a boolean rule expression against a context map.
// The task engine uses it for template task applicability conditions; the
// document engine uses it for auto-approval rules.
type Evaluator interface {
	Evaluate(expression string, context map[string]interface{}) (bool, error)
}

// ExprEvaluator implements Evaluator using expr-lang/expr with a
// compiled-program cache keyed by expression text.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates an ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles (or reuses) the expression and runs it against context.
// The expression must evaluate to a boolean; anything else is an error.
func (e *ExprEvaluator) Evaluate(expression string, context map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(context))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, context)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// EntityContext builds the evaluation context for template task
// applicability conditions. The extra map carries caller-supplied entity
// attributes (service type, device category, warranty flags, ...).
func EntityContext(entity types.EntityRef, extra map[string]interface{}) map[string]interface{} {
	ctx := map[string]interface{}{
		"entity_kind": string(entity.Kind),
		"entity_id":   entity.ID,
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// DocumentContext builds the evaluation context for document auto-approval
// rules from a single document snapshot.
func DocumentContext(doc types.StockDocument) map[string]interface{} {
	c := types.DocumentCompleteness(doc)
	return map[string]interface{}{
		"kind":             string(doc.Kind),
		"status":           string(doc.Status),
		"line_count":       len(doc.Items),
		"declared_total":   c.Total,
		"serials_recorded": c.Current,
		"percent_complete": c.Percent,
	}
}
