package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
)

// ConditionEvaluator evaluates the optional per-policy ConditionExpr that
// an `approval` policy may carry (SPEC_FULL.md §4.2 NEW). Expressions are
// small Rego boolean bodies, e.g.:
//
//	time.clock(time.parse_rfc3339_ns(input.now))[0] >= 9
//	time.clock(time.parse_rfc3339_ns(input.now))[0] < 18
//
// input.now reaches Rego as an RFC 3339 string (the JSON form of
// time.Time), so it is parsed to nanoseconds before time.clock.
//
// Each distinct expression is compiled once into a rego.PreparedEvalQuery
// and cached, so policies that never carry a ConditionExpr pay nothing —
// the common case stays on the plain glob-matching hot path.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	prepared map[string]rego.PreparedEvalQuery
}

// NewConditionEvaluator constructs an empty evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{prepared: make(map[string]rego.PreparedEvalQuery)}
}

// conditionInput is the structured `input` document exposed to a
// condition expression.
type conditionInput struct {
	Now     time.Time              `json:"now"`
	Channel string                 `json:"channel"`
	Client  string                 `json:"client"`
	Extra   map[string]interface{} `json:"extra"`
}

// Evaluate compiles (if needed) and runs expr, returning whether the
// top-level Rego result is boolean-true.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, expr string, cc CallContext) (bool, error) {
	q, err := c.prepare(ctx, expr)
	if err != nil {
		return false, err
	}

	now := cc.Now
	if now.IsZero() {
		now = time.Now()
	}
	input := conditionInput{Now: now, Channel: cc.Channel, Client: cc.ClientUser, Extra: cc.Extra}

	results, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	ok, _ := results[0].Expressions[0].Value.(bool)
	return ok, nil
}

func (c *ConditionEvaluator) prepare(ctx context.Context, expr string) (rego.PreparedEvalQuery, error) {
	c.mu.RLock()
	q, ok := c.prepared[expr]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.prepared[expr]; ok {
		return q, nil
	}

	module := fmt.Sprintf("package agenshield.condition\n\nimport future.keywords\n\ndefault satisfied := false\n\nsatisfied {\n\t%s\n}\n", expr)
	r := rego.New(
		rego.Query("data.agenshield.condition.satisfied"),
		rego.Module("condition.rego", module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile condition expression: %w", err)
	}
	c.prepared[expr] = prepared
	return prepared, nil
}
