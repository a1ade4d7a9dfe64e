package scoring

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/model"
)

const selectOutcome = "selectOutcome"

// OutcomeSelector picks one of several prior auction results with seller logic.
type OutcomeSelector struct {
	evaluator evaluator.Evaluator
}

func NewOutcomeSelector(ev evaluator.Evaluator) *OutcomeSelector {
	return &OutcomeSelector{evaluator: ev}
}

// Select evaluates selectOutcome over outcomes. It returns false when the logic chose nothing.
// The logic may return one of the given outcome objects, a bare id, or nil.
func (s *OutcomeSelector) Select(ctx context.Context, logic string, outcomes []model.AuctionResult, selectionSignals string) (int64, bool, error) {
	if !gjson.Parse(orEmptyObject(selectionSignals)).IsObject() {
		return 0, false, &errortypes.InvalidArgument{Message: "selection signals must be a JSON object"}
	}

	known := make(map[int64]struct{}, len(outcomes))
	list := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		known[o.ID] = struct{}{}
		list = append(list, map[string]any{"id": o.ID, "bid": o.WinningBid})
	}

	v, err := s.evaluator.Evaluate(ctx, logic, selectOutcome, map[string]any{
		"outcomes":          list,
		"selection_signals": evaluator.JSONValue(selectionSignals),
	})
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	if m, ok := v.(map[string]any); ok {
		v = m["id"]
	}
	id, ok := toID(v)
	if !ok {
		return 0, false, &evaluator.ValidationError{Function: selectOutcome, Message: fmt.Sprintf("unexpected result %v", v)}
	}
	if _, ok := known[id]; !ok {
		return 0, false, &evaluator.ValidationError{Function: selectOutcome, Message: fmt.Sprintf("id %d was not offered", id)}
	}
	return id, true, nil
}

func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
