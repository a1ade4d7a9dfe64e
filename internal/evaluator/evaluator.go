// Package evaluator runs buyer and seller supplied logic against structured inputs.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Evaluator executes function from script with args. Implementations must return
// a *TimeoutError once ctx is done, without waiting for the script to stop.
type Evaluator interface {
	Evaluate(ctx context.Context, script, function string, args map[string]any) (any, error)
}

// ScriptError is raised when the script cannot be loaded or throws.
type ScriptError struct {
	Function string
	Err      error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("script error in %s: %v", e.Function, e.Err) }
func (e *ScriptError) Unwrap() error { return e.Err }

// ValidationError is raised when a script returns output of the wrong shape.
type ValidationError struct {
	Function string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid output from %s: %s", e.Function, e.Message)
}

// TimeoutError is raised when evaluation outlives its context.
type TimeoutError struct {
	Function string
	Err      error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Function, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// JSONValue decodes a JSON signals string for use as a script argument.
// Empty input becomes an empty object.
func JSONValue(s string) any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}
	return gjson.Parse(s).Value()
}

// ToFloat converts a numeric script result to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
