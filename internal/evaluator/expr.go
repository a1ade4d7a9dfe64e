package evaluator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"
)

// ExprEvaluator treats a script as a YAML document mapping function names to
// expr expressions. Arguments are visible as top level variables.
//
//	generateBid: ad.metadata.bid * 2
//	scoreAds: 'map(ads, #.bid)'
type ExprEvaluator struct {
	programs *cache.Cache
}

func NewExprEvaluator(ttl time.Duration) *ExprEvaluator {
	return &ExprEvaluator{programs: cache.New(ttl, 2*ttl)}
}

type outcome struct {
	v   any
	err error
}

func (e *ExprEvaluator) Evaluate(ctx context.Context, script, function string, args map[string]any) (any, error) {
	program, err := e.compile(script, function)
	if err != nil {
		return nil, err
	}

	// expr has no interruption hook; a timed out run finishes in the background.
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &ScriptError{Function: function, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		v, err := expr.Run(program, args)
		if err != nil {
			err = &ScriptError{Function: function, Err: err}
		}
		ch <- outcome{v: v, err: err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		return nil, &TimeoutError{Function: function, Err: ctx.Err()}
	}
}

func (e *ExprEvaluator) compile(script, function string) (*vm.Program, error) {
	sum := sha256.Sum256([]byte(script))
	key := hex.EncodeToString(sum[:]) + "/" + function
	if p, ok := e.programs.Get(key); ok {
		return p.(*vm.Program), nil
	}

	var doc map[string]string
	if err := yaml.Unmarshal([]byte(script), &doc); err != nil {
		return nil, &ScriptError{Function: function, Err: fmt.Errorf("parse script: %w", err)}
	}
	src, ok := doc[function]
	if !ok || src == "" {
		return nil, &ScriptError{Function: function, Err: fmt.Errorf("function %q not defined", function)}
	}
	program, err := expr.Compile(src)
	if err != nil {
		return nil, &ScriptError{Function: function, Err: err}
	}
	e.programs.SetDefault(key, program)
	return program, nil
}
