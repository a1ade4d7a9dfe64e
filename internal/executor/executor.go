// Package executor holds the three execution facilities an auction runs on: a small
// lightweight pool for coordination, a larger background pool for network and script
// work, and a clock that drives every timeout.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/alitto/pond"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/config"
)

const queueCapacity = 1024

// Pool accepts tasks. *pond.WorkerPool satisfies it.
type Pool interface {
	Submit(task func())
}

type Executors struct {
	Lightweight *pond.WorkerPool
	Background  *pond.WorkerPool
	Clock       clock.Clock
}

func New(cfg config.AdSelection, clk clock.Clock) *Executors {
	if clk == nil {
		clk = clock.New()
	}
	return &Executors{
		Lightweight: pond.New(cfg.LightweightPoolSize, queueCapacity, pond.MinWorkers(1)),
		Background:  pond.New(cfg.BackgroundPoolSize, queueCapacity),
		Clock:       clk,
	}
}

// Stop drains both pools.
func (e *Executors) Stop() {
	e.Lightweight.StopAndWait()
	e.Background.StopAndWait()
}

type result[T any] struct {
	v   T
	err error
}

// Submit runs fn on pool and waits for it or for ctx, whichever comes first.
// A task still queued when ctx ends never runs fn. A task already running is
// left to finish on its own; its result is dropped.
func Submit[T any](ctx context.Context, pool Pool, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("recovered task panic")
				var zero T
				ch <- result[T]{v: zero, err: fmt.Errorf("task panic: %v", r)}
			}
		}()
		if err := ctx.Err(); err != nil {
			var zero T
			ch <- result[T]{v: zero, err: err}
			return
		}
		v, err := fn(ctx)
		ch <- result[T]{v: v, err: err}
	})

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
