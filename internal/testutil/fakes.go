// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"ad-selection-engine/internal/fetch"
)

var ErrNotServed = errors.New("uri not served")

// Fetcher serves fixed bodies keyed by uri and records every call.
type Fetcher struct {
	mu      sync.Mutex
	Bodies  map[string]string
	Errors  map[string]error
	Calls   map[string]int
	KeysFor map[string][]string
	Pings   []string
}

var _ fetch.Fetcher = (*Fetcher)(nil)

func NewFetcher() *Fetcher {
	return &Fetcher{
		Bodies:  map[string]string{},
		Errors:  map[string]error{},
		Calls:   map[string]int{},
		KeysFor: map[string][]string{},
	}
}

// Serve registers body under uri.
func (f *Fetcher) Serve(uri, body string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bodies[uri] = body
	return f
}

// Fail makes every fetch of uri return err.
func (f *Fetcher) Fail(uri string, err error) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[uri] = err
	return f
}

func (f *Fetcher) CallCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[uri]
}

func (f *Fetcher) Keys(uri string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.KeysFor[uri]
}

func (f *Fetcher) FetchText(ctx context.Context, uri string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[uri]++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.Errors[uri]; ok {
		return "", err
	}
	body, ok := f.Bodies[uri]
	if !ok {
		return "", ErrNotServed
	}
	return body, nil
}

func (f *Fetcher) FetchSignals(ctx context.Context, uri, _ string, keys []string) (string, error) {
	f.mu.Lock()
	f.KeysFor[uri] = append([]string(nil), keys...)
	f.mu.Unlock()
	return f.FetchText(ctx, uri)
}

func (f *Fetcher) Ping(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pings = append(f.Pings, uri)
	if err, ok := f.Errors[uri]; ok {
		return err
	}
	return nil
}

func (f *Fetcher) Pinged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Pings...)
}

// BlockingEvaluator waits for ctx on every call and reports the deadline.
type BlockingEvaluator struct{}

func (BlockingEvaluator) Evaluate(ctx context.Context, _, _ string, _ map[string]any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
