package filtering

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ad-selection-engine/internal/model"
)

type histogramKey struct {
	buyer string
	key   int32
	event model.AdEvent
}

// Histogram records ad events per (buyer, ad counter key) for frequency capping.
type Histogram struct {
	mu        sync.RWMutex
	events    map[histogramKey][]time.Time
	retention time.Duration
	clock     clock.Clock
}

func NewHistogram(retention time.Duration, clk clock.Clock) *Histogram {
	if clk == nil {
		clk = clock.New()
	}
	return &Histogram{events: map[histogramKey][]time.Time{}, retention: retention, clock: clk}
}

// Record adds one event at the current time for each key.
func (h *Histogram) Record(buyer string, keys []int32, event model.AdEvent) {
	if len(keys) == 0 {
		return
	}
	now := h.clock.Now()
	cutoff := now.Add(-h.retention)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		hk := histogramKey{buyer: buyer, key: k, event: event}
		ts := h.events[hk]
		i := 0
		for i < len(ts) && ts[i].Before(cutoff) {
			i++
		}
		h.events[hk] = append(ts[i:], now)
	}
}

// Count returns the number of events recorded at or after since.
func (h *Histogram) Count(buyer string, key int32, event model.AdEvent, since time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, ts := range h.events[histogramKey{buyer: buyer, key: key, event: event}] {
		if !ts.Before(since) {
			n++
		}
	}
	return n
}

// AdCounterEnricher copies the winning ad's counter keys onto the persisted result
// and records a win once the result is stored.
type AdCounterEnricher struct {
	histogram *Histogram
}

func NewAdCounterEnricher(h *Histogram) *AdCounterEnricher {
	return &AdCounterEnricher{histogram: h}
}

func (e *AdCounterEnricher) Enrich(_ context.Context, winner model.ScoringOutcome, result *model.AuctionResult) {
	if len(winner.Ad.AdCounterKeys) == 0 {
		return
	}
	result.AdCounterKeys = append([]int32(nil), winner.Ad.AdCounterKeys...)
}

func (e *AdCounterEnricher) RecordWin(_ context.Context, winner model.ScoringOutcome, result model.AuctionResult) {
	e.histogram.Record(winner.Buyer, result.AdCounterKeys, model.EventWin)
}
