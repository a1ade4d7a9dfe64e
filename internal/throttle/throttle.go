// Package throttle is the process wide token bucket guarding the public entry points.
package throttle

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// API tags the entry point a permit is taken for.
type API string

const (
	SelectAds          API = "select_ads"
	SelectFromOutcomes API = "select_ads_from_outcomes"
	ReportImpression   API = "report_impression"
	UpsertInventory    API = "upsert_custom_audience"
)

// Throttler hands out permits per (api, key) pair. Keys are usually caller packages.
// A bucket idle long enough to have refilled completely is dropped, so the number of
// live buckets is bounded by recent traffic.
type Throttler struct {
	mu        sync.Mutex
	clock     clock.Clock
	perSecond float64
	limiters  *cache.Cache
}

func New(perSecond float64, clk clock.Clock) *Throttler {
	return newThrottler(perSecond, clk, idleTTL(perSecond))
}

func newThrottler(perSecond float64, clk clock.Clock, idle time.Duration) *Throttler {
	if clk == nil {
		clk = clock.New()
	}
	return &Throttler{
		clock:     clk,
		perSecond: perSecond,
		limiters:  cache.New(idle, idle),
	}
}

// TryAcquire takes one permit and reports whether it was available.
func (t *Throttler) TryAcquire(api API, key string) bool {
	k := string(api) + "|" + key
	t.mu.Lock()
	var l *rate.Limiter
	if v, ok := t.limiters.Get(k); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rate.Limit(t.perSecond), burst(t.perSecond))
	}
	// Every touch pushes the idle deadline out again.
	t.limiters.SetDefault(k, l)
	now := t.clock.Now()
	t.mu.Unlock()
	return l.AllowN(now, 1)
}

// Reset drops every bucket and applies a new rate.
func (t *Throttler) Reset(perSecond float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perSecond = perSecond
	t.limiters.Flush()
}

// Buckets returns the number of live buckets.
func (t *Throttler) Buckets() int {
	return t.limiters.ItemCount()
}

// idleTTL is at least the time an empty bucket needs to refill, so evicting it
// never grants more permits than keeping it would.
func idleTTL(perSecond float64) time.Duration {
	ttl := time.Minute
	if perSecond > 0 {
		if refill := time.Duration(float64(burst(perSecond)) / perSecond * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return ttl
}

func burst(perSecond float64) int {
	b := int(math.Ceil(perSecond))
	if b < 1 {
		return 1
	}
	return b
}
