// Package filtering drops ads a user should not see before any bidding happens.
package filtering

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ad-selection-engine/internal/model"
)

// AdFilterer must keep relative order and be idempotent.
type AdFilterer interface {
	FilterCustomAudiences(ctx context.Context, cas []model.CustomAudience) []model.CustomAudience
	FilterContextualAds(ctx context.Context, ads model.ContextualAds) model.ContextualAds
}

// NoOp is the identity filterer used when filtering is disabled.
type NoOp struct{}

func (NoOp) FilterCustomAudiences(_ context.Context, cas []model.CustomAudience) []model.CustomAudience {
	return cas
}

func (NoOp) FilterContextualAds(_ context.Context, ads model.ContextualAds) model.ContextualAds {
	return ads
}

// InstalledApps answers whether a package registered by buyer is installed.
type InstalledApps interface {
	IsInstalled(buyer, pkg string) bool
}

// AppInstallStore is an in-memory InstalledApps.
type AppInstallStore struct {
	mu   sync.RWMutex
	apps map[string]map[string]struct{}
}

func NewAppInstallStore() *AppInstallStore {
	return &AppInstallStore{apps: map[string]map[string]struct{}{}}
}

func (s *AppInstallStore) SetInstalled(buyer, pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apps[buyer] == nil {
		s.apps[buyer] = map[string]struct{}{}
	}
	s.apps[buyer][pkg] = struct{}{}
}

func (s *AppInstallStore) IsInstalled(buyer, pkg string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.apps[buyer][pkg]
	return ok
}

// PolicyFilterer applies app install suppression and frequency caps.
type PolicyFilterer struct {
	installed InstalledApps
	histogram *Histogram
	clock     clock.Clock
}

func NewPolicyFilterer(installed InstalledApps, histogram *Histogram, clk clock.Clock) *PolicyFilterer {
	if clk == nil {
		clk = clock.New()
	}
	return &PolicyFilterer{installed: installed, histogram: histogram, clock: clk}
}

func (f *PolicyFilterer) FilterCustomAudiences(_ context.Context, cas []model.CustomAudience) []model.CustomAudience {
	now := f.clock.Now()
	out := make([]model.CustomAudience, 0, len(cas))
	for _, ca := range cas {
		kept := make([]model.AdData, 0, len(ca.Ads))
		for _, ad := range ca.Ads {
			if f.allowed(ca.Buyer, ad, now) {
				kept = append(kept, ad)
			}
		}
		if len(kept) == 0 {
			continue
		}
		ca.Ads = kept
		out = append(out, ca)
	}
	return out
}

func (f *PolicyFilterer) FilterContextualAds(_ context.Context, ads model.ContextualAds) model.ContextualAds {
	now := f.clock.Now()
	kept := make([]model.AdWithBid, 0, len(ads.Ads))
	for _, a := range ads.Ads {
		if f.allowed(ads.Buyer, a.Ad, now) {
			kept = append(kept, a)
		}
	}
	ads.Ads = kept
	return ads
}

func (f *PolicyFilterer) allowed(buyer string, ad model.AdData, now time.Time) bool {
	if ad.Filters == nil {
		return true
	}
	if f.installed != nil && slices.ContainsFunc(ad.Filters.AppInstallPackages, func(pkg string) bool {
		return f.installed.IsInstalled(buyer, pkg)
	}) {
		return false
	}
	if f.histogram == nil {
		return true
	}
	for _, rule := range ad.Filters.FrequencyCaps {
		if f.histogram.Count(buyer, rule.CounterKey, rule.Event, now.Add(-rule.Window)) >= rule.MaxCount {
			return false
		}
	}
	return true
}
