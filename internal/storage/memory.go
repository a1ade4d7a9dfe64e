package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ad-selection-engine/internal/model"
)

// Memory keeps everything in process. It backs tests and the "memory" storage backend.
type Memory struct {
	mu        sync.RWMutex
	audiences map[model.Key]model.CustomAudience
	updates   map[model.Key]string
	overrides map[model.Key]model.Override
	results   map[int64]model.AuctionResult
}

var (
	_ Inventory = (*Memory)(nil)
	_ Overrides = (*Memory)(nil)
	_ Results   = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		audiences: map[model.Key]model.CustomAudience{},
		updates:   map[model.Key]string{},
		overrides: map[model.Key]model.Override{},
		results:   map[int64]model.AuctionResult{},
	}
}

func (m *Memory) FetchEligible(ctx context.Context, buyers []string, now time.Time, maxAge time.Duration) ([]model.CustomAudience, error) {
	all, err := m.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return eligible(all, buyers, now, maxAge), nil
}

// LoadAll returns every stored audience ordered by buyer, owner and name.
func (m *Memory) LoadAll(ctx context.Context) ([]model.CustomAudience, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]model.CustomAudience, 0, len(m.audiences))
	for _, ca := range m.audiences {
		all = append(all, ca)
	}
	sortAudiences(all)
	return all, nil
}

func (m *Memory) Upsert(_ context.Context, ca model.CustomAudience, dailyUpdateURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audiences[ca.Key()] = ca
	m.updates[ca.Key()] = dailyUpdateURI
	return nil
}

// DailyUpdateURI returns the update location recorded for key.
func (m *Memory) DailyUpdateURI(key model.Key) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.updates[key]
	return u, ok
}

func (m *Memory) Override(_ context.Context, key model.Key) (model.Override, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overrides[key]
	return o, ok, nil
}

func (m *Memory) PutOverride(_ context.Context, o model.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.Key()] = o
	return nil
}

func (m *Memory) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.results[id]
	return ok, nil
}

func (m *Memory) Persist(_ context.Context, r model.AuctionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.ID]; ok {
		return ErrDuplicateID
	}
	m.results[r.ID] = r
	return nil
}

func (m *Memory) Get(_ context.Context, id int64) (model.AuctionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return model.AuctionResult{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) GetMany(_ context.Context, ids []int64) ([]model.AuctionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AuctionResult, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.results[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of stored auction results.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

func sortAudiences(cas []model.CustomAudience) {
	sort.Slice(cas, func(i, j int) bool {
		a, b := cas[i], cas[j]
		if a.Buyer != b.Buyer {
			return a.Buyer < b.Buyer
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Name < b.Name
	})
}
