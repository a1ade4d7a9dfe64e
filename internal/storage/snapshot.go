package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/cache"
	"ad-selection-engine/internal/model"
)

// Source is the backing store a Snapshotted inventory reloads from.
type Source interface {
	Inventory
	LoadAll(ctx context.Context) ([]model.CustomAudience, error)
}

// byBuyer indexes a full inventory load for lock-free reads.
type byBuyer struct {
	audiences []model.CustomAudience
	index     map[string][]int
}

func buildIndex(cas []model.CustomAudience) byBuyer {
	ix := byBuyer{audiences: cas, index: map[string][]int{}}
	for i, ca := range cas {
		ix.index[ca.Buyer] = append(ix.index[ca.Buyer], i)
	}
	return ix
}

// Snapshotted serves FetchEligible from an in-memory copy of Source that is
// swapped atomically on Refresh. Each auction reads exactly one copy.
type Snapshotted struct {
	src  Source
	snap cache.Snapshot[byBuyer]
}

var _ Inventory = (*Snapshotted)(nil)

func NewSnapshotted(src Source) *Snapshotted { return &Snapshotted{src: src} }

// Refresh reloads the whole inventory from the source.
func (s *Snapshotted) Refresh(ctx context.Context) error {
	cas, err := s.src.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("reload custom audiences: %w", err)
	}
	s.snap.Store(buildIndex(cas))
	log.Info().Int("custom_audiences", len(cas)).Msg("inventory snapshot refreshed")
	return nil
}

func (s *Snapshotted) FetchEligible(ctx context.Context, buyers []string, now time.Time, maxAge time.Duration) ([]model.CustomAudience, error) {
	ix, ok := s.snap.Load()
	if !ok {
		return s.src.FetchEligible(ctx, buyers, now, maxAge)
	}
	var out []model.CustomAudience
	seen := make(map[string]struct{}, len(buyers))
	for _, b := range buyers {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		for _, i := range ix.index[b] {
			if ca := ix.audiences[i]; ca.Eligible(now, maxAge) {
				out = append(out, ca)
			}
		}
	}
	return out, nil
}

// Upsert writes through to the source. The snapshot catches up on the next Refresh.
func (s *Snapshotted) Upsert(ctx context.Context, ca model.CustomAudience, dailyUpdateURI string) error {
	return s.src.Upsert(ctx, ca, dailyUpdateURI)
}
