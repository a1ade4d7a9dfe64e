// Package storage persists custom audience inventory, developer overrides and
// auction results.
package storage

import (
	"context"
	"errors"
	"time"

	"ad-selection-engine/internal/model"
)

var (
	ErrDuplicateID = errors.New("ad selection id already exists")
	ErrNotFound    = errors.New("ad selection not found")
)

// Inventory reads and writes custom audiences.
type Inventory interface {
	// FetchEligible returns every audience of buyers that may bid at now, as one consistent read.
	FetchEligible(ctx context.Context, buyers []string, now time.Time, maxAge time.Duration) ([]model.CustomAudience, error)
	// Upsert inserts or fully replaces ca by identity, remembering where its daily updates come from.
	Upsert(ctx context.Context, ca model.CustomAudience, dailyUpdateURI string) error
}

// Overrides holds developer supplied bidding inputs.
type Overrides interface {
	Override(ctx context.Context, key model.Key) (model.Override, bool, error)
	PutOverride(ctx context.Context, o model.Override) error
}

// Results persists won auctions keyed by ad selection id.
type Results interface {
	Exists(ctx context.Context, id int64) (bool, error)
	// Persist inserts r unless its id is taken, in which case it returns ErrDuplicateID.
	Persist(ctx context.Context, r model.AuctionResult) error
	Get(ctx context.Context, id int64) (model.AuctionResult, error)
	// GetMany returns the results found among ids in the order of ids. Unknown ids are skipped.
	GetMany(ctx context.Context, ids []int64) ([]model.AuctionResult, error)
}

// eligible keeps the audiences of buyers that pass CustomAudience.Eligible, in input order.
func eligible(cas []model.CustomAudience, buyers []string, now time.Time, maxAge time.Duration) []model.CustomAudience {
	want := make(map[string]struct{}, len(buyers))
	for _, b := range buyers {
		want[b] = struct{}{}
	}
	out := make([]model.CustomAudience, 0, len(cas))
	for _, ca := range cas {
		if _, ok := want[ca.Buyer]; !ok {
			continue
		}
		if ca.Eligible(now, maxAge) {
			out = append(out, ca)
		}
	}
	return out
}
