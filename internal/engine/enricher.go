package engine

import (
	"context"

	"ad-selection-engine/internal/model"
)

// ResultEnricher decorates the result between winner selection and persistence.
type ResultEnricher interface {
	Enrich(ctx context.Context, winner model.ScoringOutcome, result *model.AuctionResult)
}

// WinRecorder is implemented by enrichers that also need to see the stored result.
type WinRecorder interface {
	RecordWin(ctx context.Context, winner model.ScoringOutcome, result model.AuctionResult)
}

type NoopEnricher struct{}

func (NoopEnricher) Enrich(context.Context, model.ScoringOutcome, *model.AuctionResult) {}
