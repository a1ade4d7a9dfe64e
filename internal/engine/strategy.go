package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"ad-selection-engine/internal/bidding"
	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/executor"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/remote"
	"ad-selection-engine/internal/scoring"
)

// AuctionRequest is what a Strategy needs once inventory is fetched and filtered.
type AuctionRequest struct {
	AuctionID         string
	Auction           model.AuctionConfig
	Audiences         []model.CustomAudience
	Contextual        []model.ContextualAds
	ContextualSignals string
}

// Strategy fulfils the bidding and scoring stages and returns every scored candidate.
type Strategy interface {
	RunAuction(ctx context.Context, req AuctionRequest) ([]model.ScoringOutcome, error)
}

// OnDevice bids per buyer in parallel, bounded by MaxConcurrentBidding, then scores locally.
type OnDevice struct {
	bidding   *bidding.Coordinator
	scoring   *scoring.Coordinator
	exec      *executor.Executors
	cfg       config.AdSelection
	telemetry Telemetry
}

func NewOnDevice(b *bidding.Coordinator, s *scoring.Coordinator, exec *executor.Executors, cfg config.AdSelection, t Telemetry) *OnDevice {
	if t == nil {
		t = NoopTelemetry{}
	}
	return &OnDevice{bidding: b, scoring: s, exec: exec, cfg: cfg, telemetry: t}
}

func (s *OnDevice) RunAuction(ctx context.Context, req AuctionRequest) ([]model.ScoringOutcome, error) {
	start := s.exec.Clock.Now()
	bids := s.bid(ctx, req)
	s.telemetry.ObserveStage(StageBidding, s.exec.Clock.Since(start))
	s.telemetry.ObserveCandidates(len(req.Audiences), len(bids))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := scoring.Input{
		Auction:           req.Auction,
		Bids:              bids,
		Contextual:        req.Contextual,
		ContextualSignals: req.ContextualSignals,
	}
	if in.Empty() {
		return nil, errortypes.NewInternal(errortypes.NoValidBidsOrContextualAds, nil)
	}

	start = s.exec.Clock.Now()
	scoreCtx, cancel := s.exec.Clock.WithTimeout(ctx, s.cfg.ScoringTimeout)
	defer cancel()
	out, err := executor.Submit(scoreCtx, s.exec.Background, func(ctx context.Context) ([]model.ScoringOutcome, error) {
		return s.scoring.Score(ctx, in)
	})
	s.telemetry.ObserveStage(StageScoring, s.exec.Clock.Since(start))
	if err != nil {
		var coded errortypes.Coder
		if errors.As(err, &coded) {
			return nil, err
		}
		if scoreCtx.Err() != nil {
			return nil, errortypes.NewTimeout(errortypes.ScoringTimedOut, err)
		}
		return nil, errortypes.NewInternal(errortypes.ScoringFailed, err)
	}
	return out, nil
}

// bid runs every buyer and returns the non-nil outcomes in buyer order. Buyers still
// waiting for a bidding slot when ctx ends are abandoned.
func (s *OnDevice) bid(ctx context.Context, req AuctionRequest) []*model.BiddingOutcome {
	buyers, byBuyer := groupByBuyer(req.Auction.Buyers, req.Audiences)
	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrentBidding))
	results := make([][]*model.BiddingOutcome, len(buyers))

	var wg sync.WaitGroup
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				log.Debug().Str("auction_id", req.AuctionID).Str("buyer", buyer).Msg("buyer abandoned before bidding")
				return
			}
			defer sem.Release(1)

			in := bidding.Input{Buyer: buyer, Auction: req.Auction, ContextualSignals: req.ContextualSignals}
			out, err := executor.Submit(ctx, s.exec.Lightweight, func(ctx context.Context) ([]*model.BiddingOutcome, error) {
				return s.bidding.RunBidding(ctx, in, byBuyer[buyer]), nil
			})
			if err != nil {
				log.Debug().Err(err).Str("auction_id", req.AuctionID).Str("buyer", buyer).Msg("buyer bidding failed")
				return
			}
			results[i] = out
		}(i, buyer)
	}
	wg.Wait()

	var bids []*model.BiddingOutcome
	for _, rs := range results {
		for _, b := range rs {
			if b != nil {
				bids = append(bids, b)
			}
		}
	}
	return bids
}

// groupByBuyer orders buyers as configured; buyers without audiences are skipped.
func groupByBuyer(order []string, cas []model.CustomAudience) ([]string, map[string][]model.CustomAudience) {
	byBuyer := map[string][]model.CustomAudience{}
	for _, ca := range cas {
		byBuyer[ca.Buyer] = append(byBuyer[ca.Buyer], ca)
	}
	buyers := make([]string, 0, len(byBuyer))
	seen := map[string]struct{}{}
	for _, b := range order {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		if len(byBuyer[b]) > 0 {
			buyers = append(buyers, b)
		}
	}
	return buyers, byBuyer
}

// TrustedServer sends the whole auction to a seller front end in one call.
// Contextual ads are not forwarded.
type TrustedServer struct {
	client    remote.SellerFrontEnd
	compress  bool
	exec      *executor.Executors
	telemetry Telemetry
}

func NewTrustedServer(client remote.SellerFrontEnd, compress bool, exec *executor.Executors, t Telemetry) *TrustedServer {
	if t == nil {
		t = NoopTelemetry{}
	}
	return &TrustedServer{client: client, compress: compress, exec: exec, telemetry: t}
}

func (s *TrustedServer) RunAuction(ctx context.Context, req AuctionRequest) ([]model.ScoringOutcome, error) {
	r, err := remote.BuildRequest(req.Auction, req.Audiences, s.compress)
	if err != nil {
		return nil, errortypes.NewInternal(errortypes.RemoteAuctionFailed, err)
	}

	start := s.exec.Clock.Now()
	resp, err := executor.Submit(ctx, s.exec.Background, func(ctx context.Context) (remote.AuctionResponse, error) {
		return s.client.RunAuction(ctx, r)
	})
	s.telemetry.ObserveStage(StageRemote, s.exec.Clock.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errortypes.NewInternal(errortypes.RemoteAuctionFailed, err)
	}
	if resp.IsChaff {
		return nil, nil
	}

	winner := model.ScoringOutcome{
		Ad:               model.AdData{RenderURI: resp.RenderURI},
		Bid:              resp.Bid,
		Score:            resp.Score,
		Buyer:            resp.Buyer,
		DecisionLogicURI: resp.BiddingLogicURI,
	}
	for _, ca := range req.Audiences {
		if ca.Buyer != resp.Buyer || ca.Name != resp.CustomAudienceName || ca.Owner != resp.CustomAudienceOwner {
			continue
		}
		signals := ca.Signals()
		winner.Signals = &signals
		if winner.DecisionLogicURI == "" {
			winner.DecisionLogicURI = ca.BiddingLogicURI
		}
		for _, ad := range ca.Ads {
			if ad.RenderURI == resp.RenderURI {
				winner.Ad = ad
			}
		}
		break
	}
	return []model.ScoringOutcome{winner}, nil
}
