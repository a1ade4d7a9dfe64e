// Package scoring runs the seller's decision logic over every bid and contextual
// ad of an auction and picks the winner.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/fetch"
	"ad-selection-engine/internal/model"
)

const (
	scoreAds        = "scoreAds"
	renderURIsParam = "renderUris"
)

type Coordinator struct {
	evaluator evaluator.Evaluator
	fetcher   fetch.Fetcher
}

func New(ev evaluator.Evaluator, f fetch.Fetcher) *Coordinator {
	return &Coordinator{evaluator: ev, fetcher: f}
}

// Input carries the non-nil bidding outcomes and the filtered contextual ads of one auction.
type Input struct {
	Auction           model.AuctionConfig
	Bids              []*model.BiddingOutcome
	Contextual        []model.ContextualAds
	ContextualSignals string
}

// Empty reports whether there is nothing to score.
func (in Input) Empty() bool {
	if len(in.Bids) > 0 {
		return false
	}
	for _, c := range in.Contextual {
		if len(c.Ads) > 0 {
			return false
		}
	}
	return true
}

// Score evaluates scoreAds once over every candidate. The outcomes keep candidate
// order: bids first, then contextual ads in buyer order.
func (c *Coordinator) Score(ctx context.Context, in Input) ([]model.ScoringOutcome, error) {
	logic, err := c.fetcher.FetchText(ctx, in.Auction.DecisionLogicURI)
	if err != nil {
		return nil, classify(ctx, errortypes.NewInternal(errortypes.MissingScoringLogic, err))
	}
	if logic == "" {
		return nil, errortypes.NewInternal(errortypes.MissingScoringLogic, errors.New("empty decision logic"))
	}

	candidates := collect(in)

	trusted := "{}"
	if in.Auction.TrustedScoringSignalsURI != "" {
		uris := make([]string, 0, len(candidates))
		for _, cand := range candidates {
			uris = append(uris, cand.Ad.RenderURI)
		}
		trusted, err = c.fetcher.FetchSignals(ctx, in.Auction.TrustedScoringSignalsURI, renderURIsParam, uris)
		if err != nil {
			return nil, classify(ctx, errortypes.NewInternal(errortypes.MissingTrustedScoringSignals, err))
		}
	}

	ads := make([]any, 0, len(candidates))
	for _, cand := range candidates {
		ad := map[string]any{
			"render_uri": cand.Ad.RenderURI,
			"metadata":   evaluator.JSONValue(cand.Ad.Metadata),
			"bid":        cand.Bid,
			"buyer":      cand.Buyer,
		}
		if cand.Signals != nil {
			ad["custom_audience_signals"] = map[string]any{
				"owner": cand.Signals.Owner,
				"buyer": cand.Signals.Buyer,
				"name":  cand.Signals.Name,
			}
		}
		ads = append(ads, ad)
	}
	args := map[string]any{
		"ads": ads,
		"auction_config": map[string]any{
			"seller":             in.Auction.Seller,
			"decision_logic_uri": in.Auction.DecisionLogicURI,
			"buyers":             in.Auction.Buyers,
		},
		"seller_signals":          evaluator.JSONValue(in.Auction.SellerSignals),
		"auction_signals":         evaluator.JSONValue(in.Auction.AuctionSignals),
		"trusted_scoring_signals": evaluator.JSONValue(trusted),
		"contextual_signals":      evaluator.JSONValue(in.ContextualSignals),
	}

	v, err := c.evaluator.Evaluate(ctx, logic, scoreAds, args)
	if err != nil {
		return nil, classify(ctx, errortypes.NewInternal(errortypes.ScoringFailed, err))
	}
	scores, err := parseScores(v, len(candidates))
	if err != nil {
		return nil, errortypes.NewInternal(errortypes.ScoringFailed, err)
	}
	for i := range candidates {
		candidates[i].Score = scores[i]
	}
	return candidates, nil
}

func collect(in Input) []model.ScoringOutcome {
	out := make([]model.ScoringOutcome, 0, len(in.Bids))
	for _, b := range in.Bids {
		signals := b.Signals
		out = append(out, model.ScoringOutcome{
			Ad:                   b.Ad,
			Bid:                  b.Bid,
			Buyer:                b.Signals.Buyer,
			Signals:              &signals,
			DecisionLogicURI:     b.BiddingLogicURI,
			BuyerDecisionLogicJS: b.BuyerDecisionLogicJS,
			Downloaded:           b.BuyerDecisionLogicJS != "",
		})
	}
	for _, ctxAds := range in.Contextual {
		for _, a := range ctxAds.Ads {
			out = append(out, model.ScoringOutcome{
				Ad:               a.Ad,
				Bid:              a.Bid,
				Buyer:            ctxAds.Buyer,
				DecisionLogicURI: ctxAds.DecisionLogicURI,
			})
		}
	}
	return out
}

func parseScores(v any, n int) ([]float64, error) {
	list, ok := v.([]any)
	if !ok {
		if f, isFloats := v.([]float64); isFloats {
			list = make([]any, len(f))
			for i := range f {
				list[i] = f[i]
			}
		} else {
			return nil, &evaluator.ValidationError{Function: scoreAds, Message: fmt.Sprintf("expected a list of scores, got %T", v)}
		}
	}
	if len(list) != n {
		return nil, &evaluator.ValidationError{Function: scoreAds, Message: fmt.Sprintf("expected %d scores, got %d", n, len(list))}
	}
	scores := make([]float64, n)
	for i, s := range list {
		if m, isMap := s.(map[string]any); isMap {
			s = m["score"]
		}
		f, ok := evaluator.ToFloat(s)
		if !ok {
			return nil, &evaluator.ValidationError{Function: scoreAds, Message: fmt.Sprintf("score %d is not numeric", i)}
		}
		// NaN and infinities can never win.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		scores[i] = f
	}
	return scores, nil
}

// classify turns a failure caused by the stage deadline into a timeout.
func classify(ctx context.Context, err *errortypes.Internal) error {
	var te *evaluator.TimeoutError
	if ctx.Err() != nil || errors.As(err.Cause, &te) {
		return errortypes.NewTimeout(errortypes.ScoringTimedOut, err.Cause)
	}
	return err
}

// SelectWinner picks the highest strictly positive score. The first candidate wins a tie.
func SelectWinner(outcomes []model.ScoringOutcome) (model.ScoringOutcome, error) {
	best := -1
	for i, o := range outcomes {
		if !(o.Score > 0) || math.IsInf(o.Score, 1) {
			continue
		}
		if best < 0 || o.Score > outcomes[best].Score {
			best = i
		}
	}
	if best < 0 {
		return model.ScoringOutcome{}, errortypes.NewInternal(errortypes.NoWinningAdFound, nil)
	}
	return outcomes[best], nil
}
