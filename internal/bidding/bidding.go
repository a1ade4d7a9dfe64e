// Package bidding runs buyer bidding logic over each eligible custom audience.
package bidding

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/executor"
	"ad-selection-engine/internal/fetch"
	"ad-selection-engine/internal/model"
)

const (
	generateBid      = "generateBid"
	trustedKeysParam = "keys"
)

// OverrideLookup returns developer supplied bidding inputs for one custom audience.
type OverrideLookup interface {
	Override(ctx context.Context, key model.Key) (model.Override, bool, error)
}

type Coordinator struct {
	evaluator evaluator.Evaluator
	fetcher   fetch.Fetcher
	overrides OverrideLookup
	exec      *executor.Executors
	cfg       config.AdSelection
}

// New builds a Coordinator. overrides is consulted only in developer mode and may be nil.
func New(ev evaluator.Evaluator, f fetch.Fetcher, overrides OverrideLookup, exec *executor.Executors, cfg config.AdSelection) *Coordinator {
	return &Coordinator{evaluator: ev, fetcher: f, overrides: overrides, exec: exec, cfg: cfg}
}

// Input is everything one buyer's bidding needs besides its custom audiences.
type Input struct {
	Buyer             string
	Auction           model.AuctionConfig
	ContextualSignals string
}

// RunBidding bids for every audience of one buyer under the per-buyer timeout.
// The result has one entry per audience, nil where the audience failed, timed out
// or produced no positive bid. It never fails as a whole.
func (c *Coordinator) RunBidding(ctx context.Context, in Input, cas []model.CustomAudience) []*model.BiddingOutcome {
	ctx, cancel := c.exec.Clock.WithTimeout(ctx, c.cfg.BiddingTimeoutPerBuyer)
	defer cancel()

	signals := c.fetchTrustedSignals(ctx, in.Buyer, cas)

	type slot struct {
		i   int
		out *model.BiddingOutcome
	}
	done := make(chan slot, len(cas))
	for i := range cas {
		ca := cas[i]
		go func(i int) {
			caCtx, caCancel := c.exec.Clock.WithTimeout(ctx, c.cfg.BiddingTimeoutPerCA)
			defer caCancel()
			out, err := executor.Submit(caCtx, c.exec.Background, func(ctx context.Context) (*model.BiddingOutcome, error) {
				return c.bidForAudience(ctx, in, ca, signals[ca.TrustedBiddingDataURI()])
			})
			if err != nil {
				log.Debug().Err(err).Str("buyer", in.Buyer).Str("ca", ca.Name).Msg("custom audience bidding failed")
				out = nil
			}
			done <- slot{i: i, out: out}
		}(i)
	}

	outcomes := make([]*model.BiddingOutcome, len(cas))
	for range cas {
		s := <-done
		outcomes[s.i] = s.out
	}
	return outcomes
}

type trustedSignals struct {
	body string
	err  error
}

// fetchTrustedSignals issues one request per distinct signals uri with the union of keys.
func (c *Coordinator) fetchTrustedSignals(ctx context.Context, buyer string, cas []model.CustomAudience) map[string]trustedSignals {
	keys := map[string][]string{}
	for _, ca := range cas {
		if ca.TrustedBiddingData == nil || ca.TrustedBiddingData.URI == "" {
			continue
		}
		keys[ca.TrustedBiddingData.URI] = append(keys[ca.TrustedBiddingData.URI], ca.TrustedBiddingData.Keys...)
	}

	out := make(map[string]trustedSignals, len(keys)+1)
	out[""] = trustedSignals{body: "{}"}
	for uri, ks := range keys {
		body, err := executor.Submit(ctx, c.exec.Background, func(ctx context.Context) (string, error) {
			return c.fetcher.FetchSignals(ctx, uri, trustedKeysParam, ks)
		})
		if err != nil {
			log.Debug().Err(err).Str("buyer", buyer).Str("uri", uri).Msg("trusted bidding signals unavailable")
		}
		out[uri] = trustedSignals{body: body, err: err}
	}
	return out
}

func (c *Coordinator) bidForAudience(ctx context.Context, in Input, ca model.CustomAudience, ts trustedSignals) (*model.BiddingOutcome, error) {
	logic, signals, err := c.biddingInputs(ctx, ca, ts)
	if err != nil {
		return nil, err
	}

	caSignals := ca.Signals()
	args := map[string]any{
		"auction_signals":         evaluator.JSONValue(in.Auction.AuctionSignals),
		"per_buyer_signals":       evaluator.JSONValue(in.Auction.PerBuyerSignals[in.Buyer]),
		"trusted_bidding_signals": signals,
		"contextual_signals":      evaluator.JSONValue(in.ContextualSignals),
		"custom_audience_signals": map[string]any{
			"owner":                caSignals.Owner,
			"buyer":                caSignals.Buyer,
			"name":                 caSignals.Name,
			"activation_time":      caSignals.ActivationTime.UnixMilli(),
			"expiration_time":      caSignals.ExpirationTime.UnixMilli(),
			"user_bidding_signals": evaluator.JSONValue(caSignals.UserBiddingSignals),
		},
	}

	var best *model.BiddingOutcome
	for _, ad := range ca.Ads {
		args["ad"] = map[string]any{
			"render_uri": ad.RenderURI,
			"metadata":   evaluator.JSONValue(ad.Metadata),
		}
		v, err := c.evaluator.Evaluate(ctx, logic, generateBid, args)
		if err != nil {
			return nil, fmt.Errorf("generate bid for %s: %w", ca.Name, err)
		}
		bid, ok := bidValue(v)
		if !ok || !(bid > 0) {
			continue
		}
		if best == nil || bid > best.Bid {
			best = &model.BiddingOutcome{
				Signals:              caSignals,
				Ad:                   ad,
				Bid:                  bid,
				BiddingLogicURI:      ca.BiddingLogicURI,
				BuyerDecisionLogicJS: logic,
			}
		}
	}
	return best, nil
}

// biddingInputs resolves logic text and the audience's slice of trusted signals,
// preferring developer overrides when enabled.
func (c *Coordinator) biddingInputs(ctx context.Context, ca model.CustomAudience, ts trustedSignals) (string, map[string]any, error) {
	if c.cfg.DeveloperMode && c.overrides != nil {
		o, ok, err := c.overrides.Override(ctx, ca.Key())
		if err != nil {
			return "", nil, fmt.Errorf("lookup override: %w", err)
		}
		if ok {
			return o.BiddingLogicJS, selectKeys(o.TrustedBiddingSignals, nil), nil
		}
	}

	logic, err := c.fetcher.FetchText(ctx, ca.BiddingLogicURI)
	if err != nil {
		return "", nil, fmt.Errorf("fetch bidding logic: %w", err)
	}
	if logic == "" {
		return "", nil, fmt.Errorf("empty bidding logic at %s", ca.BiddingLogicURI)
	}
	if ts.err != nil {
		return "", nil, fmt.Errorf("trusted bidding signals: %w", ts.err)
	}
	var keys []string
	if ca.TrustedBiddingData != nil {
		keys = ca.TrustedBiddingData.Keys
	}
	return logic, selectKeys(ts.body, keys), nil
}

// selectKeys picks keys out of a signals object. nil keys keeps every entry.
func selectKeys(body string, keys []string) map[string]any {
	out := map[string]any{}
	if body == "" {
		return out
	}
	var want map[string]struct{}
	if keys != nil {
		want = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			want[k] = struct{}{}
		}
	}
	gjson.Parse(body).ForEach(func(k, v gjson.Result) bool {
		if _, ok := want[k.String()]; want == nil || ok {
			out[k.String()] = v.Value()
		}
		return true
	})
	return out
}

// bidValue accepts a bare number or an object carrying a numeric "bid".
func bidValue(v any) (float64, bool) {
	if m, ok := v.(map[string]any); ok {
		v = m["bid"]
	}
	f, ok := evaluator.ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
