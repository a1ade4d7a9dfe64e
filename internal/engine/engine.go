// Package engine runs ad selection: request gating, inventory, bidding, scoring,
// winner selection and persistence, under per-stage and overall deadlines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/executor"
	"ad-selection-engine/internal/fetch"
	"ad-selection-engine/internal/filtering"
	"ad-selection-engine/internal/idgen"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/requestfilter"
	"ad-selection-engine/internal/scoring"
	"ad-selection-engine/internal/storage"
	"ad-selection-engine/internal/throttle"
)

const emptyContextualSignals = "{}"

// Deps are the collaborators of a Runner. Optional ones fall back to no-op or default
// implementations when nil.
type Deps struct {
	Config    config.AdSelection
	Exec      *executor.Executors
	Filter    requestfilter.RequestFilter
	Inventory storage.Inventory
	Results   storage.Results
	Overrides storage.Overrides
	Strategy  Strategy
	Fetcher   fetch.Fetcher
	Evaluator evaluator.Evaluator

	AdFilterer filtering.AdFilterer
	IDs        idgen.Generator
	Enricher   ResultEnricher
	Telemetry  Telemetry
}

type Runner struct {
	cfg        config.AdSelection
	exec       *executor.Executors
	filter     requestfilter.RequestFilter
	inventory  storage.Inventory
	results    storage.Results
	overrides  storage.Overrides
	strategy   Strategy
	fetcher    fetch.Fetcher
	evaluator  evaluator.Evaluator
	adFilterer filtering.AdFilterer
	ids        idgen.Generator
	enricher   ResultEnricher
	telemetry  Telemetry
	outcomes   *scoring.OutcomeSelector
}

func New(d Deps) *Runner {
	r := &Runner{
		cfg:        d.Config.WithDefaults(),
		exec:       d.Exec,
		filter:     d.Filter,
		inventory:  d.Inventory,
		results:    d.Results,
		overrides:  d.Overrides,
		strategy:   d.Strategy,
		fetcher:    d.Fetcher,
		evaluator:  d.Evaluator,
		adFilterer: d.AdFilterer,
		ids:        d.IDs,
		enricher:   d.Enricher,
		telemetry:  d.Telemetry,
	}
	if r.adFilterer == nil || !r.cfg.FilteringEnabled {
		r.adFilterer = filtering.NoOp{}
	}
	if r.ids == nil {
		r.ids = idgen.Random{}
	}
	if r.enricher == nil {
		r.enricher = NoopEnricher{}
	}
	if r.telemetry == nil {
		r.telemetry = NoopTelemetry{}
	}
	if r.evaluator != nil {
		r.outcomes = scoring.NewOutcomeSelector(r.evaluator)
	}
	return r
}

// Input is one selectAds call.
type Input struct {
	Auction       model.AuctionConfig
	CallerPackage string
	CallerUID     int
	Foreground    bool
}

// Outcome is the caller visible result. An empty RenderURI with a nil error means
// the auction was suppressed for privacy and nothing was stored.
type Outcome struct {
	ID        int64  `json:"ad_selection_id"`
	RenderURI string `json:"render_uri"`
}

// Callback receives exactly one of OnSuccess or OnFailure per call.
type Callback interface {
	OnSuccess(Outcome)
	OnFailure(error)
}

// SelectAdsAsync runs SelectAds in the background and resolves cb exactly once.
func (r *Runner) SelectAdsAsync(ctx context.Context, in Input, cb Callback) {
	var once sync.Once
	resolve := func(out Outcome, err error) {
		once.Do(func() {
			if err != nil {
				cb.OnFailure(err)
				return
			}
			cb.OnSuccess(out)
		})
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).Msg("recovered ad selection panic")
				resolve(Outcome{}, errortypes.NewInternal("unexpected failure", fmt.Errorf("panic: %v", rec)))
			}
		}()
		resolve(r.SelectAds(ctx, in))
	}()
}

// SelectAds runs one auction to completion.
func (r *Runner) SelectAds(ctx context.Context, in Input) (out Outcome, err error) {
	start := r.exec.Clock.Now()
	auctionID := uuid.NewString()
	logger := log.With().
		Str("auction_id", auctionID).
		Str("seller", in.Auction.Seller).
		Str("caller", in.CallerPackage).
		Logger()
	defer func() {
		r.telemetry.ObserveResult(throttle.SelectAds, errortypes.ReadStatus(err), r.exec.Clock.Since(start))
	}()

	suppressed, err := r.gate(ctx, logger, requestfilter.Request{
		Seller:            in.Auction.Seller,
		CallerPackage:     in.CallerPackage,
		CallerUID:         in.CallerUID,
		Foreground:        in.Foreground,
		EnforceForeground: r.cfg.EnforceForeground,
		EnforceConsent:    r.cfg.EnforceConsent,
		API:               throttle.SelectAds,
	})
	if err != nil || suppressed {
		return Outcome{}, err
	}
	if err := validateAuction(in.Auction); err != nil {
		logger.Info().Err(err).Msg("invalid auction config")
		return Outcome{}, err
	}

	runCtx, cancel := r.exec.Clock.WithTimeout(ctx, r.cfg.OverallTimeout)
	defer cancel()

	out, err = r.run(runCtx, logger, auctionID, in)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = errortypes.NewTimeout(errortypes.AdSelectionTimedOut, err)
		}
		logger.Warn().Err(err).Str("status", errortypes.ReadStatus(err).String()).Msg("ad selection failed")
		return Outcome{}, err
	}
	logger.Debug().Int64("ad_selection_id", out.ID).Str("render_uri", out.RenderURI).Msg("ad selection done")
	return out, nil
}

// gate applies the request filter. A consent rejection is reported as suppressed with no error.
func (r *Runner) gate(ctx context.Context, logger zerolog.Logger, req requestfilter.Request) (bool, error) {
	if r.filter == nil {
		return false, nil
	}
	err := r.filter.Filter(ctx, req)
	if err == nil {
		return false, nil
	}
	var revoked *errortypes.ConsentRevoked
	if errors.As(err, &revoked) {
		logger.Debug().Msg("consent revoked; returning empty result")
		return true, nil
	}
	logger.Info().Err(err).Str("status", errortypes.ReadStatus(err).String()).Str("api", string(req.API)).Msg("request rejected")
	return false, err
}

func (r *Runner) run(ctx context.Context, logger zerolog.Logger, auctionID string, in Input) (Outcome, error) {
	auction := in.Auction
	contextual := r.contextualAds(ctx, auction)
	if !auction.HasBuyers() && len(contextual) == 0 {
		return Outcome{}, errortypes.NewInternal(errortypes.NoBuyersOrContextualAds, nil)
	}

	var cas []model.CustomAudience
	if auction.HasBuyers() {
		start := r.exec.Clock.Now()
		fetched, err := executor.Submit(ctx, r.exec.Background, func(ctx context.Context) ([]model.CustomAudience, error) {
			return r.inventory.FetchEligible(ctx, auction.Buyers, r.exec.Clock.Now(), r.cfg.MaxInventoryAge)
		})
		r.telemetry.ObserveStage(StageInventory, r.exec.Clock.Since(start))
		if err != nil {
			return Outcome{}, errortypes.NewInternal(errortypes.InventoryUnavailable, err)
		}
		cas = r.adFilterer.FilterCustomAudiences(ctx, fetched)
	}
	if len(cas) == 0 && len(contextual) == 0 {
		return Outcome{}, errortypes.NewInternal(errortypes.NoCustomAudienceOrContextualAds, nil)
	}
	logger.Debug().Int("custom_audiences", len(cas)).Int("contextual_buyers", len(contextual)).Msg("inventory ready")

	scored, err := r.strategy.RunAuction(ctx, AuctionRequest{
		AuctionID:         auctionID,
		Auction:           auction,
		Audiences:         cas,
		Contextual:        contextual,
		ContextualSignals: emptyContextualSignals,
	})
	if err != nil {
		return Outcome{}, err
	}

	winner, err := scoring.SelectWinner(scored)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	result := model.AuctionResult{
		WinningRenderURI:     winner.Ad.RenderURI,
		WinningBid:           winner.Bid,
		CustomAudience:       winner.Signals,
		ContextualSignals:    emptyContextualSignals,
		BuyerDecisionLogicJS: winner.BuyerDecisionLogicJS,
		BiddingLogicURI:      winner.DecisionLogicURI,
		CallerPackageName:    in.CallerPackage,
		CreatedAt:            r.exec.Clock.Now(),
	}
	r.enricher.Enrich(ctx, winner, &result)

	start := r.exec.Clock.Now()
	id, err := r.persist(ctx, result)
	r.telemetry.ObserveStage(StagePersistence, r.exec.Clock.Since(start))
	if err != nil {
		return Outcome{}, err
	}
	result.ID = id
	if rec, ok := r.enricher.(WinRecorder); ok {
		rec.RecordWin(ctx, winner, result)
	}
	return Outcome{ID: id, RenderURI: result.WinningRenderURI}, nil
}

// contextualAds returns the filtered, non-empty contextual ad sets in buyer order.
func (r *Runner) contextualAds(ctx context.Context, a model.AuctionConfig) []model.ContextualAds {
	if !r.cfg.ContextualAdsEnabled || len(a.BuyerContextualAds) == 0 {
		return nil
	}
	buyers := make([]string, 0, len(a.BuyerContextualAds))
	for b := range a.BuyerContextualAds {
		buyers = append(buyers, b)
	}
	sort.Strings(buyers)

	out := make([]model.ContextualAds, 0, len(buyers))
	for _, b := range buyers {
		set := a.BuyerContextualAds[b]
		if set.Buyer == "" {
			set.Buyer = b
		}
		set = r.adFilterer.FilterContextualAds(ctx, set)
		if len(set.Ads) > 0 {
			out = append(out, set)
		}
	}
	return out
}

// persistTimeout bounds the result write, which outlives the auction deadline.
const persistTimeout = 5 * time.Second

// persist stores result under a fresh id. Ids found taken, or lost to a concurrent
// writer, are redrawn up to MaxIDAttempts times. The write runs detached from the
// auction context so a stored row is never reported as a failed selection.
func (r *Runner) persist(ctx context.Context, result model.AuctionResult) (int64, error) {
	ctx, cancel := r.exec.Clock.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for attempt := 0; attempt < r.cfg.MaxIDAttempts; attempt++ {
		id, err := r.ids.Next()
		if err != nil {
			return 0, errortypes.NewInternal(errortypes.PersistenceFailed, err)
		}
		exists, err := r.results.Exists(ctx, id)
		if err != nil {
			return 0, errortypes.NewInternal(errortypes.PersistenceFailed, err)
		}
		if exists {
			continue
		}
		result.ID = id
		_, err = executor.Submit(ctx, r.exec.Background, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.results.Persist(ctx, result)
		})
		if errors.Is(err, storage.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return 0, errortypes.NewInternal(errortypes.PersistenceFailed, err)
		}
		return id, nil
	}
	return 0, errortypes.NewInternal(errortypes.IDGenerationExhausted, nil)
}
