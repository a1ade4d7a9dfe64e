package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/requestfilter"
	"ad-selection-engine/internal/storage"
	"ad-selection-engine/internal/throttle"
)

const (
	reportResult = "reportResult"
	reportWin    = "reportWin"
)

// ReportInput identifies a stored auction and the config it was run with.
type ReportInput struct {
	ID            int64
	Auction       model.AuctionConfig
	CallerPackage string
	CallerUID     int
	Foreground    bool
}

// ReportImpression runs seller reportResult and buyer reportWin for a stored auction
// and fires the returned beacons. Beacon failures are logged, not returned.
func (r *Runner) ReportImpression(ctx context.Context, in ReportInput) (err error) {
	start := r.exec.Clock.Now()
	logger := log.With().Int64("ad_selection_id", in.ID).Str("caller", in.CallerPackage).Logger()
	defer func() {
		r.telemetry.ObserveResult(throttle.ReportImpression, errortypes.ReadStatus(err), r.exec.Clock.Since(start))
	}()

	suppressed, err := r.gate(ctx, logger, requestfilter.Request{
		Seller:            in.Auction.Seller,
		CallerPackage:     in.CallerPackage,
		CallerUID:         in.CallerUID,
		Foreground:        in.Foreground,
		EnforceForeground: r.cfg.EnforceForeground,
		EnforceConsent:    r.cfg.EnforceConsent,
		API:               throttle.ReportImpression,
	})
	if err != nil || suppressed {
		return err
	}
	if err := validateAuction(in.Auction); err != nil {
		return err
	}

	ctx, cancel := r.exec.Clock.WithTimeout(ctx, r.cfg.ReportingTimeout)
	defer cancel()

	result, err := r.results.Get(ctx, in.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return &errortypes.InvalidArgument{Message: errortypes.InvalidAdSelectionID}
	}
	if err != nil {
		return errortypes.NewInternal(errortypes.ReportingFailed, err)
	}
	if result.CallerPackageName != in.CallerPackage {
		return &errortypes.InvalidArgument{Message: errortypes.CallerMismatch}
	}

	sellerLogic, err := r.fetcher.FetchText(ctx, in.Auction.DecisionLogicURI)
	if err != nil || sellerLogic == "" {
		return r.reportingFailure(ctx, fmt.Errorf("fetch decision logic: %w", errOrEmpty(err)))
	}
	v, err := r.evaluator.Evaluate(ctx, sellerLogic, reportResult, map[string]any{
		"auction_config": map[string]any{
			"seller":             in.Auction.Seller,
			"decision_logic_uri": in.Auction.DecisionLogicURI,
		},
		"render_uri":         result.WinningRenderURI,
		"bid":                result.WinningBid,
		"contextual_signals": evaluator.JSONValue(result.ContextualSignals),
		"seller_signals":     evaluator.JSONValue(in.Auction.SellerSignals),
	})
	if err != nil {
		return r.reportingFailure(ctx, err)
	}
	sellerURI, signalsForBuyer, err := parseReport(reportResult, v)
	if err != nil {
		return r.reportingFailure(ctx, err)
	}
	beacons := []string{sellerURI}

	if result.CustomAudience != nil && result.BuyerDecisionLogicJS != "" {
		ca := result.CustomAudience
		bv, err := r.evaluator.Evaluate(ctx, result.BuyerDecisionLogicJS, reportWin, map[string]any{
			"auction_signals":    evaluator.JSONValue(in.Auction.AuctionSignals),
			"per_buyer_signals":  evaluator.JSONValue(in.Auction.PerBuyerSignals[ca.Buyer]),
			"signals_for_buyer":  signalsForBuyer,
			"contextual_signals": evaluator.JSONValue(result.ContextualSignals),
			"custom_audience_signals": map[string]any{
				"owner": ca.Owner,
				"buyer": ca.Buyer,
				"name":  ca.Name,
			},
		})
		if err == nil {
			var buyerURI string
			if buyerURI, _, err = parseReport(reportWin, bv); err == nil {
				beacons = append(beacons, buyerURI)
			}
		}
		if err != nil {
			logger.Info().Err(err).Str("buyer", ca.Buyer).Msg("buyer reporting skipped")
		}
	}

	start = r.exec.Clock.Now()
	r.fireBeacons(ctx, logger, beacons)
	r.telemetry.ObserveStage(StageReporting, r.exec.Clock.Since(start))
	return nil
}

func (r *Runner) reportingFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errortypes.NewTimeout(errortypes.ReportingFailed, err)
	}
	return errortypes.NewInternal(errortypes.ReportingFailed, err)
}

func errOrEmpty(err error) error {
	if err == nil {
		return errors.New("empty logic")
	}
	return err
}

// parseReport reads {reporting_uri, signals_for_buyer} from a reporting function result.
func parseReport(function string, v any) (string, any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", nil, &evaluator.ValidationError{Function: function, Message: fmt.Sprintf("expected an object, got %T", v)}
	}
	uri, _ := m["reporting_uri"].(string)
	if !govalidator.IsRequestURL(uri) {
		return "", nil, &evaluator.ValidationError{Function: function, Message: "reporting_uri is not a valid url"}
	}
	return uri, m["signals_for_buyer"], nil
}

func (r *Runner) fireBeacons(ctx context.Context, logger zerolog.Logger, uris []string) {
	done := make(chan struct{}, len(uris))
	for _, uri := range uris {
		uri := uri
		r.exec.Background.Submit(func() {
			defer func() { done <- struct{}{} }()
			if err := r.fetcher.Ping(ctx, uri); err != nil {
				logger.Info().Err(err).Str("uri", uri).Msg("reporting beacon failed")
			}
		})
	}
	for range uris {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
