package engine

import (
	"context"
	"errors"

	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/requestfilter"
	"ad-selection-engine/internal/throttle"
)

// OutcomesInput asks seller logic to pick among prior auctions of the same caller.
type OutcomesInput struct {
	IDs               []int64
	Seller            string
	SelectionLogicURI string
	SelectionSignals  string
	CallerPackage     string
	CallerUID         int
	Foreground        bool
}

// SelectFromOutcomes returns the chosen prior auction, or an empty Outcome when the
// logic selected none.
func (r *Runner) SelectFromOutcomes(ctx context.Context, in OutcomesInput) (out Outcome, err error) {
	start := r.exec.Clock.Now()
	logger := log.With().Str("seller", in.Seller).Str("caller", in.CallerPackage).Logger()
	defer func() {
		r.telemetry.ObserveResult(throttle.SelectFromOutcomes, errortypes.ReadStatus(err), r.exec.Clock.Since(start))
	}()

	suppressed, err := r.gate(ctx, logger, requestfilter.Request{
		Seller:            in.Seller,
		CallerPackage:     in.CallerPackage,
		CallerUID:         in.CallerUID,
		Foreground:        in.Foreground,
		EnforceForeground: r.cfg.EnforceForeground,
		EnforceConsent:    r.cfg.EnforceConsent,
		API:               throttle.SelectFromOutcomes,
	})
	if err != nil || suppressed {
		return Outcome{}, err
	}
	if len(in.IDs) == 0 {
		return Outcome{}, &errortypes.InvalidArgument{Message: "at least one ad selection id is required"}
	}
	if !govalidator.IsRequestURL(in.SelectionLogicURI) {
		return Outcome{}, &errortypes.InvalidArgument{Message: "selection logic uri is not a valid url"}
	}

	ctx, cancel := r.exec.Clock.WithTimeout(ctx, r.cfg.FromOutcomesTimeout)
	defer cancel()

	unique := make(map[int64]struct{}, len(in.IDs))
	for _, id := range in.IDs {
		unique[id] = struct{}{}
	}
	results, err := r.results.GetMany(ctx, in.IDs)
	if err != nil {
		return Outcome{}, r.outcomeFailure(ctx, err)
	}
	renders := make(map[int64]string, len(results))
	for _, res := range results {
		if res.CallerPackageName != in.CallerPackage {
			return Outcome{}, &errortypes.InvalidArgument{Message: errortypes.CallerMismatch}
		}
		renders[res.ID] = res.WinningRenderURI
	}
	if len(renders) != len(unique) {
		return Outcome{}, &errortypes.InvalidArgument{Message: errortypes.InvalidAdSelectionID}
	}

	logic, err := r.fetcher.FetchText(ctx, in.SelectionLogicURI)
	if err != nil || logic == "" {
		return Outcome{}, r.outcomeFailure(ctx, errOrEmpty(err))
	}
	id, ok, err := r.outcomes.Select(ctx, logic, results, in.SelectionSignals)
	if err != nil {
		var bad *errortypes.InvalidArgument
		if errors.As(err, &bad) {
			return Outcome{}, err
		}
		return Outcome{}, r.outcomeFailure(ctx, err)
	}
	if !ok {
		return Outcome{}, nil
	}
	return Outcome{ID: id, RenderURI: renders[id]}, nil
}

func (r *Runner) outcomeFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errortypes.NewTimeout(errortypes.OutcomeSelectionFailed, err)
	}
	return errortypes.NewInternal(errortypes.OutcomeSelectionFailed, err)
}
