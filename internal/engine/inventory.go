package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/requestfilter"
	"ad-selection-engine/internal/throttle"
)

const defaultAudienceLifetime = 30 * 24 * time.Hour

// UpsertInput joins or refreshes one custom audience on behalf of its owner.
type UpsertInput struct {
	Audience       model.CustomAudience
	DailyUpdateURI string
	CallerPackage  string
	CallerUID      int
	Foreground     bool
}

// UpsertCustomAudience validates and stores an audience. The caller becomes its owner.
func (r *Runner) UpsertCustomAudience(ctx context.Context, in UpsertInput) (err error) {
	start := r.exec.Clock.Now()
	logger := log.With().Str("caller", in.CallerPackage).Str("buyer", in.Audience.Buyer).Logger()
	defer func() {
		r.telemetry.ObserveResult(throttle.UpsertInventory, errortypes.ReadStatus(err), r.exec.Clock.Since(start))
	}()

	suppressed, err := r.gate(ctx, logger, requestfilter.Request{
		CallerPackage:     in.CallerPackage,
		CallerUID:         in.CallerUID,
		Foreground:        in.Foreground,
		EnforceForeground: r.cfg.EnforceForeground,
		EnforceConsent:    r.cfg.EnforceConsent,
		API:               throttle.UpsertInventory,
	})
	if err != nil || suppressed {
		return err
	}

	ca := in.Audience
	if ca.Owner == "" {
		ca.Owner = in.CallerPackage
	}
	if ca.Owner != in.CallerPackage {
		return &errortypes.InvalidArgument{Message: "custom audience owner must be the caller"}
	}
	now := r.exec.Clock.Now()
	if ca.CreationTime.IsZero() {
		ca.CreationTime = now
	}
	if ca.ActivationTime.IsZero() {
		ca.ActivationTime = now
	}
	if ca.ExpirationTime.IsZero() {
		ca.ExpirationTime = ca.ActivationTime.Add(defaultAudienceLifetime)
	}
	ca.LastUpdatedTime = now
	if err := validateAudience(ca, in.DailyUpdateURI); err != nil {
		return err
	}

	if err := r.inventory.Upsert(ctx, ca, in.DailyUpdateURI); err != nil {
		return errortypes.NewInternal(errortypes.InventoryUnavailable, err)
	}
	logger.Debug().Str("name", ca.Name).Msg("custom audience stored")
	return nil
}

func validateAudience(ca model.CustomAudience, dailyUpdateURI string) error {
	if strings.TrimSpace(ca.Buyer) == "" || strings.TrimSpace(ca.Name) == "" {
		return invalid("custom audience needs a buyer and a name")
	}
	if !ca.ExpirationTime.After(ca.ActivationTime) {
		return invalid("custom audience expires before it activates")
	}
	if err := validateBuyerURI("bidding logic uri", ca.BiddingLogicURI, ca.Buyer); err != nil {
		return err
	}
	if dailyUpdateURI != "" {
		if err := validateBuyerURI("daily update uri", dailyUpdateURI, ca.Buyer); err != nil {
			return err
		}
	}
	if ca.TrustedBiddingData != nil {
		if err := validateBuyerURI("trusted bidding uri", ca.TrustedBiddingData.URI, ca.Buyer); err != nil {
			return err
		}
	}
	if ca.UserBiddingSignals != "" && !govalidator.IsJSON(ca.UserBiddingSignals) {
		return invalid("user bidding signals must be valid JSON")
	}
	for _, ad := range ca.Ads {
		if !govalidator.IsRequestURL(ad.RenderURI) {
			return invalid("ad render uri %q is not a valid url", ad.RenderURI)
		}
		if ad.Metadata != "" && !govalidator.IsJSON(ad.Metadata) {
			return invalid("ad metadata of %s must be valid JSON", ad.RenderURI)
		}
	}
	return nil
}

// validateBuyerURI requires raw to be served from the buyer's host or a subdomain of it.
func validateBuyerURI(field, raw, buyer string) error {
	if !govalidator.IsRequestURL(raw) {
		return invalid("%s %q is not a valid url", field, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("%s %q is not a valid url", field, raw)
	}
	host := strings.ToLower(u.Hostname())
	buyer = strings.ToLower(buyer)
	if host != buyer && !strings.HasSuffix(host, "."+buyer) {
		return invalid("%s host %s does not match buyer %s", field, host, buyer)
	}
	return nil
}

// PutOverride stores developer supplied bidding inputs. It requires developer mode.
func (r *Runner) PutOverride(ctx context.Context, o model.Override, callerPackage string) error {
	if !r.cfg.DeveloperMode || r.overrides == nil {
		return &errortypes.Unauthorized{Message: "overrides require developer mode"}
	}
	if o.Owner == "" {
		o.Owner = callerPackage
	}
	if o.Owner != callerPackage {
		return &errortypes.InvalidArgument{Message: "override owner must be the caller"}
	}
	if o.Buyer == "" || o.Name == "" || o.BiddingLogicJS == "" {
		return &errortypes.InvalidArgument{Message: "override needs buyer, name and bidding logic"}
	}
	if o.TrustedBiddingSignals != "" && !govalidator.IsJSON(o.TrustedBiddingSignals) {
		return &errortypes.InvalidArgument{Message: "trusted bidding signals must be valid JSON"}
	}
	if err := r.overrides.PutOverride(ctx, o); err != nil {
		return errortypes.NewInternal(errortypes.InventoryUnavailable, err)
	}
	return nil
}
