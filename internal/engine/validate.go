package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/model"
)

func invalid(format string, args ...any) error {
	return &errortypes.InvalidArgument{Message: fmt.Sprintf(format, args...)}
}

// validateAuction rejects malformed configs before any network work.
func validateAuction(a model.AuctionConfig) error {
	if strings.TrimSpace(a.Seller) == "" {
		return invalid("seller must be set")
	}
	if err := validateSellerURI("decision logic uri", a.DecisionLogicURI, a.Seller); err != nil {
		return err
	}
	if a.TrustedScoringSignalsURI != "" {
		if err := validateSellerURI("trusted scoring signals uri", a.TrustedScoringSignalsURI, a.Seller); err != nil {
			return err
		}
	}

	buyers := make(map[string]struct{}, len(a.Buyers))
	for _, b := range a.Buyers {
		if strings.TrimSpace(b) == "" {
			return invalid("buyer identifiers must be non-empty")
		}
		buyers[b] = struct{}{}
	}
	for b := range a.PerBuyerSignals {
		if _, ok := buyers[b]; !ok {
			return invalid("per buyer signals given for unlisted buyer %s", b)
		}
	}
	for _, s := range []struct{ name, v string }{
		{"seller signals", a.SellerSignals},
		{"auction signals", a.AuctionSignals},
	} {
		if s.v != "" && !govalidator.IsJSON(s.v) {
			return invalid("%s must be valid JSON", s.name)
		}
	}

	for buyer, set := range a.BuyerContextualAds {
		if set.Buyer != "" && set.Buyer != buyer {
			return invalid("contextual ads keyed by %s belong to %s", buyer, set.Buyer)
		}
		if len(set.Ads) == 0 {
			continue
		}
		if !govalidator.IsRequestURL(set.DecisionLogicURI) {
			return invalid("contextual ads of %s need a valid decision logic uri", buyer)
		}
		for _, ad := range set.Ads {
			if !govalidator.IsRequestURL(ad.Ad.RenderURI) {
				return invalid("contextual ad of %s has an invalid render uri", buyer)
			}
		}
	}
	return nil
}

// validateSellerURI requires an http(s) url served from the seller's host or a subdomain of it.
func validateSellerURI(field, raw, seller string) error {
	if !govalidator.IsRequestURL(raw) {
		return invalid("%s %q is not a valid url", field, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("%s %q is not a valid url", field, raw)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return invalid("%s must use http(s)", field)
	}
	host := strings.ToLower(u.Hostname())
	seller = strings.ToLower(seller)
	if host != seller && !strings.HasSuffix(host, "."+seller) {
		return invalid("%s host %s does not match seller %s", field, host, seller)
	}
	return nil
}
