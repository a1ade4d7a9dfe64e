// Package requestfilter gates entry calls on caller identity, app state, consent and rate limits.
package requestfilter

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/throttle"
)

// Request carries everything a filter decision depends on.
type Request struct {
	Seller            string
	CallerPackage     string
	CallerUID         int
	Foreground        bool
	EnforceForeground bool
	EnforceConsent    bool
	API               throttle.API
	RateLimitKey      string
}

// RequestFilter returns nil to accept, or one of the errortypes rejections.
type RequestFilter interface {
	Filter(ctx context.Context, req Request) error
}

// UIDResolver maps a caller uid to the packages that run under it.
type UIDResolver interface {
	PackagesForUID(uid int) []string
}

type PolicyFilter struct {
	allowAll        bool
	allowList       []string
	checkEnrollment bool
	enrolled        []string
	revoked         []string
	uids            UIDResolver
	throttler       *throttle.Throttler
}

// NewPolicyFilter builds the default filter. uids may be nil to skip the uid check.
func NewPolicyFilter(cfg config.AdSelection, throttler *throttle.Throttler, uids UIDResolver) *PolicyFilter {
	return &PolicyFilter{
		allowAll:        len(cfg.AppAllowList) == 0 || slices.Contains(cfg.AppAllowList, "*"),
		allowList:       cfg.AppAllowList,
		checkEnrollment: cfg.EnrollmentCheckEnabled,
		enrolled:        cfg.EnrolledSellers,
		revoked:         cfg.RevokedConsentPackages,
		uids:            uids,
		throttler:       throttler,
	}
}

func (f *PolicyFilter) Filter(_ context.Context, req Request) error {
	if f.throttler != nil {
		key := req.RateLimitKey
		if key == "" {
			key = req.CallerPackage
		}
		if !f.throttler.TryAcquire(req.API, key) {
			return &errortypes.RateLimitReached{Message: fmt.Sprintf("rate limit reached for %s", req.API)}
		}
	}
	if strings.TrimSpace(req.CallerPackage) == "" {
		return &errortypes.InvalidArgument{Message: "caller package name is required"}
	}
	if f.uids != nil && !slices.Contains(f.uids.PackagesForUID(req.CallerUID), req.CallerPackage) {
		return &errortypes.Unauthorized{Message: "caller package does not belong to the calling uid"}
	}
	if req.EnforceForeground && !req.Foreground {
		return &errortypes.BackgroundCaller{Message: "caller is not in the foreground"}
	}
	if f.checkEnrollment && req.Seller != "" && !slices.Contains(f.enrolled, req.Seller) {
		return &errortypes.CallerNotAllowed{Message: fmt.Sprintf("seller %s is not enrolled", req.Seller)}
	}
	if !f.allowAll && !slices.Contains(f.allowList, req.CallerPackage) {
		return &errortypes.CallerNotAllowed{Message: fmt.Sprintf("app %s is not allowed", req.CallerPackage)}
	}
	if req.EnforceConsent && slices.Contains(f.revoked, req.CallerPackage) {
		return &errortypes.ConsentRevoked{Message: "user consent revoked"}
	}
	return nil
}
