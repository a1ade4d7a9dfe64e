package model

import (
	"time"
)

// AuctionConfig describes one auction. It is never mutated once the auction starts.
type AuctionConfig struct {
	Seller                   string                   `json:"seller" yaml:"seller"`
	Buyers                   []string                 `json:"custom_audience_buyers" yaml:"buyers"`
	DecisionLogicURI         string                   `json:"decision_logic_uri" yaml:"decision_logic_uri"`
	TrustedScoringSignalsURI string                   `json:"trusted_scoring_signals_uri,omitempty" yaml:"trusted_scoring_signals_uri"`
	SellerSignals            string                   `json:"seller_signals,omitempty" yaml:"seller_signals"`
	AuctionSignals           string                   `json:"auction_signals,omitempty" yaml:"auction_signals"`
	PerBuyerSignals          map[string]string        `json:"per_buyer_signals,omitempty" yaml:"per_buyer_signals"`
	BuyerContextualAds       map[string]ContextualAds `json:"buyer_contextual_ads,omitempty" yaml:"buyer_contextual_ads"`
}

// HasBuyers reports whether any buyer was configured.
func (c AuctionConfig) HasBuyers() bool { return len(c.Buyers) > 0 }

// HasContextualAds reports whether any buyer supplied at least one contextual ad.
func (c AuctionConfig) HasContextualAds() bool {
	for _, ca := range c.BuyerContextualAds {
		if len(ca.Ads) > 0 {
			return true
		}
	}
	return false
}

// AdFilters holds the optional predicates attached to an ad.
type AdFilters struct {
	// AppInstallPackages suppresses the ad when any listed package is installed.
	AppInstallPackages []string           `json:"app_install_packages,omitempty" yaml:"app_install_packages"`
	FrequencyCaps      []FrequencyCapRule `json:"frequency_caps,omitempty" yaml:"frequency_caps"`
}

// FrequencyCapRule drops the ad when the count of Event for CounterKey within Window reaches MaxCount.
type FrequencyCapRule struct {
	CounterKey int32         `json:"ad_counter_key" yaml:"ad_counter_key"`
	Event      AdEvent       `json:"event" yaml:"event"`
	MaxCount   int           `json:"max_count" yaml:"max_count"`
	Window     time.Duration `json:"window" yaml:"window"`
}

type AdEvent string

const (
	EventWin        AdEvent = "win"
	EventImpression AdEvent = "impression"
	EventView       AdEvent = "view"
	EventClick      AdEvent = "click"
)

// AdData is one ad candidate, owned by a custom audience or a contextual ad set.
type AdData struct {
	RenderURI     string     `json:"render_uri" yaml:"render_uri"`
	Metadata      string     `json:"metadata,omitempty" yaml:"metadata"`
	Filters       *AdFilters `json:"ad_filters,omitempty" yaml:"ad_filters"`
	AdCounterKeys []int32    `json:"ad_counter_keys,omitempty" yaml:"ad_counter_keys"`
}

// AdWithBid is a contextual ad that already carries its bid.
type AdWithBid struct {
	Ad  AdData  `json:"ad" yaml:"ad"`
	Bid float64 `json:"bid" yaml:"bid"`
}

// ContextualAds is the per-buyer contextual ad set supplied in the auction config.
type ContextualAds struct {
	Buyer            string      `json:"buyer" yaml:"buyer"`
	DecisionLogicURI string      `json:"decision_logic_uri" yaml:"decision_logic_uri"`
	Ads              []AdWithBid `json:"ads" yaml:"ads"`
}

// TrustedBiddingData locates the buyer's key-value signals server.
type TrustedBiddingData struct {
	URI  string   `json:"uri" yaml:"uri"`
	Keys []string `json:"keys" yaml:"keys"`
}

// CustomAudience is an inventory record. (Owner, Buyer, Name) is its identity.
type CustomAudience struct {
	Owner              string              `json:"owner" yaml:"owner"`
	Buyer              string              `json:"buyer" yaml:"buyer"`
	Name               string              `json:"name" yaml:"name"`
	CreationTime       time.Time           `json:"creation_time" yaml:"creation_time"`
	ActivationTime     time.Time           `json:"activation_time" yaml:"activation_time"`
	ExpirationTime     time.Time           `json:"expiration_time" yaml:"expiration_time"`
	LastUpdatedTime    time.Time           `json:"last_updated_time" yaml:"last_updated_time"`
	BiddingLogicURI    string              `json:"bidding_logic_uri" yaml:"bidding_logic_uri"`
	TrustedBiddingData *TrustedBiddingData `json:"trusted_bidding_data,omitempty" yaml:"trusted_bidding_data"`
	Ads                []AdData            `json:"ads" yaml:"ads"`
	UserBiddingSignals string              `json:"user_bidding_signals,omitempty" yaml:"user_bidding_signals"`
}

// Key is the identity of a custom audience.
type Key struct {
	Owner string
	Buyer string
	Name  string
}

func (ca CustomAudience) Key() Key { return Key{Owner: ca.Owner, Buyer: ca.Buyer, Name: ca.Name} }

// Eligible reports whether the audience may take part in an auction run at now.
func (ca CustomAudience) Eligible(now time.Time, maxAge time.Duration) bool {
	if now.Before(ca.ActivationTime) || !now.Before(ca.ExpirationTime) {
		return false
	}
	if now.Sub(ca.LastUpdatedTime) > maxAge {
		return false
	}
	return len(ca.Ads) > 0 && ca.BiddingLogicURI != ""
}

// Signals returns the denormalized snapshot used by bidding, scoring and persistence.
func (ca CustomAudience) Signals() CustomAudienceSignals {
	return CustomAudienceSignals{
		Owner:              ca.Owner,
		Buyer:              ca.Buyer,
		Name:               ca.Name,
		ActivationTime:     ca.ActivationTime,
		ExpirationTime:     ca.ExpirationTime,
		UserBiddingSignals: ca.UserBiddingSignals,
	}
}

// CustomAudienceSignals is a value copy of the custom audience fields visible to scripts.
type CustomAudienceSignals struct {
	Owner              string    `json:"owner"`
	Buyer              string    `json:"buyer"`
	Name               string    `json:"name"`
	ActivationTime     time.Time `json:"activation_time"`
	ExpirationTime     time.Time `json:"expiration_time"`
	UserBiddingSignals string    `json:"user_bidding_signals,omitempty"`
}

// Override replaces the bidding inputs of one custom audience when developer mode is on.
type Override struct {
	Owner                 string `json:"owner" yaml:"owner"`
	Buyer                 string `json:"buyer" yaml:"buyer"`
	Name                  string `json:"name" yaml:"name"`
	BiddingLogicJS        string `json:"bidding_logic_js" yaml:"bidding_logic_js"`
	TrustedBiddingSignals string `json:"trusted_bidding_signals" yaml:"trusted_bidding_signals"`
}

func (o Override) Key() Key { return Key{Owner: o.Owner, Buyer: o.Buyer, Name: o.Name} }

// BiddingOutcome is the best bid a custom audience produced.
type BiddingOutcome struct {
	Signals              CustomAudienceSignals
	Ad                   AdData
	Bid                  float64
	BiddingLogicURI      string
	BuyerDecisionLogicJS string
}

// ScoringOutcome is a bid (or contextual ad) after seller scoring.
type ScoringOutcome struct {
	Ad                   AdData
	Bid                  float64
	Score                float64
	Buyer                string
	Signals              *CustomAudienceSignals // nil for contextual ads
	DecisionLogicURI     string
	BuyerDecisionLogicJS string
	Downloaded           bool
}

// AuctionResult is the persisted record of a won auction.
type AuctionResult struct {
	ID                   int64                  `json:"ad_selection_id"`
	WinningRenderURI     string                 `json:"winning_render_uri"`
	WinningBid           float64                `json:"winning_bid"`
	CustomAudience       *CustomAudienceSignals `json:"custom_audience_signals,omitempty"`
	ContextualSignals    string                 `json:"contextual_signals,omitempty"`
	BuyerDecisionLogicJS string                 `json:"buyer_decision_logic_js,omitempty"`
	BiddingLogicURI      string                 `json:"bidding_logic_uri,omitempty"`
	CallerPackageName    string                 `json:"caller_package_name"`
	CreatedAt            time.Time              `json:"creation_timestamp"`
	AdCounterKeys        []int32                `json:"ad_counter_keys,omitempty"`
}

// TrustedBiddingDataURI returns the signals uri or "" when the audience has none.
func (ca CustomAudience) TrustedBiddingDataURI() string {
	if ca.TrustedBiddingData == nil {
		return ""
	}
	return ca.TrustedBiddingData.URI
}
