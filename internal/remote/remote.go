// Package remote builds and sends auctions to a trusted seller front end that runs
// bidding and scoring off the device.
package remote

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"

	"ad-selection-engine/internal/model"
)

// BuyerInput is the per-buyer payload. It is cbor encoded and optionally snappy compressed.
type BuyerInput struct {
	CustomAudiences []CustomAudience `cbor:"custom_audiences"`
}

type CustomAudience struct {
	Owner              string   `cbor:"owner"`
	Name               string   `cbor:"name"`
	BiddingSignalsKeys []string `cbor:"bidding_signals_keys"`
	UserBiddingSignals string   `cbor:"user_bidding_signals,omitempty"`
	AdRenderURIs       []string `cbor:"ad_render_uris"`
}

type AuctionRequest struct {
	Seller           string            `cbor:"seller"`
	DecisionLogicURI string            `cbor:"decision_logic_uri"`
	SellerSignals    string            `cbor:"seller_signals,omitempty"`
	AuctionSignals   string            `cbor:"auction_signals,omitempty"`
	PerBuyerSignals  map[string]string `cbor:"per_buyer_signals,omitempty"`
	Compressed       bool              `cbor:"compressed"`
	BuyerInputs      map[string][]byte `cbor:"buyer_inputs"`
}

// AuctionResponse is the winner chosen by the front end. IsChaff marks a response with no winner.
type AuctionResponse struct {
	IsChaff             bool    `cbor:"is_chaff"`
	RenderURI           string  `cbor:"render_uri"`
	Buyer               string  `cbor:"buyer"`
	Bid                 float64 `cbor:"bid"`
	Score               float64 `cbor:"score"`
	CustomAudienceName  string  `cbor:"custom_audience_name"`
	CustomAudienceOwner string  `cbor:"custom_audience_owner"`
	BiddingLogicURI     string  `cbor:"bidding_logic_uri,omitempty"`
}

// SellerFrontEnd runs a whole auction remotely.
type SellerFrontEnd interface {
	RunAuction(ctx context.Context, req AuctionRequest) (AuctionResponse, error)
}

// BuildRequest groups cas by buyer and encodes one payload per buyer.
func BuildRequest(auction model.AuctionConfig, cas []model.CustomAudience, compress bool) (AuctionRequest, error) {
	perBuyer := map[string]*BuyerInput{}
	for _, ca := range cas {
		in, ok := perBuyer[ca.Buyer]
		if !ok {
			in = &BuyerInput{}
			perBuyer[ca.Buyer] = in
		}
		in.CustomAudiences = append(in.CustomAudiences, sanitize(ca))
	}

	req := AuctionRequest{
		Seller:           auction.Seller,
		DecisionLogicURI: auction.DecisionLogicURI,
		SellerSignals:    auction.SellerSignals,
		AuctionSignals:   auction.AuctionSignals,
		PerBuyerSignals:  auction.PerBuyerSignals,
		Compressed:       compress,
		BuyerInputs:      make(map[string][]byte, len(perBuyer)),
	}
	for buyer, in := range perBuyer {
		b, err := EncodeBuyerInput(*in, compress)
		if err != nil {
			return AuctionRequest{}, fmt.Errorf("encode input for %s: %w", buyer, err)
		}
		req.BuyerInputs[buyer] = b
	}
	return req, nil
}

// sanitize drops the audience's own name from its bidding signal keys.
func sanitize(ca model.CustomAudience) CustomAudience {
	out := CustomAudience{
		Owner:              ca.Owner,
		Name:               ca.Name,
		UserBiddingSignals: ca.UserBiddingSignals,
		BiddingSignalsKeys: []string{},
	}
	if ca.TrustedBiddingData != nil {
		for _, k := range ca.TrustedBiddingData.Keys {
			if k != ca.Name {
				out.BiddingSignalsKeys = append(out.BiddingSignalsKeys, k)
			}
		}
	}
	for _, ad := range ca.Ads {
		out.AdRenderURIs = append(out.AdRenderURIs, ad.RenderURI)
	}
	return out
}

func EncodeBuyerInput(in BuyerInput, compress bool) ([]byte, error) {
	b, err := cbor.Marshal(in)
	if err != nil {
		return nil, err
	}
	if compress {
		return snappy.Encode(nil, b), nil
	}
	return b, nil
}

func DecodeBuyerInput(b []byte, compressed bool) (BuyerInput, error) {
	if compressed {
		var err error
		if b, err = snappy.Decode(nil, b); err != nil {
			return BuyerInput{}, fmt.Errorf("decompress: %w", err)
		}
	}
	var in BuyerInput
	if err := cbor.Unmarshal(b, &in); err != nil {
		return BuyerInput{}, fmt.Errorf("decode: %w", err)
	}
	return in, nil
}
