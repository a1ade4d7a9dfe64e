package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/model"
)

func audiences() []model.CustomAudience {
	return []model.CustomAudience{
		{
			Owner: "o", Buyer: "b1", Name: "shoes",
			TrustedBiddingData: &model.TrustedBiddingData{URI: "https://b1/kv", Keys: []string{"shoes", "k1", "k2"}},
			Ads:                []model.AdData{{RenderURI: "https://b1/ad"}},
		},
		{Owner: "o", Buyer: "b2", Name: "hats", Ads: []model.AdData{{RenderURI: "https://b2/ad"}}},
	}
}

func TestBuildRequest_SanitizesKeys(t *testing.T) {
	for _, compress := range []bool{false, true} {
		req, err := BuildRequest(model.AuctionConfig{Seller: "s", DecisionLogicURI: "https://s/d"}, audiences(), compress)
		require.NoError(t, err)
		assert.Equal(t, compress, req.Compressed)
		require.Len(t, req.BuyerInputs, 2)

		in, err := DecodeBuyerInput(req.BuyerInputs["b1"], compress)
		require.NoError(t, err)
		require.Len(t, in.CustomAudiences, 1)
		assert.Equal(t, []string{"k1", "k2"}, in.CustomAudiences[0].BiddingSignalsKeys)
		assert.Equal(t, []string{"https://b1/ad"}, in.CustomAudiences[0].AdRenderURIs)

		in, err = DecodeBuyerInput(req.BuyerInputs["b2"], compress)
		require.NoError(t, err)
		assert.Empty(t, in.CustomAudiences[0].BiddingSignalsKeys)
	}
}

func TestHTTPClient_RunAuction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentType, r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		var req AuctionRequest
		if !assert.NoError(t, cbor.Unmarshal(raw, &req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out, _ := cbor.Marshal(AuctionResponse{RenderURI: "https://" + req.Seller + "/win", Buyer: "b1", Bid: 2, Score: 3})
		_, _ = w.Write(out)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, ts.Client())
	resp, err := c.RunAuction(context.Background(), AuctionRequest{Seller: "seller"})
	require.NoError(t, err)
	assert.Equal(t, "https://seller/win", resp.RenderURI)
	assert.Equal(t, 3.0, resp.Score)
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, ts.Client()).RunAuction(context.Background(), AuctionRequest{})
	assert.Error(t, err)
}
