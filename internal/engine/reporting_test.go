package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/errortypes"
)

func TestReportImpression_FiresSellerAndBuyerBeacons(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	r := h.runner()
	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)

	err = r.ReportImpression(context.Background(), ReportInput{
		ID: out.ID, Auction: auctionFor("buyer1.example"), CallerPackage: caller, Foreground: true,
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://seller.example/report", "https://buyer1.example/win"}, h.fetcher.Pinged())
}

func TestReportImpression_BeaconFailureIgnored(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	h.fetcher.Fail("https://buyer1.example/win", assert.AnError)
	r := h.runner()
	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)

	err = r.ReportImpression(context.Background(), ReportInput{ID: out.ID, Auction: auctionFor("buyer1.example"), CallerPackage: caller})
	assert.NoError(t, err)
}

func TestReportImpression_Rejections(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	r := h.runner()
	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)

	tests := []struct {
		name       string
		in         ReportInput
		wantStatus errortypes.Status
		wantMsg    string
	}{
		{"unknown id", ReportInput{ID: out.ID + 1, Auction: auctionFor(), CallerPackage: caller}, errortypes.StatusInvalidArgument, errortypes.InvalidAdSelectionID},
		{"other caller", ReportInput{ID: out.ID, Auction: auctionFor(), CallerPackage: "com.other"}, errortypes.StatusInvalidArgument, errortypes.CallerMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ReportImpression(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, errortypes.ReadStatus(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
	assert.Empty(t, h.fetcher.Pinged())
}

func TestReportImpression_SellerScriptWithoutURI(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	r := h.runner()
	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)
	h.fetcher.Serve(decisionURI, `reportResult: '{"signals_for_buyer": 1}'`)

	err = r.ReportImpression(context.Background(), ReportInput{ID: out.ID, Auction: auctionFor("buyer1.example"), CallerPackage: caller})

	require.Error(t, err)
	assert.Equal(t, errortypes.StatusInternalError, errortypes.ReadStatus(err))
	assert.Contains(t, err.Error(), errortypes.ReportingFailed)
}
