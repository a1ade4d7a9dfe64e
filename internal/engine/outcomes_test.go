package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/errortypes"
)

const selectionURI = "https://seller.example/select"

func TestSelectFromOutcomes(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	h.fetcher.Serve(selectionURI, `selectOutcome: 'outcomes[0].bid >= selection_signals.floor ? outcomes[0] : nil'`)
	r := h.runner()

	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)

	in := OutcomesInput{IDs: []int64{out.ID}, Seller: seller, SelectionLogicURI: selectionURI, CallerPackage: caller}

	in.SelectionSignals = `{"floor": 2}`
	got, err := r.SelectFromOutcomes(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, out, got)

	in.SelectionSignals = `{"floor": 5}`
	got, err = r.SelectFromOutcomes(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, got)

	in.IDs = []int64{out.ID, out.ID + 1}
	_, err = r.SelectFromOutcomes(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, errortypes.StatusInvalidArgument, errortypes.ReadStatus(err))

	in.IDs = nil
	_, err = r.SelectFromOutcomes(context.Background(), in)
	assert.Equal(t, errortypes.StatusInvalidArgument, errortypes.ReadStatus(err))
}

func TestSelectFromOutcomes_OtherCallersResults(t *testing.T) {
	h := newHarness(t, config.AdSelection{})
	h.addBuyer("buyer1.example", 3)
	h.fetcher.Serve(selectionURI, `selectOutcome: 'outcomes[0]'`)
	r := h.runner()
	out, err := r.SelectAds(context.Background(), input(auctionFor("buyer1.example")))
	require.NoError(t, err)

	_, err = r.SelectFromOutcomes(context.Background(), OutcomesInput{
		IDs: []int64{out.ID}, Seller: seller, SelectionLogicURI: selectionURI, CallerPackage: "com.other",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), errortypes.CallerMismatch)
}
