package filtering

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/model"
)

func ad(uri string, filters *model.AdFilters) model.AdData {
	return model.AdData{RenderURI: uri, Filters: filters, AdCounterKeys: []int32{1}}
}

func TestNoOp_Identity(t *testing.T) {
	cas := []model.CustomAudience{{Name: "a"}, {Name: "b"}}
	ctx := context.Background()
	assert.Equal(t, cas, NoOp{}.FilterCustomAudiences(ctx, cas))

	ctxAds := model.ContextualAds{Buyer: "b", Ads: []model.AdWithBid{{Bid: 1}}}
	assert.Equal(t, ctxAds, NoOp{}.FilterContextualAds(ctx, ctxAds))
}

func TestPolicyFilterer_AppInstall(t *testing.T) {
	installed := NewAppInstallStore()
	installed.SetInstalled("buyer.test", "com.game")
	f := NewPolicyFilterer(installed, nil, clock.NewMock())

	cas := []model.CustomAudience{
		{Buyer: "buyer.test", Name: "all-filtered", Ads: []model.AdData{
			ad("https://buyer.test/1", &model.AdFilters{AppInstallPackages: []string{"com.game"}}),
		}},
		{Buyer: "buyer.test", Name: "partial", Ads: []model.AdData{
			ad("https://buyer.test/2", &model.AdFilters{AppInstallPackages: []string{"com.game"}}),
			ad("https://buyer.test/3", nil),
			ad("https://buyer.test/4", &model.AdFilters{AppInstallPackages: []string{"com.other"}}),
		}},
		{Buyer: "other.test", Name: "other buyer registry", Ads: []model.AdData{
			ad("https://other.test/1", &model.AdFilters{AppInstallPackages: []string{"com.game"}}),
		}},
	}

	got := f.FilterCustomAudiences(context.Background(), cas)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Name)
	assert.Equal(t, []string{"https://buyer.test/3", "https://buyer.test/4"}, renderURIs(got[0].Ads))
	assert.Equal(t, "other buyer registry", got[1].Name)

	// idempotent
	assert.Equal(t, got, f.FilterCustomAudiences(context.Background(), got))
	// input untouched
	assert.Len(t, cas[1].Ads, 3)
}

func TestPolicyFilterer_FrequencyCap(t *testing.T) {
	clk := clock.NewMock()
	h := NewHistogram(24*time.Hour, clk)
	f := NewPolicyFilterer(nil, h, clk)

	capped := &model.AdFilters{FrequencyCaps: []model.FrequencyCapRule{
		{CounterKey: 7, Event: model.EventWin, MaxCount: 2, Window: time.Hour},
	}}
	ads := model.ContextualAds{Buyer: "buyer.test", Ads: []model.AdWithBid{
		{Ad: ad("https://buyer.test/capped", capped), Bid: 1},
		{Ad: ad("https://buyer.test/free", nil), Bid: 2},
	}}

	assert.Len(t, f.FilterContextualAds(context.Background(), ads).Ads, 2)

	h.Record("buyer.test", []int32{7}, model.EventWin)
	h.Record("buyer.test", []int32{7}, model.EventWin)
	got := f.FilterContextualAds(context.Background(), ads)
	require.Len(t, got.Ads, 1)
	assert.Equal(t, "https://buyer.test/free", got.Ads[0].Ad.RenderURI)

	clk.Add(2 * time.Hour)
	assert.Len(t, f.FilterContextualAds(context.Background(), ads).Ads, 2)
}

func TestHistogram_CountsPerEvent(t *testing.T) {
	clk := clock.NewMock()
	h := NewHistogram(time.Hour, clk)

	h.Record("b", []int32{1, 2}, model.EventClick)
	h.Record("b", []int32{1}, model.EventWin)

	since := clk.Now().Add(-time.Minute)
	assert.Equal(t, 1, h.Count("b", 1, model.EventClick, since))
	assert.Equal(t, 1, h.Count("b", 2, model.EventClick, since))
	assert.Equal(t, 1, h.Count("b", 1, model.EventWin, since))
	assert.Equal(t, 0, h.Count("other", 1, model.EventWin, since))
}

func TestAdCounterEnricher(t *testing.T) {
	clk := clock.NewMock()
	h := NewHistogram(time.Hour, clk)
	e := NewAdCounterEnricher(h)

	winner := model.ScoringOutcome{Buyer: "b", Ad: model.AdData{AdCounterKeys: []int32{3, 4}}}
	var res model.AuctionResult
	e.Enrich(context.Background(), winner, &res)
	assert.Equal(t, []int32{3, 4}, res.AdCounterKeys)

	e.RecordWin(context.Background(), winner, res)
	assert.Equal(t, 1, h.Count("b", 4, model.EventWin, clk.Now()))
}

func renderURIs(ads []model.AdData) []string {
	out := make([]string, 0, len(ads))
	for _, a := range ads {
		out = append(out, a.RenderURI)
	}
	return out
}
