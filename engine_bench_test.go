package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"ad-selection-engine/internal/bidding"
	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/engine"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/executor"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/scoring"
	"ad-selection-engine/internal/storage"
	"ad-selection-engine/internal/testutil"
)

func BenchmarkSelectWinner(b *testing.B) {
	outcomes := make([]model.ScoringOutcome, 500)
	for i := range outcomes {
		outcomes[i] = model.ScoringOutcome{Score: float64(i % 97), Ad: model.AdData{RenderURI: fmt.Sprintf("https://b.example/%d", i)}}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = scoring.SelectWinner(outcomes)
	}
}

func BenchmarkSelectAds(b *testing.B) {
	cfg := config.Defaults()
	cfg.RateLimitPerSecond = 1e9
	exec := executor.New(cfg, clock.New())
	defer exec.Stop()

	store := storage.NewMemory()
	f := testutil.NewFetcher().
		Serve("https://seller.example/decide", `scoreAds: 'map(ads, #.bid)'`)
	buyers := []string{"b1.example", "b2.example", "b3.example"}
	now := time.Now()
	for _, buyer := range buyers {
		f.Serve("https://"+buyer+"/bid", "generateBid: ad.metadata.bid")
		for j := 0; j < 20; j++ {
			_ = store.Upsert(context.Background(), model.CustomAudience{
				Owner:           "com.bench",
				Buyer:           buyer,
				Name:            fmt.Sprintf("ca%d", j),
				ActivationTime:  now.Add(-time.Hour),
				ExpirationTime:  now.Add(time.Hour),
				LastUpdatedTime: now,
				BiddingLogicURI: "https://" + buyer + "/bid",
				Ads:             []model.AdData{{RenderURI: fmt.Sprintf("https://%s/ad%d", buyer, j), Metadata: fmt.Sprintf(`{"bid": %d}`, j+1)}},
			}, "")
		}
	}

	ev := evaluator.NewExprEvaluator(time.Hour)
	r := engine.New(engine.Deps{
		Config:    cfg,
		Exec:      exec,
		Inventory: store,
		Results:   store,
		Fetcher:   f,
		Evaluator: ev,
		Strategy:  engine.NewOnDevice(bidding.New(ev, f, nil, exec, cfg), scoring.New(ev, f), exec, cfg, engine.NoopTelemetry{}),
	})
	in := engine.Input{
		Auction:       model.AuctionConfig{Seller: "seller.example", Buyers: buyers, DecisionLogicURI: "https://seller.example/decide"},
		CallerPackage: "com.bench",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.SelectAds(context.Background(), in); err != nil {
			b.Fatal(err)
		}
	}
}
