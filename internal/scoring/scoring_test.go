package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/testutil"
)

const (
	decisionURI = "https://seller.example/decide"
	scoringURI  = "https://seller.example/kv"
	scoreByBid  = `scoreAds: 'map(ads, #.bid)'`
)

func bid(buyer, uri string, v float64) *model.BiddingOutcome {
	return &model.BiddingOutcome{
		Signals: model.CustomAudienceSignals{Owner: "o", Buyer: buyer, Name: "ca-" + uri},
		Ad:      model.AdData{RenderURI: uri},
		Bid:     v,
	}
}

func auction() model.AuctionConfig {
	return model.AuctionConfig{Seller: "seller.example", DecisionLogicURI: decisionURI}
}

func TestScore_ScoresBidsThenContextual(t *testing.T) {
	f := testutil.NewFetcher().Serve(decisionURI, scoreByBid)
	c := New(evaluator.NewExprEvaluator(time.Minute), f)

	out, err := c.Score(context.Background(), Input{
		Auction: auction(),
		Bids:    []*model.BiddingOutcome{bid("b1", "r1", 1.1), bid("b2", "r2", 10)},
		Contextual: []model.ContextualAds{{
			Buyer: "b3", DecisionLogicURI: "https://b3/logic",
			Ads: []model.AdWithBid{{Ad: model.AdData{RenderURI: "c1"}, Bid: 4}},
		}},
	})

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{1.1, 10, 4}, []float64{out[0].Score, out[1].Score, out[2].Score})
	assert.Equal(t, "b2", out[1].Buyer)
	require.NotNil(t, out[1].Signals)
	assert.Nil(t, out[2].Signals)
	assert.Equal(t, "https://b3/logic", out[2].DecisionLogicURI)
}

func TestScore_TrustedSignalsKeyedByRenderURI(t *testing.T) {
	f := testutil.NewFetcher().
		Serve(decisionURI, `scoreAds: 'map(ads, trusted_scoring_signals[#.render_uri])'`).
		Serve(scoringURI, `{"r1": 3, "r2": 5}`)
	c := New(evaluator.NewExprEvaluator(time.Minute), f)

	a := auction()
	a.TrustedScoringSignalsURI = scoringURI
	out, err := c.Score(context.Background(), Input{Auction: a, Bids: []*model.BiddingOutcome{bid("b", "r1", 1), bid("b", "r2", 1)}})

	require.NoError(t, err)
	assert.Equal(t, 3.0, out[0].Score)
	assert.Equal(t, 5.0, out[1].Score)
	assert.ElementsMatch(t, []string{"r1", "r2"}, f.Keys(scoringURI))
}

func TestScore_Failures(t *testing.T) {
	tests := []struct {
		name       string
		fetcher    *testutil.Fetcher
		trusted    bool
		wantStatus errortypes.Status
		wantMsg    string
	}{
		{
			name:       "missing decision logic",
			fetcher:    testutil.NewFetcher().Fail(decisionURI, errors.New("404")),
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.MissingScoringLogic,
		},
		{
			name:       "empty decision logic",
			fetcher:    testutil.NewFetcher().Serve(decisionURI, ""),
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.MissingScoringLogic,
		},
		{
			name:       "missing trusted signals",
			fetcher:    testutil.NewFetcher().Serve(decisionURI, scoreByBid).Fail(scoringURI, errors.New("503")),
			trusted:    true,
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.MissingTrustedScoringSignals,
		},
		{
			name:       "wrong score count",
			fetcher:    testutil.NewFetcher().Serve(decisionURI, `scoreAds: '[1]'`),
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.ScoringFailed,
		},
		{
			name:       "non numeric score",
			fetcher:    testutil.NewFetcher().Serve(decisionURI, `scoreAds: 'map(ads, "high")'`),
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.ScoringFailed,
		},
		{
			name:       "script error",
			fetcher:    testutil.NewFetcher().Serve(decisionURI, `scoreAds: 'ads +'`),
			wantStatus: errortypes.StatusInternalError,
			wantMsg:    errortypes.ScoringFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(evaluator.NewExprEvaluator(time.Minute), tt.fetcher)
			a := auction()
			if tt.trusted {
				a.TrustedScoringSignalsURI = scoringURI
			}
			_, err := c.Score(context.Background(), Input{Auction: a, Bids: []*model.BiddingOutcome{bid("b", "r1", 1), bid("b", "r2", 2)}})
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, errortypes.ReadStatus(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Contains(t, err.Error(), errortypes.AdSelectionFailure)
		})
	}
}

func TestScore_TimeoutIsNotInternal(t *testing.T) {
	f := testutil.NewFetcher().Serve(decisionURI, scoreByBid)
	c := New(testutil.BlockingEvaluator{}, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Score(ctx, Input{Auction: auction(), Bids: []*model.BiddingOutcome{bid("b", "r1", 1)}})

	require.Error(t, err)
	assert.Equal(t, errortypes.StatusTimeout, errortypes.ReadStatus(err))
	assert.Contains(t, err.Error(), errortypes.ScoringTimedOut)
}

func TestInput_Empty(t *testing.T) {
	assert.True(t, Input{}.Empty())
	assert.True(t, Input{Contextual: []model.ContextualAds{{Buyer: "b"}}}.Empty())
	assert.False(t, Input{Bids: []*model.BiddingOutcome{bid("b", "r", 1)}}.Empty())
}

func scored(scores ...float64) []model.ScoringOutcome {
	out := make([]model.ScoringOutcome, len(scores))
	for i, s := range scores {
		out[i] = model.ScoringOutcome{Ad: model.AdData{RenderURI: string(rune('a' + i))}, Score: s}
	}
	return out
}

func TestParseScores_NonFiniteScoresCannotWin(t *testing.T) {
	got, err := parseScores([]any{math.NaN(), 2.0, math.Inf(1), math.Inf(-1)}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0, 0}, got)
}

func TestSelectWinner(t *testing.T) {
	tests := []struct {
		name    string
		in      []model.ScoringOutcome
		want    string
		wantErr bool
	}{
		{"highest wins", scored(1.1, 2.2, 10, 6.7), "c", false},
		{"negatives discarded", scored(-1.1, 2.2, -4.5, -10), "b", false},
		{"first seen wins a tie", scored(3, 5, 5), "b", false},
		{"all non-positive", scored(0, -1), "", true},
		{"nan never wins", scored(math.NaN(), 5, 2), "b", false},
		{"nan after best", scored(3, math.NaN()), "a", false},
		{"infinity never wins", scored(math.Inf(1), 1), "b", false},
		{"only nan", scored(math.NaN()), "", true},
		{"empty", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := SelectWinner(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), errortypes.NoWinningAdFound)
				assert.Equal(t, errortypes.StatusInternalError, errortypes.ReadStatus(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Ad.RenderURI)
			assert.Greater(t, w.Score, 0.0)
		})
	}
}

func TestOutcomeSelector(t *testing.T) {
	outcomes := []model.AuctionResult{{ID: 11, WinningBid: 1}, {ID: 22, WinningBid: 3}}
	s := NewOutcomeSelector(evaluator.NewExprEvaluator(time.Minute))

	tests := []struct {
		name    string
		logic   string
		signals string
		wantID  int64
		wantOK  bool
		wantErr bool
	}{
		{"returns outcome object", `selectOutcome: 'outcomes[0].bid >= outcomes[1].bid ? outcomes[0] : outcomes[1]'`, "", 22, true, false},
		{"returns id", `selectOutcome: 'outcomes[0].id'`, "", 11, true, false},
		{"threshold from signals", `selectOutcome: 'outcomes[1].bid > selection_signals.floor ? outcomes[1] : nil'`, `{"floor": 5}`, 0, false, false},
		{"unknown id", `selectOutcome: '99'`, "", 0, false, true},
		{"signals not an object", `selectOutcome: 'nil'`, `[1]`, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok, err := s.Select(context.Background(), tt.logic, outcomes, tt.signals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
