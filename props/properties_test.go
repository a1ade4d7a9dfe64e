package props

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/filtering"
	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/storage"
)

func TestLoadFixtures(t *testing.T) {
	fx, err := LoadFixtures(filepath.Join("testdata", "fixtures.yaml"))
	require.NoError(t, err)

	require.Len(t, fx.CustomAudiences, 2)
	shoes := fx.CustomAudiences[0]
	assert.Equal(t, "https://buyer.example/daily", shoes.DailyUpdateURI)
	assert.Equal(t, `{"size": 42}`, shoes.UserBiddingSignals)
	require.Len(t, shoes.Ads, 1)
	require.NotNil(t, shoes.Ads[0].Filters)
	assert.Equal(t, []model.FrequencyCapRule{{CounterKey: 1, Event: model.EventWin, MaxCount: 3, Window: 24 * time.Hour}}, shoes.Ads[0].Filters.FrequencyCaps)
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), fx.CustomAudiences[1].ExpirationTime)
	assert.Len(t, fx.Overrides, 1)
	assert.Len(t, fx.InstalledApps, 1)
}

func TestLoadFixtures_Errors(t *testing.T) {
	_, err := LoadFixtures(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("custom_audiences:\n  - buyer: b.example\n"), 0o600))
	_, err = LoadFixtures(path)
	assert.ErrorContains(t, err, "needs owner, buyer and name")
}

func TestFixtures_Apply(t *testing.T) {
	fx, err := LoadFixtures(filepath.Join("testdata", "fixtures.yaml"))
	require.NoError(t, err)
	store := storage.NewMemory()
	apps := filtering.NewAppInstallStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, fx.Apply(context.Background(), now, store, store, apps))

	eligible, err := store.FetchEligible(context.Background(), []string{"buyer.example"}, now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "shoes", eligible[0].Name)
	assert.Equal(t, now.Add(defaultLifetime), eligible[0].ExpirationTime)
	daily, ok := store.DailyUpdateURI(eligible[0].Key())
	assert.True(t, ok)
	assert.Equal(t, "https://buyer.example/daily", daily)

	o, ok, err := store.Override(context.Background(), model.Key{Owner: "com.example.app", Buyer: "buyer.example", Name: "shoes"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "generateBid: 5", o.BiddingLogicJS)
	assert.True(t, apps.IsInstalled("buyer.example", "com.buyer.app"))
}
