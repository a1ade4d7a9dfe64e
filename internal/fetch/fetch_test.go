package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchText_CachesBody(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("generateBid: 1"))
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), time.Minute)
	for i := 0; i < 3; i++ {
		body, err := f.FetchText(context.Background(), ts.URL+"/logic")
		require.NoError(t, err)
		assert.Equal(t, "generateBid: 1", body)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchText_ErrorStatusNotCached(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), time.Minute)
	_, err := f.FetchText(context.Background(), ts.URL)
	assert.Error(t, err)
	_, err = f.FetchText(context.Background(), ts.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchSignals(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"object", `{"k1":1,"k2":"x"}`, false},
		{"array rejected", `[1,2]`, true},
		{"garbage rejected", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKeys string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKeys = r.URL.Query().Get("keys")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			f := NewHTTPFetcher(ts.Client(), time.Minute)
			body, err := f.FetchSignals(context.Background(), ts.URL, "keys", []string{"k2", "k1", "k2"})
			assert.Equal(t, "k1,k2", gotKeys)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.body, body)
		})
	}
}

func TestPing(t *testing.T) {
	var hit atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), time.Minute)
	require.NoError(t, f.Ping(context.Background(), ts.URL+"/report"))
	assert.True(t, hit.Load())
}

func TestSignalsURL_NoKeys(t *testing.T) {
	u, err := SignalsURL("https://kv.buyer.test/signals?x=1", "keys", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://kv.buyer.test/signals?x=1", u)
}
