// Package fetch downloads decision logic, trusted signals and reporting beacons,
// caching successful responses for a configured TTL.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const maxBodyBytes = 1 << 20

// Fetcher is the network collaborator used by bidding, scoring and reporting.
type Fetcher interface {
	// FetchText returns the body of uri. An empty body is returned as is.
	FetchText(ctx context.Context, uri string) (string, error)
	// FetchSignals queries a key/value signals server and returns its JSON object.
	FetchSignals(ctx context.Context, uri, param string, keys []string) (string, error)
	// Ping fires a reporting beacon and discards the response.
	Ping(ctx context.Context, uri string) error
}

type HTTPFetcher struct {
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group
}

func NewHTTPFetcher(client *http.Client, ttl time.Duration) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		client: client,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (f *HTTPFetcher) FetchText(ctx context.Context, uri string) (string, error) {
	if v, ok := f.cache.Get(uri); ok {
		return v.(string), nil
	}
	// Concurrent buyers frequently share one bidding logic uri.
	v, err, _ := f.group.Do(uri, func() (interface{}, error) {
		body, err := f.get(ctx, uri)
		if err != nil {
			return "", err
		}
		f.cache.SetDefault(uri, body)
		return body, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *HTTPFetcher) FetchSignals(ctx context.Context, uri, param string, keys []string) (string, error) {
	full, err := SignalsURL(uri, param, keys)
	if err != nil {
		return "", err
	}
	body, err := f.FetchText(ctx, full)
	if err != nil {
		return "", err
	}
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		f.cache.Delete(full)
		return "", fmt.Errorf("signals from %s are not a JSON object", uri)
	}
	return body, nil
}

func (f *HTTPFetcher) Ping(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("build beacon request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send beacon: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("beacon %s: status %d", uri, resp.StatusCode)
	}
	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", uri, err)
	}
	log.Debug().Str("uri", uri).Int("bytes", len(b)).Msg("fetched")
	return string(b), nil
}

// SignalsURL appends the sorted, de-duplicated keys to uri as one comma separated parameter.
func SignalsURL(uri, param string, keys []string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse signals uri: %w", err)
	}
	if len(keys) == 0 {
		return u.String(), nil
	}
	seen := make(map[string]struct{}, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)
	q := u.Query()
	q.Set(param, strings.Join(uniq, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
