package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
)

const contentType = "application/cbor"

// HTTPClient posts cbor encoded requests to a seller front end endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

var _ SellerFrontEnd = (*HTTPClient)(nil)

func NewHTTPClient(endpoint string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{endpoint: endpoint, client: client}
}

func (c *HTTPClient) RunAuction(ctx context.Context, req AuctionRequest) (AuctionResponse, error) {
	body, err := cbor.Marshal(req)
	if err != nil {
		return AuctionResponse{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return AuctionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return AuctionResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return AuctionResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return AuctionResponse{}, fmt.Errorf("seller front end returned %d", resp.StatusCode)
	}
	var out AuctionResponse
	if err := cbor.Unmarshal(raw, &out); err != nil {
		return AuctionResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
