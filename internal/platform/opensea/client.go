// Package opensea talks to the OpenSea v2 REST API and the OpenSea Stream
// websocket.
package opensea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const fulfillmentPath = "/api/v2/listings/fulfillment_data"

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client is the REST client for the OpenSea v2 API.
type Client struct {
	baseURL    string
	apiKey     string
	fulfiller  common.Address
	httpClient *http.Client
	limiter    Limiter
}

// NewClient creates a REST client. fulfiller is the account that will fill
// orders; the API tailors the returned parameters to it.
//
// baseURL is the API root, e.g. "https://api.opensea.io".
func NewClient(baseURL, apiKey string, fulfiller common.Address, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		fulfiller: fulfiller,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetLimiter makes every request wait on l first. Call before first use.
func (c *Client) SetLimiter(l Limiter) { c.limiter = l }

// FulfillListing fetches the Seaport parameters that fill listing.
func (c *Client) FulfillListing(ctx context.Context, listing *domain.Listing) (*domain.Fulfillment, error) {
	req := FulfillListingRequest{
		Listing: ListingRef{
			Hash:            listing.OrderHash.Hex(),
			Chain:           listing.Chain,
			ProtocolAddress: listing.ProtocolAddress.Hex(),
		},
		Fulfiller: Fulfiller{Address: c.fulfiller.Hex()},
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("opensea: fulfill listing %s: %w", listing.OrderHash.Hex(), err)
		}
	}
	body, err := c.doPost(ctx, fulfillmentPath, req)
	if err != nil {
		return nil, fmt.Errorf("opensea: fulfill listing %s: %w", listing.OrderHash.Hex(), err)
	}

	var resp FulfillListingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("opensea: decode fulfillment: %w", err)
	}
	return resp.ToDomain(), nil
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
