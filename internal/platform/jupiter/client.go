// Package jupiter quotes Solana token prices in SOL through the Jupiter
// price API.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

const (
	// DefaultBaseURL is the public price API.
	DefaultBaseURL = "https://api.jup.ag/price/v2"
	// WrappedSOL is the vsToken used to quote in SOL.
	WrappedSOL = "So11111111111111111111111111111111111111112"

	rateLimitKey = "jupiter:price"
)

// Client implements domain.PriceSource for the Solana chain.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRateLimiter paces requests through a shared limiter.
func WithRateLimiter(l domain.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// flexFloat decodes a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string    `json:"id"`
		Price flexFloat `json:"price"`
	} `json:"data"`
}

// Price returns the SOL price of a Solana mint.
func (c *Client) Price(ctx context.Context, chain domain.Chain, mint string) (float64, error) {
	prices, err := c.Prices(ctx, chain, []string{mint})
	if err != nil {
		return 0, err
	}
	p, ok := prices[mint]
	if !ok {
		return 0, fmt.Errorf("jupiter: no price for %s: %w", mint, domain.ErrNotFound)
	}
	return p, nil
}

// Prices returns SOL prices for several mints in one request. Mints without
// a positive quote are omitted.
func (c *Client) Prices(ctx context.Context, chain domain.Chain, mints []string) (map[string]float64, error) {
	if chain != domain.ChainSolana {
		return nil, fmt.Errorf("jupiter: chain %q not supported: %w", chain, domain.ErrInvalidInput)
	}
	out := make(map[string]float64, len(mints))
	if len(mints) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))
	params.Set("vsToken", WrappedSOL)

	body, err := c.doGet(ctx, "?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("jupiter: get prices: %w", err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode prices: %w", err)
	}
	for mint, entry := range resp.Data {
		if entry != nil && entry.Price > 0 {
			out[mint] = float64(entry.Price)
		}
	}
	return out, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", status, body)
	}
}

var _ domain.PriceSource = (*Client)(nil)
