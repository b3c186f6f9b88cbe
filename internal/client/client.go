// Package client implements domain.Protocol against a remote sniperbot
// server, so a worker can run in a separate process from the core.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// Client calls POST {baseURL}/api/actions/{action}.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// call posts body to the action endpoint and decodes the result into out.
// Error bodies are decoded into the matching domain error.
func (c *Client) call(ctx context.Context, action string, body, out any) error {
	var payload []byte
	if body == nil {
		payload = []byte("{}")
	} else {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("client: %s: encode: %w", action, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/actions/"+action, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("client: %s: create request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("client: %s: read response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er domain.ErrorResponse
		if jerr := json.Unmarshal(data, &er); jerr != nil || er.Code == "" {
			return fmt.Errorf("client: %s: HTTP %d: %s", action, resp.StatusCode, bytes.TrimSpace(data))
		}
		return fmt.Errorf("client: %s: %w", action, er.Err(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: %s: decode: %w", action, err)
	}
	return nil
}

func (c *Client) trade(ctx context.Context, action string, body any) (domain.Trade, error) {
	var t domain.Trade
	err := c.call(ctx, action, body, &t)
	return t, err
}

func (c *Client) trades(ctx context.Context, action string) ([]domain.Trade, error) {
	var out []domain.Trade
	err := c.call(ctx, action, nil, &out)
	return out, err
}

func (c *Client) QueueTrade(ctx context.Context, req domain.QueueTradeRequest) (domain.Trade, error) {
	return c.trade(ctx, domain.ActionQueueTrade, req)
}

func (c *Client) ListPendingAdmission(ctx context.Context) ([]domain.Trade, error) {
	return c.trades(ctx, domain.ActionListPendingAdmission)
}

func (c *Client) ListPendingBuys(ctx context.Context) ([]domain.Trade, error) {
	return c.trades(ctx, domain.ActionListPendingBuys)
}

func (c *Client) AdvanceToPendingBuy(ctx context.Context, tradeID string) (domain.Trade, error) {
	return c.trade(ctx, domain.ActionAdvanceToPendingBuy, domain.TradeIDRequest{TradeID: tradeID})
}

func (c *Client) ReportBought(ctx context.Context, tradeID string, report domain.BoughtReport) (domain.Trade, error) {
	return c.trade(ctx, domain.ActionReportBought, domain.ReportBoughtRequest{TradeID: tradeID, BoughtReport: report})
}

func (c *Client) ReportFailed(ctx context.Context, tradeID, errorMessage string) (domain.Trade, error) {
	return c.trade(ctx, domain.ActionReportFailed, domain.ReportFailedRequest{TradeID: tradeID, ErrorMessage: errorMessage})
}

func (c *Client) CancelTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	return c.trade(ctx, domain.ActionCancelTrade, domain.TradeIDRequest{TradeID: tradeID})
}

func (c *Client) ListActivePositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	err := c.call(ctx, domain.ActionListActivePositions, nil, &out)
	return out, err
}

func (c *Client) UpdatePrice(ctx context.Context, positionID string, price float64, now time.Time) (domain.PriceUpdate, error) {
	req := domain.UpdatePriceRequest{PositionID: positionID, CurrentPrice: price}
	if !now.IsZero() {
		req.Now = &now
	}
	var out domain.PriceUpdate
	err := c.call(ctx, domain.ActionUpdatePrice, req, &out)
	return out, err
}

func (c *Client) CreateSellOrder(ctx context.Context, positionID string, sellPct float64, reason domain.SellReason) (domain.SellOrder, error) {
	var out domain.SellOrder
	err := c.call(ctx, domain.ActionCreateSellOrder, domain.CreateSellOrderRequest{
		PositionID: positionID,
		SellPct:    sellPct,
		Reason:     reason,
	}, &out)
	return out, err
}

func (c *Client) ListPendingSellOrders(ctx context.Context) ([]domain.SellOrder, error) {
	var out []domain.SellOrder
	err := c.call(ctx, domain.ActionListPendingSellOrders, nil, &out)
	return out, err
}

func (c *Client) SettleSellOrder(ctx context.Context, sellOrderID, txRef string, realized decimal.Decimal) (domain.Settlement, error) {
	var out domain.Settlement
	err := c.call(ctx, domain.ActionSettleSellOrder, domain.SettleSellOrderRequest{
		SellOrderID:    sellOrderID,
		TxRef:          txRef,
		RealizedAmount: realized,
	}, &out)
	return out, err
}

func (c *Client) FailSellOrder(ctx context.Context, sellOrderID, errorMessage string) (domain.SellOrder, error) {
	var out domain.SellOrder
	err := c.call(ctx, domain.ActionFailSellOrder, domain.FailSellOrderRequest{
		SellOrderID:  sellOrderID,
		ErrorMessage: errorMessage,
	}, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, workerName string, metadata map[string]any) error {
	return c.call(ctx, domain.ActionHeartbeat, domain.HeartbeatRequest{WorkerName: workerName, Metadata: metadata}, nil)
}

var _ domain.Protocol = (*Client)(nil)
