package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/metrics"
	"github.com/alanyoungcy/sniperbot/internal/server"
	"github.com/alanyoungcy/sniperbot/internal/server/handler"
	"github.com/alanyoungcy/sniperbot/internal/service"
	"github.com/alanyoungcy/sniperbot/internal/store/memory"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func ptr[T any](v T) *T { return &v }

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *service.Core) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	channels := service.NewChannelDirectory(nil, domain.ChannelConfig{
		ID: "default", Name: "default", AllocationSOL: 0.1, TakeProfitPct: ptr(50.0), AutoSellEnabled: true,
	})
	core := service.NewCore(memory.New(), memory.NewWorkerStore(), channels, service.Hooks{Metrics: m}, 0, logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler("server", nil, logger),
		Actions:   handler.NewActionHandler(core, logger),
		Trades:    handler.NewTradeHandler(core.Trades, logger),
		Positions: handler.NewPositionHandler(core.Positions, core.Sells, logger),
		Workers:   handler.NewWorkerHandler(core.Liveness, logger),
		Metrics:   metrics.Handler(reg),
	}
	srv := httptest.NewServer(server.NewHandler(server.Config{APIKey: apiKey}, handlers, server.Deps{Metrics: m}, logger))
	t.Cleanup(srv.Close)
	return srv, core
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestActions_QueueAndDuplicate(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body := `{"contract_address":"` + bonk + `","chain":"solana","channel_id":"x","source_message":"ape"}`

	status, first := do(t, http.MethodPost, srv.URL+"/api/actions/queue_trade", body)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "pending_sigma", first["status"])

	status, dup := do(t, http.MethodPost, srv.URL+"/api/actions/queue_trade", body)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.CodeDuplicateTrade, dup["code"])
	assert.Equal(t, first["id"], dup["existing_trade_id"])
}

func TestActions_ErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, "")

	status, body := do(t, http.MethodPost, srv.URL+"/api/actions/nope", "{}")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.CodeNotFound, body["code"])

	status, body = do(t, http.MethodPost, srv.URL+"/api/actions/queue_trade", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.CodeInvalidInput, body["code"])

	status, body = do(t, http.MethodPost, srv.URL+"/api/actions/advance_to_pending_buy", `{"trade_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.CodeNotFound, body["code"])

	status, body = do(t, http.MethodPost, srv.URL+"/api/actions/heartbeat", `{"worker_name":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.CodeInvalidInput, body["code"])
}

func TestActions_BuyAndManualClose(t *testing.T) {
	srv, core := newTestServer(t, "")
	status, tr := do(t, http.MethodPost, srv.URL+"/api/actions/queue_trade",
		`{"contract_address":"`+bonk+`","chain":"solana"}`)
	require.Equal(t, http.StatusCreated, status)
	id := tr["id"].(string)

	status, _ = do(t, http.MethodPost, srv.URL+"/api/actions/advance_to_pending_buy", `{"trade_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, status)

	// Approving twice is a no-op.
	status, again := do(t, http.MethodPost, srv.URL+"/api/actions/advance_to_pending_buy", `{"trade_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending_buy", again["status"])

	status, bought := do(t, http.MethodPost, srv.URL+"/api/actions/report_bought",
		`{"trade_id":"`+id+`","tx_ref":"tx-1","tokens_received":"1000","buy_price":0.0001}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bought", bought["status"])

	positions, err := core.ListActivePositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	posID := positions[0].ID

	status, order := do(t, http.MethodPost, srv.URL+"/api/positions/"+posID+"/close", "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "manual_close", order["reason"])

	status, pending := do(t, http.MethodPost, srv.URL+"/api/positions/"+posID+"/close", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.CodeSellOrderPending, pending["code"])
	assert.Equal(t, order["id"], pending["existing_sell_order_id"])

	status, settled := do(t, http.MethodPost, srv.URL+"/api/actions/settle_sell_order",
		`{"sell_order_id":"`+order["id"].(string)+`","tx_ref":"tx-2","realized_amount":"0.2"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, settled["trade_finalized"])

	status, got := do(t, http.MethodGet, srv.URL+"/api/trades/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sold", got["status"])
	assert.Equal(t, "0.1", got["pnl_sol"])

	status, events := do(t, http.MethodGet, srv.URL+"/api/trades/"+id+"/events", "")
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, events["events"])
}

func TestDashboard_Lists(t *testing.T) {
	srv, _ := newTestServer(t, "")

	status, body := do(t, http.MethodGet, srv.URL+"/api/trades?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, domain.CodeInvalidInput, body["code"])

	status, body = do(t, http.MethodGet, srv.URL+"/api/trades", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["trades"])

	status, _ = do(t, http.MethodPost, srv.URL+"/api/actions/heartbeat", `{"worker_name":"w1","metadata":{"buys":1}}`)
	require.Equal(t, http.StatusOK, status)
	status, body = do(t, http.MethodGet, srv.URL+"/api/workers", "")
	require.Equal(t, http.StatusOK, status)
	workers := body["workers"].([]any)
	require.Len(t, workers, 1)
	assert.Equal(t, true, workers[0].(map[string]any)["online"])
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	status, body := do(t, http.MethodPost, srv.URL+"/api/actions/list_pending_admission", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, domain.CodeUnauthorized, body["code"])

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/actions/list_pending_admission", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = do(t, http.MethodGet, srv.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	do(t, http.MethodPost, srv.URL+"/api/actions/queue_trade", `{"contract_address":"`+bonk+`","chain":"solana"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sniperbot_trades_queued_total{chain="solana"} 1`)
	assert.Contains(t, string(data), "sniperbot_http_requests_total")
}
