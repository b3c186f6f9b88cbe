package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Protocol action names as exposed over HTTP.
const (
	ActionQueueTrade            = "queue_trade"
	ActionListPendingAdmission  = "list_pending_admission"
	ActionListPendingBuys       = "list_pending_buys"
	ActionAdvanceToPendingBuy   = "advance_to_pending_buy"
	ActionReportBought          = "report_bought"
	ActionReportFailed          = "report_failed"
	ActionCancelTrade           = "cancel_trade"
	ActionListActivePositions   = "list_active_positions"
	ActionUpdatePrice           = "update_price"
	ActionCreateSellOrder       = "create_sell_order"
	ActionListPendingSellOrders = "list_pending_sell_orders"
	ActionSettleSellOrder       = "settle_sell_order"
	ActionFailSellOrder         = "fail_sell_order"
	ActionHeartbeat             = "heartbeat"
)

// TradeIDRequest addresses a single trade.
type TradeIDRequest struct {
	TradeID string `json:"trade_id"`
}

// ReportBoughtRequest carries a buy result.
type ReportBoughtRequest struct {
	TradeID string `json:"trade_id"`
	BoughtReport
}

// ReportFailedRequest carries a buy failure.
type ReportFailedRequest struct {
	TradeID      string `json:"trade_id"`
	ErrorMessage string `json:"error_message"`
}

// UpdatePriceRequest carries a fresh price sample. A nil Now means the
// server's clock.
type UpdatePriceRequest struct {
	PositionID   string     `json:"position_id"`
	CurrentPrice float64    `json:"current_price"`
	Now          *time.Time `json:"now,omitempty"`
}

// CreateSellOrderRequest asks to sell part of a position.
type CreateSellOrderRequest struct {
	PositionID string     `json:"position_id"`
	SellPct    float64    `json:"sell_pct"`
	Reason     SellReason `json:"reason"`
}

// SettleSellOrderRequest carries an executed sell.
type SettleSellOrderRequest struct {
	SellOrderID    string          `json:"sell_order_id"`
	TxRef          string          `json:"tx_ref"`
	RealizedAmount decimal.Decimal `json:"realized_amount"`
}

// FailSellOrderRequest carries a failed sell.
type FailSellOrderRequest struct {
	SellOrderID  string `json:"sell_order_id"`
	ErrorMessage string `json:"error_message"`
}

// HeartbeatRequest reports worker liveness.
type HeartbeatRequest struct {
	WorkerName string         `json:"worker_name"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error               string `json:"error"`
	Code                string `json:"code"`
	ExistingTradeID     string `json:"existing_trade_id,omitempty"`
	ExistingSellOrderID string `json:"existing_sell_order_id,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeDuplicateTrade        = "duplicate_trade"
	CodeSellOrderPending      = "sell_order_pending"
	CodePositionAlreadyExists = "position_already_exists"
	CodePositionNotActive     = "position_not_active"
	CodeInvalidTransition     = "invalid_transition"
	CodeNotFound              = "not_found"
	CodeInvalidInput          = "invalid_input"
	CodeConflict              = "conflict"
	CodeRateLimited           = "rate_limited"
	CodeUnauthorized          = "unauthorized"
	CodeInternal              = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeDuplicateTrade, ErrDuplicateTrade},
	{CodeSellOrderPending, ErrSellOrderPending},
	{CodePositionAlreadyExists, ErrPositionAlreadyExists},
	{CodePositionNotActive, ErrPositionNotActive},
	{CodeInvalidTransition, ErrInvalidTransition},
	{CodeNotFound, ErrNotFound},
	{CodeInvalidInput, ErrInvalidInput},
	{CodeConflict, ErrConflict},
	{CodeRateLimited, ErrRateLimited},
	{CodeUnauthorized, ErrUnauthorized},
}

// NewErrorResponse classifies err for the wire.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Code: CodeInternal}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			resp.Code = ce.code
			break
		}
	}
	var dup *DuplicateTradeError
	if errors.As(err, &dup) {
		resp.ExistingTradeID = dup.ExistingID
	}
	var pending *SellOrderPendingError
	if errors.As(err, &pending) {
		resp.ExistingSellOrderID = pending.ExistingID
	}
	return resp
}

// RemoteError is an ErrorResponse received from a server. It matches the
// sentinel named by its code.
type RemoteError struct {
	Status int
	ErrorResponse
}

func (e *RemoteError) Error() string { return e.ErrorResponse.Error }

func (e *RemoteError) Is(target error) bool {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err == target
		}
	}
	return false
}

// Err converts the response back into the most specific error available.
func (r ErrorResponse) Err(status int) error {
	switch {
	case r.Code == CodeDuplicateTrade && r.ExistingTradeID != "":
		return &DuplicateTradeError{ExistingID: r.ExistingTradeID}
	case r.Code == CodeSellOrderPending && r.ExistingSellOrderID != "":
		return &SellOrderPendingError{ExistingID: r.ExistingSellOrderID}
	}
	return &RemoteError{Status: status, ErrorResponse: r}
}
