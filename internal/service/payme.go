package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/xumezzan/maestro-uz/internal/config"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/models"
	"github.com/xumezzan/maestro-uz/internal/store"
	"go.uber.org/zap"
)

// Payme protocol error codes. The gateway's retry and alerting logic keys
// off these, so each failure class keeps its exact code.
const (
	PaymeCodeParseError          = -32700
	PaymeCodeMethodNotFound      = -32601
	PaymeCodeUnauthorized        = -32504
	PaymeCodeInvalidAmount       = -31001
	PaymeCodeCannotPerform       = -31008
	PaymeCodeTransactionNotFound = -31003
	PaymeCodeOrderNotFound       = -31050
)

// Payme transaction states as reported in response envelopes.
const (
	paymeStateCreated   = 1
	paymeStatePerformed = 2
	paymeStateCanceled  = -1
)

type paymeMethod string

const (
	paymeCheckPerformTransaction paymeMethod = "CheckPerformTransaction"
	paymeCreateTransaction       paymeMethod = "CreateTransaction"
	paymePerformTransaction      paymeMethod = "PerformTransaction"
	paymeCheckTransaction        paymeMethod = "CheckTransaction"
	paymeCancelTransaction       paymeMethod = "CancelTransaction"
)

// PaymeRequest is the JSON-RPC envelope delivered to the webhook endpoint.
type PaymeRequest struct {
	Method string          `json:"method"`
	Params PaymeParams     `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// PaymeParams carries the union of all method parameters. Amount is in
// tiyins (soums * 100); Account.TransactionID is the internal ledger id the
// merchant handed to the gateway at origination.
type PaymeParams struct {
	ID      string       `json:"id,omitempty"`
	Amount  int64        `json:"amount,omitempty"`
	Account PaymeAccount `json:"account,omitempty"`
}

type PaymeAccount struct {
	TransactionID string `json:"transaction_id"`
}

// PaymeResponse is the JSON-RPC reply. Exactly one of Result or Error is set.
type PaymeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *PaymeError     `json:"error,omitempty"`
}

type PaymeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type paymeAllowResult struct {
	Allow bool `json:"allow"`
}

type paymeCreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type paymePerformResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type paymeCancelResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type paymeCheckResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

// PaymeGateway adapts the sync-RPC gateway protocol onto the ledger.
type PaymeGateway struct {
	ledger Ledger
	secret string
	lg     *logging.ZapLogger
}

func NewPaymeGateway(cfg *config.Config, ledger Ledger, lg *logging.ZapLogger) *PaymeGateway {
	return &PaymeGateway{ledger: ledger, secret: cfg.PaymeSecretKey, lg: lg}
}

// Handle authenticates the request and dispatches the method. Authentication
// precedes every ledger read; its failure is reported inside the gateway's
// own error envelope, never as a transport-level 401.
func (g *PaymeGateway) Handle(ctx context.Context, authHeader string, req *PaymeRequest) *PaymeResponse {
	if !g.authorize(authHeader) {
		g.lg.Warn("payme auth failure", zap.String("method", req.Method))
		return paymeErr(req.ID, PaymeCodeUnauthorized, "Unauthorized")
	}

	switch paymeMethod(req.Method) {
	case paymeCheckPerformTransaction:
		return g.checkPerform(ctx, req)
	case paymeCreateTransaction:
		return g.create(ctx, req)
	case paymePerformTransaction:
		return g.perform(ctx, req)
	case paymeCheckTransaction:
		return g.check(ctx, req)
	case paymeCancelTransaction:
		return g.cancel(ctx, req)
	default:
		return paymeErr(req.ID, PaymeCodeMethodNotFound, "Method not found")
	}
}

func (g *PaymeGateway) authorize(header string) bool {
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	_, password, ok := strings.Cut(string(decoded), ":")
	return ok && password == g.secret
}

func (g *PaymeGateway) checkPerform(ctx context.Context, req *PaymeRequest) *PaymeResponse {
	if _, resp := g.pendingByAccount(ctx, req); resp != nil {
		return resp
	}
	return paymeOK(req.ID, paymeAllowResult{Allow: true})
}

func (g *PaymeGateway) create(ctx context.Context, req *PaymeRequest) *PaymeResponse {
	if req.Params.ID == "" {
		return paymeErr(req.ID, PaymeCodeCannotPerform, "Missing gateway transaction id")
	}

	t, resp := g.pendingByAccount(ctx, req)
	if resp != nil {
		return resp
	}

	// AttachGatewayRef is a no-op replay when the same ref is already bound,
	// so a re-delivered CreateTransaction gets its original envelope back.
	t, err := g.ledger.AttachGatewayRef(ctx, t.ID, req.Params.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrGatewayRefBound):
			return paymeErr(req.ID, PaymeCodeCannotPerform, "Unable to perform operation")
		case errors.Is(err, store.ErrNotPending), errors.Is(err, store.ErrTransactionNotFound):
			return paymeErr(req.ID, PaymeCodeOrderNotFound, "Transaction not found or already finished")
		default:
			return g.internal(req.ID, "payme create", err)
		}
	}

	g.lg.Info("payme transaction created",
		zap.Int64("transaction_id", t.ID),
		zap.String("gateway_ref", req.Params.ID))

	return paymeOK(req.ID, paymeCreateResult{
		CreateTime:  t.CreatedAt.UnixMilli(),
		Transaction: strconv.FormatInt(t.ID, 10),
		State:       paymeStateCreated,
	})
}

func (g *PaymeGateway) perform(ctx context.Context, req *PaymeRequest) *PaymeResponse {
	t, credited, err := g.ledger.PerformByGatewayRef(ctx, req.Params.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			return paymeErr(req.ID, PaymeCodeTransactionNotFound, "Transaction not found")
		case errors.Is(err, store.ErrAlreadyFinished):
			return paymeErr(req.ID, PaymeCodeCannotPerform, "Unable to perform operation")
		default:
			return g.internal(req.ID, "payme perform", err)
		}
	}

	if credited {
		g.lg.Info("payme transaction performed",
			zap.Int64("transaction_id", t.ID),
			zap.Int64("amount", t.Amount))
	}

	var performTime int64
	if t.PerformedAt != nil {
		performTime = t.PerformedAt.UnixMilli()
	}
	return paymeOK(req.ID, paymePerformResult{
		Transaction: strconv.FormatInt(t.ID, 10),
		PerformTime: performTime,
		State:       paymeStatePerformed,
	})
}

func (g *PaymeGateway) check(ctx context.Context, req *PaymeRequest) *PaymeResponse {
	t, err := g.ledger.GetTransactionByGatewayRef(ctx, req.Params.ID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return paymeErr(req.ID, PaymeCodeTransactionNotFound, "Transaction not found")
		}
		return g.internal(req.ID, "payme check", err)
	}

	result := paymeCheckResult{
		CreateTime:  t.CreatedAt.UnixMilli(),
		Transaction: strconv.FormatInt(t.ID, 10),
		State:       paymeState(t.State),
	}
	if t.PerformedAt != nil {
		result.PerformTime = t.PerformedAt.UnixMilli()
	}
	if t.CanceledAt != nil {
		result.CancelTime = t.CanceledAt.UnixMilli()
	}
	return paymeOK(req.ID, result)
}

func (g *PaymeGateway) cancel(ctx context.Context, req *PaymeRequest) *PaymeResponse {
	t, err := g.ledger.CancelByGatewayRef(ctx, req.Params.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			return paymeErr(req.ID, PaymeCodeTransactionNotFound, "Transaction not found")
		case errors.Is(err, store.ErrAlreadyFinished):
			// Refunds of performed transactions are not supported here.
			return paymeErr(req.ID, PaymeCodeCannotPerform, "Unable to cancel transaction")
		default:
			return g.internal(req.ID, "payme cancel", err)
		}
	}

	var cancelTime int64
	if t.CanceledAt != nil {
		cancelTime = t.CanceledAt.UnixMilli()
	}
	return paymeOK(req.ID, paymeCancelResult{
		Transaction: strconv.FormatInt(t.ID, 10),
		CancelTime:  cancelTime,
		State:       paymeStateCanceled,
	})
}

// pendingByAccount resolves params.account.transaction_id to a PENDING row
// and enforces the amount invariant before anything may mutate. A non-nil
// second return value is the error reply to send.
func (g *PaymeGateway) pendingByAccount(ctx context.Context, req *PaymeRequest) (*models.Transaction, *PaymeResponse) {
	id, err := strconv.ParseInt(req.Params.Account.TransactionID, 10, 64)
	if err != nil {
		return nil, paymeErr(req.ID, PaymeCodeOrderNotFound, "Transaction not found or already finished")
	}

	t, err := g.ledger.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, paymeErr(req.ID, PaymeCodeOrderNotFound, "Transaction not found or already finished")
		}
		return nil, g.internal(req.ID, "payme lookup", err)
	}

	if req.Params.Amount != 0 && req.Params.Amount != t.Amount*100 {
		return t, paymeErr(req.ID, PaymeCodeInvalidAmount, "Incorrect amount")
	}
	if t.State != models.StatePending {
		return t, paymeErr(req.ID, PaymeCodeOrderNotFound, "Transaction not found or already finished")
	}
	return t, nil
}

func (g *PaymeGateway) internal(id json.RawMessage, op string, err error) *PaymeResponse {
	g.lg.Error(op+" failed", zap.Error(err))
	return paymeErr(id, PaymeCodeCannotPerform, "Unable to perform operation")
}

func paymeState(s models.TransactionState) int {
	switch s {
	case models.StateSuccess:
		return paymeStatePerformed
	case models.StateFailed, models.StateCanceled:
		return paymeStateCanceled
	default:
		return paymeStateCreated
	}
}

func paymeOK(id json.RawMessage, result any) *PaymeResponse {
	return &PaymeResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func paymeErr(id json.RawMessage, code int, message string) *PaymeResponse {
	return &PaymeResponse{JSONRPC: "2.0", ID: id, Error: &PaymeError{Code: code, Message: message}}
}
