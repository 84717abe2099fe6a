package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/xumezzan/maestro-uz/internal/config"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/models"
	"github.com/xumezzan/maestro-uz/internal/store"
	"go.uber.org/zap"
)

// Click protocol error codes.
const (
	ClickSuccess        = 0
	ClickErrSign        = -1
	ClickErrAmount      = -2
	ClickErrAction      = -3
	ClickErrAlreadyPaid = -4
	ClickErrNotFound    = -5
	ClickErrBadRequest  = -8
)

const (
	ClickActionPrepare  = "0"
	ClickActionComplete = "1"
)

// ClickRequest carries the callback fields exactly as delivered. Values stay
// strings because the signature is computed over the raw field values.
type ClickRequest struct {
	ClickTransID    string
	ServiceID       string
	MerchantTransID string
	Amount          string
	Action          string
	Error           string
	ErrorNote       string
	SignTime        string
	SignString      string
}

// ClickResponse is the acknowledgement envelope. merchant_prepare_id echoes
// the internal id on the prepare phase, merchant_confirm_id on complete.
type ClickResponse struct {
	ClickTransID      string `json:"click_trans_id,omitempty"`
	MerchantTransID   string `json:"merchant_trans_id,omitempty"`
	MerchantPrepareID int64  `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID int64  `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickGateway adapts the two-phase callback protocol onto the ledger.
type ClickGateway struct {
	ledger    Ledger
	serviceID string
	secret    string
	lg        *logging.ZapLogger
}

func NewClickGateway(cfg *config.Config, ledger Ledger, lg *logging.ZapLogger) *ClickGateway {
	return &ClickGateway{
		ledger:    ledger,
		serviceID: cfg.ClickServiceID,
		secret:    cfg.ClickSecretKey,
		lg:        lg,
	}
}

// Handle verifies the signature, validates the amount and dispatches on the
// action. Any failure answers with the gateway's structured envelope; a
// missing answer would only provoke a retry.
func (g *ClickGateway) Handle(ctx context.Context, req *ClickRequest) *ClickResponse {
	if g.signature(req) != req.SignString {
		g.lg.Warn("click sign check failed",
			zap.String("click_trans_id", req.ClickTransID),
			zap.String("merchant_trans_id", req.MerchantTransID))
		return &ClickResponse{Error: ClickErrSign, ErrorNote: "Sign check error"}
	}

	id, err := strconv.ParseInt(req.MerchantTransID, 10, 64)
	if err != nil {
		return g.fail(req, ClickErrNotFound, "Transaction does not exist")
	}

	t, err := g.ledger.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return g.fail(req, ClickErrNotFound, "Transaction does not exist")
		}
		g.lg.Error("click lookup failed", zap.Error(err))
		return g.fail(req, ClickErrBadRequest, "Internal error")
	}

	amount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil || amount != float64(t.Amount) {
		return g.fail(req, ClickErrAmount, "Incorrect parameter amount")
	}

	switch req.Action {
	case ClickActionPrepare:
		return g.prepare(req, t)
	case ClickActionComplete:
		return g.complete(ctx, req, t)
	default:
		return g.fail(req, ClickErrAction, "Action not found")
	}
}

// prepare is read-validate only: no marker is persisted, so re-delivery has
// nothing to be idempotent about.
func (g *ClickGateway) prepare(req *ClickRequest, t *models.Transaction) *ClickResponse {
	if t.State != models.StatePending {
		return g.fail(req, ClickErrAlreadyPaid, "Already paid or canceled")
	}
	return &ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: t.ID,
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}
}

func (g *ClickGateway) complete(ctx context.Context, req *ClickRequest, t *models.Transaction) *ClickResponse {
	// The gateway observed a failure on its side: record it and acknowledge.
	// Terminal rows stay untouched.
	if req.Error != "" && req.Error != "0" {
		if _, err := g.ledger.FailByID(ctx, t.ID); err != nil && !errors.Is(err, store.ErrAlreadyFinished) {
			g.lg.Error("click fail transition error", zap.Error(err))
			return g.fail(req, ClickErrBadRequest, "Internal error")
		}
		return &ClickResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantConfirmID: t.ID,
			Error:             ClickSuccess,
			ErrorNote:         "Handled external error",
		}
	}

	t, credited, err := g.ledger.CompleteByID(ctx, t.ID, req.ClickTransID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyFinished):
			return g.fail(req, ClickErrAlreadyPaid, "Already paid or canceled")
		case errors.Is(err, store.ErrGatewayRefBound):
			return g.fail(req, ClickErrBadRequest, "Transaction id conflict")
		case errors.Is(err, store.ErrTransactionNotFound):
			return g.fail(req, ClickErrNotFound, "Transaction does not exist")
		default:
			g.lg.Error("click complete failed", zap.Error(err))
			return g.fail(req, ClickErrBadRequest, "Internal error")
		}
	}

	if !credited {
		// Duplicate delivery after the credit already happened.
		return &ClickResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantConfirmID: t.ID,
			Error:             ClickErrAlreadyPaid,
			ErrorNote:         "Already paid",
		}
	}

	g.lg.Info("click transaction completed",
		zap.Int64("transaction_id", t.ID),
		zap.Int64("amount", t.Amount))

	return &ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: t.ID,
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}
}

// signature is the keyed digest every callback must carry:
// md5(click_trans_id + service_id + secret + merchant_trans_id + amount +
// action + sign_time).
func (g *ClickGateway) signature(req *ClickRequest) string {
	raw := req.ClickTransID + req.ServiceID + g.secret + req.MerchantTransID +
		req.Amount + req.Action + req.SignTime
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (g *ClickGateway) fail(req *ClickRequest, code int, note string) *ClickResponse {
	return &ClickResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}
