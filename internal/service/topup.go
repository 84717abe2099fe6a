package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/xumezzan/maestro-uz/internal/config"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/models"
	"go.uber.org/zap"
)

var (
	ErrAmountTooLow  = errors.New("amount below minimum")
	ErrUnknownSystem = errors.New("unknown payment system")
)

const (
	SystemPayme = "payme"
	SystemClick = "click"
)

// TopUpService is the client-facing origination flow: it creates the PENDING
// ledger row and builds the gateway checkout URL. It never advances the state
// machine past creation.
type TopUpService struct {
	ledger Ledger
	cfg    *config.Config
	lg     *logging.ZapLogger
}

func NewTopUpService(cfg *config.Config, ledger Ledger, lg *logging.ZapLogger) *TopUpService {
	return &TopUpService{ledger: ledger, cfg: cfg, lg: lg}
}

func (s *TopUpService) CreateTopUp(ctx context.Context, accountID int64, req models.TopUpRequest) (*models.TopUpResponse, error) {
	if req.Amount < s.cfg.MinTopUpAmount {
		return nil, ErrAmountTooLow
	}
	if req.System != SystemPayme && req.System != SystemClick {
		return nil, ErrUnknownSystem
	}

	t, err := s.ledger.CreateTopUp(ctx, accountID, req.Amount, "Balance top-up")
	if err != nil {
		return nil, fmt.Errorf("topup: create transaction failed: %w", err)
	}

	var paymentURL string
	switch req.System {
	case SystemPayme:
		paymentURL = s.paymeURL(t)
	case SystemClick:
		paymentURL = s.clickURL(t)
	}

	s.lg.Info("top-up originated",
		zap.Int64("transaction_id", t.ID),
		zap.Int64("account_id", accountID),
		zap.Int64("amount", req.Amount),
		zap.String("system", req.System))

	return &models.TopUpResponse{TransactionID: t.ID, PaymentURL: paymentURL}, nil
}

// paymeURL encodes the merchant id, the internal transaction id and the
// tiyin-scaled amount as the base64 parameter string the checkout expects.
func (s *TopUpService) paymeURL(t *models.Transaction) string {
	params := fmt.Sprintf("m=%s;ac.transaction_id=%d;a=%d", s.cfg.PaymeMerchantID, t.ID, t.Amount*100)
	return s.cfg.PaymeCheckoutURL + base64.StdEncoding.EncodeToString([]byte(params))
}

// clickURL passes the plain-unit amount as a query string.
func (s *TopUpService) clickURL(t *models.Transaction) string {
	q := url.Values{}
	q.Set("service_id", s.cfg.ClickServiceID)
	q.Set("merchant_id", s.cfg.ClickMerchantID)
	q.Set("amount", strconv.FormatInt(t.Amount, 10))
	q.Set("transaction_param", strconv.FormatInt(t.ID, 10))
	return s.cfg.ClickPayURL + "?" + q.Encode()
}
