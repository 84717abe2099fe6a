package models

import "time"

// TransactionKind classifies a ledger row.
type TransactionKind string

const (
	KindTopUp       TransactionKind = "TOP_UP"
	KindResponseFee TransactionKind = "RESPONSE_FEE"
	KindDealFee     TransactionKind = "DEAL_FEE"
)

// TransactionState is the ledger state machine. PENDING is the only
// non-terminal state; no transition ever re-enters it.
type TransactionState string

const (
	StatePending  TransactionState = "PENDING"
	StateSuccess  TransactionState = "SUCCESS"
	StateFailed   TransactionState = "FAILED"
	StateCanceled TransactionState = "CANCELED"
)

// Terminal reports whether no further transitions are permitted.
func (s TransactionState) Terminal() bool {
	return s != StatePending
}

// Account represents a user's spendable balance. Accounts are created by
// the marketplace onboarding flow; webhooks mutate the balance only through
// the crediting path in the store.
type Account struct {
	ID        int64     `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the permanent audit record of one money movement.
// Amount is stored in integer minor-safe units (UZS soums) and is immutable
// after creation. GatewayRef is the external id assigned by the gateway on
// first contact; it is set at most once and is unique across the ledger.
type Transaction struct {
	ID          int64            `json:"id"`
	AccountID   int64            `json:"account_id"`
	Amount      int64            `json:"amount"`
	Kind        TransactionKind  `json:"kind"`
	State       TransactionState `json:"state"`
	GatewayRef  *string          `json:"gateway_ref,omitempty"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	PerformedAt *time.Time       `json:"performed_at,omitempty"`
	CanceledAt  *time.Time       `json:"canceled_at,omitempty"`
}

// TopUpRequest is the payload of the client-facing origination endpoint.
type TopUpRequest struct {
	Amount int64  `json:"amount"`
	System string `json:"system"`
}

// TopUpResponse carries the new ledger row id and the gateway checkout URL.
type TopUpResponse struct {
	TransactionID int64  `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
}
