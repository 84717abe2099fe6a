package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xumezzan/maestro-uz/internal/config"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/models"
	"github.com/xumezzan/maestro-uz/internal/store"
)

// fakeLedger mirrors the store's transition semantics in memory, including
// the sentinel errors, so adapter behavior can be tested without a database.
// A mutex stands in for the row lock; credits counts how many times each
// transaction ever credited its account.
type fakeLedger struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	txns     map[int64]*models.Transaction
	credits  map[int64]int
	nextTxn  int64
	nextAcc  int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[int64]*models.Account{},
		txns:     map[int64]*models.Transaction{},
		credits:  map[int64]int{},
	}
}

func (f *fakeLedger) addAccount(balance int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAcc++
	f.accounts[f.nextAcc] = &models.Account{ID: f.nextAcc, Balance: balance, CreatedAt: time.Now()}
	return f.nextAcc
}

func (f *fakeLedger) addPendingTopUp(accountID, amount int64) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxn++
	t := &models.Transaction{
		ID:        f.nextTxn,
		AccountID: accountID,
		Amount:    amount,
		Kind:      models.KindTopUp,
		State:     models.StatePending,
		CreatedAt: time.Now(),
	}
	f.txns[t.ID] = t
	return clone(t)
}

func (f *fakeLedger) balance(accountID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[accountID].Balance
}

func (f *fakeLedger) creditCount(txnID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits[txnID]
}

func (f *fakeLedger) snapshot(txnID int64) models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *clone(f.txns[txnID])
}

func (f *fakeLedger) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return clone(t), nil
}

func (f *fakeLedger) GetTransactionByGatewayRef(_ context.Context, ref string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.byRef(ref)
	if t == nil {
		return nil, store.ErrTransactionNotFound
	}
	return clone(t), nil
}

func (f *fakeLedger) CreateTopUp(_ context.Context, accountID, amount int64, description string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[accountID]; !ok {
		return nil, store.ErrAccountNotFound
	}
	f.nextTxn++
	t := &models.Transaction{
		ID:          f.nextTxn,
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindTopUp,
		State:       models.StatePending,
		Description: description,
		CreatedAt:   time.Now(),
	}
	f.txns[t.ID] = t
	return clone(t), nil
}

func (f *fakeLedger) AttachGatewayRef(_ context.Context, id int64, ref string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	if t.GatewayRef != nil {
		if *t.GatewayRef == ref {
			return clone(t), nil
		}
		return nil, store.ErrGatewayRefBound
	}
	if t.State != models.StatePending {
		return nil, store.ErrNotPending
	}
	if other := f.byRef(ref); other != nil {
		return nil, store.ErrGatewayRefBound
	}
	t.GatewayRef = &ref
	return clone(t), nil
}

func (f *fakeLedger) PerformByGatewayRef(_ context.Context, ref string) (*models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.byRef(ref)
	if t == nil {
		return nil, false, store.ErrTransactionNotFound
	}
	switch t.State {
	case models.StateSuccess:
		return clone(t), false, nil
	case models.StatePending:
		f.credit(t)
		return clone(t), true, nil
	default:
		return nil, false, store.ErrAlreadyFinished
	}
}

func (f *fakeLedger) CompleteByID(_ context.Context, id int64, ref string) (*models.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok {
		return nil, false, store.ErrTransactionNotFound
	}
	switch t.State {
	case models.StateSuccess:
		return clone(t), false, nil
	case models.StatePending:
		if t.GatewayRef != nil && *t.GatewayRef != ref {
			return nil, false, store.ErrGatewayRefBound
		}
		if other := f.byRef(ref); other != nil && other.ID != t.ID {
			return nil, false, store.ErrGatewayRefBound
		}
		t.GatewayRef = &ref
		f.credit(t)
		return clone(t), true, nil
	default:
		return nil, false, store.ErrAlreadyFinished
	}
}

func (f *fakeLedger) FailByID(_ context.Context, id int64) (*models.Transaction, error) {
	return f.finish(id, models.StateFailed)
}

func (f *fakeLedger) CancelByGatewayRef(_ context.Context, ref string) (*models.Transaction, error) {
	f.mu.Lock()
	t := f.byRef(ref)
	f.mu.Unlock()
	if t == nil {
		return nil, store.ErrTransactionNotFound
	}
	return f.finish(t.ID, models.StateCanceled)
}

func (f *fakeLedger) finish(id int64, state models.TransactionState) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	if t.State == state {
		return clone(t), nil
	}
	if t.State != models.StatePending {
		return nil, store.ErrAlreadyFinished
	}
	now := time.Now()
	t.State = state
	t.CanceledAt = &now
	return clone(t), nil
}

// credit assumes f.mu is held and t is PENDING.
func (f *fakeLedger) credit(t *models.Transaction) {
	now := time.Now()
	t.State = models.StateSuccess
	t.PerformedAt = &now
	f.accounts[t.AccountID].Balance += t.Amount
	f.credits[t.ID]++
}

// byRef assumes f.mu is held.
func (f *fakeLedger) byRef(ref string) *models.Transaction {
	for _, t := range f.txns {
		if t.GatewayRef != nil && *t.GatewayRef == ref {
			return t
		}
	}
	return nil
}

func clone(t *models.Transaction) *models.Transaction {
	c := *t
	if t.GatewayRef != nil {
		ref := *t.GatewayRef
		c.GatewayRef = &ref
	}
	return &c
}

func testConfig() *config.Config {
	return &config.Config{
		PaymeMerchantID:  "merchant-a",
		PaymeSecretKey:   "test_key",
		PaymeCheckoutURL: "https://checkout.paycom.uz/",
		ClickMerchantID:  "merchant-b",
		ClickServiceID:   "1",
		ClickSecretKey:   "click_secret",
		ClickPayURL:      "https://my.click.uz/services/pay",
		MinTopUpAmount:   5000,
		LogLevel:         2,
	}
}

func testLogger(t *testing.T) *logging.ZapLogger {
	t.Helper()
	lg, err := logging.NewZapLogger(testConfig())
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return lg
}
