package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xumezzan/maestro-uz/internal/models"
)

// CreateTopUp inserts a PENDING TOP_UP row. This is the only entry point of
// the origination flow into the ledger.
func (s *Store) CreateTopUp(ctx context.Context, accountID, amount int64, description string) (*models.Transaction, error) {
	row := s.Db.QueryRow(ctx,
		`INSERT INTO transactions (account_id, amount, kind, state, description)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+transactionColumns,
		accountID, amount, models.KindTopUp, models.StatePending, description,
	)

	t, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("store: top-up insert failed: %w", err)
	}
	return t, nil
}

// AttachGatewayRef binds the gateway-assigned external id to a PENDING row.
// Re-binding the same ref is a no-op replay; binding a different ref to a row
// that already carries one, or reusing a ref bound elsewhere, is refused
// without mutation.
func (s *Store) AttachGatewayRef(ctx context.Context, id int64, ref string) (*models.Transaction, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransaction(ctx, tx, "id = $1", id)
	if err != nil {
		return nil, err
	}

	if t.GatewayRef != nil {
		if *t.GatewayRef == ref {
			return t, tx.Commit(ctx)
		}
		return nil, ErrGatewayRefBound
	}
	if t.State != models.StatePending {
		return nil, ErrNotPending
	}

	_, err = tx.Exec(ctx, "UPDATE transactions SET gateway_ref = $1 WHERE id = $2", ref, t.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrGatewayRefBound
		}
		return nil, fmt.Errorf("store: gateway ref update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: tx commit failed: %w", err)
	}

	t.GatewayRef = &ref
	return t, nil
}

// PerformByGatewayRef is the exactly-once boundary for the RPC-style gateway.
// The row lock serializes concurrent duplicate deliveries: the winner moves
// PENDING to SUCCESS and credits the account inside the same database
// transaction, every later observer sees SUCCESS and credits nothing.
func (s *Store) PerformByGatewayRef(ctx context.Context, ref string) (*models.Transaction, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("store: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransaction(ctx, tx, "gateway_ref = $1", ref)
	if err != nil {
		return nil, false, err
	}

	switch t.State {
	case models.StateSuccess:
		return t, false, tx.Commit(ctx)
	case models.StatePending:
		if err := creditAndSucceed(ctx, tx, t); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("store: tx commit failed: %w", err)
		}
		return t, true, nil
	default:
		return nil, false, ErrAlreadyFinished
	}
}

// CompleteByID is the exactly-once boundary for the two-phase callback
// gateway, keyed by the merchant-chosen internal id. It assigns the gateway
// ref and performs the credit in one atomic unit.
func (s *Store) CompleteByID(ctx context.Context, id int64, ref string) (*models.Transaction, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("store: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransaction(ctx, tx, "id = $1", id)
	if err != nil {
		return nil, false, err
	}

	switch t.State {
	case models.StateSuccess:
		return t, false, tx.Commit(ctx)
	case models.StatePending:
		if t.GatewayRef != nil && *t.GatewayRef != ref {
			return nil, false, ErrGatewayRefBound
		}
		_, err = tx.Exec(ctx, "UPDATE transactions SET gateway_ref = $1 WHERE id = $2", ref, t.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, false, ErrGatewayRefBound
			}
			return nil, false, fmt.Errorf("store: gateway ref update failed: %w", err)
		}
		t.GatewayRef = &ref

		if err := creditAndSucceed(ctx, tx, t); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("store: tx commit failed: %w", err)
		}
		return t, true, nil
	default:
		return nil, false, ErrAlreadyFinished
	}
}

// FailByID records a gateway-observed failure. Terminal rows are left
// untouched so re-delivered failure callbacks stay side-effect free.
func (s *Store) FailByID(ctx context.Context, id int64) (*models.Transaction, error) {
	return s.finish(ctx, "id = $1", id, models.StateFailed)
}

// CancelByGatewayRef cancels a PENDING row. Performed rows are refused:
// refunds are not part of this ledger.
func (s *Store) CancelByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error) {
	return s.finish(ctx, "gateway_ref = $1", ref, models.StateCanceled)
}

func (s *Store) finish(ctx context.Context, where string, arg any, state models.TransactionState) (*models.Transaction, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransaction(ctx, tx, where, arg)
	if err != nil {
		return nil, err
	}

	if t.State == state {
		return t, tx.Commit(ctx)
	}
	if t.State != models.StatePending {
		return nil, ErrAlreadyFinished
	}

	err = tx.QueryRow(ctx,
		"UPDATE transactions SET state = $1, canceled_at = now() WHERE id = $2 RETURNING canceled_at",
		state, t.ID,
	).Scan(&t.CanceledAt)
	if err != nil {
		return nil, fmt.Errorf("store: state update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: tx commit failed: %w", err)
	}

	t.State = state
	return t, nil
}

// ChargeFee atomically debits an account and records a SUCCESS fee row.
// The balance check and the debit happen under the account row lock, so two
// concurrent fee charges can never overdraw.
func (s *Store) ChargeFee(ctx context.Context, accountID, amount int64, kind models.TransactionKind, description string) (*models.Transaction, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("store: lock acquisition failed: %w", err)
	}

	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: debit failed: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO transactions (account_id, amount, kind, state, description, performed_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING `+transactionColumns,
		accountID, amount, kind, models.StateSuccess, description,
	)
	t := &models.Transaction{}
	if err := scanTransactionFields(row, t); err != nil {
		return nil, fmt.Errorf("store: fee insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: tx commit failed: %w", err)
	}
	return t, nil
}

func creditAndSucceed(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	err := tx.QueryRow(ctx,
		"UPDATE transactions SET state = $1, performed_at = now() WHERE id = $2 RETURNING performed_at",
		models.StateSuccess, t.ID,
	).Scan(&t.PerformedAt)
	if err != nil {
		return fmt.Errorf("store: state update failed: %w", err)
	}

	tag, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", t.Amount, t.AccountID)
	if err != nil {
		return fmt.Errorf("store: credit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	t.State = models.StateSuccess
	return nil
}

func lockTransaction(ctx context.Context, tx pgx.Tx, where string, arg any) (*models.Transaction, error) {
	row := tx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE "+where+" FOR UPDATE",
		arg)

	t := &models.Transaction{}
	if err := scanTransactionFields(row, t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("store: lock acquisition failed: %w", err)
	}
	return t, nil
}
