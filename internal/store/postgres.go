package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/xumezzan/maestro-uz/internal/models"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyFinished     = errors.New("transaction already finished")
	ErrNotPending          = errors.New("transaction not pending")
	ErrGatewayRefBound     = errors.New("gateway ref bound to a different id")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

const transactionColumns = "id, account_id, amount, kind, state, gateway_ref, description, created_at, performed_at, canceled_at"

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

//go:embed migrations/*.sql
var embedMigrations embed.FS

func (s *Store) RunMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectPostgres)); err != nil {
		return err
	}

	return goose.Up(stdlib.OpenDBFromPool(s.Db), "migrations")
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := s.Db.QueryRow(ctx,
		"SELECT id, balance, created_at FROM accounts WHERE id = $1",
		id).Scan(&account.ID, &account.Balance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount creates a new account with the given opening balance.
func (s *Store) CreateAccount(ctx context.Context, balance int64) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx, "INSERT INTO accounts (balance) VALUES ($1) RETURNING id", balance).Scan(&id)
	return id, err
}

// GetTransaction retrieves a ledger row by its internal id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id)
	return scanTransaction(row)
}

// GetTransactionByGatewayRef retrieves a ledger row by the external id the
// gateway assigned on first contact. The partial unique index on gateway_ref
// makes the lookup unambiguous.
func (s *Store) GetTransactionByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE gateway_ref = $1", ref)
	return scanTransaction(row)
}

// ListTransactions returns the account's ledger history, newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)", accountID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE account_id = $1 ORDER BY created_at DESC",
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := scanTransactionFields(rows, &t); err != nil {
			return nil, fmt.Errorf("store: scan transaction error %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := scanTransactionFields(row, &t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanTransactionFields(row pgx.Row, t *models.Transaction) error {
	return row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Amount,
		&t.Kind,
		&t.State,
		&t.GatewayRef,
		&t.Description,
		&t.CreatedAt,
		&t.PerformedAt,
		&t.CanceledAt,
	)
}
