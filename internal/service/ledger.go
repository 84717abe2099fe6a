package service

import (
	"context"

	"github.com/xumezzan/maestro-uz/internal/models"
)

// Ledger is the slice of the store the gateway adapters operate on. The
// exactly-once discipline lives behind this interface: PerformByGatewayRef
// and CompleteByID report whether this call was the one that credited the
// account, so re-deliveries are observable but side-effect free.
type Ledger interface {
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	GetTransactionByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error)
	CreateTopUp(ctx context.Context, accountID, amount int64, description string) (*models.Transaction, error)
	AttachGatewayRef(ctx context.Context, id int64, ref string) (*models.Transaction, error)
	PerformByGatewayRef(ctx context.Context, ref string) (*models.Transaction, bool, error)
	CompleteByID(ctx context.Context, id int64, ref string) (*models.Transaction, bool, error)
	FailByID(ctx context.Context, id int64) (*models.Transaction, error)
	CancelByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error)
}
