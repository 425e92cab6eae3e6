package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
)

// ApplyTransactionInput describes one single-leg balance mutation.
type ApplyTransactionInput struct {
	WalletID       string
	Type           domain.TransactionType
	Amount         money.Money
	IdempotencyKey string
}

// ApplyTransactionResult is returned for both first execution and
// idempotent replay. Balance is the wallet balance after the call.
type ApplyTransactionResult struct {
	TransactionID uuid.UUID
	CreatedAt     time.Time
	Balance       money.Money
}

// TransferInput describes a two-leg transfer. Both legs share one
// idempotency key.
type TransferInput struct {
	FromWalletID   string
	ToWalletID     string
	Amount         money.Money
	IdempotencyKey string
}

// TransferResult carries both leg ids and both post-transfer balances.
type TransferResult struct {
	DebitTransactionID  uuid.UUID
	CreditTransactionID uuid.UUID
	FromBalance         money.Money
	ToBalance           money.Money
}

// UpdateSagaInput advances a saga. A nil TransactionID preserves the
// stored one.
type UpdateSagaInput struct {
	ID            uuid.UUID
	Status        domain.SagaStatus
	Step          domain.SagaStep
	TransactionID *uuid.UUID
}

// CompensateInput applies an inverse transaction under a derived key.
type CompensateInput struct {
	WalletID       string
	Type           domain.TransactionType
	Amount         money.Money
	IdempotencyKey string
}

// LedgerStore owns wallet, transaction and saga persistence. All
// balance-changing operations are atomic, serialize through the wallet
// row lock and dedup on the idempotency key.
type LedgerStore interface {
	// EnsureWallet inserts the wallet with the opening balance if it
	// does not exist. Safe to repeat.
	EnsureWallet(ctx context.Context, walletID string) error
	// GetBalance returns the opening balance for wallets that have not
	// been materialized yet; reads never create the row.
	GetBalance(ctx context.Context, walletID string) (money.Money, error)
	ApplyTransaction(ctx context.Context, in ApplyTransactionInput) (*ApplyTransactionResult, error)
	Transfer(ctx context.Context, in TransferInput) (*TransferResult, error)
	ListTransactions(ctx context.Context, walletID string, txType *domain.TransactionType) ([]domain.Transaction, error)
	// FindTransactionByIdempotencyKey reports whether a ledger write
	// under (walletID, key) has committed. Nil, nil means no entry.
	FindTransactionByIdempotencyKey(ctx context.Context, walletID, key string) (*domain.Transaction, error)

	// CreateSaga is an idempotent insert: a conflicting idempotency key
	// is a silent no-op because the orchestrator checks first.
	CreateSaga(ctx context.Context, saga *domain.Saga) error
	FindSagaByIdempotencyKey(ctx context.Context, key string) (*domain.Saga, error)
	UpdateSaga(ctx context.Context, in UpdateSagaInput) error
	CompensateTransaction(ctx context.Context, in CompensateInput) error
	// ListStalePendingSagas returns pending sagas not updated since the
	// cutoff, for the recovery sweep.
	ListStalePendingSagas(ctx context.Context, cutoff time.Time) ([]domain.Saga, error)
}

// UserRepository persists user records.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
}

// WalletEventRecorder keeps each user's latest wallet activity, written
// by the users-side consumer. Best-effort storage; lookups may miss.
type WalletEventRecorder interface {
	RecordLatestTransaction(ctx context.Context, userID, transactionID, occurredAt string) error
	LatestTransaction(ctx context.Context, userID string) (transactionID string, occurredAt string, err error)
}
