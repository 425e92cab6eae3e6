package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/money"
)

// CreateTransactionRequest is validated input for a single-leg saga.
type CreateTransactionRequest struct {
	WalletID       string
	Type           domain.TransactionType
	Amount         money.Money
	IdempotencyKey string
}

// TransferRequest is validated input for the transfer saga variant.
type TransferRequest struct {
	FromWalletID   string
	ToWalletID     string
	Amount         money.Money
	IdempotencyKey string
}

// WalletService sequences ledger mutations with event publication.
type WalletService interface {
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*ApplyTransactionResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetBalance(ctx context.Context, walletID string) (money.Money, error)
	EnsureWallet(ctx context.Context, walletID string) error
	ListTransactions(ctx context.Context, walletID string, txType *domain.TransactionType) ([]domain.Transaction, error)
	// SweepStaleSagas resolves pending sagas older than maxAge and
	// returns how many were touched.
	SweepStaleSagas(ctx context.Context, maxAge time.Duration) (int, error)
}

// RegisterUserRequest is validated input for user registration.
type RegisterUserRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// UpdateUserRequest carries the mutable user fields.
type UpdateUserRequest struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// UserService owns the user CRUD subsystem.
type UserService interface {
	Register(ctx context.Context, req RegisterUserRequest) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (token string, expiresAt time.Time, err error)
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, req UpdateUserRequest) (*domain.User, error)
	Delete(ctx context.Context, id string) error
}

// TokenService issues and validates user-facing JWTs.
type TokenService interface {
	Generate(userID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID string
}

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// HealthChecker reports one dependency's availability.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// MetricsCollector records operational counters. Implementations must
// be safe for concurrent use.
type MetricsCollector interface {
	RecordPublished(topic string)
	RecordPublishError(topic string)
	RecordConsumed(topic string)
	RecordDeadLettered(topic string)
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordIdempotencyHit()
	RecordIdempotencyMiss()
}

// NoopMetrics is a MetricsCollector that records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordPublished(string)    {}
func (NoopMetrics) RecordPublishError(string) {}
func (NoopMetrics) RecordConsumed(string)     {}
func (NoopMetrics) RecordDeadLettered(string) {}
func (NoopMetrics) RecordCacheHit(string)     {}
func (NoopMetrics) RecordCacheMiss(string)    {}
func (NoopMetrics) RecordIdempotencyHit()     {}
func (NoopMetrics) RecordIdempotencyMiss()    {}
