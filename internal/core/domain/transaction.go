package domain

import (
	"time"

	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
)

// TransactionType represents the direction of a balance mutation.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// Inverse returns the compensating direction.
func (t TransactionType) Inverse() TransactionType {
	if t == TransactionTypeCredit {
		return TransactionTypeDebit
	}
	return TransactionTypeCredit
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

// Transaction is an immutable ledger entry. (wallet_id, idempotency_key)
// is unique; that constraint is the dedup mechanism for retries.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	WalletID       string          `json:"wallet_id"`
	Type           TransactionType `json:"type"`
	Amount         money.Money     `json:"amount"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CompensationKey derives the idempotency key used for the inverse
// transaction that undoes the one stored under key. Derived keys make
// repeated compensation attempts idempotent themselves.
func CompensationKey(key string) string {
	return key + ":compensate"
}
