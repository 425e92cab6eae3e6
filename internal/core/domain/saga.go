package domain

import (
	"time"

	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
)

// SagaStatus is the lifecycle state of a ledger-write-plus-publish saga.
type SagaStatus string

const (
	SagaStatusPending     SagaStatus = "pending"
	SagaStatusCompleted   SagaStatus = "completed"
	SagaStatusCompensated SagaStatus = "compensated"
	// SagaStatusFailed means compensation itself failed; funds may be
	// stuck and an operator has to intervene.
	SagaStatusFailed SagaStatus = "failed"
)

// SagaStep is the step the saga last advanced to.
type SagaStep string

const (
	SagaStepApplyTransaction SagaStep = "apply_transaction"
	SagaStepPublishEvent     SagaStep = "publish_event"
	SagaStepCompensate       SagaStep = "compensate"
)

// Saga is the durable record of one idempotency key's outcome. Rows are
// never deleted.
type Saga struct {
	ID             uuid.UUID `json:"id"`
	WalletID       string    `json:"wallet_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	// ToWalletID is set only for transfer sagas. A transfer is never
	// auto-compensated: undoing just the debit leg would create money.
	ToWalletID    string          `json:"to_wallet_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	Type          TransactionType `json:"type"`
	Amount        money.Money     `json:"amount"`
	Status        SagaStatus      `json:"status"`
	Step          SagaStep        `json:"step"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
