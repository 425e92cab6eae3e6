package service

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// WalletServiceImpl implements ports.WalletService. It sequences the
// ledger write and the event publication as a saga: the write commits
// first, the event follows, and a publish failure triggers a
// compensating inverse transaction. The saga row is the durable record
// of each idempotency key's outcome.
type WalletServiceImpl struct {
	store     ports.LedgerStore
	publisher ports.EventPublisher
	log       zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(store ports.LedgerStore, publisher ports.EventPublisher, log zerolog.Logger) *WalletServiceImpl {
	return &WalletServiceImpl{store: store, publisher: publisher, log: log}
}

// CreateTransaction runs the single-leg saga.
func (s *WalletServiceImpl) CreateTransaction(ctx context.Context, req ports.CreateTransactionRequest) (*ports.ApplyTransactionResult, error) {
	if req.IdempotencyKey == "" {
		return nil, apperror.ErrIdempotencyKeyRequired()
	}
	if req.WalletID == "" || !req.Type.Valid() || !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidInput("wallet id, transaction type and a positive amount are required")
	}

	input := ports.ApplyTransactionInput{
		WalletID:       req.WalletID,
		Type:           req.Type,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}

	saga, err := s.store.FindSagaByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if saga != nil {
		if saga.Status == domain.SagaStatusCompleted {
			// Replay: the ledger dedup returns the original row and
			// re-validates type and amount. No new saga, no new publish.
			return s.store.ApplyTransaction(ctx, input)
		}
		return nil, apperror.ErrConflict()
	}

	// The saga row references the wallet, so a never-touched wallet id
	// has to be materialized first.
	if err := s.store.EnsureWallet(ctx, req.WalletID); err != nil {
		return nil, err
	}

	saga = &domain.Saga{
		ID:             uuid.New(),
		WalletID:       req.WalletID,
		IdempotencyKey: req.IdempotencyKey,
		Type:           req.Type,
		Amount:         req.Amount,
		Status:         domain.SagaStatusPending,
		Step:           domain.SagaStepApplyTransaction,
	}
	if err := s.store.CreateSaga(ctx, saga); err != nil {
		return nil, err
	}

	result, err := s.store.ApplyTransaction(ctx, input)
	if err != nil {
		// The saga stays pending with no transaction id; the stale-saga
		// sweep marks it failed.
		return nil, err
	}

	if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusPending, domain.SagaStepPublishEvent, &result.TransactionID); err != nil {
		return nil, err
	}

	event := domain.WalletTransactionCreatedEvent{
		EventID:       uuid.NewString(),
		OccurredAt:    time.Now().UTC().Format(eventTimeLayout),
		WalletID:      req.WalletID,
		TransactionID: result.TransactionID.String(),
		Type:          req.Type,
		Amount:        req.Amount.String(),
		Balance:       result.Balance.String(),
	}
	if pubErr := s.publisher.Publish(ctx, event); pubErr != nil {
		s.compensate(ctx, saga.ID, req.WalletID, req.Type, req.Amount, req.IdempotencyKey, pubErr)
		return nil, pubErr
	}

	if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusCompleted, domain.SagaStepPublishEvent, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// compensate applies the inverse transaction under the derived key and
// records the outcome in the saga. The caller always surfaces the
// original publish error; a compensation failure is logged and leaves
// the saga failed for operator intervention.
func (s *WalletServiceImpl) compensate(ctx context.Context, sagaID uuid.UUID, walletID string, txType domain.TransactionType, amount money.Money, key string, pubErr error) {
	s.log.Error().Err(pubErr).Str("wallet_id", walletID).Str("idempotency_key", key).Msg("event publish failed, compensating")

	compErr := s.store.CompensateTransaction(ctx, ports.CompensateInput{
		WalletID:       walletID,
		Type:           txType.Inverse(),
		Amount:         amount,
		IdempotencyKey: domain.CompensationKey(key),
	})
	status := domain.SagaStatusCompensated
	if compErr != nil {
		s.log.Error().Err(compErr).Str("wallet_id", walletID).Str("idempotency_key", key).Msg("compensation failed, funds may be stuck")
		status = domain.SagaStatusFailed
	}
	if err := s.advanceSaga(ctx, sagaID, status, domain.SagaStepCompensate, nil); err != nil {
		s.log.Error().Err(err).Str("saga_id", sagaID.String()).Msg("saga update failed")
	}
}

// Transfer runs the two-leg transfer saga. Both events publish as one
// batch; a batch-publish failure leaves both ledger legs committed and
// the saga failed. There is no compensation path for transfers.
func (s *WalletServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if req.IdempotencyKey == "" {
		return nil, apperror.ErrIdempotencyKeyRequired()
	}
	if req.FromWalletID == "" || req.ToWalletID == "" || !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidInput("both wallet ids and a positive amount are required")
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, apperror.ErrInvalidInput("cannot transfer to the same wallet")
	}

	input := ports.TransferInput{
		FromWalletID:   req.FromWalletID,
		ToWalletID:     req.ToWalletID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}

	saga, err := s.store.FindSagaByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if saga != nil {
		if saga.Status == domain.SagaStatusCompleted {
			return s.store.Transfer(ctx, input)
		}
		return nil, apperror.ErrConflict()
	}

	for _, id := range []string{req.FromWalletID, req.ToWalletID} {
		if err := s.store.EnsureWallet(ctx, id); err != nil {
			return nil, err
		}
	}

	saga = &domain.Saga{
		ID:             uuid.New(),
		WalletID:       req.FromWalletID,
		IdempotencyKey: req.IdempotencyKey,
		ToWalletID:     req.ToWalletID,
		Type:           domain.TransactionTypeDebit,
		Amount:         req.Amount,
		Status:         domain.SagaStatusPending,
		Step:           domain.SagaStepApplyTransaction,
	}
	if err := s.store.CreateSaga(ctx, saga); err != nil {
		return nil, err
	}

	result, err := s.store.Transfer(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusPending, domain.SagaStepPublishEvent, &result.DebitTransactionID); err != nil {
		return nil, err
	}

	occurredAt := time.Now().UTC().Format(eventTimeLayout)
	events := []domain.Event{
		domain.WalletTransactionCreatedEvent{
			EventID:       uuid.NewString(),
			OccurredAt:    occurredAt,
			WalletID:      req.FromWalletID,
			TransactionID: result.DebitTransactionID.String(),
			Type:          domain.TransactionTypeDebit,
			Amount:        req.Amount.String(),
			Balance:       result.FromBalance.String(),
		},
		domain.WalletTransactionCreatedEvent{
			EventID:       uuid.NewString(),
			OccurredAt:    occurredAt,
			WalletID:      req.ToWalletID,
			TransactionID: result.CreditTransactionID.String(),
			Type:          domain.TransactionTypeCredit,
			Amount:        req.Amount.String(),
			Balance:       result.ToBalance.String(),
		},
	}
	if pubErr := s.publisher.PublishMany(ctx, events); pubErr != nil {
		// Both legs stay committed. The saga is marked failed instead of
		// pending so the sweep cannot mis-compensate a single leg of a
		// two-wallet operation.
		s.log.Error().Err(pubErr).Str("idempotency_key", req.IdempotencyKey).Msg("transfer event publish failed, legs remain committed")
		if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusFailed, domain.SagaStepPublishEvent, nil); err != nil {
			s.log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("saga update failed")
		}
		return nil, pubErr
	}

	if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusCompleted, domain.SagaStepPublishEvent, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance reads through whatever store decoration is configured.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, walletID string) (money.Money, error) {
	if walletID == "" {
		return money.Zero, apperror.ErrInvalidInput("wallet id is required")
	}
	return s.store.GetBalance(ctx, walletID)
}

// EnsureWallet materializes the wallet row with the opening balance.
func (s *WalletServiceImpl) EnsureWallet(ctx context.Context, walletID string) error {
	if walletID == "" {
		return apperror.ErrInvalidInput("wallet id is required")
	}
	return s.store.EnsureWallet(ctx, walletID)
}

// ListTransactions returns a wallet's ledger entries.
func (s *WalletServiceImpl) ListTransactions(ctx context.Context, walletID string, txType *domain.TransactionType) ([]domain.Transaction, error) {
	if walletID == "" {
		return nil, apperror.ErrInvalidInput("wallet id is required")
	}
	if txType != nil && !txType.Valid() {
		return nil, apperror.ErrInvalidInput("transaction type must be credit or debit")
	}
	return s.store.ListTransactions(ctx, walletID, txType)
}

// SweepStaleSagas resolves pending sagas that have not advanced since
// the cutoff. Transfer sagas are marked failed without compensation, a
// single-leg saga whose ledger write never committed is marked failed,
// and one stuck after the write is compensated. Whether the write
// committed is decided by the transaction log, not the saga row: a
// crash between the ledger commit and the saga update leaves the
// transaction id unset even though funds moved.
func (s *WalletServiceImpl) SweepStaleSagas(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	sagas, err := s.store.ListStalePendingSagas(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, saga := range sagas {
		if saga.ToWalletID != "" {
			// Transfers have no compensation path: refunding only the
			// debit leg would create money.
			if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusFailed, saga.Step, nil); err != nil {
				s.log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("stale saga update failed")
				continue
			}
			touched++
			continue
		}

		if saga.TransactionID == nil {
			leg, err := s.store.FindTransactionByIdempotencyKey(ctx, saga.WalletID, saga.IdempotencyKey)
			if err != nil {
				s.log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("stale saga ledger check failed")
				continue
			}
			if leg == nil {
				if err := s.advanceSaga(ctx, saga.ID, domain.SagaStatusFailed, saga.Step, nil); err != nil {
					s.log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("stale saga update failed")
					continue
				}
				touched++
				continue
			}
			// The write committed but the saga update was lost; fall
			// through and compensate.
		}

		compErr := s.store.CompensateTransaction(ctx, ports.CompensateInput{
			WalletID:       saga.WalletID,
			Type:           saga.Type.Inverse(),
			Amount:         saga.Amount,
			IdempotencyKey: domain.CompensationKey(saga.IdempotencyKey),
		})
		status := domain.SagaStatusCompensated
		if compErr != nil {
			s.log.Error().Err(compErr).Str("saga_id", saga.ID.String()).Msg("stale saga compensation failed")
			status = domain.SagaStatusFailed
		}
		if err := s.advanceSaga(ctx, saga.ID, status, domain.SagaStepCompensate, nil); err != nil {
			s.log.Error().Err(err).Str("saga_id", saga.ID.String()).Msg("stale saga update failed")
			continue
		}
		touched++
	}

	if touched > 0 {
		s.log.Info().Int("sagas", touched).Msg("stale saga sweep resolved")
	}
	return touched, nil
}

func (s *WalletServiceImpl) advanceSaga(ctx context.Context, id uuid.UUID, status domain.SagaStatus, step domain.SagaStep, txID *uuid.UUID) error {
	return s.store.UpdateSaga(ctx, ports.UpdateSagaInput{
		ID:            id,
		Status:        status,
		Step:          step,
		TransactionID: txID,
	})
}
