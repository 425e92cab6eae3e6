package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/money"

	"github.com/jackc/pgx/v5"
)

const (
	createSagaSQL = `INSERT INTO wallet_sagas (id, wallet_id, idempotency_key, to_wallet_id, type, amount, status, step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING`
	findSagaSQL = `SELECT id, wallet_id, idempotency_key, to_wallet_id, transaction_id, type, amount::text, status, step, created_at, updated_at
		FROM wallet_sagas WHERE idempotency_key = $1`
	updateSagaSQL = `UPDATE wallet_sagas
		SET status = $2, step = $3, transaction_id = COALESCE($4, transaction_id), updated_at = now()
		WHERE id = $1`
	staleSagasSQL = `SELECT id, wallet_id, idempotency_key, to_wallet_id, transaction_id, type, amount::text, status, step, created_at, updated_at
		FROM wallet_sagas WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`
)

// CreateSaga records a new pending saga. A concurrent insert with the
// same idempotency key is a no-op; the orchestrator re-reads the row
// and follows whatever state the winner left.
func (r *LedgerRepo) CreateSaga(ctx context.Context, saga *domain.Saga) error {
	_, err := r.pool.Exec(ctx, createSagaSQL,
		saga.ID, saga.WalletID, saga.IdempotencyKey, saga.ToWalletID, saga.Type, saga.Amount.String(), saga.Status, saga.Step)
	if err != nil {
		return fmt.Errorf("create saga: %w", err)
	}
	return nil
}

// FindSagaByIdempotencyKey returns nil, nil when no saga exists.
func (r *LedgerRepo) FindSagaByIdempotencyKey(ctx context.Context, key string) (*domain.Saga, error) {
	saga, err := scanSaga(r.pool.QueryRow(ctx, findSagaSQL, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find saga: %w", err)
	}
	return saga, nil
}

// UpdateSaga advances status and step. A nil TransactionID keeps the
// stored one so compensation updates cannot erase the link.
func (r *LedgerRepo) UpdateSaga(ctx context.Context, in ports.UpdateSagaInput) error {
	tag, err := r.pool.Exec(ctx, updateSagaSQL, in.ID, in.Status, in.Step, in.TransactionID)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound("saga")
	}
	return nil
}

// CompensateTransaction applies the inverse transaction under the
// derived compensation key. It reuses the ledger write path, so it is
// atomic, idempotent and floor-checked like any other transaction; an
// insufficient-funds rejection is a durable compensation failure the
// orchestrator records, never swallows.
func (r *LedgerRepo) CompensateTransaction(ctx context.Context, in ports.CompensateInput) error {
	if !in.Amount.IsPositive() || !in.Type.Valid() {
		return apperror.ErrInvalidInput("")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := r.findLeg(ctx, tx, in.WalletID, in.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return tx.Commit(ctx)
	}

	current, err := r.lockWallet(ctx, tx, in.WalletID)
	if err != nil {
		return err
	}
	next := applyAmount(current, in.Type, in.Amount)
	if next.IsNegative() {
		return apperror.ErrInsufficientFunds()
	}

	var discard legRow
	err = tx.QueryRow(ctx, insertLegSQL, in.WalletID, in.Type, in.Amount.String(), in.IdempotencyKey).
		Scan(&discard.ID, &discard.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert compensation: %w", err)
	}
	if _, err := tx.Exec(ctx, updateBalanceSQL, next.String(), in.WalletID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListStalePendingSagas returns pending sagas not touched since the
// cutoff, oldest first.
func (r *LedgerRepo) ListStalePendingSagas(ctx context.Context, cutoff time.Time) ([]domain.Saga, error) {
	rows, err := r.pool.Query(ctx, staleSagasSQL, domain.SagaStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sagas: %w", err)
	}
	defer rows.Close()

	var sagas []domain.Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		sagas = append(sagas, *saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sagas: %w", err)
	}
	return sagas, nil
}

func scanSaga(row pgx.Row) (*domain.Saga, error) {
	var (
		saga domain.Saga
		raw  string
	)
	err := row.Scan(&saga.ID, &saga.WalletID, &saga.IdempotencyKey, &saga.ToWalletID, &saga.TransactionID,
		&saga.Type, &raw, &saga.Status, &saga.Step, &saga.CreatedAt, &saga.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if saga.Amount, err = money.Parse(raw); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &saga, nil
}
