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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

const (
	ensureWalletSQL  = `INSERT INTO wallets (id, balance, version) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`
	getBalanceSQL    = `SELECT balance::text FROM wallets WHERE id = $1`
	lockWalletSQL    = `SELECT balance::text FROM wallets WHERE id = $1 FOR UPDATE`
	findLegSQL       = `SELECT id, type, amount::text, created_at FROM transactions WHERE wallet_id = $1 AND idempotency_key = $2`
	insertLegSQL     = `INSERT INTO transactions (wallet_id, type, amount, idempotency_key) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	updateBalanceSQL = `UPDATE wallets SET balance = $1, version = version + 1 WHERE id = $2`
)

// LedgerRepo implements ports.LedgerStore on PostgreSQL. Every
// balance-changing operation runs in one database transaction and
// serializes on the wallet row lock; idempotency is enforced by the
// (wallet_id, idempotency_key) unique constraint, not application
// state, so it holds across process instances.
type LedgerRepo struct {
	pool    Pool
	metrics ports.MetricsCollector
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool, metrics ports.MetricsCollector) *LedgerRepo {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &LedgerRepo{pool: pool, metrics: metrics}
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// legRow is one existing transaction row found by idempotency key.
type legRow struct {
	ID        uuid.UUID
	Type      domain.TransactionType
	Amount    money.Money
	CreatedAt time.Time
}

// EnsureWallet inserts the wallet with the opening balance if absent.
func (r *LedgerRepo) EnsureWallet(ctx context.Context, walletID string) error {
	if _, err := r.pool.Exec(ctx, ensureWalletSQL, walletID, domain.OpeningBalance.String()); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

// GetBalance returns the wallet balance, or the opening balance when
// the row has not been materialized yet. Reads never create the row.
func (r *LedgerRepo) GetBalance(ctx context.Context, walletID string) (money.Money, error) {
	var raw string
	err := r.pool.QueryRow(ctx, getBalanceSQL, walletID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OpeningBalance, nil
		}
		return money.Zero, fmt.Errorf("get balance: %w", err)
	}
	return money.Parse(raw)
}

// ApplyTransaction applies one credit or debit atomically. A repeated
// idempotency key returns the original row's id and timestamp with the
// current balance, without mutating again. A uniqueness violation on
// insert (race between the dedup check and the insert) is treated as a
// replay: the winning row is re-read and validated against the request.
func (r *LedgerRepo) ApplyTransaction(ctx context.Context, in ports.ApplyTransactionInput) (*ports.ApplyTransactionResult, error) {
	if !in.Amount.IsPositive() || !in.Type.Valid() {
		return nil, apperror.ErrInvalidInput("")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, ensureWalletSQL, in.WalletID, domain.OpeningBalance.String()); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	existing, err := r.findLeg(ctx, tx, in.WalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.metrics.RecordIdempotencyHit()
		if err := validateLeg(existing, in.Type, in.Amount); err != nil {
			return nil, err
		}
		balance, err := r.balanceOf(ctx, tx, in.WalletID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &ports.ApplyTransactionResult{
			TransactionID: existing.ID,
			CreatedAt:     existing.CreatedAt,
			Balance:       balance,
		}, nil
	}
	r.metrics.RecordIdempotencyMiss()

	current, err := r.lockWallet(ctx, tx, in.WalletID)
	if err != nil {
		return nil, err
	}
	next := applyAmount(current, in.Type, in.Amount)
	if next.IsNegative() {
		return nil, apperror.ErrInsufficientFunds()
	}

	var (
		legID     uuid.UUID
		createdAt time.Time
	)
	err = tx.QueryRow(ctx, insertLegSQL, in.WalletID, in.Type, in.Amount.String(), in.IdempotencyKey).
		Scan(&legID, &createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Another submission with the same key won the race while we
			// waited; its commit is the canonical outcome.
			tx.Rollback(ctx) //nolint:errcheck
			return r.replayApplied(ctx, in)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, updateBalanceSQL, next.String(), in.WalletID); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &ports.ApplyTransactionResult{
		TransactionID: legID,
		CreatedAt:     createdAt,
		Balance:       next,
	}, nil
}

// replayApplied resolves a lost insert race by returning the committed
// row's result.
func (r *LedgerRepo) replayApplied(ctx context.Context, in ports.ApplyTransactionInput) (*ports.ApplyTransactionResult, error) {
	existing, err := r.findLeg(ctx, r.pool, in.WalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperror.ErrConflict()
	}
	if err := validateLeg(existing, in.Type, in.Amount); err != nil {
		return nil, err
	}
	balance, err := r.GetBalance(ctx, in.WalletID)
	if err != nil {
		return nil, err
	}
	return &ports.ApplyTransactionResult{
		TransactionID: existing.ID,
		CreatedAt:     existing.CreatedAt,
		Balance:       balance,
	}, nil
}

// Transfer moves amount between two wallets atomically: one debit leg,
// one credit leg, one shared idempotency key. Wallet rows are locked in
// lexicographic id order so two opposing transfers cannot deadlock.
// Dedup is per leg; a missing credit leg next to an existing debit leg
// is repaired without re-debiting.
func (r *LedgerRepo) Transfer(ctx context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidInput("")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, id := range []string{in.FromWalletID, in.ToWalletID} {
		if _, err := tx.Exec(ctx, ensureWalletSQL, id, domain.OpeningBalance.String()); err != nil {
			return nil, fmt.Errorf("ensure wallet: %w", err)
		}
	}

	debit, err := r.findLeg(ctx, tx, in.FromWalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if debit != nil {
		r.metrics.RecordIdempotencyHit()
		return r.replayTransfer(ctx, tx, in, debit)
	}
	r.metrics.RecordIdempotencyMiss()

	balances, err := r.lockWalletsOrdered(ctx, tx, in.FromWalletID, in.ToWalletID)
	if err != nil {
		return nil, err
	}
	nextFrom := balances[in.FromWalletID].Sub(in.Amount)
	if nextFrom.IsNegative() {
		return nil, apperror.ErrInsufficientFunds()
	}
	nextTo := balances[in.ToWalletID].Add(in.Amount)

	var debitID, creditID uuid.UUID
	var createdAt time.Time
	err = tx.QueryRow(ctx, insertLegSQL, in.FromWalletID, domain.TransactionTypeDebit, in.Amount.String(), in.IdempotencyKey).
		Scan(&debitID, &createdAt)
	if err == nil {
		err = tx.QueryRow(ctx, insertLegSQL, in.ToWalletID, domain.TransactionTypeCredit, in.Amount.String(), in.IdempotencyKey).
			Scan(&creditID, &createdAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback(ctx) //nolint:errcheck
			return r.replayCommittedTransfer(ctx, in)
		}
		return nil, fmt.Errorf("insert transfer legs: %w", err)
	}

	if _, err := tx.Exec(ctx, updateBalanceSQL, nextFrom.String(), in.FromWalletID); err != nil {
		return nil, fmt.Errorf("update sender balance: %w", err)
	}
	if _, err := tx.Exec(ctx, updateBalanceSQL, nextTo.String(), in.ToWalletID); err != nil {
		return nil, fmt.Errorf("update receiver balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &ports.TransferResult{
		DebitTransactionID:  debitID,
		CreditTransactionID: creditID,
		FromBalance:         nextFrom,
		ToBalance:           nextTo,
	}, nil
}

// replayTransfer handles a transfer whose debit leg already exists. If
// the credit leg is missing the earlier attempt committed only half;
// the missing leg is created without touching the sender again.
func (r *LedgerRepo) replayTransfer(ctx context.Context, tx pgx.Tx, in ports.TransferInput, debit *legRow) (*ports.TransferResult, error) {
	if err := validateLeg(debit, domain.TransactionTypeDebit, in.Amount); err != nil {
		return nil, err
	}

	credit, err := r.findLeg(ctx, tx, in.ToWalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if credit == nil {
		toBalance, err := r.lockWallet(ctx, tx, in.ToWalletID)
		if err != nil {
			return nil, err
		}
		nextTo := toBalance.Add(in.Amount)
		var creditID uuid.UUID
		var createdAt time.Time
		err = tx.QueryRow(ctx, insertLegSQL, in.ToWalletID, domain.TransactionTypeCredit, in.Amount.String(), in.IdempotencyKey).
			Scan(&creditID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("insert credit leg: %w", err)
		}
		if _, err := tx.Exec(ctx, updateBalanceSQL, nextTo.String(), in.ToWalletID); err != nil {
			return nil, fmt.Errorf("update receiver balance: %w", err)
		}
		fromBalance, err := r.balanceOf(ctx, tx, in.FromWalletID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &ports.TransferResult{
			DebitTransactionID:  debit.ID,
			CreditTransactionID: creditID,
			FromBalance:         fromBalance,
			ToBalance:           nextTo,
		}, nil
	}

	if err := validateLeg(credit, domain.TransactionTypeCredit, in.Amount); err != nil {
		return nil, err
	}
	fromBalance, err := r.balanceOf(ctx, tx, in.FromWalletID)
	if err != nil {
		return nil, err
	}
	toBalance, err := r.balanceOf(ctx, tx, in.ToWalletID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &ports.TransferResult{
		DebitTransactionID:  debit.ID,
		CreditTransactionID: credit.ID,
		FromBalance:         fromBalance,
		ToBalance:           toBalance,
	}, nil
}

// replayCommittedTransfer resolves a lost insert race against a fully
// committed duplicate transfer.
func (r *LedgerRepo) replayCommittedTransfer(ctx context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	debit, err := r.findLeg(ctx, r.pool, in.FromWalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	credit, err := r.findLeg(ctx, r.pool, in.ToWalletID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if debit == nil || credit == nil {
		return nil, apperror.ErrConflict()
	}
	if err := validateLeg(debit, domain.TransactionTypeDebit, in.Amount); err != nil {
		return nil, err
	}
	if err := validateLeg(credit, domain.TransactionTypeCredit, in.Amount); err != nil {
		return nil, err
	}
	fromBalance, err := r.GetBalance(ctx, in.FromWalletID)
	if err != nil {
		return nil, err
	}
	toBalance, err := r.GetBalance(ctx, in.ToWalletID)
	if err != nil {
		return nil, err
	}
	return &ports.TransferResult{
		DebitTransactionID:  debit.ID,
		CreditTransactionID: credit.ID,
		FromBalance:         fromBalance,
		ToBalance:           toBalance,
	}, nil
}

// ListTransactions returns a wallet's ledger entries newest first,
// optionally filtered by type.
func (r *LedgerRepo) ListTransactions(ctx context.Context, walletID string, txType *domain.TransactionType) ([]domain.Transaction, error) {
	query := `SELECT id, wallet_id, type, amount::text, idempotency_key, created_at FROM transactions WHERE wallet_id = $1`
	args := []any{walletID}
	if txType != nil {
		query += ` AND type = $2`
		args = append(args, *txType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		var (
			t   domain.Transaction
			raw string
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &raw, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = money.Parse(raw); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

// FindTransactionByIdempotencyKey returns the committed ledger entry
// for (walletID, key), or nil without error when none exists. The
// stale-saga sweep uses it to tell a lost write from a lost saga update.
func (r *LedgerRepo) FindTransactionByIdempotencyKey(ctx context.Context, walletID, key string) (*domain.Transaction, error) {
	leg, err := r.findLeg(ctx, r.pool, walletID, key)
	if err != nil || leg == nil {
		return nil, err
	}
	return &domain.Transaction{
		ID:             leg.ID,
		WalletID:       walletID,
		Type:           leg.Type,
		Amount:         leg.Amount,
		IdempotencyKey: key,
		CreatedAt:      leg.CreatedAt,
	}, nil
}

// ---- helpers ----

func (r *LedgerRepo) findLeg(ctx context.Context, q querier, walletID, key string) (*legRow, error) {
	var (
		leg legRow
		raw string
	)
	err := q.QueryRow(ctx, findLegSQL, walletID, key).Scan(&leg.ID, &leg.Type, &raw, &leg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	if leg.Amount, err = money.Parse(raw); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &leg, nil
}

func (r *LedgerRepo) balanceOf(ctx context.Context, q querier, walletID string) (money.Money, error) {
	var raw string
	if err := q.QueryRow(ctx, getBalanceSQL, walletID).Scan(&raw); err != nil {
		return money.Zero, fmt.Errorf("get balance: %w", err)
	}
	return money.Parse(raw)
}

func (r *LedgerRepo) lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (money.Money, error) {
	var raw string
	if err := tx.QueryRow(ctx, lockWalletSQL, walletID).Scan(&raw); err != nil {
		return money.Zero, fmt.Errorf("lock wallet: %w", err)
	}
	return money.Parse(raw)
}

// lockWalletsOrdered takes both row locks in lexicographic id order.
func (r *LedgerRepo) lockWalletsOrdered(ctx context.Context, tx pgx.Tx, a, b string) (map[string]money.Money, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]money.Money, 2)
	for _, id := range []string{first, second} {
		balance, err := r.lockWallet(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		balances[id] = balance
	}
	return balances, nil
}

func applyAmount(current money.Money, t domain.TransactionType, amount money.Money) money.Money {
	if t == domain.TransactionTypeCredit {
		return current.Add(amount)
	}
	return current.Sub(amount)
}

// validateLeg checks a replayed row's type and amount against the
// request; a matching key with different semantics is a conflict, not
// a replay.
func validateLeg(leg *legRow, wantType domain.TransactionType, wantAmount money.Money) error {
	if leg.Type != wantType || leg.Amount.Compare(wantAmount) != 0 {
		return apperror.ErrConflict()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
