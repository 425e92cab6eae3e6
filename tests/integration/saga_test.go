package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/logger"
	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSagaFixture builds a wallet service over the in-memory store so
// saga outcomes can be asserted against real storage semantics.
func newSagaFixture(t *testing.T) (ports.WalletService, *inMemoryLedgerStore, *recordingPublisher) {
	t.Helper()
	store := newInMemoryLedgerStore()
	publisher := &recordingPublisher{}
	log := logger.New("integration", "error", false)
	return service.NewWalletService(store, publisher, log), store, publisher
}

func TestSaga_PublishFailureCompensates(t *testing.T) {
	svc, store, publisher := newSagaFixture(t)
	ctx := context.Background()

	publisher.fail(errors.New("broker down"))
	_, err := svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("50.0000"),
		IdempotencyKey: "dep-1",
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeEventPublish))

	// The credit was rolled back and the saga records compensation.
	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", balance.String())

	saga := store.sagaByKeyForTest("dep-1")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusCompensated, saga.Status)
	assert.Equal(t, domain.SagaStepCompensate, saga.Step)

	// Recovery: a fresh key succeeds once the broker is back.
	publisher.fail(nil)
	res, err := svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("50.0000"),
		IdempotencyKey: "dep-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "1050.0000", res.Balance.String())
}

func TestSaga_ReplayCompletedKey(t *testing.T) {
	svc, _, publisher := newSagaFixture(t)
	ctx := context.Background()

	req := ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeDebit,
		Amount:         money.MustParse("100.0000"),
		IdempotencyKey: "wd-1",
	}
	first, err := svc.CreateTransaction(ctx, req)
	require.NoError(t, err)

	second, err := svc.CreateTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, "900.0000", second.Balance.String())
	assert.Len(t, publisher.published(), 1)
}

func TestSaga_TransferPublishFailureKeepsLegs(t *testing.T) {
	svc, store, publisher := newSagaFixture(t)
	ctx := context.Background()

	publisher.fail(errors.New("broker down"))
	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID:   "w-from",
		ToWalletID:     "w-to",
		Amount:         money.MustParse("200.0000"),
		IdempotencyKey: "tr-1",
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeEventPublish))

	// Both legs stay committed; the saga is marked failed for operators.
	from, err := store.GetBalance(ctx, "w-from")
	require.NoError(t, err)
	to, err := store.GetBalance(ctx, "w-to")
	require.NoError(t, err)
	assert.Equal(t, "800.0000", from.String())
	assert.Equal(t, "1200.0000", to.String())

	saga := store.sagaByKeyForTest("tr-1")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)
}

func TestSaga_SweepStalePending(t *testing.T) {
	svc, store, _ := newSagaFixture(t)
	ctx := context.Background()

	// A deposit that committed but whose saga never advanced past the
	// ledger write, e.g. the process died before publishing.
	res, err := svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("75.0000"),
		IdempotencyKey: "stuck-1",
	})
	require.NoError(t, err)
	stuck := store.sagaByKeyForTest("stuck-1")
	require.NotNil(t, stuck)
	txID := res.TransactionID
	require.NoError(t, store.UpdateSaga(ctx, ports.UpdateSagaInput{
		ID:            stuck.ID,
		Status:        domain.SagaStatusPending,
		Step:          domain.SagaStepApplyTransaction,
		TransactionID: &txID,
	}))
	store.backdateSaga("stuck-1", time.Hour)

	touched, err := svc.SweepStaleSagas(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	saga := store.sagaByKeyForTest("stuck-1")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusCompensated, saga.Status)

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", balance.String())

	// A second sweep finds nothing.
	touched, err = svc.SweepStaleSagas(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, touched)
}

func TestSaga_SweepStaleTransferLeavesBalances(t *testing.T) {
	svc, store, _ := newSagaFixture(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, ports.TransferRequest{
		FromWalletID:   "w-from",
		ToWalletID:     "w-to",
		Amount:         money.MustParse("200.0000"),
		IdempotencyKey: "tr-stuck",
	})
	require.NoError(t, err)

	// The process died before publishing the transfer event. Undoing
	// only the debit leg would mint money, so the sweep must record the
	// saga as failed and leave both balances alone.
	stuck := store.sagaByKeyForTest("tr-stuck")
	require.NotNil(t, stuck)
	require.NoError(t, store.UpdateSaga(ctx, ports.UpdateSagaInput{
		ID:     stuck.ID,
		Status: domain.SagaStatusPending,
		Step:   domain.SagaStepPublishEvent,
	}))
	store.backdateSaga("tr-stuck", time.Hour)

	touched, err := svc.SweepStaleSagas(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	saga := store.sagaByKeyForTest("tr-stuck")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)

	from, err := store.GetBalance(ctx, "w-from")
	require.NoError(t, err)
	to, err := store.GetBalance(ctx, "w-to")
	require.NoError(t, err)
	assert.Equal(t, "800.0000", from.String())
	assert.Equal(t, "1200.0000", to.String())
}

func TestSaga_SweepOverdrawnCompensationFails(t *testing.T) {
	svc, store, _ := newSagaFixture(t)
	ctx := context.Background()

	res, err := svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("500.0000"),
		IdempotencyKey: "stuck-2",
	})
	require.NoError(t, err)
	stuck := store.sagaByKeyForTest("stuck-2")
	require.NotNil(t, stuck)
	txID := res.TransactionID
	require.NoError(t, store.UpdateSaga(ctx, ports.UpdateSagaInput{
		ID:            stuck.ID,
		Status:        domain.SagaStatusPending,
		Step:          domain.SagaStepApplyTransaction,
		TransactionID: &txID,
	}))
	store.backdateSaga("stuck-2", time.Hour)

	// The credited funds are spent before the sweep runs, so the
	// compensating debit would overdraw the wallet.
	_, err = svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeDebit,
		Amount:         money.MustParse("1400.0000"),
		IdempotencyKey: "drain-1",
	})
	require.NoError(t, err)

	touched, err := svc.SweepStaleSagas(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	saga := store.sagaByKeyForTest("stuck-2")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusFailed, saga.Status)

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "100.0000", balance.String())
}

func TestSaga_SweepRecoversLostSagaUpdate(t *testing.T) {
	svc, store, _ := newSagaFixture(t)
	ctx := context.Background()

	// Crash window: the ledger write committed but the saga row was
	// never linked to it. The sweep has to find the leg by its key
	// instead of trusting the missing transaction id.
	require.NoError(t, store.EnsureWallet(ctx, "w-1"))
	require.NoError(t, store.CreateSaga(ctx, &domain.Saga{
		ID:             uuid.New(),
		WalletID:       "w-1",
		IdempotencyKey: "lost-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("60.0000"),
		Status:         domain.SagaStatusPending,
		Step:           domain.SagaStepApplyTransaction,
	}))
	_, err := store.ApplyTransaction(ctx, ports.ApplyTransactionInput{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("60.0000"),
		IdempotencyKey: "lost-1",
	})
	require.NoError(t, err)
	store.backdateSaga("lost-1", time.Hour)

	touched, err := svc.SweepStaleSagas(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	saga := store.sagaByKeyForTest("lost-1")
	require.NotNil(t, saga)
	assert.Equal(t, domain.SagaStatusCompensated, saga.Status)

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.0000", balance.String())
}

func TestSaga_ConcurrentDuplicateKey(t *testing.T) {
	svc, store, publisher := newSagaFixture(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
				WalletID:       "w-1",
				Type:           domain.TransactionTypeCredit,
				Amount:         money.MustParse("10.0000"),
				IdempotencyKey: "race-1",
			})
		}(i)
	}
	wg.Wait()

	// Exactly one ledger write happened, whatever the interleaving of
	// winners, replays and key conflicts.
	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1010.0000", balance.String())

	history, err := store.ListTransactions(ctx, "w-1", nil)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.GreaterOrEqual(t, len(publisher.published()), 1)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestSaga_ConcurrentDistinctKeys(t *testing.T) {
	svc, store, _ := newSagaFixture(t)
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateTransaction(ctx, ports.CreateTransactionRequest{
				WalletID:       "w-1",
				Type:           domain.TransactionTypeCredit,
				Amount:         money.MustParse("10.0000"),
				IdempotencyKey: fmt.Sprintf("bulk-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1250.0000", balance.String())

	history, err := store.ListTransactions(ctx, "w-1", nil)
	require.NoError(t, err)
	assert.Len(t, history, workers)
}
