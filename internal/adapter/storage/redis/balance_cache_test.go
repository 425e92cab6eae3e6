package redis

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/money"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is a minimal in-memory LedgerStore that counts database
// reads so cache hits are observable.
type fakeLedger struct {
	balances     map[string]money.Money
	balanceReads int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]money.Money)}
}

func (f *fakeLedger) EnsureWallet(_ context.Context, walletID string) error {
	if _, ok := f.balances[walletID]; !ok {
		f.balances[walletID] = domain.OpeningBalance
	}
	return nil
}

func (f *fakeLedger) GetBalance(_ context.Context, walletID string) (money.Money, error) {
	f.balanceReads++
	if b, ok := f.balances[walletID]; ok {
		return b, nil
	}
	return domain.OpeningBalance, nil
}

func (f *fakeLedger) ApplyTransaction(_ context.Context, in ports.ApplyTransactionInput) (*ports.ApplyTransactionResult, error) {
	current, ok := f.balances[in.WalletID]
	if !ok {
		current = domain.OpeningBalance
	}
	next := current.Add(in.Amount)
	if in.Type == domain.TransactionTypeDebit {
		next = current.Sub(in.Amount)
	}
	f.balances[in.WalletID] = next
	return &ports.ApplyTransactionResult{TransactionID: uuid.New(), CreatedAt: time.Now(), Balance: next}, nil
}

func (f *fakeLedger) Transfer(_ context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	from, _ := f.GetBalance(context.Background(), in.FromWalletID)
	f.balanceReads--
	to, _ := f.GetBalance(context.Background(), in.ToWalletID)
	f.balanceReads--
	f.balances[in.FromWalletID] = from.Sub(in.Amount)
	f.balances[in.ToWalletID] = to.Add(in.Amount)
	return &ports.TransferResult{
		DebitTransactionID:  uuid.New(),
		CreditTransactionID: uuid.New(),
		FromBalance:         f.balances[in.FromWalletID],
		ToBalance:           f.balances[in.ToWalletID],
	}, nil
}

func (f *fakeLedger) ListTransactions(context.Context, string, *domain.TransactionType) ([]domain.Transaction, error) {
	return nil, nil
}

func (f *fakeLedger) FindTransactionByIdempotencyKey(context.Context, string, string) (*domain.Transaction, error) {
	return nil, nil
}

func (f *fakeLedger) CreateSaga(context.Context, *domain.Saga) error { return nil }
func (f *fakeLedger) FindSagaByIdempotencyKey(context.Context, string) (*domain.Saga, error) {
	return nil, nil
}
func (f *fakeLedger) UpdateSaga(context.Context, ports.UpdateSagaInput) error { return nil }

func (f *fakeLedger) CompensateTransaction(_ context.Context, in ports.CompensateInput) error {
	current := f.balances[in.WalletID]
	if in.Type == domain.TransactionTypeCredit {
		f.balances[in.WalletID] = current.Add(in.Amount)
	} else {
		f.balances[in.WalletID] = current.Sub(in.Amount)
	}
	return nil
}

func (f *fakeLedger) ListStalePendingSagas(context.Context, time.Time) ([]domain.Saga, error) {
	return nil, nil
}

func newCachedStore(t *testing.T) (*CachedLedgerStore, *fakeLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	inner := newFakeLedger()
	return NewCachedLedgerStore(inner, client, zerolog.Nop(), nil), inner, mr
}

func TestCachedLedgerStore_ReadThrough(t *testing.T) {
	store, inner, _ := newCachedStore(t)
	ctx := context.Background()

	inner.balances["w-1"] = money.MustParse("250")

	first, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "250.0000", first.String())
	assert.Equal(t, 1, inner.balanceReads)

	second, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "250.0000", second.String())
	assert.Equal(t, 1, inner.balanceReads, "second read should be served from cache")
}

func TestCachedLedgerStore_EntryExpires(t *testing.T) {
	store, inner, mr := newCachedStore(t)
	ctx := context.Background()

	inner.balances["w-1"] = money.MustParse("250")

	_, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)

	mr.FastForward(BalanceTTL + time.Second)

	_, err = store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.balanceReads)
}

func TestCachedLedgerStore_ApplyRefreshesCache(t *testing.T) {
	store, inner, _ := newCachedStore(t)
	ctx := context.Background()

	_, err := store.ApplyTransaction(ctx, ports.ApplyTransactionInput{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeCredit,
		Amount:         money.MustParse("50"),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "1050.0000", balance.String())
	assert.Equal(t, 0, inner.balanceReads, "mutation should have primed the cache")
}

func TestCachedLedgerStore_TransferRefreshesBothWallets(t *testing.T) {
	store, inner, _ := newCachedStore(t)
	ctx := context.Background()

	inner.balances["w-a"] = money.MustParse("500")
	inner.balances["w-b"] = money.MustParse("500")

	_, err := store.Transfer(ctx, ports.TransferInput{
		FromWalletID:   "w-a",
		ToWalletID:     "w-b",
		Amount:         money.MustParse("120"),
		IdempotencyKey: "key-t",
	})
	require.NoError(t, err)

	from, err := store.GetBalance(ctx, "w-a")
	require.NoError(t, err)
	to, err := store.GetBalance(ctx, "w-b")
	require.NoError(t, err)
	assert.Equal(t, "380.0000", from.String())
	assert.Equal(t, "620.0000", to.String())
	assert.Equal(t, 0, inner.balanceReads)
}

func TestCachedLedgerStore_CompensationInvalidates(t *testing.T) {
	store, inner, _ := newCachedStore(t)
	ctx := context.Background()

	inner.balances["w-1"] = money.MustParse("100")
	_, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)

	err = store.CompensateTransaction(ctx, ports.CompensateInput{
		WalletID:       "w-1",
		Type:           domain.TransactionTypeDebit,
		Amount:         money.MustParse("40"),
		IdempotencyKey: "key-1:compensate",
	})
	require.NoError(t, err)

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "60.0000", balance.String())
	assert.Equal(t, 2, inner.balanceReads, "compensation should force the next read to the store")
}

func TestCachedLedgerStore_RedisDownFallsThrough(t *testing.T) {
	store, inner, mr := newCachedStore(t)
	ctx := context.Background()

	inner.balances["w-1"] = money.MustParse("75")
	mr.Close()

	balance, err := store.GetBalance(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "75.0000", balance.String())
}
