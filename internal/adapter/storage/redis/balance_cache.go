package redis

import (
	"context"
	"time"

	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/money"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BalanceTTL is how long a cached balance stays valid.
const BalanceTTL = 60 * time.Second

// CachedLedgerStore decorates a ports.LedgerStore with a Redis
// read-through cache for balances. The database is always the source
// of truth: cache failures are logged and the call falls through, and
// every balance mutation refreshes the cached value from the
// authoritative result. All other operations pass straight to the
// inner store.
type CachedLedgerStore struct {
	ports.LedgerStore
	client  *goredis.Client
	log     zerolog.Logger
	metrics ports.MetricsCollector
}

// NewCachedLedgerStore wraps inner with balance caching.
func NewCachedLedgerStore(inner ports.LedgerStore, client *goredis.Client, log zerolog.Logger, metrics ports.MetricsCollector) *CachedLedgerStore {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &CachedLedgerStore{LedgerStore: inner, client: client, log: log, metrics: metrics}
}

func balanceKey(walletID string) string {
	return "balance:" + walletID
}

// GetBalance serves from cache when possible and repopulates on miss.
func (s *CachedLedgerStore) GetBalance(ctx context.Context, walletID string) (money.Money, error) {
	raw, err := s.client.Get(ctx, balanceKey(walletID)).Result()
	if err == nil {
		if cached, parseErr := money.Parse(raw); parseErr == nil {
			s.metrics.RecordCacheHit("balance")
			return cached, nil
		}
		// Unparseable entry, treat as a miss and overwrite below.
	} else if err != goredis.Nil {
		s.log.Warn().Err(err).Str("wallet_id", walletID).Msg("balance cache read failed")
	}
	s.metrics.RecordCacheMiss("balance")

	balance, err := s.LedgerStore.GetBalance(ctx, walletID)
	if err != nil {
		return money.Zero, err
	}
	s.setBalance(ctx, walletID, balance)
	return balance, nil
}

// ApplyTransaction writes through to the store and refreshes the cache
// from the returned balance.
func (s *CachedLedgerStore) ApplyTransaction(ctx context.Context, in ports.ApplyTransactionInput) (*ports.ApplyTransactionResult, error) {
	result, err := s.LedgerStore.ApplyTransaction(ctx, in)
	if err != nil {
		return nil, err
	}
	s.setBalance(ctx, in.WalletID, result.Balance)
	return result, nil
}

// Transfer refreshes both wallets' cached balances.
func (s *CachedLedgerStore) Transfer(ctx context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	result, err := s.LedgerStore.Transfer(ctx, in)
	if err != nil {
		return nil, err
	}
	s.setBalance(ctx, in.FromWalletID, result.FromBalance)
	s.setBalance(ctx, in.ToWalletID, result.ToBalance)
	return result, nil
}

// CompensateTransaction invalidates the cached balance; the inner call
// does not report the post-compensation balance, so the next read
// repopulates from the database.
func (s *CachedLedgerStore) CompensateTransaction(ctx context.Context, in ports.CompensateInput) error {
	if err := s.LedgerStore.CompensateTransaction(ctx, in); err != nil {
		return err
	}
	if err := s.client.Del(ctx, balanceKey(in.WalletID)).Err(); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", in.WalletID).Msg("balance cache invalidation failed")
	}
	return nil
}

func (s *CachedLedgerStore) setBalance(ctx context.Context, walletID string, balance money.Money) {
	if err := s.client.Set(ctx, balanceKey(walletID), balance.String(), BalanceTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", walletID).Msg("balance cache write failed")
	}
}

var _ ports.LedgerStore = (*CachedLedgerStore)(nil)
