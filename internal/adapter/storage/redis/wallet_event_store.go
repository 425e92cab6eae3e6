package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// WalletEventStore keeps each user's most recent wallet transaction,
// written by the consumer that follows the wallet event stream. It is
// a convenience lookup, not ledger state, so entries expire with the
// balance cache TTL semantics left out: the latest pointer is kept
// until overwritten.
type WalletEventStore struct {
	client *goredis.Client
}

// NewWalletEventStore creates a Redis-backed recorder.
func NewWalletEventStore(client *goredis.Client) *WalletEventStore {
	return &WalletEventStore{client: client}
}

func latestKey(userID string) string {
	return "wallet:latest:" + userID
}

// RecordLatestTransaction overwrites the user's latest transaction
// pointer.
func (s *WalletEventStore) RecordLatestTransaction(ctx context.Context, userID, transactionID, occurredAt string) error {
	err := s.client.HSet(ctx, latestKey(userID), map[string]any{
		"transaction_id": transactionID,
		"occurred_at":    occurredAt,
	}).Err()
	if err != nil {
		return fmt.Errorf("record latest transaction: %w", err)
	}
	return nil
}

// LatestTransaction returns empty strings without error when nothing
// has been recorded for the user.
func (s *WalletEventStore) LatestTransaction(ctx context.Context, userID string) (string, string, error) {
	fields, err := s.client.HGetAll(ctx, latestKey(userID)).Result()
	if err != nil {
		return "", "", fmt.Errorf("latest transaction: %w", err)
	}
	return fields["transaction_id"], fields["occurred_at"], nil
}
