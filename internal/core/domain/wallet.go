package domain

import (
	"wallet-ledger/pkg/money"
)

// OpeningBalance is credited to a wallet the first time its id is touched.
var OpeningBalance = money.MustParse("1000.0000")

// Wallet holds one account's balance. Wallets are created lazily on
// first reference; there is no explicit creation endpoint. Version is
// an audit counter bumped on every successful mutation, not a conflict
// detection mechanism (the row lock and idempotency key do that).
type Wallet struct {
	ID      string      `json:"id"`
	Balance money.Money `json:"balance"`
	Version int         `json:"version"`
}
