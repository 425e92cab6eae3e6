package domain

// Event kind names. Each kind maps to exactly one topic and one binary
// schema; the catalog lives in the messaging schema package.
const (
	EventUserCreated              = "users.created"
	EventWalletTransactionCreated = "wallet.transaction.created"
)

// Event is a domain event with a typed payload. Payloads are closed
// structs per kind; nothing past the codec handles free-form maps.
type Event interface {
	// EventName returns the catalog kind name.
	EventName() string
}

// UserCreatedEvent announces a newly registered user.
type UserCreatedEvent struct {
	EventID    string `json:"eventId"`
	OccurredAt string `json:"occurredAt"`
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
}

func (UserCreatedEvent) EventName() string { return EventUserCreated }

// WalletTransactionCreatedEvent announces a committed ledger entry.
// Amount and Balance are canonical money strings.
type WalletTransactionCreatedEvent struct {
	EventID       string          `json:"eventId"`
	OccurredAt    string          `json:"occurredAt"`
	WalletID      string          `json:"walletId"`
	TransactionID string          `json:"transactionId"`
	Type          TransactionType `json:"type"`
	Amount        string          `json:"amount"`
	Balance       string          `json:"balance"`
}

func (WalletTransactionCreatedEvent) EventName() string { return EventWalletTransactionCreated }
