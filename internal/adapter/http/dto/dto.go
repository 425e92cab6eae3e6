package dto

// CreateTransactionRequest is the request body for a ledger mutation.
type CreateTransactionRequest struct {
	Type   string `json:"type" binding:"required,oneof=credit debit"`
	Amount string `json:"amount" binding:"required"`
}

// DepositRequest is the request body for a deposit. A deposit is a
// credit with the type implied.
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// TransferRequest is the request body for a wallet-to-wallet transfer.
type TransferRequest struct {
	ToWalletID string `json:"to_wallet_id" binding:"required,safe_id"`
	Amount     string `json:"amount" binding:"required"`
}

// TransactionResponse is the response body for a single ledger write.
type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	WalletID      string `json:"wallet_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Balance       string `json:"balance"`
	CreatedAt     string `json:"created_at"`
}

// TransferResponse carries both legs of a completed transfer.
type TransferResponse struct {
	DebitTransactionID  string `json:"debit_transaction_id"`
	CreditTransactionID string `json:"credit_transaction_id"`
	FromWalletID        string `json:"from_wallet_id"`
	ToWalletID          string `json:"to_wallet_id"`
	Amount              string `json:"amount"`
	FromBalance         string `json:"from_balance"`
	ToBalance           string `json:"to_balance"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
}

// TransactionItem is one entry in a transaction listing.
type TransactionItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

// RegisterUserRequest is the request body for user registration.
type RegisterUserRequest struct {
	FirstName string `json:"first_name" binding:"required,min=1,max=100"`
	LastName  string `json:"last_name" binding:"required,min=1,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
}

// UpdateUserRequest carries the mutable user fields. Empty fields are
// left unchanged.
type UpdateUserRequest struct {
	FirstName string `json:"first_name" binding:"omitempty,max=100"`
	LastName  string `json:"last_name" binding:"omitempty,max=100"`
	Email     string `json:"email" binding:"omitempty,email"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // Unix timestamp
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// LatestActivityResponse is the user's most recent wallet transaction
// as recorded by the consumer. Fields are empty when nothing has been
// recorded yet.
type LatestActivityResponse struct {
	TransactionID string `json:"transaction_id"`
	OccurredAt    string `json:"occurred_at"`
}
