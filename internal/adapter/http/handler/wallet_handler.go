package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/money"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet and ledger endpoints.
type WalletHandler struct {
	wallets ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallets ports.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// CreateTransaction handles POST /api/v1/wallets/:id/transactions.
func (h *WalletHandler) CreateTransaction(c *gin.Context) {
	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidInput("amount must be a decimal with four fraction digits"))
		return
	}

	result, err := h.wallets.CreateTransaction(c.Request.Context(), ports.CreateTransactionRequest{
		WalletID:       c.Param("id"),
		Type:           domain.TransactionType(req.Type),
		Amount:         amount,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.TransactionResponse{
		TransactionID: result.TransactionID.String(),
		WalletID:      c.Param("id"),
		Type:          req.Type,
		Amount:        amount.String(),
		Balance:       result.Balance.String(),
		CreatedAt:     result.CreatedAt.UTC().Format(timeLayout),
	})
}

// Deposit handles POST /api/v1/wallets/:id/deposits. A deposit is a
// credit transaction with the type implied by the route.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidInput("amount must be a decimal with four fraction digits"))
		return
	}

	result, err := h.wallets.CreateTransaction(c.Request.Context(), ports.CreateTransactionRequest{
		WalletID:       c.Param("id"),
		Type:           domain.TransactionTypeCredit,
		Amount:         amount,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.TransactionResponse{
		TransactionID: result.TransactionID.String(),
		WalletID:      c.Param("id"),
		Type:          string(domain.TransactionTypeCredit),
		Amount:        amount.String(),
		Balance:       result.Balance.String(),
		CreatedAt:     result.CreatedAt.UTC().Format(timeLayout),
	})
}

// Transfer handles POST /api/v1/wallets/:id/transfers.
func (h *WalletHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := money.Parse(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidInput("amount must be a decimal with four fraction digits"))
		return
	}

	result, err := h.wallets.Transfer(c.Request.Context(), ports.TransferRequest{
		FromWalletID:   c.Param("id"),
		ToWalletID:     req.ToWalletID,
		Amount:         amount,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.TransferResponse{
		DebitTransactionID:  result.DebitTransactionID.String(),
		CreditTransactionID: result.CreditTransactionID.String(),
		FromWalletID:        c.Param("id"),
		ToWalletID:          req.ToWalletID,
		Amount:              amount.String(),
		FromBalance:         result.FromBalance.String(),
		ToBalance:           result.ToBalance.String(),
	})
}

// GetBalance handles GET /api/v1/wallets/:id/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	balance, err := h.wallets.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		WalletID: c.Param("id"),
		Balance:  balance.String(),
	})
}

// ListTransactions handles GET /api/v1/wallets/:id/transactions with an
// optional ?type=credit|debit filter.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	var txType *domain.TransactionType
	if raw := c.Query("type"); raw != "" {
		t := domain.TransactionType(raw)
		txType = &t
	}

	transactions, err := h.wallets.ListTransactions(c.Request.Context(), c.Param("id"), txType)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionItem, 0, len(transactions))
	for _, tx := range transactions {
		items = append(items, dto.TransactionItem{
			ID:        tx.ID.String(),
			Type:      string(tx.Type),
			Amount:    tx.Amount.String(),
			CreatedAt: tx.CreatedAt.UTC().Format(timeLayout),
		})
	}
	response.OK(c, items)
}
