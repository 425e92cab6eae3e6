package service

import (
	"context"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// EnsureWalletHandler is the wallet-side consumer use case for
// users.created: every new user gets a wallet with the opening
// balance.
type EnsureWalletHandler struct {
	wallets ports.WalletService
	log     zerolog.Logger
}

// NewEnsureWalletHandler creates the handler.
func NewEnsureWalletHandler(wallets ports.WalletService, log zerolog.Logger) *EnsureWalletHandler {
	return &EnsureWalletHandler{wallets: wallets, log: log}
}

// Handle materializes the wallet for the announced user.
func (h *EnsureWalletHandler) Handle(ctx context.Context, event domain.Event) error {
	userCreated, ok := event.(domain.UserCreatedEvent)
	if !ok {
		return apperror.ErrSchemaValidation(fmt.Sprintf("unexpected event %s", event.EventName()))
	}
	if userCreated.UserID == "" {
		return apperror.ErrSchemaValidation("users.created event is missing userId")
	}

	if err := h.wallets.EnsureWallet(ctx, userCreated.UserID); err != nil {
		return err
	}
	h.log.Info().Str("wallet_id", userCreated.UserID).Msg("wallet ensured for new user")
	return nil
}

// WalletActivityHandler is the users-side consumer use case for
// wallet.transactions: it records each user's latest wallet
// transaction for quick lookup.
type WalletActivityHandler struct {
	recorder ports.WalletEventRecorder
	log      zerolog.Logger
}

// NewWalletActivityHandler creates the handler.
func NewWalletActivityHandler(recorder ports.WalletEventRecorder, log zerolog.Logger) *WalletActivityHandler {
	return &WalletActivityHandler{recorder: recorder, log: log}
}

// Handle stores the latest transaction pointer. The wallet id doubles
// as the user id.
func (h *WalletActivityHandler) Handle(ctx context.Context, event domain.Event) error {
	txCreated, ok := event.(domain.WalletTransactionCreatedEvent)
	if !ok {
		return apperror.ErrSchemaValidation(fmt.Sprintf("unexpected event %s", event.EventName()))
	}
	if txCreated.WalletID == "" || txCreated.TransactionID == "" {
		return apperror.ErrSchemaValidation("wallet.transaction.created event is missing required fields")
	}

	if err := h.recorder.RecordLatestTransaction(ctx, txCreated.WalletID, txCreated.TransactionID, txCreated.OccurredAt); err != nil {
		return err
	}
	h.log.Info().Str("user_id", txCreated.WalletID).Str("transaction_id", txCreated.TransactionID).Msg("latest wallet activity recorded")
	return nil
}
