package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/money"

	"github.com/google/uuid"
)

// --- In-memory ledger store ---

// inMemoryLedgerStore mirrors the postgres store's observable behavior
// (opening balance, idempotent replay with re-validation, floor check,
// atomic transfers, saga rows) behind one mutex.
type inMemoryLedgerStore struct {
	mu           sync.Mutex
	balances     map[string]money.Money
	transactions []domain.Transaction
	byKey        map[string]map[string]int // walletID -> idempotencyKey -> index
	sagas        map[uuid.UUID]*domain.Saga
	sagaByKey    map[string]uuid.UUID
}

func newInMemoryLedgerStore() *inMemoryLedgerStore {
	return &inMemoryLedgerStore{
		balances:  make(map[string]money.Money),
		byKey:     make(map[string]map[string]int),
		sagas:     make(map[uuid.UUID]*domain.Saga),
		sagaByKey: make(map[string]uuid.UUID),
	}
}

var _ ports.LedgerStore = (*inMemoryLedgerStore)(nil)

func (s *inMemoryLedgerStore) ensureLocked(walletID string) {
	if _, ok := s.balances[walletID]; !ok {
		s.balances[walletID] = domain.OpeningBalance
	}
}

func (s *inMemoryLedgerStore) EnsureWallet(_ context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(walletID)
	return nil
}

func (s *inMemoryLedgerStore) GetBalance(_ context.Context, walletID string) (money.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[walletID]; ok {
		return balance, nil
	}
	return domain.OpeningBalance, nil
}

func (s *inMemoryLedgerStore) findLegLocked(walletID, key string) (domain.Transaction, bool) {
	if idx, ok := s.byKey[walletID][key]; ok {
		return s.transactions[idx], true
	}
	return domain.Transaction{}, false
}

func (s *inMemoryLedgerStore) insertLegLocked(walletID string, txType domain.TransactionType, amount money.Money, key string) domain.Transaction {
	leg := domain.Transaction{
		ID:             uuid.New(),
		WalletID:       walletID,
		Type:           txType,
		Amount:         amount,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if s.byKey[walletID] == nil {
		s.byKey[walletID] = make(map[string]int)
	}
	s.byKey[walletID][key] = len(s.transactions)
	s.transactions = append(s.transactions, leg)
	return leg
}

func applyAmount(balance money.Money, txType domain.TransactionType, amount money.Money) money.Money {
	if txType == domain.TransactionTypeCredit {
		return balance.Add(amount)
	}
	return balance.Sub(amount)
}

func (s *inMemoryLedgerStore) ApplyTransaction(_ context.Context, in ports.ApplyTransactionInput) (*ports.ApplyTransactionResult, error) {
	if !in.Amount.IsPositive() || !in.Type.Valid() {
		return nil, apperror.ErrInvalidInput("")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(in.WalletID)

	if leg, ok := s.findLegLocked(in.WalletID, in.IdempotencyKey); ok {
		if leg.Type != in.Type || leg.Amount.Compare(in.Amount) != 0 {
			return nil, apperror.ErrConflict()
		}
		return &ports.ApplyTransactionResult{
			TransactionID: leg.ID,
			CreatedAt:     leg.CreatedAt,
			Balance:       s.balances[in.WalletID],
		}, nil
	}

	next := applyAmount(s.balances[in.WalletID], in.Type, in.Amount)
	if next.IsNegative() {
		return nil, apperror.ErrInsufficientFunds()
	}

	leg := s.insertLegLocked(in.WalletID, in.Type, in.Amount, in.IdempotencyKey)
	s.balances[in.WalletID] = next
	return &ports.ApplyTransactionResult{
		TransactionID: leg.ID,
		CreatedAt:     leg.CreatedAt,
		Balance:       next,
	}, nil
}

func (s *inMemoryLedgerStore) Transfer(_ context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidInput("")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(in.FromWalletID)
	s.ensureLocked(in.ToWalletID)

	if debit, ok := s.findLegLocked(in.FromWalletID, in.IdempotencyKey); ok {
		if debit.Type != domain.TransactionTypeDebit || debit.Amount.Compare(in.Amount) != 0 {
			return nil, apperror.ErrConflict()
		}
		credit, ok := s.findLegLocked(in.ToWalletID, in.IdempotencyKey)
		if !ok {
			credit = s.insertLegLocked(in.ToWalletID, domain.TransactionTypeCredit, in.Amount, in.IdempotencyKey)
			s.balances[in.ToWalletID] = s.balances[in.ToWalletID].Add(in.Amount)
		}
		return &ports.TransferResult{
			DebitTransactionID:  debit.ID,
			CreditTransactionID: credit.ID,
			FromBalance:         s.balances[in.FromWalletID],
			ToBalance:           s.balances[in.ToWalletID],
		}, nil
	}

	next := s.balances[in.FromWalletID].Sub(in.Amount)
	if next.IsNegative() {
		return nil, apperror.ErrInsufficientFunds()
	}

	debit := s.insertLegLocked(in.FromWalletID, domain.TransactionTypeDebit, in.Amount, in.IdempotencyKey)
	credit := s.insertLegLocked(in.ToWalletID, domain.TransactionTypeCredit, in.Amount, in.IdempotencyKey)
	s.balances[in.FromWalletID] = next
	s.balances[in.ToWalletID] = s.balances[in.ToWalletID].Add(in.Amount)
	return &ports.TransferResult{
		DebitTransactionID:  debit.ID,
		CreditTransactionID: credit.ID,
		FromBalance:         s.balances[in.FromWalletID],
		ToBalance:           s.balances[in.ToWalletID],
	}, nil
}

func (s *inMemoryLedgerStore) ListTransactions(_ context.Context, walletID string, txType *domain.TransactionType) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.WalletID != walletID {
			continue
		}
		if txType != nil && tx.Type != *txType {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *inMemoryLedgerStore) FindTransactionByIdempotencyKey(_ context.Context, walletID, key string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leg, ok := s.findLegLocked(walletID, key); ok {
		return &leg, nil
	}
	return nil, nil
}

func (s *inMemoryLedgerStore) CreateSaga(_ context.Context, saga *domain.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// wallet_sagas.wallet_id is a foreign key; the orchestrator has to
	// ensure the wallet before inserting the saga.
	if _, ok := s.balances[saga.WalletID]; !ok {
		return fmt.Errorf("create saga: wallet %q does not exist", saga.WalletID)
	}
	if _, ok := s.sagaByKey[saga.IdempotencyKey]; ok {
		return nil
	}
	clone := *saga
	clone.CreatedAt = time.Now().UTC()
	clone.UpdatedAt = clone.CreatedAt
	s.sagas[clone.ID] = &clone
	s.sagaByKey[clone.IdempotencyKey] = clone.ID
	return nil
}

func (s *inMemoryLedgerStore) FindSagaByIdempotencyKey(_ context.Context, key string) (*domain.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sagaByKey[key]
	if !ok {
		return nil, nil
	}
	clone := *s.sagas[id]
	return &clone, nil
}

func (s *inMemoryLedgerStore) UpdateSaga(_ context.Context, in ports.UpdateSagaInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saga, ok := s.sagas[in.ID]
	if !ok {
		return apperror.ErrNotFound("saga")
	}
	saga.Status = in.Status
	saga.Step = in.Step
	if in.TransactionID != nil {
		saga.TransactionID = in.TransactionID
	}
	saga.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryLedgerStore) CompensateTransaction(_ context.Context, in ports.CompensateInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(in.WalletID)
	if _, ok := s.findLegLocked(in.WalletID, in.IdempotencyKey); ok {
		return nil
	}
	next := applyAmount(s.balances[in.WalletID], in.Type, in.Amount)
	if next.IsNegative() {
		return apperror.ErrInsufficientFunds()
	}
	s.insertLegLocked(in.WalletID, in.Type, in.Amount, in.IdempotencyKey)
	s.balances[in.WalletID] = next
	return nil
}

func (s *inMemoryLedgerStore) ListStalePendingSagas(_ context.Context, cutoff time.Time) ([]domain.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Saga
	for _, saga := range s.sagas {
		if saga.Status == domain.SagaStatusPending && saga.UpdatedAt.Before(cutoff) {
			out = append(out, *saga)
		}
	}
	return out, nil
}

// sagaByKeyForTest returns a copy of the saga stored under key.
func (s *inMemoryLedgerStore) sagaByKeyForTest(key string) *domain.Saga {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sagaByKey[key]; ok {
		clone := *s.sagas[id]
		return &clone
	}
	return nil
}

// backdateSaga rewinds a saga's updated_at so sweep tests can age it.
func (s *inMemoryLedgerStore) backdateSaga(key string, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sagaByKey[key]; ok {
		s.sagas[id].UpdatedAt = time.Now().Add(-age)
	}
}

// --- In-memory user repository ---

type inMemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{users: make(map[string]*domain.User)}
}

var _ ports.UserRepository = (*inMemoryUserRepo)(nil)

func (r *inMemoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return apperror.ErrEmailExists()
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *inMemoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, apperror.ErrNotFound("user")
}

func (r *inMemoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, apperror.ErrNotFound("user")
}

func (r *inMemoryUserRepo) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, *user)
	}
	return out, nil
}

func (r *inMemoryUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return apperror.ErrNotFound("user")
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *inMemoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return apperror.ErrNotFound("user")
	}
	delete(r.users, id)
	return nil
}

// --- Recording publisher ---

// recordingPublisher captures published events and can be told to fail.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

var _ ports.EventPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	return p.PublishMany(ctx, []domain.Event{event})
}

func (p *recordingPublisher) PublishMany(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		// Mirror the real publisher's contract: transport failures are
		// surfaced as CodeEventPublish app errors.
		return apperror.ErrEventPublish(p.err)
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}
