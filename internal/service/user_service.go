package service

import (
	"context"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const minPasswordLength = 8

// UserServiceImpl implements ports.UserService. Registration announces
// the new user on the broker; the wallet side listens and materializes
// the wallet.
type UserServiceImpl struct {
	users     ports.UserRepository
	hasher    ports.PasswordHasher
	tokens    ports.TokenService
	publisher ports.EventPublisher
	log       zerolog.Logger
}

// NewUserService creates a new UserServiceImpl.
func NewUserService(users ports.UserRepository, hasher ports.PasswordHasher, tokens ports.TokenService, publisher ports.EventPublisher, log zerolog.Logger) *UserServiceImpl {
	return &UserServiceImpl{users: users, hasher: hasher, tokens: tokens, publisher: publisher, log: log}
}

// Register creates the user and publishes users.created. The user row
// commits before the publish; a publish failure surfaces to the caller
// but does not roll the registration back.
func (s *UserServiceImpl) Register(ctx context.Context, req ports.RegisterUserRequest) (*domain.User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	event := domain.UserCreatedEvent{
		EventID:    uuid.NewString(),
		OccurredAt: user.CreatedAt.Format(eventTimeLayout),
		UserID:     user.ID,
		Name:       user.FirstName + " " + user.LastName,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("users.created publish failed")
		return nil, err
	}

	return user, nil
}

// Authenticate verifies credentials and issues a JWT. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *UserServiceImpl) Authenticate(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperror.HasCode(err, apperror.CodeNotFound) {
			return "", time.Time{}, apperror.ErrUnauthorized()
		}
		return "", time.Time{}, err
	}

	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !match {
		return "", time.Time{}, apperror.ErrUnauthorized()
	}

	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(err)
	}
	return token, expiresAt, nil
}

func (s *UserServiceImpl) Get(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, apperror.ErrInvalidInput("user id is required")
	}
	return s.users.GetByID(ctx, id)
}

func (s *UserServiceImpl) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

// Update replaces the mutable profile fields.
func (s *UserServiceImpl) Update(ctx context.Context, req ports.UpdateUserRequest) (*domain.User, error) {
	if req.ID == "" {
		return nil, apperror.ErrInvalidInput("user id is required")
	}

	user, err := s.users.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(req.FirstName); v != "" {
		user.FirstName = v
	}
	if v := strings.TrimSpace(req.LastName); v != "" {
		user.LastName = v
	}
	if v := normalizeEmail(req.Email); v != "" {
		if !strings.Contains(v, "@") {
			return nil, apperror.ErrInvalidInput("email is invalid")
		}
		user.Email = v
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserServiceImpl) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperror.ErrInvalidInput("user id is required")
	}
	return s.users.Delete(ctx, id)
}

func validateRegistration(req ports.RegisterUserRequest) error {
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return apperror.ErrInvalidInput("first and last name are required")
	}
	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apperror.ErrInvalidInput("email is invalid")
	}
	if len(req.Password) < minPasswordLength {
		return apperror.ErrInvalidInput("password must be at least 8 characters")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
