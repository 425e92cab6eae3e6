package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type userServiceDeps struct {
	ctrl      *gomock.Controller
	users     *mocks.MockUserRepository
	hasher    *mocks.MockPasswordHasher
	tokens    *mocks.MockTokenService
	publisher *mocks.MockEventPublisher
	svc       *UserServiceImpl
}

func setupUserService(t *testing.T) *userServiceDeps {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	hasher := mocks.NewMockPasswordHasher(ctrl)
	tokens := mocks.NewMockTokenService(ctrl)
	publisher := mocks.NewMockEventPublisher(ctrl)
	svc := NewUserService(users, hasher, tokens, publisher, zerolog.Nop())
	return &userServiceDeps{ctrl: ctrl, users: users, hasher: hasher, tokens: tokens, publisher: publisher, svc: svc}
}

func registerRequest() ports.RegisterUserRequest {
	return ports.RegisterUserRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email: "  Ada@Example.com ",
		Password:  "correct-horse",
	}
}

func TestRegister_Success(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	d.hasher.EXPECT().Hash("correct-horse").Return("$argon2id$hash", nil)
	d.users.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, user *domain.User) error {
			assert.Equal(t, "Ada", user.FirstName)
			assert.Equal(t, "ada@example.com", user.Email)
			assert.Equal(t, "$argon2id$hash", user.PasswordHash)
			return nil
		})
	d.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event domain.Event) error {
			created, ok := event.(domain.UserCreatedEvent)
			require.True(t, ok)
			assert.Equal(t, "Ada Lovelace", created.Name)
			assert.Equal(t, "ada@example.com", created.Email)
			assert.NotEmpty(t, created.UserID)
			return nil
		})

	user, err := d.svc.Register(context.Background(), registerRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
}

func TestRegister_ValidationFailures(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	cases := map[string]ports.RegisterUserRequest{
		"missing name":   {LastName: "Lovelace", Email: "ada@example.com", Password: "correct-horse"},
		"bad email":      {FirstName: "Ada", LastName: "Lovelace", Email: "not-an-email", Password: "correct-horse"},
		"short password": {FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "short"},
	}
	for name, req := range cases {
		_, err := d.svc.Register(context.Background(), req)
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInput), name)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	d.hasher.EXPECT().Hash(gomock.Any()).Return("$argon2id$hash", nil)
	d.users.EXPECT().Create(gomock.Any(), gomock.Any()).Return(apperror.ErrEmailExists())

	_, err := d.svc.Register(context.Background(), registerRequest())
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestRegister_PublishFailureSurfaces(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	pubErr := apperror.ErrEventPublish(errors.New("broker down"))
	d.hasher.EXPECT().Hash(gomock.Any()).Return("$argon2id$hash", nil)
	d.users.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(pubErr)

	_, err := d.svc.Register(context.Background(), registerRequest())
	assert.Equal(t, pubErr, err)
}

func TestAuthenticate_Success(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	userID := uuid.NewString()
	expiry := time.Now().Add(time.Hour)
	d.users.EXPECT().GetByEmail(gomock.Any(), "ada@example.com").Return(&domain.User{
		ID:           userID,
		Email:        "ada@example.com",
		PasswordHash: "$argon2id$hash",
	}, nil)
	d.hasher.EXPECT().Verify("correct-horse", "$argon2id$hash").Return(true, nil)
	d.tokens.EXPECT().Generate(userID).Return("jwt-token", expiry, nil)

	token, expiresAt, err := d.svc.Authenticate(context.Background(), "Ada@Example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, expiresAt)
}

func TestAuthenticate_UnknownEmail(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	d.users.EXPECT().GetByEmail(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrNotFound("user"))

	_, _, err := d.svc.Authenticate(context.Background(), "nobody@example.com", "whatever")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	d.users.EXPECT().GetByEmail(gomock.Any(), gomock.Any()).Return(&domain.User{
		ID:           uuid.NewString(),
		PasswordHash: "$argon2id$hash",
	}, nil)
	d.hasher.EXPECT().Verify("wrong", "$argon2id$hash").Return(false, nil)

	_, _, err := d.svc.Authenticate(context.Background(), "ada@example.com", "wrong")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))
}

func TestUpdate_PartialFields(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	userID := uuid.NewString()
	d.users.EXPECT().GetByID(gomock.Any(), userID).Return(&domain.User{
		ID:        userID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
	}, nil)
	d.users.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, user *domain.User) error {
			assert.Equal(t, "Augusta", user.FirstName)
			assert.Equal(t, "Lovelace", user.LastName)
			assert.Equal(t, "ada@example.com", user.Email)
			return nil
		})

	user, err := d.svc.Update(context.Background(), ports.UpdateUserRequest{ID: userID, FirstName: "Augusta"})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", user.FirstName)
}

func TestUpdate_RejectsInvalidEmail(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	userID := uuid.NewString()
	d.users.EXPECT().GetByID(gomock.Any(), userID).Return(&domain.User{ID: userID}, nil)

	_, err := d.svc.Update(context.Background(), ports.UpdateUserRequest{ID: userID, Email: "not-an-email"})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInput))
}

func TestDelete_RequiresID(t *testing.T) {
	d := setupUserService(t)
	defer d.ctrl.Finish()

	err := d.svc.Delete(context.Background(), "")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidInput))
}
