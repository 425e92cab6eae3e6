package handler

import (
	"net/http"
	"time"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const timeLayout = time.RFC3339

// UserHandler handles user registration, authentication and CRUD.
type UserHandler struct {
	users    ports.UserService
	activity ports.WalletEventRecorder
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users ports.UserService, activity ports.WalletEventRecorder) *UserHandler {
	return &UserHandler{users: users, activity: activity}
}

// Register handles POST /api/v1/users.
func (h *UserHandler) Register(c *gin.Context) {
	var req dto.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}

	user, err := h.users.Register(c.Request.Context(), ports.RegisterUserRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toUserResponse(user))
}

// Login handles POST /api/v1/auth/login.
func (h *UserHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}

	token, expiresAt, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

// Get handles GET /api/v1/users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toUserResponse(user))
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, toUserResponse(&users[i]))
	}
	response.OK(c, items)
}

// Update handles PUT /api/v1/users/:id.
func (h *UserHandler) Update(c *gin.Context) {
	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidInput(err.Error()))
		return
	}

	user, err := h.users.Update(c.Request.Context(), ports.UpdateUserRequest{
		ID:        c.Param("id"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toUserResponse(user))
}

// Delete handles DELETE /api/v1/users/:id.
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// LatestActivity handles GET /api/v1/users/:id/latest-transaction. The
// record is best-effort consumer output; a user with no recorded
// activity gets empty fields, not 404.
func (h *UserHandler) LatestActivity(c *gin.Context) {
	txID, occurredAt, err := h.activity.LatestTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.LatestActivityResponse{
		TransactionID: txID,
		OccurredAt:    occurredAt,
	})
}

func toUserResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.UTC().Format(timeLayout),
	}
}

// HealthCheck handles GET /health and verifies every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Check(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
