package handler

import (
	"net/http"

	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	UserSvc        ports.UserService
	TokenSvc       ports.TokenService
	Activity       ports.WalletEventRecorder
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Collector // nil = metrics endpoint disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL + Redis + MongoDB)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Metrics.Snapshot())
		})
	}

	v1 := r.Group("/api/v1")

	userHandler := NewUserHandler(deps.UserSvc, deps.Activity)
	walletHandler := NewWalletHandler(deps.WalletSvc)

	// --- Public routes (no auth) ---
	v1.POST("/users", userHandler.Register)
	v1.POST("/auth/login", userHandler.Login)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	users := v1.Group("/users", jwtAuth)
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
		users.GET("/:id/latest-transaction", userHandler.LatestActivity)
	}

	// Balance-changing routes additionally require the Idempotency-Key
	// header.
	idempotent := middleware.RequireIdempotencyKey()

	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.GET("/:id/balance", walletHandler.GetBalance)
		wallets.GET("/:id/transactions", walletHandler.ListTransactions)
		wallets.POST("/:id/transactions", idempotent, walletHandler.CreateTransaction)
		wallets.POST("/:id/deposits", idempotent, walletHandler.Deposit)
		wallets.POST("/:id/transfers", idempotent, walletHandler.Transfer)
	}

	return r
}
