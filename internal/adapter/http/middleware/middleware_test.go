package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWTAuth_Valid(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate("good-token").Return(&ports.TokenClaims{UserID: "user-1"}, nil)

	r := gin.New()
	r.Use(JWTAuth(tokens, zerolog.Nop()))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
}

func TestJWTAuth_Rejections(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate("bad-token").Return(nil, assert.AnError).AnyTimes()

	r := gin.New()
	r.Use(JWTAuth(tokens, zerolog.Nop()))
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	for name, header := range map[string]string{
		"missing header": "",
		"no bearer":      "Basic abc",
		"empty token":    "Bearer ",
		"invalid token":  "Bearer bad-token",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestRequireIdempotencyKey(t *testing.T) {
	r := gin.New()
	r.Use(RequireIdempotencyKey())
	r.POST("/tx", func(c *gin.Context) {
		c.String(http.StatusOK, IdempotencyKey(c))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tx", nil)
	req.Header.Set(HeaderIdempotencyKey, "  key-1  ")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "key-1", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/tx", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_REQUIRED")
}

func TestMaxBodySize(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodySize(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte(`{"a":1}`)))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zerolog.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
