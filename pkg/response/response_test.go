package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wallet-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestOK(t *testing.T) {
	c, w := setupContext()
	c.Set("request_id", "req-123")

	OK(c, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.RequestID)
}

func TestError_AppError(t *testing.T) {
	c, w := setupContext()

	Error(c, apperror.ErrInsufficientFunds())

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeInsufficientFunds, resp.ErrorCode)
	assert.Equal(t, "Insufficient funds", resp.Message)
}

func TestError_UnknownErrorDoesNotLeak(t *testing.T) {
	c, w := setupContext()

	Error(c, errors.New("pq: secret table missing"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeInternal, resp.ErrorCode)
	assert.NotContains(t, resp.Message, "secret")
}
