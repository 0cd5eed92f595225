package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	var resp Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/test", handler)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSuccess(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Success(c, gin.H{"key": "value"})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "value", data["key"])
}

func TestCreated(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Created(c, gin.H{"id": "x"})
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, CodeSuccess, parseResponse(t, w).Code)
}

func TestSuccessPage(t *testing.T) {
	w := serve(func(c *gin.Context) {
		SuccessPage(c, 42, 2, 10, []string{"a", "b"})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Len(t, data["items"], 2)
}

func TestError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		status int
	}{
		{"param", CodeParamError, http.StatusBadRequest},
		{"auth", CodeAuthFailed, http.StatusUnauthorized},
		{"permission", CodePermissionDenied, http.StatusForbidden},
		{"not found", CodeResourceNotFound, http.StatusNotFound},
		{"conflict", CodeConflict, http.StatusConflict},
		{"too large", CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{"unsupported", CodeUnsupportedType, http.StatusUnsupportedMediaType},
		{"mismatch", CodeContentMismatch, http.StatusBadRequest},
		{"rate limited", CodeTooManyRequests, http.StatusTooManyRequests},
		{"server", CodeServerError, http.StatusInternalServerError},
		{"unknown", 4242, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(func(c *gin.Context) {
				Error(c, tt.code, "")
			})
			assert.Equal(t, tt.status, w.Code)
			resp := parseResponse(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestError_DefaultAndCustomMessage(t *testing.T) {
	w := serve(func(c *gin.Context) {
		NotFoundError(c, "")
	})
	assert.Equal(t, "resource not found", parseResponse(t, w).Message)

	w = serve(func(c *gin.Context) {
		NotFoundError(c, "document not found")
	})
	assert.Equal(t, "document not found", parseResponse(t, w).Message)
}

func TestAuthError_SetsChallenge(t *testing.T) {
	w := serve(func(c *gin.Context) {
		AuthError(c, "")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAbort_StopsChain(t *testing.T) {
	router := gin.New()
	called := false
	router.GET("/test", func(c *gin.Context) {
		Abort(c, CodePermissionDenied, "")
	}, func(c *gin.Context) {
		called = true
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}
