package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCORS(t *testing.T, cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := CORS(cfg)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec := runCORS(t, CORSConfig{
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Content-Type"},
	}, http.MethodGet, "https://app.example.com")

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, PUT", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSSkipsUnlistedOrigin(t *testing.T) {
	rec := runCORS(t, CORSConfig{
		AllowOrigins: []string{"https://app.example.com"},
	}, http.MethodGet, "https://evil.example.com")

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := runCORS(t, CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}, http.MethodOptions, "https://app.example.com")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardWithoutOriginHeader(t *testing.T) {
	rec := runCORS(t, CORSConfig{AllowOrigins: []string{"*"}}, http.MethodGet, "")

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
