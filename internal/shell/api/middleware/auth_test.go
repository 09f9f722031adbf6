package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthStoresPrincipalFromHeader(t *testing.T) {
	var gotOK bool
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotOK = PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(PrincipalHeader, "alice")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, gotOK, "expected a principal to be stored in the request context")
}

func TestRequireAuthRejectsMissingPrincipal(t *testing.T) {
	handler := RequireAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Fail(t, "handler should not run without a principal")
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthAllowsPresentPrincipal(t *testing.T) {
	ran := false
	handler := Auth(RequireAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(PrincipalHeader, "alice")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, ran, "handler should have run with a principal present")
}
