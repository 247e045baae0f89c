package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorization_Roles(t *testing.T) {
	auth := &Authorization{Identity: "alice", Roles: []string{"admin", "editor"}}
	assert.True(t, auth.HasRole("admin"))
	assert.False(t, auth.HasRole("viewer"))
	assert.True(t, auth.HasAnyRole([]string{"viewer", "editor"}))
	assert.False(t, auth.HasAnyRole(nil))
	assert.True(t, auth.IsAuthenticated())

	// a nil authorization has no roles
	auth = nil
	assert.False(t, auth.HasRole("admin"))
	assert.False(t, auth.HasAnyRole([]string{"admin"}))
	assert.False(t, auth.IsAuthenticated())
}

func TestAuthorization_Context(t *testing.T) {
	assert.Nil(t, AuthorizationFromContext(context.Background()))
	auth := &Authorization{Identity: "bob"}
	ctx := ContextWithAuthorization(context.Background(), auth)
	assert.Same(t, auth, AuthorizationFromContext(ctx))
}

func newTestRouter(mw ...mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	for _, m := range mw {
		router.Use(m)
	}
	HandleAuthorizationRoute(router)
	return router
}

func get(router *mux.Router, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func TestJwtMiddleware(t *testing.T) {
	jmb := &JwtMiddlewareBuilder{Secret: []byte("secret"), Issuer: "restifier"}
	router := newTestRouter(NewJwtMiddleware(jmb))

	// anonymous
	rec := get(router, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	token, err := jmb.NewToken("alice", []string{"admin"})
	require.NoError(t, err)
	rec = get(router, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var auth Authorization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.Equal(t, "alice", auth.Identity)
	assert.Equal(t, []string{"admin"}, auth.Roles)

	// cookie instead of header
	r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	testCases := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not-a-token" }},
		{"wrong secret", func() string {
			other := &JwtMiddlewareBuilder{Secret: []byte("other"), Issuer: "restifier"}
			s, _ := other.NewToken("alice", nil)
			return s
		}},
		{"wrong issuer", func() string {
			other := &JwtMiddlewareBuilder{Secret: []byte("secret"), Issuer: "someone"}
			s, _ := other.NewToken("alice", nil)
			return s
		}},
		{"expired", func() string {
			s, _ := jmb.NewToken("alice", nil, func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			})
			return s
		}},
		{"no subject", func() string {
			s, _ := jmb.NewToken("", nil)
			return s
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(router, tc.token())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestBackdoorMiddleware(t *testing.T) {
	jmb := &JwtMiddlewareBuilder{Secret: []byte("secret")}
	router := newTestRouter(
		NewBackdoorMiddleware(map[string]Authorization{
			"please": {Identity: "ops", Roles: []string{"admin"}},
		}),
		NewJwtMiddleware(jmb),
	)

	rec := get(router, "please")
	require.Equal(t, http.StatusOK, rec.Code)
	var auth Authorization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.Equal(t, "ops", auth.Identity)

	// unknown tokens fall through to the jwt middleware
	rec = get(router, "pretty-please")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
