package access

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/restifier/core/logger"
)

// NewBackdoorMiddleware returns a middleware handler for static bearer tokens
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Identity: "ops", Roles: []string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized as "ops" with the admin role.
//
// Unknown tokens pass through untouched, so the backdoor can be chained in
// front of the jwt middleware.
func NewBackdoorMiddleware(backdoors map[string]Authorization) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			tryAuth, ok := backdoors[tokenString]
			if len(tokenString) == 0 || !ok {
				h.ServeHTTP(w, r)
				return
			}
			auth := tryAuth
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.Identity)
			ctx = ContextWithAuthorization(ctx, &auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
