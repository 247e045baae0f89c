/*
Package access provides the authorization boundary of the backend

An Authorization carries the identity of the caller and the roles granted to
it. Middlewares attach it to the request context after verifying a bearer
token, handlers retrieve it with AuthorizationFromContext.
*/
package access

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/restifier/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

/*
Authorization is a context object which stores authorization information
for the caller of a request.

Authorizations are added to a request context with

	ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := access.AuthorizationFromContext(ctx)

The identity is used for ownership scoping of collections with a user space,
the roles decide whether the caller may bypass that scoping.
*/
type Authorization struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the authorization contains at least one of the passed roles
func (a *Authorization) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAuthenticated returns true if the authorization carries an identity
func (a *Authorization) IsAuthenticated() bool {
	return a != nil && len(a.Identity) > 0
}

// ContextWithAuthorization returns a new context with the authorization added to it
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for provided bearer token,
// or 204 No Content for anonymous callers.
func HandleAuthorizationRoute(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("authorization")
	nillog.Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
