package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/restifier/core/logger"
)

// CookieName is the name of the cookie which can carry the bearer token instead
// of the Authorization header
const CookieName = "Restifier-JWT"

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC key the tokens are signed with
	Secret []byte
	// Issuer, if set, must match the iss claim of the token
	Issuer string
}

// Claims are the claims the middleware understands. The subject becomes the identity
// of the caller.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware which verifies HS256 bearer tokens and
// attaches an Authorization to the request context.
//
// Requests without a token pass through anonymously, requests with an invalid
// token are rejected with 401.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			rlog := logger.FromContext(r.Context())
			claims := Claims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				rlog.WithError(err).Infoln("rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(jmb.Issuer) > 0 && claims.Issuer != jmb.Issuer {
				rlog.Infof("rejected bearer token from issuer '%s'", claims.Issuer)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(claims.Subject) == 0 {
				http.Error(w, "token has no subject", http.StatusUnauthorized)
				return
			}

			auth := &Authorization{
				Identity: claims.Subject,
				Roles:    claims.Roles,
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.Identity)
			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewToken creates a signed HS256 token for identity and roles. It is used by tooling and tests.
func (jmb *JwtMiddlewareBuilder) NewToken(identity string, roles []string, options ...func(*Claims)) (string, error) {
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: identity,
			Issuer:  jmb.Issuer,
		},
	}
	for _, option := range options {
		option(&claims)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jmb.Secret)
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
			return bearer[7:]
		}
		return bearer
	}
	if cookie, _ := r.Cookie(CookieName); cookie != nil {
		return cookie.Value
	}
	return ""
}
