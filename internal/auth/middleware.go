// Package auth provides HTTP middleware for bearer token authentication and
// the role checks operations perform against the authenticated caller.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const staticSubject = "static-token"

// NewAuthMiddleware returns an HTTP middleware that authenticates bearer
// tokens and attaches the caller's Identity to the request context. Role
// checks happen later, in the operation, via Require.
//
// A request passes when its token equals the configured static token (which
// grants RoleAdmin) or is an HS256 JWT signed with secret whose role claim is
// valid. If both token and secret are empty, authentication is disabled and
// every caller is treated as admin.
//
// The header must have the exact form
//
//	Authorization: Bearer <token>
//
// The "Bearer" prefix is case-sensitive and must be followed by exactly one
// space. A missing header, wrong token, lowercase prefix, extra spaces or an
// empty token value results in 401 Unauthorized and the next handler is
// never called.
func NewAuthMiddleware(token string, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" && len(secret) == 0 {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{Role: RoleAdmin})))
				return
			}

			id, ok := authenticate(r.Header.Get("Authorization"), token, secret)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func authenticate(header, token string, secret []byte) (Identity, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Identity{}, false
	}
	provided := header[len(prefix):]
	if provided == "" {
		return Identity{}, false
	}

	if token != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
		return Identity{Role: RoleAdmin, Subject: staticSubject}, true
	}
	if len(secret) == 0 {
		return Identity{}, false
	}

	// ParseJWT rejects tokens whose role is not a known Role.
	claims, err := ParseJWT(provided, secret)
	if err != nil {
		return Identity{}, false
	}
	return Identity{Role: Role(claims.Role), Subject: claims.Subject}, true
}

// StatusFor maps an authorization error to its HTTP status code.
func StatusFor(err error) int {
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}
