package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	Role    Role
	Subject string
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom extracts the caller identity from ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// ActorFrom names the caller for audit records: the subject when known,
// otherwise the role.
func ActorFrom(ctx context.Context) string {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return ""
	}
	if id.Subject != "" {
		return id.Subject
	}
	return string(id.Role)
}

// Require returns ErrUnauthorized when ctx carries no identity and
// ErrForbidden when the identity's role is below required.
func Require(ctx context.Context, required Role) error {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return ErrUnauthorized
	}
	if !RoleAtLeast(id.Role, required) {
		return ErrForbidden
	}
	return nil
}

// HTTPContextFunc copies the identity the middleware attached to the request
// into a derived context. It matches mcp-go's HTTPContextFunc.
func HTTPContextFunc(ctx context.Context, r *http.Request) context.Context {
	if id, ok := IdentityFrom(r.Context()); ok {
		return WithIdentity(ctx, id)
	}
	return ctx
}
