package auth

import "errors"

// InsufficientRights is the client-facing message for ErrForbidden.
const InsufficientRights = "Insufficient rights"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
)
