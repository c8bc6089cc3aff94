package service

import "errors"

// Authentication failures. These are terminal: callers answer 401 and never
// retry. Anything else coming out of the token service is an infrastructure
// failure and maps to 503.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user inactive")
)

// Registration conflicts. Not auth errors: callers answer 409.
var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// IsAuthError reports whether err is an expected authentication rejection as
// opposed to an infrastructure failure.
func IsAuthError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserInactive):
		return true
	}
	return false
}
