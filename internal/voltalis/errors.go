package voltalis

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the login route rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrNoToken is returned when an authenticated route is called without a valid token.
	ErrNoToken = errors.New("no authentication token available, login first")

	// ErrMalformedResponse is returned when a payload does not have the expected shape.
	ErrMalformedResponse = errors.New("voltalis: malformed response")

	// ErrUnknownProgram is returned when a program cannot be toggled through any known route.
	ErrUnknownProgram = errors.New("voltalis: unsupported program type")
)

// AuthError signals that the session must be (re-)established by a new login.
type AuthError struct {
	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("voltalis: authentication failed: %v", e.Err)
}

// Unwrap returns the underlying reason.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError returns true if err requires a new login.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
