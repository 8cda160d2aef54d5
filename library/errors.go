package library

import "github.com/pkg/errors"

// Error taxonomy. Every business failure wraps one of these sentinels so
// callers can branch with errors.Is and the HTTP layer can map them to
// status codes without string matching.
var (
	// ErrNotFound: a referenced user, book or borrowing does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: stock exhausted, duplicate IDs or emails, or an invalid
	// state transition.
	ErrConflict = errors.New("conflict")

	// ErrAuthorization: the actor does not own the resource and is not an
	// admin.
	ErrAuthorization = errors.New("not permitted")

	// ErrInvalidToken: unknown or expired password-reset token.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidCredentials: failed login (wrong password, unknown user, or
	// deactivated account). Deliberately indistinct.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
