package crawler

import "errors"

var (
	// ErrNotFound marks a package or artifact the registry legitimately does
	// not have. It is a terminal outcome, not a failure.
	ErrNotFound = errors.New("not found")
	// ErrMalformed marks an archive or document that could not be parsed.
	// Jobs hitting it fail without retry.
	ErrMalformed = errors.New("malformed")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
