package client

import "errors"

var (
	// ErrUnavailable means the server could not be reached at the transport
	// level. The executor aborts the remaining queue on it.
	ErrUnavailable = errors.New("server unavailable")

	// ErrVersionConflict means the server rejected a push because another
	// replica updated the record first.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUsernameTaken means registration failed because the name exists.
	ErrUsernameTaken = errors.New("username taken")

	// ErrUnauthorized means the server rejected the request token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the requested record does not exist on the server.
	ErrNotFound = errors.New("not found")
)
