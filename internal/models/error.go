package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Pool state errors
	ErrNoCookieAvailable = errors.New("no cookie available")
	ErrAccountBanned     = errors.New("account is banned")
	ErrInvalidCookie     = errors.New("invalid cookie data")

	// Upstream errors
	ErrKeyUnavailable = errors.New("decryption key unavailable")
)
