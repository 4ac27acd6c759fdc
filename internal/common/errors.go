// Package common contains shared sentinel errors and small helpers used
// across lastvault components. Callers should use errors.Is to match the
// error values.
package common

import "errors"

var (
	// Input validation errors. Never retried, always surfaced.
	ErrInvalidInput = errors.New("invalid input")

	// Crypto errors. Fatal for the affected field or blob.
	ErrDecryption = errors.New("decryption failed")

	// Blob parsing errors. Fatal for the whole parse.
	ErrBlobFormat = errors.New("malformed blob")

	// Auth errors, surfaced to the caller for re-prompt flows.
	ErrLoginFailed = errors.New("login failed")
	ErrOtpRequired = errors.New("one-time password required")

	// Session lifecycle errors.
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired")

	// Transport errors, retried with backoff where the component
	// contract allows it.
	ErrNetwork = errors.New("network error")

	// Agent errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotCached    = errors.New("key not cached")

	// Queue errors.
	ErrQueueLocked = errors.New("queue locked by another process")

	ErrNotFound = errors.New("not found")
)
