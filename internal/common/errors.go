// Package common defines shared constants and sentinel errors used across
// the synchronization layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Lookup errors.
	ErrNotFound     = errors.New("not found")
	ErrMalformedGID = errors.New("malformed gid")

	// Request validation.
	ErrValidation = errors.New("validation error")

	// Auth errors. ErrNotConnected means the credential was valid but no
	// bidirectional connection exists for the caller's origin.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotConnected = errors.New("not connected")

	// Peer transport errors.
	ErrUnreachable = errors.New("peer unreachable")

	// Generic internal flow control.
	ErrInternal = errors.New("internal error")
)
