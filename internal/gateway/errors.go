package gateway

import "errors"

// Sentinel errors for gateway operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("pairing token mismatch")
)
