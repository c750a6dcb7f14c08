package auth

import "errors"

// Missing, malformed and unknown keys all surface as unauthenticated so a
// caller cannot tell which keys exist. A revoked key is permission denied.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownSecret    = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")

	// ErrKeyNotFound is returned by a KeyStore when no key matches.
	ErrKeyNotFound = errors.New("API key not found")

	// ErrKeyStoreUnavailable wraps KeyStore failures other than a miss.
	ErrKeyStoreUnavailable = errors.New("API key store unavailable")
)
