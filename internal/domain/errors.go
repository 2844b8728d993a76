package domain

import "errors"

var (
	// ErrCompletionConfig marks completion failures caused by missing or
	// rejected credentials.
	ErrCompletionConfig = errors.New("completion service not configured")
	// ErrCompletionRateLimited marks completion failures caused by provider
	// throttling.
	ErrCompletionRateLimited = errors.New("completion service rate limited")
	// ErrSecretUnavailable marks a secret that does not exist, is empty or
	// may not be read. Outages of the secret source are not wrapped with it.
	ErrSecretUnavailable = errors.New("secret not found or not accessible")
)
