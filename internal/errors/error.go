package errors

import "github.com/pkg/errors"

// Provider error taxonomy. Adapters translate provider-specific failures into
// exactly one of these sentinels (wrapped with context); callers classify with
// errors.Is and never inspect provider payloads.
var (
	// ErrAuthExpired means the access token was rejected. Recoverable: refresh
	// once and retry the call once.
	ErrAuthExpired = errors.New("provider rejected access token")

	// ErrAccessRevoked means the refresh token itself was rejected. Terminal
	// for the integration until the user re-authenticates.
	ErrAccessRevoked = errors.New("provider access revoked")

	// ErrRateLimited means the provider asked for backoff. The current cycle
	// is skipped, never retried inline.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTransient covers network failures and provider 5xx responses.
	ErrTransient = errors.New("transient provider failure")

	// ErrMalformed marks a single item whose payload did not have the expected
	// shape. The item is skipped, the batch continues.
	ErrMalformed = errors.New("malformed provider payload")

	// ErrIntegrationNotFound means the integration is missing or inactive.
	// A sync attempt against it is a silent no-op.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrWatchNotSupported is returned by polling-only adapters from RegisterWatch.
	ErrWatchNotSupported = errors.New("provider does not support push watches")
)

func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

func IsAccessRevoked(err error) bool {
	return errors.Is(err, ErrAccessRevoked)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

func IsIntegrationNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound)
}

// IsSoftFailure reports whether the attempt should be abandoned without
// touching integration state, to be retried on the next natural trigger.
func IsSoftFailure(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}
