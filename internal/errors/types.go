package errors

import "errors"

var (
	ErrUnknownService     = errors.New("unknown service")
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrAmbiguousBinding   = errors.New("ambiguous binding")

	ErrPolicyDenied        = errors.New("operation denied by policy")
	ErrInvalidConfirmation = errors.New("invalid confirmation token")
	ErrConfirmationExpired = errors.New("confirmation token expired")

	ErrTransientProvider     = errors.New("transient provider error")
	ErrPermissionDenied      = errors.New("provider permission denied")
	ErrResourceNotFound      = errors.New("provider resource not found")
	ErrUnsupportedOperation  = errors.New("operation not supported by provider")
	ErrProviderUnavailable   = errors.New("no adapter registered for provider")
	ErrAuditWriteDegraded    = errors.New("audit sink degraded")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrInvalidInput          = errors.New("invalid input")
	ErrMalformedCatalog      = errors.New("malformed catalog document")
	ErrMalformedPolicy       = errors.New("malformed policy document")
)

// Retryable reports whether the dispatcher may retry the failed call.
// Only transient provider failures qualify; every other class is terminal
// for the operation instance.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}
