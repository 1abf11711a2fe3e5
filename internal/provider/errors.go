package provider

import "errors"

// Failure taxonomy for provider calls. The dispatcher decides whether to
// retry based solely on these sentinels, so every concrete provider must
// wrap its failures in exactly one of them.
var (
	// ErrRateLimited is returned when the provider throttled the request.
	// Retryable.
	ErrRateLimited = errors.New("provider rate limited the request")

	// ErrTransientConnection is returned for network-level failures such
	// as timeouts or dropped connections. Retryable.
	ErrTransientConnection = errors.New("transient connection failure")

	// ErrServerFault is returned when the provider reported an internal
	// error (5xx class). Retryable.
	ErrServerFault = errors.New("provider server fault")

	// ErrConfiguration is returned when required credentials or settings
	// are missing or rejected. Fatal: retrying cannot help.
	ErrConfiguration = errors.New("invalid provider configuration")

	// ErrUnknownProvider is returned when a request names a provider the
	// registry does not know. Fatal.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrMalformedOutput is returned when the provider answered but the
	// response is unusable (empty, blocked, or unparseable). Fatal: the
	// same prompt will almost certainly fail the same way.
	ErrMalformedOutput = errors.New("malformed provider output")
)

// Retryable reports whether err is a transient failure worth another
// attempt. Errors that carry none of the taxonomy sentinels are treated as
// retryable so an unclassified hiccup still gets the bounded retry budget
// before surfacing.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrMalformedOutput) {
		return false
	}
	return true
}
