// Package apierr defines the canonical error taxonomy shared by every
// connector, the routing engine, the streaming proxy, and the chain
// executor. It replaces the teacher's ad hoc error handling — substring
// matching on error text (e.g. strings.Contains(err.Error(), "timeout"))
// and per-handler literal HTTP status/type strings — with one typed,
// wrapped error (idiomatic errors.As) and one status/type mapping table.
package apierr

import "fmt"

// Kind is the canonical error classification used across the engine.
type Kind string

const (
	InvalidRequest        Kind = "invalid_request"
	Authentication        Kind = "authentication"
	RateLimited           Kind = "rate_limit"
	ContextLengthExceeded Kind = "context_length"
	ContentFilter         Kind = "content_filter"
	Timeout               Kind = "timeout"
	TransportFailure      Kind = "transport_failure"
	ProviderUnavailable   Kind = "provider_unavailable"
	NoCandidates          Kind = "no_candidates"
	AllAttemptsFailed     Kind = "all_attempts_failed"
	StrategyError         Kind = "strategy_error"
	TemplateError         Kind = "template_error"
	AlreadyExists         Kind = "already_exists"
	Internal              Kind = "internal"
)

// Error is the canonical error value threaded through connectors, the
// routing engine, and the proxy. RetryAfter is populated only for
// RateLimited when the provider supplies a hint.
type Error struct {
	Kind       Kind
	Message    string
	Param      string
	RetryAfter *int // seconds
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a canonical error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a canonical kind to an underlying error (typically a
// provider SDK error), preserving it for errors.As/errors.Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, the way every layer that needs to branch
// on Kind should inspect errors — never string-match err.Error().
func As(err error) (*Error, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retriable reports whether the routing engine's attempts loop (SPEC_FULL
// §4.3) should advance to the next candidate rather than surface the
// error immediately.
func Retriable(kind Kind) bool {
	switch kind {
	case RateLimited, Timeout, TransportFailure, ProviderUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a canonical kind to the HTTP status the proxy returns,
// per spec §7.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidRequest, TemplateError:
		return 400
	case Authentication:
		return 401
	case Timeout:
		return 408
	case ContextLengthExceeded:
		return 413
	case RateLimited:
		return 429
	case AlreadyExists:
		return 409
	case ProviderUnavailable, NoCandidates, AllAttemptsFailed:
		return 503
	case TransportFailure, StrategyError, ContentFilter:
		return 502
	default:
		return 500
	}
}

// WireType maps a canonical kind to the `type` field of the HTTP error
// envelope {error:{message,type,code}}, per spec §6. Kinds outside the
// spec's published enum collapse onto the closest published value, except
// AlreadyExists, which has its own "already_exists" type.
func WireType(kind Kind) string {
	switch kind {
	case InvalidRequest, TemplateError:
		return "invalid_request"
	case Authentication:
		return "authentication"
	case RateLimited:
		return "rate_limit"
	case ContextLengthExceeded:
		return "context_length"
	case ContentFilter:
		return "content_filter"
	case Timeout:
		return "timeout"
	case AlreadyExists:
		return "already_exists"
	case ProviderUnavailable, NoCandidates, AllAttemptsFailed, TransportFailure, StrategyError:
		return "provider_unavailable"
	default:
		return "internal"
	}
}

// FromError classifies an arbitrary error into a canonical *Error, for the
// boundary between third-party SDKs (which return their own error types)
// and the rest of the engine. Connectors should prefer constructing *Error
// directly from a known SDK error type; this is the fallback for anything
// that reaches the proxy unclassified.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(Internal, err, "unclassified error")
}
