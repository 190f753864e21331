package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure so callers can decide between retrying, fixing
// credentials, or fixing the request.
type Kind int

// Failure kinds. KindNone is the zero value and means "no failure".
const (
	KindNone Kind = iota
	KindInvalidInput
	KindProviderAuth
	KindProviderTransient
	KindProviderPermanent
	KindMalformedResponse
)

// Sentinel errors, one per failure kind. ProviderError unwraps to these.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderAuth      = errors.New("provider rejected credentials")
	ErrProviderTransient = errors.New("provider temporarily unavailable")
	ErrProviderPermanent = errors.New("provider rejected request")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrUnknownKind       = errors.New("unknown failure kind")
)

var kindNames = map[Kind]string{
	KindNone:              "none",
	KindInvalidInput:      "invalid_input",
	KindProviderAuth:      "provider_auth",
	KindProviderTransient: "provider_transient",
	KindProviderPermanent: "provider_permanent",
	KindMalformedResponse: "malformed_response",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name so it reads well in JSON replies.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind

			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownKind, string(text))
}

// Retryable reports whether a failure of this kind may succeed if the same
// request is sent again later.
func (k Kind) Retryable() bool {
	return k == KindProviderTransient
}

// Sentinel returns the sentinel error matching the kind, or nil for KindNone.
func (k Kind) Sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindProviderAuth:
		return ErrProviderAuth
	case KindProviderTransient:
		return ErrProviderTransient
	case KindProviderPermanent:
		return ErrProviderPermanent
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// ClassifyStatus maps an HTTP status code returned by a provider to a failure
// kind. Success codes map to KindNone.
func ClassifyStatus(code int) Kind {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return KindNone
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusPaymentRequired:
		return KindProviderAuth
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return KindProviderTransient
	default:
		return KindProviderPermanent
	}
}

// ProviderError is a typed failure reported by (or about) a remote provider.
type ProviderError struct {
	// Provider names the remote service, e.g. "cloudinary".
	Provider string
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	Kind       Kind
	// Code is the provider's own machine-readable reason, when it sends one.
	Code    string
	Message string
	// Raw holds a truncated copy of an unparseable body.
	Raw string
}

func (e *ProviderError) Error() string {
	var builder strings.Builder

	builder.WriteString(e.Provider)
	builder.WriteString(": ")
	builder.WriteString(e.Kind.String())

	if e.StatusCode != 0 {
		fmt.Fprintf(&builder, " (status %d)", e.StatusCode)
	}

	if e.Code != "" {
		fmt.Fprintf(&builder, " [%s]", e.Code)
	}

	if e.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Message)
	}

	return builder.String()
}

// Unwrap exposes the sentinel error of the failure kind to errors.Is.
func (e *ProviderError) Unwrap() error {
	return e.Kind.Sentinel()
}

// Retryable reports whether the caller should retry with backoff.
func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}

	for _, kind := range []Kind{
		KindInvalidInput,
		KindProviderAuth,
		KindProviderTransient,
		KindProviderPermanent,
		KindMalformedResponse,
	} {
		if errors.Is(err, kind.Sentinel()) {
			return kind
		}
	}

	return KindNone
}
