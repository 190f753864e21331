// Package signing computes the string-to-sign and signature for credential
// bearing uploads to the media host.
//
// The canonical form is the signed parameters sorted by key, joined as
// key=value pairs with '&', followed directly by the API secret. The digest is
// SHA-1 rendered as lowercase hex; the algorithm is fixed by the provider.
package signing

import (
	"crypto/sha1" // #nosec G505 -- digest algorithm is mandated by the provider
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/tts-uploader/internal/core"
)

// Parameter names the media host understands.
const (
	ParamPublicID     = "public_id"
	ParamTimestamp    = "timestamp"
	ParamResourceType = "resource_type"
	ParamFolder       = "folder"
)

// RedactedSecret replaces the secret in anything meant for a log.
const RedactedSecret = "[REDACTED]"

const (
	pairSeparator  = "&"
	keyValueFormat = "%s=%s"
)

var (
	// ErrInvalidInput is returned for empty or unsupported parameters.
	ErrInvalidInput = fmt.Errorf("signing: %w", core.ErrInvalidInput)
	// ErrMissingSecret is returned when the API secret is empty.
	ErrMissingSecret = fmt.Errorf("signing: %w: api secret is empty", core.ErrInvalidInput)
)

// DefaultSignedParams is the signed set the media host accepted for plain
// uploads. resource_type is deliberately absent; add it through configuration
// when an endpoint requires it.
var DefaultSignedParams = []string{ParamPublicID, ParamTimestamp}

var expectedStringRx = regexp.MustCompile(`'([^']+)'`)

// Result holds a computed signature. Its String method redacts the secret, so
// a Result can be logged directly.
type Result struct {
	Signature string
	// StringToSign is the exact digest input, secret included.
	StringToSign string
	// Canonical is the sorted key=value list without the secret.
	Canonical string
}

// Redacted returns the string-to-sign with the secret replaced.
func (r Result) Redacted() string {
	return r.Canonical + RedactedSecret
}

func (r Result) String() string {
	return fmt.Sprintf("signature=%s string_to_sign=%s", r.Signature, r.Redacted())
}

// GoString keeps %#v from printing the secret.
func (r Result) GoString() string {
	return r.String()
}

// Sign canonicalizes every entry of params and signs it with secret.
func Sign(params map[string]any, secret string) (Result, error) {
	if secret == "" {
		return Result{}, ErrMissingSecret
	}

	canonical, err := Canonicalize(params)
	if err != nil {
		return Result{}, err
	}

	stringToSign := canonical + secret
	sum := sha1.Sum([]byte(stringToSign)) // #nosec G401 -- see package doc

	return Result{
		Signature:    hex.EncodeToString(sum[:]),
		StringToSign: stringToSign,
		Canonical:    canonical,
	}, nil
}

// Canonicalize sorts params byte-wise by key and joins them as key=value pairs.
// No URL encoding is applied.
func Canonicalize(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: no parameters to sign", ErrInvalidInput)
	}

	keys := make([]string, 0, len(params))

	for key := range params {
		if key == "" {
			return "", fmt.Errorf("%w: empty parameter name", ErrInvalidInput)
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))

	for _, key := range keys {
		value, err := stringify(params[key])
		if err != nil {
			return "", fmt.Errorf("%w: parameter %q: %w", ErrInvalidInput, key, err)
		}

		pairs = append(pairs, fmt.Sprintf(keyValueFormat, key, value))
	}

	return strings.Join(pairs, pairSeparator), nil
}

var errUnsupportedType = errors.New("unsupported value type")

// stringify accepts only values with a single unambiguous text form.
func stringify(value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case int:
		return strconv.Itoa(typed), nil
	case int8:
		return strconv.FormatInt(int64(typed), 10), nil
	case int16:
		return strconv.FormatInt(int64(typed), 10), nil
	case int32:
		return strconv.FormatInt(int64(typed), 10), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case uint:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(typed), 10), nil
	case uint64:
		return strconv.FormatUint(typed, 10), nil
	default:
		return "", fmt.Errorf("%w: %T", errUnsupportedType, value)
	}
}

// Builder signs only the parameters that belong to a configured signed set.
type Builder struct {
	signed []string
	lookup map[string]struct{}
}

// NewBuilder creates a Builder for the given signed set. An empty set falls
// back to DefaultSignedParams.
func NewBuilder(signedParams []string) (*Builder, error) {
	if len(signedParams) == 0 {
		signedParams = DefaultSignedParams
	}

	lookup := make(map[string]struct{}, len(signedParams))
	signed := make([]string, 0, len(signedParams))

	for _, name := range signedParams {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name in signed parameter set", ErrInvalidInput)
		}

		if _, dup := lookup[name]; dup {
			continue
		}

		lookup[name] = struct{}{}
		signed = append(signed, name)
	}

	sort.Strings(signed)

	return &Builder{signed: signed, lookup: lookup}, nil
}

// SignedParams returns the sorted signed set.
func (b *Builder) SignedParams() []string {
	out := make([]string, len(b.signed))
	copy(out, b.signed)

	return out
}

// Includes reports whether name is part of the signed set.
func (b *Builder) Includes(name string) bool {
	_, ok := b.lookup[name]

	return ok
}

// Sign drops every parameter outside the signed set and signs the rest.
func (b *Builder) Sign(params map[string]any, secret string) (Result, error) {
	filtered := make(map[string]any, len(b.signed))

	for key, value := range params {
		if b.Includes(key) {
			filtered[key] = value
		}
	}

	return Sign(filtered, secret)
}

// ExpectedFromProviderMessage extracts the quoted string-to-sign the provider
// echoes back in an "Invalid Signature" message. ok is false when the message
// carries no quoted value.
func ExpectedFromProviderMessage(message string) (expected string, ok bool) {
	match := expectedStringRx.FindStringSubmatch(message)
	if len(match) < 2 {
		return "", false
	}

	return match[1], true
}
