package cloudinary

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/httpx"
)

const (
	headerCldError  = "X-Cld-Error"
	maxRawBody      = 512
	msgMissingField = "success response without public_id or secure_url"
	msgUnknownShape = "unrecognized error body"
)

// Outcome is the parsed result of an upload call. It is exactly one of
// Success, Failure or Malformed.
type Outcome interface {
	outcome()
}

// Success carries the uploaded asset.
type Success struct {
	Asset core.Asset
}

// Failure is a well-formed error reported by the media host.
type Failure struct {
	Err *core.ProviderError
}

// Malformed is a response that matches neither the success nor the error shape.
type Malformed struct {
	StatusCode int
	Reason     string
	Raw        string
}

func (Success) outcome()   {}
func (Failure) outcome()   {}
func (Malformed) outcome() {}

// ProviderError converts the malformed outcome into a typed error.
func (m Malformed) ProviderError() *core.ProviderError {
	return &core.ProviderError{
		Provider:   Provider,
		StatusCode: m.StatusCode,
		Kind:       core.KindMalformedResponse,
		Message:    m.Reason,
		Raw:        m.Raw,
	}
}

type uploadResponse struct {
	PublicID     string `json:"public_id"`
	SecureURL    string `json:"secure_url"`
	Bytes        int64  `json:"bytes"`
	Format       string `json:"format"`
	ResourceType string `json:"resource_type"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseUploadResponse classifies an upload response. A 2xx body must be a JSON
// object with public_id and secure_url. An error body must be
// {"error": {"message": "..."}}; when it is not, the X-Cld-Error header is
// used instead.
func ParseUploadResponse(status int, header http.Header, body []byte) Outcome {
	kind := core.ClassifyStatus(status)
	if kind == core.KindNone {
		return parseSuccess(status, body)
	}

	if message, ok := decodeErrorMessage(body); ok {
		return Failure{Err: &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       kind,
			Message:    message,
		}}
	}

	if message := strings.TrimSpace(header.Get(headerCldError)); message != "" {
		return Failure{Err: &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       kind,
			Message:    message,
		}}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return Failure{Err: &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       kind,
			Message:    http.StatusText(status),
		}}
	}

	return Malformed{StatusCode: status, Reason: msgUnknownShape, Raw: truncate(body)}
}

func parseSuccess(status int, body []byte) Outcome {
	var decoded uploadResponse

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return Malformed{StatusCode: status, Reason: "invalid json: " + err.Error(), Raw: truncate(body)}
	}

	if decoded.PublicID == "" || decoded.SecureURL == "" {
		return Malformed{StatusCode: status, Reason: msgMissingField, Raw: truncate(body)}
	}

	return Success{Asset: core.Asset{
		PublicID:     decoded.PublicID,
		SecureURL:    decoded.SecureURL,
		Bytes:        decoded.Bytes,
		Format:       decoded.Format,
		ResourceType: decoded.ResourceType,
	}}
}

func decodeErrorMessage(body []byte) (string, bool) {
	var decoded errorResponse

	err := json.Unmarshal(body, &decoded)
	if err != nil || decoded.Error == nil || decoded.Error.Message == "" {
		return "", false
	}

	return decoded.Error.Message, true
}

func truncate(body []byte) string {
	return httpx.Truncate(body, maxRawBody)
}
