package elevenlabs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/httpx"
)

const (
	msgHTMLErrorPage  = "html error page (wrong endpoint, proxy or upstream outage)"
	msgEmptyAudio     = "empty audio body"
	msgFmtNotAudio    = "expected audio, got content type %q"
	msgUnknownShape   = "unrecognized error body"
	maxRawBody        = 512
	contentTypeOctets = "application/octet-stream"
)

// errorBody covers the error shapes the API has been seen to return:
// {"detail": {"status": "...", "message": "..."}}, {"detail": "..."},
// {"error": "..."} and {"message": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ParseSynthesisResponse turns a raw text-to-speech response into audio or a
// typed *core.ProviderError. Success requires a 2xx status, an audio content
// type and a non-empty body.
func ParseSynthesisResponse(status int, contentType string, body []byte) ([]byte, error) {
	kind := core.ClassifyStatus(status)
	if kind == core.KindNone {
		return parseAudio(status, contentType, body)
	}

	if looksLikeHTML(contentType, body) {
		return nil, &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       kind,
			Message:    msgHTMLErrorPage,
			Raw:        truncate(body),
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       kind,
			Message:    http.StatusText(status),
		}
	}

	code, message, ok := decodeError(body)
	if !ok {
		return nil, &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       core.KindMalformedResponse,
			Message:    msgUnknownShape,
			Raw:        truncate(body),
		}
	}

	return nil, &core.ProviderError{
		Provider:   Provider,
		StatusCode: status,
		Kind:       kind,
		Code:       code,
		Message:    message,
	}
}

func parseAudio(status int, contentType string, body []byte) ([]byte, error) {
	if !isAudio(contentType) {
		return nil, &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       core.KindMalformedResponse,
			Message:    formatNotAudio(contentType),
			Raw:        truncate(body),
		}
	}

	if len(body) == 0 {
		return nil, &core.ProviderError{
			Provider:   Provider,
			StatusCode: status,
			Kind:       core.KindMalformedResponse,
			Message:    msgEmptyAudio,
		}
	}

	return body, nil
}

func decodeError(body []byte) (string, string, bool) {
	var decoded errorBody

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return "", "", false
	}

	if len(decoded.Detail) > 0 {
		var detail errorDetail
		if json.Unmarshal(decoded.Detail, &detail) == nil && detail.Message != "" {
			return detail.Status, detail.Message, true
		}

		var text string
		if json.Unmarshal(decoded.Detail, &text) == nil && text != "" {
			return "", text, true
		}

		// Validation failures arrive as a list of {loc, msg, type}.
		var list []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(decoded.Detail, &list) == nil && len(list) > 0 && list[0].Msg != "" {
			return "", list[0].Msg, true
		}
	}

	if len(decoded.Error) > 0 {
		var text string
		if json.Unmarshal(decoded.Error, &text) == nil && text != "" {
			return "", text, true
		}

		var detail errorDetail
		if json.Unmarshal(decoded.Error, &detail) == nil && detail.Message != "" {
			return detail.Status, detail.Message, true
		}
	}

	if decoded.Message != "" {
		return "", decoded.Message, true
	}

	return "", "", false
}

func isAudio(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, "audio/") || mediaType == contentTypeOctets
}

func looksLikeHTML(contentType string, body []byte) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/html" {
		return true
	}

	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > maxRawBody {
		head = head[:maxRawBody]
	}

	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.Contains(head, []byte("<html"))
}

func formatNotAudio(contentType string) string {
	if contentType == "" {
		contentType = "none"
	}

	return fmt.Sprintf(msgFmtNotAudio, contentType)
}

func truncate(body []byte) string {
	return httpx.Truncate(body, maxRawBody)
}
