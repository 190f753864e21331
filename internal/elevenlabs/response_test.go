package elevenlabs_test

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/elevenlabs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSynthesisResponse_Audio(t *testing.T) {
	t.Parallel()

	audio, err := elevenlabs.ParseSynthesisResponse(http.StatusOK, "audio/mpeg", fakeAudio)
	require.NoError(t, err)
	assert.Equal(t, fakeAudio, audio)

	_, err = elevenlabs.ParseSynthesisResponse(http.StatusOK, "audio/mpeg", nil)
	require.ErrorIs(t, err, core.ErrMalformedResponse)

	_, err = elevenlabs.ParseSynthesisResponse(http.StatusOK, "application/json", []byte(`{"ok":true}`))
	require.ErrorIs(t, err, core.ErrMalformedResponse)
	assert.Contains(t, err.Error(), `"application/json"`)
}

func TestParseSynthesisResponse_ErrorShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		kind    core.Kind
		code    string
		message string
	}{
		{
			name:    "detail object",
			status:  http.StatusUnauthorized,
			body:    `{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`,
			kind:    core.KindProviderAuth,
			code:    "invalid_api_key",
			message: "Invalid API key",
		},
		{
			name:    "detail string",
			status:  http.StatusNotFound,
			body:    `{"detail":"voice not found"}`,
			kind:    core.KindProviderPermanent,
			message: "voice not found",
		},
		{
			name:    "validation list",
			status:  http.StatusUnprocessableEntity,
			body:    `{"detail":[{"loc":["body","text"],"msg":"field required","type":"value_error.missing"}]}`,
			kind:    core.KindProviderPermanent,
			message: "field required",
		},
		{
			name:    "error string",
			status:  http.StatusBadRequest,
			body:    `{"error":"insufficient credits"}`,
			kind:    core.KindProviderPermanent,
			message: "insufficient credits",
		},
		{
			name:    "message",
			status:  http.StatusServiceUnavailable,
			body:    `{"message":"try again later"}`,
			kind:    core.KindProviderTransient,
			message: "try again later",
		},
		{
			name:    "html page",
			status:  http.StatusBadGateway,
			body:    "<!DOCTYPE html><html><body>502 Bad Gateway</body></html>",
			kind:    core.KindProviderTransient,
			message: "html error page (wrong endpoint, proxy or upstream outage)",
		},
		{
			name:    "empty body",
			status:  http.StatusTooManyRequests,
			body:    "",
			kind:    core.KindProviderTransient,
			message: "Too Many Requests",
		},
		{
			name:    "unknown shape",
			status:  http.StatusBadRequest,
			body:    `{"unexpected":1}`,
			kind:    core.KindMalformedResponse,
			message: "unrecognized error body",
		},
		{
			name:    "plain text",
			status:  http.StatusInternalServerError,
			body:    "boom",
			kind:    core.KindMalformedResponse,
			message: "unrecognized error body",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			audio, err := elevenlabs.ParseSynthesisResponse(testCase.status, "", []byte(testCase.body))
			require.Error(t, err)
			assert.Nil(t, audio)

			var providerErr *core.ProviderError
			require.ErrorAs(t, err, &providerErr)
			assert.Equal(t, elevenlabs.Provider, providerErr.Provider)
			assert.Equal(t, testCase.status, providerErr.StatusCode)
			assert.Equal(t, testCase.kind, providerErr.Kind)
			assert.Equal(t, testCase.code, providerErr.Code)
			assert.Equal(t, testCase.message, providerErr.Message)
		})
	}
}

func TestParseSynthesisResponse_RawBodyKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 510) + "語" + strings.Repeat("y", 100)

	_, err := elevenlabs.ParseSynthesisResponse(http.StatusInternalServerError, "text/plain", []byte(body))

	var providerErr *core.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, core.KindMalformedResponse, providerErr.Kind)
	assert.True(t, utf8.ValidString(providerErr.Raw))
	assert.Equal(t, strings.Repeat("x", 510), providerErr.Raw)
}
