// Package elevenlabs is a client for the ElevenLabs text-to-speech API.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/httpx"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/book-expert/tts-uploader/internal/voice"
	"github.com/hashicorp/go-retryablehttp"
)

// Provider is the name reported in every ProviderError from this package.
const Provider = "elevenlabs"

// Defaults.
const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultModelID      = "eleven_monolingual_v1"
	DefaultOutputFormat = "mp3_44100_128"
)

// API endpoints and paths.
const (
	apiTextToSpeech = "/v1/text-to-speech/"
	apiVoices       = "/v1/voices/"
	queryOutput     = "output_format"
)

// HTTP headers.
const (
	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

var (
	// ErrInvalidRequest wraps every request rejected before it is sent.
	ErrInvalidRequest = fmt.Errorf("elevenlabs: %w", core.ErrInvalidInput)
	// ErrMissingAPIKey is returned by New when no key is configured.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrEmptyText is returned for blank text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrTextTooLong is returned for text over script.MaxTextLength characters.
	ErrTextTooLong = errors.New("text is too long")
	// ErrVoiceSettingRange is returned for a voice setting outside [0, 1].
	ErrVoiceSettingRange = errors.New("voice setting must be between 0 and 1")
)

// VoiceSettings tunes the generated voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"         toml:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"  toml:"similarity_boost"`
	Style           float64 `json:"style"             toml:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost" toml:"use_speaker_boost"`
}

// DefaultVoiceSettings returns balanced settings suitable for narration.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.5,
		Style:           0,
		UseSpeakerBoost: true,
	}
}

// Validate checks that every ratio lies in [0, 1].
func (s VoiceSettings) Validate() error {
	ratios := []struct {
		name  string
		value float64
	}{
		{"stability", s.Stability},
		{"similarity_boost", s.SimilarityBoost},
		{"style", s.Style},
	}

	for _, ratio := range ratios {
		if ratio.value < 0 || ratio.value > 1 {
			return fmt.Errorf("%w: %w: %s=%g", ErrInvalidRequest, ErrVoiceSettingRange, ratio.name, ratio.value)
		}
	}

	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	ModelID       string
	OutputFormat  string
	VoiceSettings VoiceSettings
	Retry         httpx.RetryConfig
	// Logger is optional; it receives retry diagnostics.
	Logger *logger.Logger
}

// Client synthesizes speech. It implements core.Synthesizer.
type Client struct {
	httpClient    *retryablehttp.Client
	baseURL       string
	apiKey        string
	modelID       string
	outputFormat  string
	voiceSettings VoiceSettings
}

var _ core.Synthesizer = (*Client)(nil)

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Voice is the subset of the voice descriptor used for validation.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrMissingAPIKey)
	}

	err := opts.VoiceSettings.Validate()
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	modelID := opts.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}

	outputFormat := opts.OutputFormat
	if outputFormat == "" {
		outputFormat = DefaultOutputFormat
	}

	return &Client{
		httpClient:    httpx.NewRetryClient(opts.Retry, opts.Logger),
		baseURL:       baseURL,
		apiKey:        opts.APIKey,
		modelID:       modelID,
		outputFormat:  outputFormat,
		voiceSettings: opts.VoiceSettings,
	}, nil
}

// OutputFormat returns the configured audio format, e.g. "mp3_44100_128".
func (c *Client) OutputFormat() string {
	return c.outputFormat
}

// Synthesize converts req.Text to audio in the configured output format.
// Failures are *core.ProviderError values, or ErrInvalidRequest for requests
// that were never sent.
func (c *Client) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(speechRequest{
		Text:          req.Text,
		ModelID:       c.modelID,
		VoiceSettings: c.voiceSettings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + apiTextToSpeech + url.PathEscape(req.VoiceID) +
		"?" + url.Values{queryOutput: {c.outputFormat}}.Encode()

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAPIKey, c.apiKey)
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	resp, body, err := httpx.Do(c.httpClient, httpReq)
	if err != nil {
		return nil, transportError(err)
	}

	return ParseSynthesisResponse(resp.StatusCode, resp.Header.Get(headerContentType), body)
}

// CheckVoice confirms that a voice id exists and is visible to the API key.
func (c *Client) CheckVoice(ctx context.Context, voiceID string) (Voice, error) {
	err := voice.ValidateID(voiceID)
	if err != nil {
		return Voice{}, err
	}

	endpoint := c.baseURL + apiVoices + url.PathEscape(voiceID)

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Voice{}, fmt.Errorf("failed to create voice request: %w", err)
	}

	httpReq.Header.Set(headerAPIKey, c.apiKey)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, body, err := httpx.Do(c.httpClient, httpReq)
	if err != nil {
		return Voice{}, transportError(err)
	}

	if core.ClassifyStatus(resp.StatusCode) != core.KindNone {
		// Reuse the synthesis error decoding; the error shapes are shared.
		_, parseErr := ParseSynthesisResponse(resp.StatusCode, resp.Header.Get(headerContentType), body)

		return Voice{}, parseErr
	}

	var found Voice

	err = json.Unmarshal(body, &found)
	if err != nil || found.VoiceID == "" {
		return Voice{}, &core.ProviderError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			Kind:       core.KindMalformedResponse,
			Message:    "voice descriptor without voice_id",
			Raw:        truncate(body),
		}
	}

	return found, nil
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("elevenlabs request aborted: %w", err)
	}

	return &core.ProviderError{
		Provider: Provider,
		Kind:     core.KindProviderTransient,
		Message:  err.Error(),
	}
}

func validateRequest(req core.SpeechRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyText)
	}

	if length := utf8.RuneCountInString(req.Text); length > script.MaxTextLength {
		return fmt.Errorf("%w: %w (%d characters, max %d)",
			ErrInvalidRequest, ErrTextTooLong, length, script.MaxTextLength)
	}

	return voice.ValidateID(req.VoiceID)
}

// Extension returns the file extension for an output format such as
// "mp3_44100_128" or "pcm_16000".
func Extension(outputFormat string) string {
	codec, _, _ := strings.Cut(outputFormat, "_")

	switch codec {
	case "pcm":
		return ".pcm"
	case "ulaw":
		return ".ulaw"
	case "opus":
		return ".opus"
	default:
		return ".mp3"
	}
}
