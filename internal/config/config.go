// Package config provides the configuration structure for the tts-uploader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/elevenlabs"
	"github.com/book-expert/tts-uploader/internal/httpx"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables read when a config leaves the *_env names empty.
const (
	DefaultCloudinaryKeyEnv    = "CLOUDINARY_API_KEY"
	DefaultCloudinarySecretEnv = "CLOUDINARY_API_SECRET"
	DefaultElevenLabsKeyEnv    = "ELEVENLABS_API_KEY"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultNATSURL               = "nats://127.0.0.1:4222"
	DefaultBatchSubject          = "tts.batch.requested"
	DefaultScriptBucket          = "TTS_SCRIPTS"
	DefaultAudioBucket           = "TTS_AUDIO"
	DefaultPageSize              = 5
	DefaultRequestDelayMillis    = 1000
	DefaultBatchDelayMillis      = 3000
	DefaultMaxRetries            = 3
	DefaultRetryWaitMinMillis    = 1000
	DefaultRetryWaitMaxMillis    = 30000
	DefaultRequestTimeoutSeconds = 60
	DefaultLogsDir               = "logs"
)

const redacted = "[REDACTED]"

// Validation errors.
var (
	ErrMissingCloudName = errors.New("cloudinary.cloud_name is required")
	ErrPageSize         = errors.New("batch.page_size must be at least 1")
	ErrNegativeDelay    = errors.New("batch delays must be non-negative")
	ErrNegativeRetries  = errors.New("batch.max_retries must be non-negative")
	ErrMissingSecret    = errors.New("required secret is not set in the environment")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                   string `toml:"url"`
	BatchRequestedSubject string `toml:"batch_requested_subject"`
	ScriptObjectStore     string `toml:"script_object_store_bucket"`
	AudioObjectStore      string `toml:"audio_object_store_bucket"`
	// StageAudio keeps a copy of every synthesized clip in the audio bucket.
	StageAudio bool `toml:"stage_audio"`
}

// CloudinaryConfig holds the media host settings. Credentials are never stored
// here, only the names of the environment variables that hold them.
type CloudinaryConfig struct {
	BaseURL         string   `toml:"base_url"`
	CloudName       string   `toml:"cloud_name"`
	APIKeyEnv       string   `toml:"api_key_env"`
	APISecretEnv    string   `toml:"api_secret_env"`
	ResourceType    string   `toml:"resource_type"`
	Folder          string   `toml:"folder"`
	SignedParams    []string `toml:"signed_params"`
	UniquePublicIDs bool     `toml:"unique_public_ids"`
}

// ElevenLabsConfig holds the synthesis provider settings.
type ElevenLabsConfig struct {
	BaseURL       string                    `toml:"base_url"`
	APIKeyEnv     string                    `toml:"api_key_env"`
	ModelID       string                    `toml:"model_id"`
	OutputFormat  string                    `toml:"output_format"`
	DefaultVoice  string                    `toml:"default_voice"`
	VoiceSettings *elevenlabs.VoiceSettings `toml:"voice_settings"`
	// Voices maps speaker names to voice ids.
	Voices map[string]string `toml:"voices"`
}

// BatchConfig controls the batch loop and HTTP retries. The pointer fields
// distinguish an explicit zero from an unset value.
type BatchConfig struct {
	PageSize              *int   `toml:"page_size"`
	DelayBetweenRequestMS *int   `toml:"delay_between_requests_ms"`
	DelayBetweenBatchesMS *int   `toml:"delay_between_batches_ms"`
	ContinueOnError       bool   `toml:"continue_on_error"`
	OutputPrefix          string `toml:"output_prefix"`
	MaxRetries            *int   `toml:"max_retries"`
	RetryWaitMinMS        int    `toml:"retry_wait_min_ms"`
	RetryWaitMaxMS        int    `toml:"retry_wait_max_ms"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Cloudinary CloudinaryConfig `toml:"cloudinary"`
	ElevenLabs ElevenLabsConfig `toml:"elevenlabs"`
	Batch      BatchConfig      `toml:"batch"`
	Paths      PathsConfig      `toml:"paths"`
}

// Secrets holds credentials resolved from the environment. Its String method
// never prints them.
type Secrets struct {
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	ElevenLabsAPIKey    string
}

func (s Secrets) String() string {
	return fmt.Sprintf("cloudinary_api_key=%s cloudinary_api_secret=%s elevenlabs_api_key=%s",
		mask(s.CloudinaryAPIKey), mask(s.CloudinaryAPISecret), mask(s.ElevenLabsAPIKey))
}

// GoString keeps %#v from printing credentials.
func (s Secrets) GoString() string {
	return s.String()
}

// Load loads the service configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFile reads a TOML config file from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML config data and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, DefaultNATSURL)
	setString(&c.NATS.BatchRequestedSubject, DefaultBatchSubject)
	setString(&c.NATS.ScriptObjectStore, DefaultScriptBucket)
	setString(&c.NATS.AudioObjectStore, DefaultAudioBucket)

	setString(&c.Cloudinary.APIKeyEnv, DefaultCloudinaryKeyEnv)
	setString(&c.Cloudinary.APISecretEnv, DefaultCloudinarySecretEnv)

	setString(&c.ElevenLabs.APIKeyEnv, DefaultElevenLabsKeyEnv)

	if c.ElevenLabs.VoiceSettings == nil {
		settings := elevenlabs.DefaultVoiceSettings()
		c.ElevenLabs.VoiceSettings = &settings
	}

	setIntPtr(&c.Batch.PageSize, DefaultPageSize)
	setIntPtr(&c.Batch.DelayBetweenRequestMS, DefaultRequestDelayMillis)
	setIntPtr(&c.Batch.DelayBetweenBatchesMS, DefaultBatchDelayMillis)
	setIntPtr(&c.Batch.MaxRetries, DefaultMaxRetries)
	setInt(&c.Batch.RetryWaitMinMS, DefaultRetryWaitMinMillis)
	setInt(&c.Batch.RetryWaitMaxMS, DefaultRetryWaitMaxMillis)
	setInt(&c.Batch.RequestTimeoutSeconds, DefaultRequestTimeoutSeconds)

	setString(&c.Paths.BaseLogsDir, DefaultLogsDir)
}

// Validate checks required fields and ranges. It reports every problem.
func (c *Config) Validate() error {
	var problems []error

	if strings.TrimSpace(c.Cloudinary.CloudName) == "" {
		problems = append(problems, ErrMissingCloudName)
	}

	if c.PageSize() < 1 {
		problems = append(problems, fmt.Errorf("%w: got %d", ErrPageSize, c.PageSize()))
	}

	if intValue(c.Batch.DelayBetweenRequestMS) < 0 || intValue(c.Batch.DelayBetweenBatchesMS) < 0 {
		problems = append(problems, ErrNegativeDelay)
	}

	if intValue(c.Batch.MaxRetries) < 0 {
		problems = append(problems, ErrNegativeRetries)
	}

	if c.ElevenLabs.VoiceSettings != nil {
		err := c.ElevenLabs.VoiceSettings.Validate()
		if err != nil {
			problems = append(problems, err)
		}
	}

	return errors.Join(problems...)
}

// ResolveSecrets reads the credentials named by the *_env fields. getenv is
// usually os.Getenv.
func (c *Config) ResolveSecrets(getenv func(string) string) (Secrets, error) {
	secrets := Secrets{
		CloudinaryAPIKey:    getenv(c.Cloudinary.APIKeyEnv),
		CloudinaryAPISecret: getenv(c.Cloudinary.APISecretEnv),
		ElevenLabsAPIKey:    getenv(c.ElevenLabs.APIKeyEnv),
	}

	var missing []string

	for _, required := range []struct{ env, value string }{
		{c.Cloudinary.APIKeyEnv, secrets.CloudinaryAPIKey},
		{c.Cloudinary.APISecretEnv, secrets.CloudinaryAPISecret},
		{c.ElevenLabs.APIKeyEnv, secrets.ElevenLabsAPIKey},
	} {
		if required.value == "" {
			missing = append(missing, required.env)
		}
	}

	if len(missing) > 0 {
		return Secrets{}, fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}

	return secrets, nil
}

// Retry returns the HTTP retry policy shared by both provider clients.
func (c *Config) Retry() httpx.RetryConfig {
	return httpx.RetryConfig{
		MaxRetries: intValue(c.Batch.MaxRetries),
		WaitMin:    millis(c.Batch.RetryWaitMinMS),
		WaitMax:    millis(c.Batch.RetryWaitMaxMS),
		Timeout:    time.Duration(c.Batch.RequestTimeoutSeconds) * time.Second,
	}
}

// PageSize is the number of lines per batch. Zero when unset.
func (c *Config) PageSize() int {
	return intValue(c.Batch.PageSize)
}

// RequestDelay is the pause between two items of a batch.
func (c *Config) RequestDelay() time.Duration {
	return millis(intValue(c.Batch.DelayBetweenRequestMS))
}

// BatchDelay is the pause between two batches.
func (c *Config) BatchDelay() time.Duration {
	return millis(intValue(c.Batch.DelayBetweenBatchesMS))
}

func millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

func setString(field *string, fallback string) {
	if strings.TrimSpace(*field) == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field == 0 {
		*field = fallback
	}
}

func setIntPtr(field **int, fallback int) {
	if *field == nil {
		value := fallback
		*field = &value
	}
}

func intValue(field *int) int {
	if field == nil {
		return 0
	}

	return *field
}

func mask(value string) string {
	if value == "" {
		return "<unset>"
	}

	return redacted
}
