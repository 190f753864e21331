// Package httpx builds the retrying HTTP client shared by the provider clients.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/hashicorp/go-retryablehttp"
)

// Defaults applied by RetryConfig.withDefaults.
const (
	DefaultMaxRetries = 3
	DefaultWaitMin    = 1 * time.Second
	DefaultWaitMax    = 30 * time.Second
	DefaultTimeout    = 60 * time.Second
)

// MaxErrorBody caps how much of a failed response body is kept for diagnostics.
const MaxErrorBody = 64 << 10

// RetryConfig controls retry and timeout behaviour for one provider.
type RetryConfig struct {
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
	Timeout    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.WaitMin <= 0 {
		c.WaitMin = DefaultWaitMin
	}

	if c.WaitMax <= 0 {
		c.WaitMax = DefaultWaitMax
	}

	if c.WaitMax < c.WaitMin {
		c.WaitMax = c.WaitMin
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	return c
}

// NewRetryClient returns a client that retries transport failures and the
// statuses core.ClassifyStatus treats as transient. After the last attempt the
// final response is handed back to the caller unchanged so its body can be
// classified. log may be nil.
func NewRetryClient(cfg RetryConfig, log *logger.Logger) *retryablehttp.Client {
	cfg = cfg.withDefaults()

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.WaitMin
	client.RetryWaitMax = cfg.WaitMax
	client.CheckRetry = CheckRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client.Logger = nil
	if log != nil {
		client.Logger = NewLoggerAdapter(log)
	}

	return client
}

// CheckRetry is a retryablehttp.CheckRetry that follows the provider status
// taxonomy instead of retrying every 5xx.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return core.ClassifyStatus(resp.StatusCode) == core.KindProviderTransient, nil
}

// Do sends req and reads the whole response body. The returned response's
// body is already closed.
func Do(client *retryablehttp.Client, req *retryablehttp.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}

		return nil, nil, err
	}

	body, err := ReadBody(resp)
	if err != nil {
		return nil, nil, err
	}

	return resp, body, nil
}

// ReadBody reads and closes resp.Body. Bodies of failed responses are capped
// at MaxErrorBody.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.StatusCode >= http.StatusBadRequest {
		reader = io.LimitReader(resp.Body, MaxErrorBody)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// Truncate returns at most limit bytes of body as a string. The cut backs off
// to a rune boundary so valid UTF-8 input stays valid.
func Truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}

	cut := limit
	for cut > 0 && limit-cut < utf8.UTFMax && !utf8.RuneStart(body[cut]) {
		cut--
	}

	if !utf8.RuneStart(body[cut]) {
		cut = limit
	}

	return string(body[:cut])
}

// LoggerAdapter satisfies retryablehttp.LeveledLogger on top of the service logger.
type LoggerAdapter struct {
	log *logger.Logger
}

var _ retryablehttp.LeveledLogger = (*LoggerAdapter)(nil)

// NewLoggerAdapter wraps log.
func NewLoggerAdapter(log *logger.Logger) *LoggerAdapter {
	return &LoggerAdapter{log: log}
}

func (a *LoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.log.Error("%s", FormatKV(msg, keysAndValues...))
}

func (a *LoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.log.Info("%s", FormatKV(msg, keysAndValues...))
}

// Debug is dropped: retryablehttp logs every request at debug level.
func (a *LoggerAdapter) Debug(string, ...interface{}) {}

func (a *LoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.log.Warn("%s", FormatKV(msg, keysAndValues...))
}

// FormatKV renders retryablehttp's key/value pairs as "msg key=value ...".
// A trailing key without a value is ignored.
func FormatKV(msg string, keysAndValues ...interface{}) string {
	var builder strings.Builder

	builder.WriteString(msg)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&builder, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}

	return builder.String()
}
