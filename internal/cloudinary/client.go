// Package cloudinary uploads audio to Cloudinary with signed multipart requests.
package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/httpx"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/book-expert/tts-uploader/internal/signing"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Provider is the name reported in every ProviderError from this package.
const Provider = "cloudinary"

// Defaults.
const (
	DefaultBaseURL = "https://api.cloudinary.com"
	// DefaultResourceType is the resource type audio is stored under.
	DefaultResourceType = "video"
)

const (
	uploadPathFmt     = "/v1_1/%s/%s/upload"
	fieldFile         = "file"
	fieldAPIKey       = "api_key"
	fieldSignature    = "signature"
	headerContentType = "Content-Type"
	uniqueSuffixLen   = 8
)

var (
	// ErrInvalidOptions wraps every configuration problem found by New.
	ErrInvalidOptions = fmt.Errorf("cloudinary: %w", core.ErrInvalidInput)
	// ErrMissingCloudName is returned when no cloud name is configured.
	ErrMissingCloudName = errors.New("cloud name is required")
	// ErrMissingAPIKey is returned when no api key is configured.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrUnsignedFolder is returned when a folder is configured but not signed.
	ErrUnsignedFolder = errors.New("folder is set but not in the signed parameter set")
	// ErrEmptyUpload is returned for an upload without data or name.
	ErrEmptyUpload = fmt.Errorf("cloudinary: %w: upload needs a name and data", core.ErrInvalidInput)
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	CloudName    string
	APIKey       string
	APISecret    string
	ResourceType string
	// Folder is optional. When set it must be part of SignedParams.
	Folder string
	// SignedParams is the signed parameter set; empty means signing.DefaultSignedParams.
	SignedParams []string
	// UniqueSuffix appends a random suffix to every public id.
	UniqueSuffix bool
	Retry        httpx.RetryConfig
	Logger       *logger.Logger
	// Now is the clock used for timestamps; nil means time.Now.
	Now func() time.Time
}

// Client uploads media. It implements core.Uploader.
type Client struct {
	httpClient   *retryablehttp.Client
	builder      *signing.Builder
	endpoint     string
	apiKey       string
	apiSecret    string
	resourceType string
	folder       string
	uniqueSuffix bool
	now          func() time.Time
}

var _ core.Uploader = (*Client)(nil)

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.CloudName) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, ErrMissingCloudName)
	}

	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, ErrMissingAPIKey)
	}

	if opts.APISecret == "" {
		return nil, signing.ErrMissingSecret
	}

	builder, err := signing.NewBuilder(opts.SignedParams)
	if err != nil {
		return nil, err
	}

	if opts.Folder != "" && !builder.Includes(signing.ParamFolder) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, ErrUnsignedFolder)
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	resourceType := opts.ResourceType
	if resourceType == "" {
		resourceType = DefaultResourceType
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		httpClient: httpx.NewRetryClient(opts.Retry, opts.Logger),
		builder:    builder,
		endpoint: baseURL + fmt.Sprintf(uploadPathFmt,
			url.PathEscape(opts.CloudName), url.PathEscape(resourceType)),
		apiKey:       opts.APIKey,
		apiSecret:    opts.APISecret,
		resourceType: resourceType,
		folder:       opts.Folder,
		uniqueSuffix: opts.UniqueSuffix,
		now:          now,
	}, nil
}

// Endpoint returns the upload URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SignedFields returns the non-file form fields for an upload of publicID at
// timestamp, together with the signature result for diagnostics. Only
// parameters in the signed set are sent.
func (c *Client) SignedFields(publicID string, timestamp int64) (map[string]string, signing.Result, error) {
	params := map[string]any{
		signing.ParamPublicID:     publicID,
		signing.ParamTimestamp:    timestamp,
		signing.ParamResourceType: c.resourceType,
	}

	if c.folder != "" {
		params[signing.ParamFolder] = c.folder
	}

	result, err := c.builder.Sign(params, c.apiSecret)
	if err != nil {
		return nil, signing.Result{}, err
	}

	fields := map[string]string{
		fieldAPIKey:    c.apiKey,
		fieldSignature: result.Signature,
	}

	for _, name := range c.builder.SignedParams() {
		value, ok := params[name]
		if !ok {
			continue
		}

		fields[name] = fmt.Sprint(value)
	}

	return fields, result, nil
}

// Upload sends req.Data as a signed upload and returns the stored asset.
func (c *Client) Upload(ctx context.Context, req core.UploadRequest) (core.Asset, error) {
	if req.Name == "" || len(req.Data) == 0 {
		return core.Asset{}, ErrEmptyUpload
	}

	publicID := req.Name
	if c.uniqueSuffix {
		publicID = NewPublicID("", req.Name)
	}

	fields, result, err := c.SignedFields(publicID, c.now().Unix())
	if err != nil {
		return core.Asset{}, err
	}

	body, contentType, err := encodeForm(fields, req.FileName, req.Data)
	if err != nil {
		return core.Asset{}, err
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return core.Asset{}, fmt.Errorf("failed to create upload request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)

	resp, respBody, err := httpx.Do(c.httpClient, httpReq)
	if err != nil {
		return core.Asset{}, transportError(err)
	}

	switch outcome := ParseUploadResponse(resp.StatusCode, resp.Header, respBody).(type) {
	case Success:
		return outcome.Asset, nil
	case Failure:
		return core.Asset{}, explainSignatureMismatch(outcome.Err, result)
	case Malformed:
		return core.Asset{}, outcome.ProviderError()
	default:
		return core.Asset{}, fmt.Errorf("unexpected outcome %T", outcome)
	}
}

// explainSignatureMismatch appends the locally signed canonical string when
// the provider rejects the signature and echoes what it expected.
func explainSignatureMismatch(providerErr *core.ProviderError, result signing.Result) error {
	if providerErr.Kind != core.KindProviderAuth {
		return providerErr
	}

	expected, ok := signing.ExpectedFromProviderMessage(providerErr.Message)
	if !ok || expected == result.Canonical {
		return providerErr
	}

	providerErr.Message = fmt.Sprintf("%s (signed %q)", providerErr.Message, result.Canonical)

	return providerErr
}

func encodeForm(fields map[string]string, fileName string, data []byte) ([]byte, string, error) {
	var buffer bytes.Buffer

	writer := multipart.NewWriter(&buffer)

	for _, name := range sortedFieldNames(fields) {
		err := writer.WriteField(name, fields[name])
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if fileName == "" {
		fileName = fieldFile
	}

	part, err := writer.CreateFormFile(fieldFile, fileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}

	_, err = part.Write(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buffer.Bytes(), writer.FormDataContentType(), nil
}

func sortedFieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("cloudinary request aborted: %w", err)
	}

	return &core.ProviderError{
		Provider: Provider,
		Kind:     core.KindProviderTransient,
		Message:  err.Error(),
	}
}

// NewPublicID builds a unique public id of the form {prefix}_{name}_{suffix}.
func NewPublicID(prefix, name string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:uniqueSuffixLen]

	return script.OutputName(prefix, name) + "_" + suffix
}
