// Package core defines the shared interfaces, request types and error taxonomy
// of the narration upload pipeline.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest describes a single text-to-speech conversion.
type SpeechRequest struct {
	VoiceID string
	Text    string
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// UploadRequest describes a single media upload.
type UploadRequest struct {
	// Name is the base public identifier; the uploader may add a unique suffix.
	Name     string
	FileName string
	Data     []byte
}

// Asset is the descriptor returned by the media host after a successful upload.
type Asset struct {
	PublicID     string `json:"publicId"`
	SecureURL    string `json:"secureUrl"`
	Bytes        int64  `json:"bytes"`
	Format       string `json:"format,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
}

// Uploader pushes media to the remote host.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (Asset, error)
}
