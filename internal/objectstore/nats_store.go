// Package objectstore keeps narration scripts and staged audio in NATS
// JetStream object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	scriptPrefix   = "scripts"
	audioPrefix    = "audio"
	scriptSuffix   = ".json"
	metaContentKey = "content-type"
)

// ErrNotFound is returned by Download for a key that is not in the bucket.
var ErrNotFound = fmt.Errorf("objectstore: %w: object not found", core.ErrInvalidInput)

// NatsObjectStore implements core.ObjectStore on one JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
	// contentType is recorded in the metadata of every object put.
	contentType string
}

var _ core.ObjectStore = (*NatsObjectStore)(nil)

// New binds to bucketName, creating it on first use. contentType may be empty.
func New(jetstreamContext nats.JetStreamContext, bucketName, contentType string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("tts-uploader %s bucket", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket:      bucketName,
		store:       store,
		contentType: contentType,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object. A missing key yields ErrNotFound.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	meta := &nats.ObjectMeta{Name: key}
	if n.contentType != "" {
		meta.Metadata = map[string]string{metaContentKey: n.contentType}
	}

	_, err = n.store.Put(meta, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// ScriptKey is the object key of a named script.
func ScriptKey(name string) string {
	return path.Join(scriptPrefix, script.SanitizeName(name)+scriptSuffix)
}

// AudioKey is the object key of a staged clip.
func AudioKey(outputName, extension string) string {
	return path.Join(audioPrefix, outputName+extension)
}
