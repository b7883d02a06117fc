// Package objectstore provides a NATS JetStream implementation of the
// core.ObjectStore interface, used for synthesized audio artifacts and staged
// caller voice references.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsObjectStore implements core.ObjectStore over a single JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to the named bucket, creating it when it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
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

// Upload saves an object into the bucket.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes an object, e.g. a consumed caller voice reference.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
