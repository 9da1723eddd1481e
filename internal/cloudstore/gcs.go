// Package cloudstore mirrors run directories to a Google Cloud Storage bucket
// so a run computed on one machine can be served from another.
package cloudstore

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrObjectNotFound is returned by Bucket.Open for a missing key.
var ErrObjectNotFound = errors.New("cloudstore: object not found")

// Bucket is the subset of object storage the mirror needs.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// GCSBucket implements Bucket on a GCS bucket.
type GCSBucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSBucket opens bucket using application default credentials or the
// supplied options.
func NewGCSBucket(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSBucket, error) {
	if bucket == "" {
		return nil, eris.New("cloudstore: bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "cloudstore: create gcs client")
	}
	return &GCSBucket{client: client, bucket: client.Bucket(bucket)}, nil
}

// Put uploads r to key, replacing any existing object.
func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "cloudstore: upload %s", key)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "cloudstore: finalize %s", key)
	}
	return nil
}

// Open returns a reader for key.
func (b *GCSBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cloudstore: open %s", key)
	}
	return r, nil
}

// List returns the object names under prefix.
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "cloudstore: list %s", prefix)
		}
		keys = append(keys, attrs.Name)
	}
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error {
	return b.client.Close()
}
