package delivery

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/ppiankov/claimgate/internal/model"
)

// WriterOpener opens a writer for one object
type WriterOpener func(ctx context.Context, bucket, key, contentType string) io.WriteCloser

// GCSSink uploads bundles to a Google Cloud Storage bucket
type GCSSink struct {
	open   WriterOpener
	close  func() error
	bucket string
	prefix string
}

// NewGCSSink creates a sink using application default credentials
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs delivery requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	open := func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}
	s := NewGCSSinkWithOpener(open, bucket, prefix)
	s.close = client.Close
	return s, nil
}

// NewGCSSinkWithOpener creates a sink over a custom writer source
func NewGCSSinkWithOpener(open WriterOpener, bucket, prefix string) *GCSSink {
	return &GCSSink{open: open, bucket: bucket, prefix: prefix}
}

func (s *GCSSink) Deliver(ctx context.Context, bundle *model.ExportBundle) (string, error) {
	for _, obj := range Objects(s.prefix, bundle) {
		w := s.open(ctx, s.bucket, obj.Key, obj.ContentType)
		if _, err := w.Write(obj.Data); err != nil {
			_ = w.Close()
			return "", fmt.Errorf("gcs write %s: %w", obj.Key, err)
		}
		// Close commits the object
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("gcs commit %s: %w", obj.Key, err)
		}
	}
	return fmt.Sprintf("gs://%s/%s/", s.bucket, BundlePath(s.prefix, bundle)), nil
}

// Close releases the underlying client, if the sink owns one
func (s *GCSSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
