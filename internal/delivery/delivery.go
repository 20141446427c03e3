// Package delivery hands assembled export bundles to their destination.
// Every sink writes the same layout under <prefix>/<manuscript>/<bundle>/:
// each bundle file plus bundle.zip.
package delivery

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/ppiankov/claimgate/internal/model"
)

// ArchiveName is the object name of the zipped bundle
const ArchiveName = "bundle.zip"

// Sink accepts a bundle's byte streams and reports where they went
type Sink interface {
	Deliver(ctx context.Context, bundle *model.ExportBundle) (string, error)
}

// Object is one named stream to store
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// BundlePath is the slash-separated directory a bundle is stored under
func BundlePath(prefix string, bundle *model.ExportBundle) string {
	return path.Join(prefix, bundle.Metadata.ManuscriptID, bundle.Metadata.BundleID)
}

// Objects lists everything a sink stores for bundle, keys relative to prefix
func Objects(prefix string, bundle *model.ExportBundle) []Object {
	base := BundlePath(prefix, bundle)
	out := make([]Object, 0, len(bundle.Files)+1)
	for _, f := range bundle.Files {
		out = append(out, Object{Key: path.Join(base, f.Name), ContentType: f.ContentType, Data: f.Data})
	}
	out = append(out, Object{Key: path.Join(base, ArchiveName), ContentType: "application/zip", Data: bundle.Archive})
	return out
}

// DirSink writes bundles to a local directory
type DirSink struct {
	root string
}

// NewDirSink creates a sink rooted at dir
func NewDirSink(dir string) *DirSink {
	return &DirSink{root: dir}
}

func (s *DirSink) Deliver(ctx context.Context, bundle *model.ExportBundle) (string, error) {
	objects := Objects("", bundle)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := filepath.Join(s.root, filepath.FromSlash(obj.Key))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", fmt.Errorf("create bundle dir: %w", err)
		}
		tmp := p + ".tmp"
		if err := os.WriteFile(tmp, obj.Data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", obj.Key, err)
		}
		if err := os.Rename(tmp, p); err != nil {
			_ = os.Remove(tmp)
			return "", fmt.Errorf("rename %s: %w", obj.Key, err)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(BundlePath("", bundle))), nil
}

// New builds the sink selected by cfg
func New(ctx context.Context, cfg model.DeliveryConfig) (Sink, error) {
	switch cfg.Sink {
	case "", "dir":
		return NewDirSink(cfg.Dir), nil
	case "s3":
		return NewS3Sink(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case "gcs":
		return NewGCSSink(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported delivery sink: %s", cfg.Sink)
	}
}
