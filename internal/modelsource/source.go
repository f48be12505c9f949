// Package modelsource fetches serialized models from local files or Google
// Cloud Storage.
package modelsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// ErrInvalidURI is returned for gs:// URIs without a bucket or object.
var ErrInvalidURI = errors.New("invalid model URI")

const gcsScheme = "gs://"

// Reader fetches the bytes stored at a location.
type Reader interface {
	Read(ctx context.Context, location string) ([]byte, error)
}

// Open reads the model at uri. gs://bucket/object URIs are read from Cloud
// Storage; anything else is treated as a local path.
func Open(ctx context.Context, uri string) ([]byte, error) {
	var r Reader = FileReader{}
	if strings.HasPrefix(uri, gcsScheme) {
		r = &GCSReader{}
	}
	return r.Read(ctx, uri)
}

// ParseGCSURI splits gs://bucket/object into its bucket and object key.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q does not start with %s", ErrInvalidURI, uri, gcsScheme)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and an object", ErrInvalidURI, uri)
	}
	return bucket, object, nil
}

// FileReader reads local files.
type FileReader struct{}

var _ Reader = FileReader{}

func (FileReader) Read(ctx context.Context, path string) ([]byte, error) {
	log := klog.FromContext(ctx)

	startedAt := time.Now()
	//nolint:gosec // G304: path comes from the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	log.V(2).Info("read model file", "source", path, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}

// GCSReader reads objects from Cloud Storage using application default
// credentials. A nil Client creates one per call.
type GCSReader struct {
	Client *storage.Client
}

var _ Reader = (*GCSReader)(nil)

func (g *GCSReader) Read(ctx context.Context, uri string) ([]byte, error) {
	log := klog.FromContext(ctx)

	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client := g.Client
	if client == nil {
		client, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS storage client: %w", err)
		}
		defer client.Close()
	}

	log.Info("downloading model from GCS", "source", uri)

	startedAt := time.Now()
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object from GCS %q: %w", uri, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded model from GCS", "source", uri, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}
