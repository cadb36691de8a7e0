// Package storage keeps attachment blobs in a Google Cloud Storage bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

// Object is what Put returns: the public URL persisted with the attachment and
// the key it was stored under.
type Object struct {
	URL string
	Key string
}

// GCS stores blobs in a single bucket and publishes them under a fixed base URL.
type GCS struct {
	client     *gcs.Client
	bucket     string
	publicBase string
}

// NewGCS connects a storage client from configuration.
func NewGCS(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("STORAGE_BUCKET not provided")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "create storage client", goerr.V("bucket", cfg.Bucket))
	}
	logger.Info("storage client ready", zap.String("bucket", cfg.Bucket))
	return &GCS{client: client, bucket: cfg.Bucket, publicBase: cfg.PublicBase()}, nil
}

// Put uploads r under key.
func (g *GCS) Put(ctx context.Context, key, contentType string, r io.Reader) (Object, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return Object{}, goerr.Wrap(err, "upload blob", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return Object{}, goerr.Wrap(err, "finalize blob", goerr.V("key", key))
	}
	return Object{URL: g.publicBase + key, Key: key}, nil
}

// Delete removes the object at key. A missing object counts as deleted so
// that retried sweeps converge.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return goerr.Wrap(err, "delete blob", goerr.V("key", key))
	}
	return nil
}

// KeyFromURL derives the storage key for a URL produced by Put.
func (g *GCS) KeyFromURL(url string) (string, bool) {
	return KeyFromURL(g.publicBase, url)
}

// Close releases the client.
func (g *GCS) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

// KeyFromURL strips publicBase from url. ok is false when url lies outside the
// base or names no object.
func KeyFromURL(publicBase, url string) (string, bool) {
	if publicBase == "" || !strings.HasPrefix(url, publicBase) {
		return "", false
	}
	key := strings.TrimPrefix(url, publicBase)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", false
	}
	return key, true
}
