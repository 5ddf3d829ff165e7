// Package source opens merge inputs at a byte offset.
//
// Inputs are local paths or s3://bucket/key URIs. Every Open returns an
// independent stream, so the header pass and the data pass never share a
// file handle.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ErrInvalidURI indicates a malformed s3:// URI.
var ErrInvalidURI = errors.New("invalid S3 URI")

// Opener opens name positioned at offset.
type Opener interface {
	Open(ctx context.Context, name string, offset int64) (io.ReadCloser, error)
}

// Local opens files on the local filesystem.
type Local struct{}

// Open opens path and seeks to offset.
func (Local) Open(_ context.Context, path string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", path, offset, err)
		}
	}
	return f, nil
}

// IsS3 reports whether name is an s3:// URI.
func IsS3(name string) bool {
	return strings.HasPrefix(name, "s3://")
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3(uri) {
		return "", "", fmt.Errorf("%w: %q must start with s3://", ErrInvalidURI, uri)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidURI, uri)
	}
	if key == "" {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// Router sends s3:// names to an S3 opener and everything else to Local.
// The S3 opener is created on first use so purely local merges never load
// AWS configuration.
type Router struct {
	Local Opener

	newS3 func(ctx context.Context) (Opener, error)
	mu    sync.Mutex
	s3    Opener
}

// NewRouter returns a Router backed by the local filesystem and the default
// AWS configuration.
func NewRouter() *Router {
	return &Router{
		Local: Local{},
		newS3: func(ctx context.Context) (Opener, error) {
			return NewS3(ctx)
		},
	}
}

// WithS3 returns a Router that uses o for s3:// names.
func WithS3(local, o Opener) *Router {
	return &Router{
		Local: local,
		newS3: func(context.Context) (Opener, error) { return o, nil },
	}
}

// Open dispatches on the form of name.
func (r *Router) Open(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	if !IsS3(name) {
		local := r.Local
		if local == nil {
			local = Local{}
		}
		return local.Open(ctx, name, offset)
	}
	o, err := r.s3Opener(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return o.Open(ctx, name, offset)
}

// s3Opener returns the S3 opener, creating it if needed. Failures are not
// remembered, so a later call with a live context can still succeed.
func (r *Router) s3Opener(ctx context.Context) (Opener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 != nil {
		return r.s3, nil
	}
	if r.newS3 == nil {
		return nil, errors.New("no S3 opener configured")
	}
	o, err := r.newS3(ctx)
	if err != nil {
		return nil, err
	}
	r.s3 = o
	return o, nil
}
