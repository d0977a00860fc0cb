package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound        = errors.New("storage: object not found")
	ErrInvalidArgument = errors.New("storage: invalid argument")
)

// Store is the object storage contract for call recordings and generated reports.
// Keys are relative; implementations apply their own prefix.

type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// SignedURL returns a time-limited download URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DefaultURLTTL is used when a caller passes a non-positive ttl.
const DefaultURLTTL = 15 * time.Minute
