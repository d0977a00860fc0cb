package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object

	// BaseURL prefixes signed URLs. Defaults to "memory://objects".
	BaseURL string
	Now     func() time.Time
}

type Object struct {
	ContentType string
	Data        []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if key == "" || body == nil {
		return ErrInvalidArgument
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{ContentType: contentType, Data: data}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o.Data)), nil
}

func (m *MemoryStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	base := m.BaseURL
	if base == "" {
		base = "memory://objects"
	}
	q := url.Values{}
	q.Set("expires", now().Add(ttl).UTC().Format(time.RFC3339))
	return base + "/" + key + "?" + q.Encode(), nil
}

// Object returns a stored object; ok is false when absent.
func (m *MemoryStore) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}
