package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: record not found")
	ErrConflict        = errors.New("calls: concurrent update")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Repository is the document-store contract for call records.
type Repository interface {
	// Create fails with ErrConflict when the provider call id already exists.
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// FindByProviderCallID matches exactly first, then case-insensitively.
	FindByProviderCallID(ctx context.Context, providerCallID string) (Record, error)
	// FindUnreconciled returns the newest record created since `since` that
	// never received a webhook and matches the normalized numbers.
	FindUnreconciled(ctx context.Context, fromKey, toKey string, since time.Time) (Record, error)
	// Update stores r only if the stored version equals expected.
	Update(ctx context.Context, r Record, expected int64) error
	// List returns reconciled records only.
	List(ctx context.Context, f Filter) ([]Record, error)
}
