package responses

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("responses: not found")
	ErrConflict        = errors.New("responses: conflict")
	ErrInvalidArgument = errors.New("responses: invalid argument")
)

// Repository is the document-store contract for survey responses.
type Repository interface {
	// Create fails with ErrConflict when the session id or content hash is taken.
	Create(ctx context.Context, r Response) error
	Get(ctx context.Context, id string) (Response, error)
	FindBySession(ctx context.Context, sessionID string) (Response, error)
	FindByContentHash(ctx context.Context, hash string) (Response, error)
	// Update stores r only if the stored version equals expected.
	Update(ctx context.Context, r Response, expected int64) error
	// List returns up to limit responses after the cursor, ordered by (CreatedAt, ID).
	List(ctx context.Context, f Filter, after Cursor, limit int) ([]Response, error)
	// ContactUsed reports whether a response of the survey created strictly
	// before the cursor captured the contact.
	ContactUsed(ctx context.Context, surveyID, contactKey string, before Cursor) (bool, error)
}
