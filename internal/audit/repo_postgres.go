package audit

import (
	"context"
	"database/sql"
	"errors"

	"survey-platform/pkg/utils"
)

// Schema is the append-only audit table. UPDATE/DELETE are rejected by trigger.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id               UUID PRIMARY KEY,
		type             TEXT NOT NULL,
		actor_user_id    TEXT NOT NULL DEFAULT '',
		actor_role       TEXT NOT NULL DEFAULT '',
		survey_id        TEXT NOT NULL DEFAULT '',
		entity_id        TEXT NOT NULL,
		provider_call_id TEXT NOT NULL DEFAULT '',
		message          TEXT NOT NULL DEFAULT '',
		metadata         JSONB,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_entity_idx ON audit_events (entity_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS audit_events_survey_idx ON audit_events (survey_id, type, created_at)`,
	`CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_events_no_mutation ON audit_events`,
	`CREATE TRIGGER audit_events_no_mutation BEFORE UPDATE OR DELETE ON audit_events
		FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
}

// PostgresRepo persists events through database/sql (pgx stdlib driver).

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, Schema...)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: db is nil")
	}
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, type, actor_user_id, actor_role, survey_id, entity_id, provider_call_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.SurveyID, e.EntityID, e.ProviderCallID, e.Message, metadata, e.CreatedAt,
	)
	return err
}
