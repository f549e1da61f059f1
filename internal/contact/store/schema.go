package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the contact table DDL. Equality indexes on email, phone, and
// linked_id back the three lookup shapes the reconciliation flow issues.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id          BIGSERIAL PRIMARY KEY,
	email       TEXT,
	phone       TEXT,
	linked_id   BIGINT REFERENCES contacts (id),
	precedence  TEXT NOT NULL CHECK (precedence IN ('primary', 'secondary')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at  TIMESTAMPTZ,
	CHECK ((precedence = 'primary') = (linked_id IS NULL))
);

CREATE INDEX IF NOT EXISTS contacts_email_idx ON contacts (email) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS contacts_phone_idx ON contacts (phone) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS contacts_linked_id_idx ON contacts (linked_id) WHERE deleted_at IS NULL;
`

// EnsureSchema applies the contact schema. It is idempotent and safe to run
// on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure contacts schema: %w", err)
	}
	return nil
}
