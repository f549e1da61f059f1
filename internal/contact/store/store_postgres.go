package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"idlink/internal/contact/models"
	"idlink/pkg/platform/sentinel"
)

// DBTX abstracts *sql.DB and *sql.Tx so the same store runs standalone or
// inside the reconciliation transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists contacts in PostgreSQL. The store is pure I/O; all
// reconciliation decisions live in the service.
type Postgres struct {
	db DBTX
}

// NewPostgres constructs a store over a database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// NewPostgresTx constructs a store bound to an open transaction.
func NewPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{db: tx}
}

const contactColumns = "id, email, phone, linked_id, precedence, created_at, updated_at, deleted_at"

// FindActiveByIdentifier locks the matched rows (FOR UPDATE) so concurrent
// reconciliations sharing an identifier serialize on the same cluster while
// disjoint requests proceed in parallel.
func (s *Postgres) FindActiveByIdentifier(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if email != nil {
		args = append(args, *email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if phone != nil {
		args = append(args, *phone)
		conds = append(conds, fmt.Sprintf("phone = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND (` + strings.Join(conds, " OR ") + `)
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find contacts by identifier: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Postgres) FindPrimaries(ctx context.Context, ids []int64) ([]models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND precedence = 'primary' AND id = ANY($1)
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find primary contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Postgres) FindCluster(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL AND (id = $1 OR linked_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, primaryID)
	if err != nil {
		return nil, fmt.Errorf("find cluster: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *Postgres) Insert(ctx context.Context, contact models.NewContact) (models.Contact, error) {
	query := `
		INSERT INTO contacts (email, phone, linked_id, precedence)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + contactColumns + `
	`
	created, err := scanContact(s.db.QueryRowContext(ctx, query,
		optString(contact.Email),
		optString(contact.Phone),
		optInt64(contact.LinkedID),
		string(contact.Precedence),
	))
	if err != nil {
		return models.Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return created, nil
}

// Relink demotes the absorbed primary and re-points its whole subtree at the
// root in one statement, so no two-hop chain can survive a merge.
func (s *Postgres) Relink(ctx context.Context, absorbedID, rootID int64) error {
	query := `
		UPDATE contacts
		SET precedence = 'secondary', linked_id = $2, updated_at = now()
		WHERE deleted_at IS NULL AND (id = $1 OR linked_id = $1)
	`
	if _, err := s.db.ExecContext(ctx, query, absorbedID, rootID); err != nil {
		return fmt.Errorf("relink cluster %d to %d: %w", absorbedID, rootID, err)
	}
	return nil
}

// SoftDelete tombstones a contact. Not part of the reconciliation flow; kept
// for operational tooling. Returns sentinel.ErrNotFound when no active row
// carries the id.
func (s *Postgres) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE contacts SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete contact %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("soft delete contact %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

type contactRow interface {
	Scan(dest ...any) error
}

func scanContact(row contactRow) (models.Contact, error) {
	var (
		c          models.Contact
		email      sql.NullString
		phone      sql.NullString
		linkedID   sql.NullInt64
		precedence string
		deletedAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &email, &phone, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return models.Contact{}, err
	}
	if email.Valid {
		c.Email = &email.String
	}
	if phone.Valid {
		c.Phone = &phone.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	c.Precedence = models.Precedence(precedence)
	return c, nil
}

func scanContacts(rows *sql.Rows) ([]models.Contact, error) {
	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

func optString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func optInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
