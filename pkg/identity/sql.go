package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/database"
)

// SQLRepository stores identities in the identities table. Queries use
// $N placeholders, which both pgx and modernc sqlite accept.
type SQLRepository struct {
	db database.DBTX
}

// NewSQLRepository creates a SQLRepository.
func NewSQLRepository(db database.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, id Identity) error {
	query :=
		`INSERT INTO identities (id, name, contact, credential_hash, template_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		id.ID, id.Name, id.Contact, id.CredentialHash, nullString(id.TemplatePath), id.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindByContact(ctx context.Context, contact string) (Identity, error) {
	query :=
		`SELECT id, name, contact, credential_hash, template_path, created_at
		 FROM identities
		 WHERE contact = $1`

	id, err := scanIdentity(r.db.QueryRowContext(ctx, query, contact))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) UpdateCredentialHash(ctx context.Context, contact string, hash []byte) error {
	query := `UPDATE identities SET credential_hash = $1 WHERE contact = $2`
	return r.execOne(ctx, query, hash, contact)
}

func (r *SQLRepository) SetTemplatePath(ctx context.Context, contact, path string) error {
	query := `UPDATE identities SET template_path = $1 WHERE contact = $2`
	return r.execOne(ctx, query, nullString(path), contact)
}

func (r *SQLRepository) ListEnrolled(ctx context.Context) ([]Identity, error) {
	query :=
		`SELECT id, name, contact, credential_hash, template_path, created_at
		 FROM identities
		 WHERE template_path IS NOT NULL
		 ORDER BY created_at, id`
	return r.list(ctx, query)
}

func (r *SQLRepository) List(ctx context.Context) ([]Identity, error) {
	query :=
		`SELECT id, name, contact, credential_hash, template_path, created_at
		 FROM identities
		 ORDER BY created_at, id`
	return r.list(ctx, query)
}

func (r *SQLRepository) list(ctx context.Context, query string) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s scanner) (Identity, error) {
	var id Identity
	var path sql.NullString
	if err := s.Scan(&id.ID, &id.Name, &id.Contact, &id.CredentialHash, &path, &id.CreatedAt); err != nil {
		return Identity{}, err
	}
	id.TemplatePath = path.String
	return id, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
