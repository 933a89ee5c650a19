package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/database"
)

// replaceAttempts bounds retries when concurrent issuance for one contact
// trips the one-unused-token index.
const replaceAttempts = 3

// SQLRepository stores tokens in the recovery_tokens table.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a SQLRepository.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Replace(ctx context.Context, tok Token) error {
	var err error
	for attempt := 0; attempt < replaceAttempts; attempt++ {
		err = database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
			invalidate := `UPDATE recovery_tokens SET used = TRUE WHERE contact = $1 AND used = FALSE`
			if _, err := tx.ExecContext(ctx, invalidate, tok.Contact); err != nil {
				return err
			}

			insert :=
				`INSERT INTO recovery_tokens (token, contact, created_at, used)
				 VALUES ($1, $2, $3, FALSE)`
			_, err := tx.ExecContext(ctx, insert, tok.Token, tok.Contact, tok.CreatedAt)
			return err
		})
		if err == nil {
			return nil
		}
		if !database.IsUniqueViolation(err) {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *SQLRepository) Find(ctx context.Context, token string) (Token, error) {
	query :=
		`SELECT token, contact, created_at, used FROM recovery_tokens
		 WHERE token = $1`

	var tok Token
	err := r.db.QueryRowContext(ctx, query, token).Scan(&tok.Token, &tok.Contact, &tok.CreatedAt, &tok.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("db error: %w", err)
	}
	return tok, nil
}

func (r *SQLRepository) MarkUsed(ctx context.Context, token string) error {
	query := `UPDATE recovery_tokens SET used = TRUE WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Claim(ctx context.Context, token string) (Token, error) {
	query :=
		`UPDATE recovery_tokens SET used = TRUE
		 WHERE token = $1 AND used = FALSE
		 RETURNING contact, created_at`

	tok := Token{Token: token, Used: true}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&tok.Contact, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("db error: %w", err)
	}
	return tok, nil
}
