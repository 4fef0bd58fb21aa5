package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/incident-tracker/internal/models"
)

// PasswordResetRepository stores reset tokens in PostgreSQL. The table keeps
// at most one row per user.
type PasswordResetRepository struct {
	db *sqlx.DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db *sqlx.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// ReplaceForUser deletes the user's current token and inserts token in one
// transaction.
func (r *PasswordResetRepository) ReplaceForUser(ctx context.Context, token *models.PasswordResetToken) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace reset token: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, token.UserID); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}

	const insert = `INSERT INTO password_reset_tokens (token, user_id, expires_at) VALUES ($1, $2, $3) RETURNING id`
	if err = tx.QueryRowxContext(ctx, insert, token.Token, token.UserID, token.ExpiresAt).Scan(&token.ID); err != nil {
		return duplicateKey(err, "insert reset token", "reset token already in use")
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace reset token: %w", err)
	}
	return nil
}

// FindByToken returns the token row or sql.ErrNoRows.
func (r *PasswordResetRepository) FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	const query = `SELECT id, token, user_id, expires_at FROM password_reset_tokens WHERE token = $1`
	var prt models.PasswordResetToken
	if err := r.db.GetContext(ctx, &prt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return &prt, nil
}

// DeleteByToken removes the token row.
func (r *PasswordResetRepository) DeleteByToken(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	return requireAffected(res, "delete reset token")
}

// DeleteExpired removes every token that expired at or before now.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens rows affected: %w", err)
	}
	return n, nil
}
