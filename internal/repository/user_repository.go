package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/incident-tracker/internal/models"
)

const userSelect = `SELECT u.id, u.name, u.first_surname, COALESCE(u.second_surname, '') AS second_surname, u.email, u.password,
COALESCE(u.role_id, 0) AS role_id, COALESCE(r.name, '') AS role_name
FROM users u LEFT JOIN roles r ON r.id = u.role_id`

// UserRepository provides database access for users and their role.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, userSelect+` WHERE u.email = $1 LIMIT 1`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, userSelect+` WHERE u.id = $1 LIMIT 1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a user. When RoleID is unset the role is resolved from
// RoleName. A taken email is reported as a CONFLICT error.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `INSERT INTO users (name, first_surname, second_surname, email, password, role_id)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, COALESCE(NULLIF($6::bigint, 0), (SELECT id FROM roles WHERE name = $7)))
RETURNING id, COALESCE(role_id, 0)`
	err := r.db.QueryRowxContext(ctx, query,
		user.Name,
		user.FirstSurname,
		user.SecondSurname,
		user.Email,
		user.Password,
		user.RoleID,
		user.RoleName,
	).Scan(&user.ID, &user.RoleID)
	if err != nil {
		return duplicateKey(err, "create user", "the email is already registered")
	}
	return nil
}

// UpdatePassword stores a new password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res, "update password")
}
