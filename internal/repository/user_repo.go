package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"comm_core/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByPhone(ctx context.Context, phoneNumber string) (*domain.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, COALESCE(username, ''), COALESCE(profile_picture, ''), created_at
		FROM users WHERE phone_number = $1
	`, phoneNumber))
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, COALESCE(username, ''), COALESCE(profile_picture, ''), created_at
		FROM users WHERE id = $1
	`, id))
}

func (r *UserRepository) Create(ctx context.Context, phoneNumber string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (phone_number) VALUES ($1) RETURNING id
	`, phoneNumber).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, username, profilePicture string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET username = $1, profile_picture = $2 WHERE id = $3
	`, username, profilePicture, id)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.Username, &u.ProfilePicture, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}
