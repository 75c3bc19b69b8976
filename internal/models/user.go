// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is a managed end user that can be assigned to at most one reseller.
type User struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	ResellerID *int      `json:"resellerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, name string) (*User, error) {
	query := `
		INSERT INTO users (name)
		VALUES (?)
		RETURNING id, name, reseller_id, created_at, updated_at
	`

	user := &User{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&user.ID,
		&user.Name,
		&user.ResellerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *UserStore) Get(ctx context.Context, id int) (*User, error) {
	query := `
		SELECT id, name, reseller_id, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	user := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.ResellerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *UserStore) ListByReseller(ctx context.Context, resellerID int) ([]*User, error) {
	query := `
		SELECT id, name, reseller_id, created_at, updated_at
		FROM users
		WHERE reseller_id = ?
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, resellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.ResellerID,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetReseller writes the reseller assignment. nil clears it.
func (s *UserStore) SetReseller(ctx context.Context, id int, resellerID *int) error {
	query := `UPDATE users SET reseller_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, resellerID, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}
