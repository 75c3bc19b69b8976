// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrResellerNotFound = errors.New("reseller not found")

// Reseller is a principal that owns users and licenses up to optional
// quotas. The current_* counters are caches; the authoritative value is
// always the live relationship count.
type Reseller struct {
	ID                   int       `json:"id"`
	Name                 string    `json:"name"`
	MaxUsersQuota        *int      `json:"maxUsersQuota,omitempty"`
	MaxLicensesQuota     *int      `json:"maxLicensesQuota,omitempty"`
	CurrentUsersCount    int       `json:"currentUsersCount"`
	CurrentLicensesCount int       `json:"currentLicensesCount"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type ResellerStore struct {
	db *sql.DB
}

func NewResellerStore(db *sql.DB) *ResellerStore {
	return &ResellerStore{db: db}
}

const resellerColumns = `id, name, max_users_quota, max_licenses_quota, current_users_count, current_licenses_count, created_at, updated_at`

func scanReseller(row interface{ Scan(...any) error }) (*Reseller, error) {
	reseller := &Reseller{}
	err := row.Scan(
		&reseller.ID,
		&reseller.Name,
		&reseller.MaxUsersQuota,
		&reseller.MaxLicensesQuota,
		&reseller.CurrentUsersCount,
		&reseller.CurrentLicensesCount,
		&reseller.CreatedAt,
		&reseller.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return reseller, nil
}

func (s *ResellerStore) Create(ctx context.Context, name string, maxUsersQuota, maxLicensesQuota *int) (*Reseller, error) {
	query := `
		INSERT INTO resellers (name, max_users_quota, max_licenses_quota)
		VALUES (?, ?, ?)
		RETURNING ` + resellerColumns

	return scanReseller(s.db.QueryRowContext(ctx, query, name, maxUsersQuota, maxLicensesQuota))
}

func (s *ResellerStore) Get(ctx context.Context, id int) (*Reseller, error) {
	query := `SELECT ` + resellerColumns + ` FROM resellers WHERE id = ?`

	reseller, err := scanReseller(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrResellerNotFound
	}
	if err != nil {
		return nil, err
	}

	return reseller, nil
}

func (s *ResellerStore) List(ctx context.Context) ([]*Reseller, error) {
	query := `SELECT ` + resellerColumns + ` FROM resellers ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resellers []*Reseller
	for rows.Next() {
		reseller, err := scanReseller(rows)
		if err != nil {
			return nil, err
		}
		resellers = append(resellers, reseller)
	}

	return resellers, rows.Err()
}

// SetQuotas writes the quota ceilings. Validation against current usage
// belongs to the quota service, not here.
func (s *ResellerStore) SetQuotas(ctx context.Context, id int, maxUsersQuota, maxLicensesQuota *int) error {
	query := `UPDATE resellers SET max_users_quota = ?, max_licenses_quota = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, maxUsersQuota, maxLicensesQuota, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrResellerNotFound
	}

	return nil
}

// LiveUserCount counts users currently assigned to the reseller. This is the
// source of truth the cached counter is recomputed from.
func (s *ResellerStore) LiveUserCount(ctx context.Context, id int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE reseller_id = ?`, id).Scan(&count)
	return count, err
}

// LiveLicenseCount counts live (not soft-deleted) licenses owned by the
// reseller.
func (s *ResellerStore) LiveLicenseCount(ctx context.Context, id int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM licenses WHERE reseller_id = ? AND deleted_at IS NULL`, id).Scan(&count)
	return count, err
}

// SetCounts overwrites the cached counters.
func (s *ResellerStore) SetCounts(ctx context.Context, id, usersCount, licensesCount int) error {
	query := `UPDATE resellers SET current_users_count = ?, current_licenses_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, usersCount, licensesCount, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrResellerNotFound
	}

	return nil
}

func (s *ResellerStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resellers WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrResellerNotFound
	}

	return nil
}
