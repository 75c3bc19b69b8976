// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var ErrActivationNotFound = errors.New("activation not found")

// Activation binds one device, identified by an opaque caller-supplied hash,
// to a license. The hash is never interpreted or validated here.
type Activation struct {
	ID          int               `json:"id"`
	LicenseID   int               `json:"licenseId"`
	DeviceHash  string            `json:"deviceHash"`
	DeviceInfo  map[string]string `json:"deviceInfo"`
	ActivatedAt time.Time         `json:"activatedAt"`
	LastSeenAt  *time.Time        `json:"lastSeenAt,omitempty"`
}

type ActivationStore struct {
	db *sql.DB
}

func NewActivationStore(db *sql.DB) *ActivationStore {
	return &ActivationStore{db: db}
}

const activationColumns = `id, license_id, device_hash, device_info, activated_at, last_seen_at`

func scanActivation(row interface{ Scan(...any) error }) (*Activation, error) {
	activation := &Activation{}
	var infoJSON string
	err := row.Scan(
		&activation.ID,
		&activation.LicenseID,
		&activation.DeviceHash,
		&infoJSON,
		&activation.ActivatedAt,
		&activation.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	if infoJSON != "" {
		if err := json.Unmarshal([]byte(infoJSON), &activation.DeviceInfo); err != nil {
			return nil, err
		}
	}

	return activation, nil
}

func (s *ActivationStore) Get(ctx context.Context, licenseID int, deviceHash string) (*Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = ? AND device_hash = ?`

	activation, err := scanActivation(s.db.QueryRowContext(ctx, query, licenseID, deviceHash))
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}

	return activation, nil
}

func (s *ActivationStore) Create(ctx context.Context, licenseID int, deviceHash string, deviceInfo map[string]string) (*Activation, error) {
	infoJSON, err := json.Marshal(deviceInfo)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO activations (license_id, device_hash, device_info, activated_at)
		VALUES (?, ?, ?, ?)
		RETURNING ` + activationColumns

	return scanActivation(s.db.QueryRowContext(ctx, query, licenseID, deviceHash, string(infoJSON), time.Now()))
}

// Touch updates last_seen_at for an existing binding and returns the fresh
// row.
func (s *ActivationStore) Touch(ctx context.Context, id int) (*Activation, error) {
	query := `
		UPDATE activations SET last_seen_at = ? WHERE id = ?
		RETURNING ` + activationColumns

	activation, err := scanActivation(s.db.QueryRowContext(ctx, query, time.Now(), id))
	if err == sql.ErrNoRows {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}

	return activation, nil
}

func (s *ActivationStore) CountByLicense(ctx context.Context, licenseID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activations WHERE license_id = ?`, licenseID).Scan(&count)
	return count, err
}

func (s *ActivationStore) ListByLicense(ctx context.Context, licenseID int) ([]*Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = ? ORDER BY activated_at ASC`

	rows, err := s.db.QueryContext(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*Activation
	for rows.Next() {
		activation, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		activations = append(activations, activation)
	}

	return activations, rows.Err()
}

// Delete removes a single binding. Returns false if there was nothing to
// remove, which is not an error.
func (s *ActivationStore) Delete(ctx context.Context, licenseID int, deviceHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activations WHERE license_id = ? AND device_hash = ?`, licenseID, deviceHash)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// CountRecentlyActive counts bindings seen within the window. Display-only:
// no binding decision reads this.
func (s *ActivationStore) CountRecentlyActive(ctx context.Context, licenseID int, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND last_seen_at IS NOT NULL AND last_seen_at >= ?`,
		licenseID, cutoff).Scan(&count)
	return count, err
}

// CountInactive counts bindings never seen or last seen before the window.
func (s *ActivationStore) CountInactive(ctx context.Context, licenseID int, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		licenseID, cutoff).Scan(&count)
	return count, err
}
