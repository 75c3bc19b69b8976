// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

var ErrLicenseNotFound = errors.New("license not found")

// License lifecycle status values. Status and expires_at are tracked
// independently: a license can pass its expiry timestamp while status still
// reads "active". Classify resolves the combination.
const (
	LicenseStatusActive    = "active"
	LicenseStatusExpired   = "expired"
	LicenseStatusSuspended = "suspended"
	LicenseStatusReset     = "reset"
	LicenseStatusPending   = "pending"
)

type License struct {
	ID         int        `json:"id"`
	LicenseKey string     `json:"licenseKey"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	MaxDevices int        `json:"maxDevices"`
	DeviceType *string    `json:"deviceType,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	ResellerID *int       `json:"resellerId,omitempty"`
	UserID     *int       `json:"userId,omitempty"`
	DeletedAt  *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// LicenseState is the derived lifecycle state of a license at a point in
// time. It is computed fresh on every check and never stored.
type LicenseState int

const (
	StateActive LicenseState = iota
	StateExpiredByTime
	StateInactiveByStatus
)

// Classify resolves status and expiry into a single observed state. The
// expiry timestamp wins over the status field so a timestamp-expired license
// is reported as expired even while status still says active.
func (l *License) Classify(now time.Time) LicenseState {
	if l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
		return StateExpiredByTime
	}
	if l.Status != LicenseStatusActive {
		return StateInactiveByStatus
	}
	return StateActive
}

// IsUsable returns true if the license is active by status and not expired
// by timestamp.
func (l *License) IsUsable(now time.Time) bool {
	return l.Classify(now) == StateActive
}

// GenerateLicenseKey returns a new opaque license key. Keys are generated
// once at issue time and never change.
func GenerateLicenseKey() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	raw = strings.ToUpper(raw)

	var b strings.Builder
	for i := 0; i < len(raw); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(raw[i : i+4])
	}
	return b.String()
}

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, license_key, status, expires_at, max_devices, device_type, notes, reseller_id, user_id, deleted_at, created_at, updated_at`

func scanLicense(row interface{ Scan(...any) error }) (*License, error) {
	license := &License{}
	err := row.Scan(
		&license.ID,
		&license.LicenseKey,
		&license.Status,
		&license.ExpiresAt,
		&license.MaxDevices,
		&license.DeviceType,
		&license.Notes,
		&license.ResellerID,
		&license.UserID,
		&license.DeletedAt,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return license, nil
}

// Create issues a new license with a freshly generated key. Status defaults
// to active; maxDevices must be at least 1.
func (s *LicenseStore) Create(ctx context.Context, maxDevices int, expiresAt *time.Time, deviceType, notes *string, resellerID, userID *int) (*License, error) {
	if maxDevices < 1 {
		return nil, fmt.Errorf("max devices must be at least 1, got %d", maxDevices)
	}

	query := `
		INSERT INTO licenses (license_key, status, expires_at, max_devices, device_type, notes, reseller_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + licenseColumns

	license, err := scanLicense(s.db.QueryRowContext(ctx, query,
		GenerateLicenseKey(),
		LicenseStatusActive,
		expiresAt,
		maxDevices,
		deviceType,
		notes,
		resellerID,
		userID,
	))
	if err != nil {
		return nil, err
	}

	return license, nil
}

// GetByKey looks up a live license by its key. Soft-deleted licenses are
// treated as absent.
func (s *LicenseStore) GetByKey(ctx context.Context, licenseKey string) (*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = ? AND deleted_at IS NULL`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, licenseKey))
	if err == sql.ErrNoRows {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	return license, nil
}

func (s *LicenseStore) Get(ctx context.Context, id int) (*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = ? AND deleted_at IS NULL`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	return license, nil
}

// List returns live licenses, newest first. When search is non-empty the
// result is fuzzy-filtered on license key and notes.
func (s *LicenseStore) List(ctx context.Context, search string) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		if search != "" && !matchesLicense(license, search) {
			continue
		}
		licenses = append(licenses, license)
	}

	return licenses, rows.Err()
}

func matchesLicense(l *License, search string) bool {
	if fuzzy.MatchFold(search, l.LicenseKey) {
		return true
	}
	if l.Notes != nil && fuzzy.MatchFold(search, *l.Notes) {
		return true
	}
	return false
}

// ListByReseller returns live licenses owned by a reseller.
func (s *LicenseStore) ListByReseller(ctx context.Context, resellerID int) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE reseller_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, resellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, license)
	}

	return licenses, rows.Err()
}

// UpdateStatus writes the status field. Concurrent writers are last-write-wins
// at the field level; callers that need a consistent decision re-read inside
// their own transaction.
func (s *LicenseStore) UpdateStatus(ctx context.Context, id int, status string) error {
	query := `UPDATE licenses SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrLicenseNotFound
	}

	return nil
}

// Update writes the mutable license fields. license_key is immutable and is
// never touched here.
func (s *LicenseStore) Update(ctx context.Context, id, maxDevices int, expiresAt *time.Time, deviceType, notes *string, userID *int) (*License, error) {
	if maxDevices < 1 {
		return nil, fmt.Errorf("max devices must be at least 1, got %d", maxDevices)
	}

	query := `
		UPDATE licenses
		SET max_devices = ?, expires_at = ?, device_type = ?, notes = ?, user_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, maxDevices, expiresAt, deviceType, notes, userID, id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, ErrLicenseNotFound
	}

	return s.Get(ctx, id)
}

// SoftDelete marks a license deleted. Rows are never physically removed.
func (s *LicenseStore) SoftDelete(ctx context.Context, id int) error {
	query := `UPDATE licenses SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrLicenseNotFound
	}

	return nil
}
