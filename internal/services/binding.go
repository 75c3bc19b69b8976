// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/database"
	"github.com/licentra/licentra/internal/events"
	"github.com/licentra/licentra/internal/models"
)

// BindingCode identifies the outcome of a validate-and-bind call.
type BindingCode string

const (
	CodeLicenseNotFound    BindingCode = "LICENSE_NOT_FOUND"
	CodeLicenseExpired     BindingCode = "LICENSE_EXPIRED"
	CodeLicenseInactive    BindingCode = "LICENSE_INACTIVE"
	CodeDeviceAlreadyBound BindingCode = "DEVICE_ALREADY_BOUND"
	CodeDeviceLimitReached BindingCode = "DEVICE_LIMIT_REACHED"
	CodeDeviceBound        BindingCode = "DEVICE_BOUND"
	CodeBindingFailed      BindingCode = "BINDING_FAILED"
)

// BindingResult carries enough context for the caller to render a message
// without re-querying. Policy rejections are results, not errors;
// BINDING_FAILED is the only code that signals a persistence problem.
type BindingResult struct {
	Valid         bool               `json:"valid"`
	Code          BindingCode        `json:"code"`
	Message       string             `json:"message"`
	License       *models.License    `json:"license,omitempty"`
	Activation    *models.Activation `json:"activation,omitempty"`
	Status        string             `json:"status,omitempty"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	MaxDevices    int                `json:"maxDevices,omitempty"`
	ActiveDevices int                `json:"activeDevices,omitempty"`
}

// BindingService is the device-binding state machine. Every multi-step
// mutation runs in a single transaction, and the license status is re-read
// inside that transaction before a decision is made. Two concurrent binds at
// the capacity boundary can still both pass the count check before either
// commits; that transient over-capacity is accepted and healed by never
// admitting further devices.
type BindingService struct {
	db     *database.DB
	events *events.Publisher
}

func NewBindingService(db *database.DB, publisher *events.Publisher) *BindingService {
	return &BindingService{
		db:     db,
		events: publisher,
	}
}

// ValidateAndBind validates a license key against a device hash and binds
// the device when all checks pass. The check order is fixed: lookup,
// timestamp expiry, status, existing binding, capacity, create. Expiry is
// checked before status so a timestamp-expired license is always reported as
// expired even while its status field still reads active.
//
// A non-nil error accompanies only the BINDING_FAILED result; every policy
// outcome returns a nil error.
func (s *BindingService) ValidateAndBind(ctx context.Context, licenseKey, deviceHash string, deviceInfo map[string]string) (*BindingResult, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return bindingFailed(), errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	license, err := getLicenseByKeyTx(ctx, tx, licenseKey)
	if err == sql.ErrNoRows {
		return &BindingResult{
			Valid:   false,
			Code:    CodeLicenseNotFound,
			Message: "License key not found",
		}, nil
	}
	if err != nil {
		return bindingFailed(), errors.Wrap(err, "failed to load license")
	}

	now := time.Now()

	switch license.Classify(now) {
	case models.StateExpiredByTime:
		return &BindingResult{
			Valid:     false,
			Code:      CodeLicenseExpired,
			Message:   "License has expired",
			License:   license,
			ExpiresAt: license.ExpiresAt,
		}, nil
	case models.StateInactiveByStatus:
		return &BindingResult{
			Valid:   false,
			Code:    CodeLicenseInactive,
			Message: fmt.Sprintf("License is not active (%s)", license.Status),
			License: license,
			Status:  license.Status,
		}, nil
	}

	// Idempotent re-validation of an already-bound device: refresh
	// last_seen_at and report success.
	existing, err := getActivationTx(ctx, tx, license.ID, deviceHash)
	if err != nil && err != sql.ErrNoRows {
		return bindingFailed(), errors.Wrap(err, "failed to look up activation")
	}
	if existing != nil {
		touched, err := touchActivationTx(ctx, tx, existing.ID, now)
		if err != nil {
			return bindingFailed(), errors.Wrap(err, "failed to update last seen")
		}
		if err := tx.Commit(); err != nil {
			return bindingFailed(), errors.Wrap(err, "failed to commit")
		}

		return &BindingResult{
			Valid:      true,
			Code:       CodeDeviceAlreadyBound,
			Message:    "Device is already bound to this license",
			License:    license,
			Activation: touched,
		}, nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM activations WHERE license_id = ?`, license.ID).Scan(&count); err != nil {
		return bindingFailed(), errors.Wrap(err, "failed to count activations")
	}

	if count >= license.MaxDevices {
		return &BindingResult{
			Valid:         false,
			Code:          CodeDeviceLimitReached,
			Message:       fmt.Sprintf("Device limit reached (%d of %d in use)", count, license.MaxDevices),
			License:       license,
			MaxDevices:    license.MaxDevices,
			ActiveDevices: count,
		}, nil
	}

	activation, err := createActivationTx(ctx, tx, license.ID, deviceHash, deviceInfo, now)
	if err != nil {
		log.Error().Err(err).
			Str("licenseKey", maskLicenseKey(licenseKey)).
			Msg("Failed to create activation")
		return bindingFailed(), errors.Wrap(err, "failed to create activation")
	}

	if err := tx.Commit(); err != nil {
		return bindingFailed(), errors.Wrap(err, "failed to commit")
	}

	s.events.Publish(events.Event{
		Type:       events.DeviceBound,
		LicenseID:  license.ID,
		DeviceHash: deviceHash,
		At:         now,
	})

	log.Debug().
		Str("licenseKey", maskLicenseKey(licenseKey)).
		Int("licenseId", license.ID).
		Msg("Device bound")

	return &BindingResult{
		Valid:      true,
		Code:       CodeDeviceBound,
		Message:    "Device bound successfully",
		License:    license,
		Activation: activation,
	}, nil
}

// Unbind removes a single device binding. Returns false when there was
// nothing to remove; that is not an error.
func (s *BindingService) Unbind(ctx context.Context, license *models.License, deviceHash string) (bool, error) {
	result, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM activations WHERE license_id = ? AND device_hash = ?`, license.ID, deviceHash)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	s.events.Publish(events.Event{
		Type:       events.DeviceUnbound,
		LicenseID:  license.ID,
		DeviceHash: deviceHash,
	})

	return true, nil
}

// ResetDeviceBindings wipes every activation for the license and forces
// status to reset, as one atomic unit. A concurrent reader never observes
// the bindings gone while the status still says active.
func (s *BindingService) ResetDeviceBindings(ctx context.Context, license *models.License) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activations WHERE license_id = ?`, license.ID); err != nil {
		return errors.Wrap(err, "failed to delete activations")
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE licenses SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		models.LicenseStatusReset, license.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update license status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrLicenseNotFound
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit")
	}

	license.Status = models.LicenseStatusReset

	s.events.Publish(events.Event{
		Type:      events.BindingsReset,
		LicenseID: license.ID,
		Status:    models.LicenseStatusReset,
	})

	log.Info().Int("licenseId", license.ID).Msg("Device bindings reset")
	return nil
}

// Expire sets status to expired and stamps expires_at with now. Existing
// activations are left in place; the status check rejects them on the next
// validation.
func (s *BindingService) Expire(ctx context.Context, license *models.License) error {
	now := time.Now()

	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE licenses SET status = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		models.LicenseStatusExpired, now, license.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrLicenseNotFound
	}

	license.Status = models.LicenseStatusExpired
	license.ExpiresAt = &now

	s.events.Publish(events.Event{
		Type:      events.LicenseStatusChanged,
		LicenseID: license.ID,
		Status:    models.LicenseStatusExpired,
	})

	return nil
}

func (s *BindingService) Suspend(ctx context.Context, license *models.License) error {
	return s.setStatus(ctx, license, models.LicenseStatusSuspended)
}

func (s *BindingService) Unsuspend(ctx context.Context, license *models.License) error {
	return s.setStatus(ctx, license, models.LicenseStatusActive)
}

func (s *BindingService) setStatus(ctx context.Context, license *models.License, status string) error {
	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE licenses SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		status, license.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrLicenseNotFound
	}

	license.Status = status

	s.events.Publish(events.Event{
		Type:      events.LicenseStatusChanged,
		LicenseID: license.ID,
		Status:    status,
	})

	return nil
}

func bindingFailed() *BindingResult {
	return &BindingResult{
		Valid:   false,
		Code:    CodeBindingFailed,
		Message: "Could not bind device due to a storage error",
	}
}

// Transaction-scoped queries. These intentionally duplicate the store SQL:
// the decision sequence must read and write through the same transaction.

func getLicenseByKeyTx(ctx context.Context, tx *sql.Tx, licenseKey string) (*models.License, error) {
	query := `
		SELECT id, license_key, status, expires_at, max_devices, device_type, notes, reseller_id, user_id, deleted_at, created_at, updated_at
		FROM licenses
		WHERE license_key = ? AND deleted_at IS NULL
	`

	license := &models.License{}
	err := tx.QueryRowContext(ctx, query, licenseKey).Scan(
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

func getActivationTx(ctx context.Context, tx *sql.Tx, licenseID int, deviceHash string) (*models.Activation, error) {
	query := `
		SELECT id, license_id, device_hash, device_info, activated_at, last_seen_at
		FROM activations
		WHERE license_id = ? AND device_hash = ?
	`

	return scanActivationRow(tx.QueryRowContext(ctx, query, licenseID, deviceHash))
}

func touchActivationTx(ctx context.Context, tx *sql.Tx, id int, now time.Time) (*models.Activation, error) {
	query := `
		UPDATE activations SET last_seen_at = ? WHERE id = ?
		RETURNING id, license_id, device_hash, device_info, activated_at, last_seen_at
	`

	return scanActivationRow(tx.QueryRowContext(ctx, query, now, id))
}

func createActivationTx(ctx context.Context, tx *sql.Tx, licenseID int, deviceHash string, deviceInfo map[string]string, now time.Time) (*models.Activation, error) {
	infoJSON, err := json.Marshal(deviceInfo)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO activations (license_id, device_hash, device_info, activated_at)
		VALUES (?, ?, ?, ?)
		RETURNING id, license_id, device_hash, device_info, activated_at, last_seen_at
	`

	return scanActivationRow(tx.QueryRowContext(ctx, query, licenseID, deviceHash, string(infoJSON), now))
}

func scanActivationRow(row *sql.Row) (*models.Activation, error) {
	activation := &models.Activation{}
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

// maskLicenseKey keeps full keys out of logs.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
