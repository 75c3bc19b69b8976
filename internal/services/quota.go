// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/database"
	"github.com/licentra/licentra/internal/models"
)

// QuotaExceededError is a policy rejection: the reseller is at capacity for
// the named dimension.
type QuotaExceededError struct {
	Dimension string
	Max       int
	Current   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded (%d of %d in use)", e.Dimension, e.Current, e.Max)
}

// QuotaValidationError rejects a quota change that would fall below current
// usage. The message is meant for direct display.
type QuotaValidationError struct {
	Message string
}

func (e *QuotaValidationError) Error() string {
	return e.Message
}

// QuotaService keeps the cached reseller counters consistent with the live
// relationship rows and gates new assignments. Counters are recomputed from
// source rows after every assignment, never incremented, so prior drift
// cannot accumulate. Concurrent assignments can transiently over-admit; the
// next recompute reconciles the stored counter to the true value and nothing
// is evicted retroactively.
type QuotaService struct {
	db        *database.DB
	resellers *models.ResellerStore
	users     *models.UserStore
}

func NewQuotaService(db *database.DB, resellers *models.ResellerStore, users *models.UserStore) *QuotaService {
	return &QuotaService{
		db:        db,
		resellers: resellers,
		users:     users,
	}
}

// CanAddUser reports whether the reseller may take another user. A nil quota
// means unlimited.
func (s *QuotaService) CanAddUser(reseller *models.Reseller) bool {
	return reseller.MaxUsersQuota == nil || reseller.CurrentUsersCount < *reseller.MaxUsersQuota
}

// CanAddLicense reports whether the reseller may take another license.
func (s *QuotaService) CanAddLicense(reseller *models.Reseller) bool {
	return reseller.MaxLicensesQuota == nil || reseller.CurrentLicensesCount < *reseller.MaxLicensesQuota
}

// AssignUserToReseller assigns a user to a reseller if the user quota
// allows, then recomputes the cached counter from the live rows.
func (s *QuotaService) AssignUserToReseller(ctx context.Context, resellerID, userID int) error {
	reseller, err := s.resellers.Get(ctx, resellerID)
	if err != nil {
		return err
	}

	if _, err := s.users.Get(ctx, userID); err != nil {
		return err
	}

	if !s.CanAddUser(reseller) {
		return &QuotaExceededError{
			Dimension: "user",
			Max:       *reseller.MaxUsersQuota,
			Current:   reseller.CurrentUsersCount,
		}
	}

	if err := s.users.SetReseller(ctx, userID, &resellerID); err != nil {
		return errors.Wrap(err, "failed to assign user")
	}

	return s.UpdateCounts(ctx, resellerID)
}

// RemoveUserFromReseller clears the user's reseller and recomputes the
// former reseller's counters. Returns false when the user had no reseller.
func (s *QuotaService) RemoveUserFromReseller(ctx context.Context, userID int) (bool, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}

	if user.ResellerID == nil {
		return false, nil
	}
	formerResellerID := *user.ResellerID

	if err := s.users.SetReseller(ctx, userID, nil); err != nil {
		return false, errors.Wrap(err, "failed to remove user")
	}

	if err := s.UpdateCounts(ctx, formerResellerID); err != nil {
		return false, err
	}

	return true, nil
}

// AssignLicenseToReseller attaches an existing license to a reseller if the
// license quota allows, then recomputes.
func (s *QuotaService) AssignLicenseToReseller(ctx context.Context, resellerID, licenseID int) error {
	reseller, err := s.resellers.Get(ctx, resellerID)
	if err != nil {
		return err
	}

	if !s.CanAddLicense(reseller) {
		return &QuotaExceededError{
			Dimension: "license",
			Max:       *reseller.MaxLicensesQuota,
			Current:   reseller.CurrentLicensesCount,
		}
	}

	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE licenses SET reseller_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		resellerID, licenseID)
	if err != nil {
		return errors.Wrap(err, "failed to assign license")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrLicenseNotFound
	}

	return s.UpdateCounts(ctx, resellerID)
}

// UpdateCounts recomputes both cached counters from the live relationship
// rows. This is the only operation guaranteed to heal drift.
func (s *QuotaService) UpdateCounts(ctx context.Context, resellerID int) error {
	users, err := s.resellers.LiveUserCount(ctx, resellerID)
	if err != nil {
		return errors.Wrap(err, "failed to count users")
	}

	licenses, err := s.resellers.LiveLicenseCount(ctx, resellerID)
	if err != nil {
		return errors.Wrap(err, "failed to count licenses")
	}

	return s.resellers.SetCounts(ctx, resellerID, users, licenses)
}

// UpdateAllCounts recomputes counters for every reseller. Maintenance
// operation; keeps going past individual failures.
func (s *QuotaService) UpdateAllCounts(ctx context.Context) error {
	resellers, err := s.resellers.List(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, reseller := range resellers {
		if err := s.UpdateCounts(ctx, reseller.ID); err != nil {
			log.Error().Err(err).Int("resellerId", reseller.ID).Msg("Failed to recount reseller")
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to recount %d of %d resellers", failed, len(resellers))
	}
	return nil
}

// UpdateReseller applies new quota ceilings. A nil dimension keeps its
// current ceiling; a quota below the current live usage for that dimension is
// rejected and nothing is written.
func (s *QuotaService) UpdateReseller(ctx context.Context, resellerID int, maxUsersQuota, maxLicensesQuota *int) (*models.Reseller, error) {
	current, err := s.resellers.Get(ctx, resellerID)
	if err != nil {
		return nil, err
	}

	if maxUsersQuota == nil {
		maxUsersQuota = current.MaxUsersQuota
	}
	if maxLicensesQuota == nil {
		maxLicensesQuota = current.MaxLicensesQuota
	}

	// Validate against live counts, not the cached counters, so a stale
	// cache cannot let a too-small quota through.
	userCount, err := s.resellers.LiveUserCount(ctx, resellerID)
	if err != nil {
		return nil, err
	}
	licenseCount, err := s.resellers.LiveLicenseCount(ctx, resellerID)
	if err != nil {
		return nil, err
	}

	if maxUsersQuota != nil && *maxUsersQuota < userCount {
		return nil, &QuotaValidationError{
			Message: fmt.Sprintf("Cannot set user quota below current usage (%d).", userCount),
		}
	}
	if maxLicensesQuota != nil && *maxLicensesQuota < licenseCount {
		return nil, &QuotaValidationError{
			Message: fmt.Sprintf("Cannot set license quota below current usage (%d).", licenseCount),
		}
	}

	if err := s.resellers.SetQuotas(ctx, resellerID, maxUsersQuota, maxLicensesQuota); err != nil {
		return nil, err
	}

	if err := s.UpdateCounts(ctx, resellerID); err != nil {
		return nil, err
	}

	return s.resellers.Get(ctx, resellerID)
}

// ReleaseLicense recounts a reseller after one of its licenses is soft
// deleted.
func (s *QuotaService) ReleaseLicense(ctx context.Context, license *models.License) error {
	if license.ResellerID == nil {
		return nil
	}
	return s.UpdateCounts(ctx, *license.ResellerID)
}
