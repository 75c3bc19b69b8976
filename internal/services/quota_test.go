// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licentra/licentra/internal/database"
	"github.com/licentra/licentra/internal/models"
)

func newQuotaService(t *testing.T) (*QuotaService, *database.DB, *models.ResellerStore, *models.UserStore) {
	t.Helper()

	db := newTestDB(t)
	resellers := models.NewResellerStore(db.Conn())
	users := models.NewUserStore(db.Conn())
	return NewQuotaService(db, resellers, users), db, resellers, users
}

func intPtr(v int) *int { return &v }

func TestCanAddUser(t *testing.T) {
	svc, _, _, _ := newQuotaService(t)

	tests := []struct {
		name     string
		quota    *int
		current  int
		expected bool
	}{
		{name: "unlimited", quota: nil, current: 100, expected: true},
		{name: "under_quota", quota: intPtr(5), current: 4, expected: true},
		{name: "at_quota", quota: intPtr(5), current: 5, expected: false},
		{name: "over_quota", quota: intPtr(5), current: 6, expected: false},
		{name: "zero_quota", quota: intPtr(0), current: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reseller := &models.Reseller{MaxUsersQuota: tt.quota, CurrentUsersCount: tt.current}
			assert.Equal(t, tt.expected, svc.CanAddUser(reseller))
		})
	}
}

func TestAssignUserToReseller(t *testing.T) {
	ctx := context.Background()
	svc, _, resellers, users := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", intPtr(2), nil)
	require.NoError(t, err)

	user, err := users.Create(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.AssignUserToReseller(ctx, reseller.ID, user.ID))

	assigned, err := users.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned.ResellerID)
	assert.Equal(t, reseller.ID, *assigned.ResellerID)

	// The counter was recomputed from live rows, not incremented
	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.CurrentUsersCount)
}

func TestAssignUserQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	svc, _, resellers, users := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", intPtr(2), nil)
	require.NoError(t, err)

	for _, name := range []string{"u1", "u2"} {
		user, err := users.Create(ctx, name)
		require.NoError(t, err)
		require.NoError(t, svc.AssignUserToReseller(ctx, reseller.ID, user.ID))
	}

	third, err := users.Create(ctx, "u3")
	require.NoError(t, err)

	err = svc.AssignUserToReseller(ctx, reseller.ID, third.ID)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "user", quotaErr.Dimension)
	assert.Equal(t, 2, quotaErr.Max)
	assert.Equal(t, 2, quotaErr.Current)

	// Rejected assignment leaves both the user and the counter untouched
	unassigned, err := users.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Nil(t, unassigned.ResellerID)

	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentUsersCount)
}

func TestRemoveUserFromReseller(t *testing.T) {
	ctx := context.Background()
	svc, _, resellers, users := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", nil, nil)
	require.NoError(t, err)

	user, err := users.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.AssignUserToReseller(ctx, reseller.ID, user.ID))

	removed, err := svc.RemoveUserFromReseller(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentUsersCount)

	// Removing a user with no reseller is a no-op
	removed, err = svc.RemoveUserFromReseller(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUpdateCountsHealsDrift(t *testing.T) {
	ctx := context.Background()
	svc, db, resellers, users := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", nil, nil)
	require.NoError(t, err)

	for _, name := range []string{"u1", "u2", "u3"} {
		user, err := users.Create(ctx, name)
		require.NoError(t, err)
		require.NoError(t, users.SetReseller(ctx, user.ID, &reseller.ID))
	}

	// Corrupt the cached counter to simulate drift
	_, err = db.Conn().ExecContext(ctx,
		`UPDATE resellers SET current_users_count = 99 WHERE id = ?`, reseller.ID)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateCounts(ctx, reseller.ID))

	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.CurrentUsersCount, "recompute derives the counter from live rows")
}

func TestUpdateAllCounts(t *testing.T) {
	ctx := context.Background()
	svc, db, resellers, users := newQuotaService(t)

	first, err := resellers.Create(ctx, "First", nil, nil)
	require.NoError(t, err)
	second, err := resellers.Create(ctx, "Second", nil, nil)
	require.NoError(t, err)

	user, err := users.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, users.SetReseller(ctx, user.ID, &first.ID))

	_, err = db.Conn().ExecContext(ctx, `UPDATE resellers SET current_users_count = 42`)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateAllCounts(ctx))

	reloaded, err := resellers.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.CurrentUsersCount)

	reloaded, err = resellers.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentUsersCount)
}

func TestUpdateResellerRejectsQuotaBelowUsage(t *testing.T) {
	ctx := context.Background()
	svc, _, resellers, users := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", intPtr(5), nil)
	require.NoError(t, err)

	for _, name := range []string{"u1", "u2"} {
		user, err := users.Create(ctx, name)
		require.NoError(t, err)
		require.NoError(t, svc.AssignUserToReseller(ctx, reseller.ID, user.ID))
	}

	_, err = svc.UpdateReseller(ctx, reseller.ID, intPtr(1), nil)
	var validationErr *QuotaValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Cannot set user quota below current usage (2).", validationErr.Message)

	// Rejected update leaves the quota unchanged
	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.MaxUsersQuota)
	assert.Equal(t, 5, *reloaded.MaxUsersQuota)

	// Quota equal to usage is allowed
	updated, err := svc.UpdateReseller(ctx, reseller.ID, intPtr(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, *updated.MaxUsersQuota)
}

func TestUpdateResellerKeepsOmittedQuota(t *testing.T) {
	ctx := context.Background()
	svc, _, resellers, _ := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", intPtr(5), intPtr(10))
	require.NoError(t, err)

	// Updating one dimension must not clear the other to unlimited
	updated, err := svc.UpdateReseller(ctx, reseller.ID, intPtr(3), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, *updated.MaxUsersQuota)
	require.NotNil(t, updated.MaxLicensesQuota, "omitted license quota must survive")
	assert.Equal(t, 10, *updated.MaxLicensesQuota)

	// And the symmetric case
	updated, err = svc.UpdateReseller(ctx, reseller.ID, nil, intPtr(7))
	require.NoError(t, err)
	require.NotNil(t, updated.MaxUsersQuota)
	assert.Equal(t, 3, *updated.MaxUsersQuota)
	assert.Equal(t, 7, *updated.MaxLicensesQuota)
}

func TestLicenseQuotaAccounting(t *testing.T) {
	ctx := context.Background()
	svc, db, resellers, _ := newQuotaService(t)

	reseller, err := resellers.Create(ctx, "Acme", nil, intPtr(1))
	require.NoError(t, err)

	licenses := models.NewLicenseStore(db.Conn())

	license, err := licenses.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AssignLicenseToReseller(ctx, reseller.ID, license.ID))

	reloaded, err := resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.CurrentLicensesCount)

	second, err := licenses.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	err = svc.AssignLicenseToReseller(ctx, reseller.ID, second.ID)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "license", quotaErr.Dimension)

	// Soft-deleting the assigned license frees the slot after release
	require.NoError(t, licenses.SoftDelete(ctx, license.ID))
	license.ResellerID = &reseller.ID
	require.NoError(t, svc.ReleaseLicense(ctx, license))

	reloaded, err = resellers.Get(ctx, reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentLicensesCount)

	require.NoError(t, svc.AssignLicenseToReseller(ctx, reseller.ID, second.ID))
}
