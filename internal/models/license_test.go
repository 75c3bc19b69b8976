// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		status    string
		expiresAt *time.Time
		expected  LicenseState
	}{
		{
			name:     "active_perpetual",
			status:   LicenseStatusActive,
			expected: StateActive,
		},
		{
			name:      "active_future_expiry",
			status:    LicenseStatusActive,
			expiresAt: &future,
			expected:  StateActive,
		},
		{
			name:      "active_status_but_timestamp_expired",
			status:    LicenseStatusActive,
			expiresAt: &past,
			expected:  StateExpiredByTime,
		},
		{
			name:     "suspended",
			status:   LicenseStatusSuspended,
			expected: StateInactiveByStatus,
		},
		{
			name:     "reset",
			status:   LicenseStatusReset,
			expected: StateInactiveByStatus,
		},
		{
			name:     "pending",
			status:   LicenseStatusPending,
			expected: StateInactiveByStatus,
		},
		{
			name:     "expired_status_no_timestamp",
			status:   LicenseStatusExpired,
			expected: StateInactiveByStatus,
		},
		{
			// Timestamp expiry wins over an inactive status so callers
			// always see the more specific state.
			name:      "suspended_and_timestamp_expired",
			status:    LicenseStatusSuspended,
			expiresAt: &past,
			expected:  StateExpiredByTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			license := &License{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expected, license.Classify(now))
		})
	}
}

func TestGenerateLicenseKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := GenerateLicenseKey()
		assert.Len(t, key, 39, "32 hex chars in groups of 4")
		assert.False(t, seen[key], "keys must be unique")
		seen[key] = true
	}
}

func TestLicenseStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewLicenseStore(newTestDB(t))

	expiry := time.Now().Add(24 * time.Hour)
	license, err := store.Create(ctx, 3, &expiry, nil, nil, nil, nil)
	require.NoError(t, err, "Failed to create license")

	assert.Equal(t, LicenseStatusActive, license.Status, "new licenses default to active")
	assert.Equal(t, 3, license.MaxDevices)
	assert.NotEmpty(t, license.LicenseKey)

	byKey, err := store.GetByKey(ctx, license.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, license.ID, byKey.ID)

	byID, err := store.Get(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, license.LicenseKey, byID.LicenseKey)
}

func TestLicenseStoreRejectsZeroMaxDevices(t *testing.T) {
	store := NewLicenseStore(newTestDB(t))

	_, err := store.Create(context.Background(), 0, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestLicenseStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewLicenseStore(newTestDB(t))

	_, err := store.GetByKey(ctx, "NO-SUCH-KEY")
	assert.Equal(t, ErrLicenseNotFound, err)

	_, err = store.Get(ctx, 9999)
	assert.Equal(t, ErrLicenseNotFound, err)
}

func TestLicenseStoreSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewLicenseStore(newTestDB(t))

	license, err := store.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.SoftDelete(ctx, license.ID))

	// Soft-deleted licenses are treated as absent
	_, err = store.GetByKey(ctx, license.LicenseKey)
	assert.Equal(t, ErrLicenseNotFound, err)

	licenses, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, licenses)

	// Second delete finds nothing
	assert.Equal(t, ErrLicenseNotFound, store.SoftDelete(ctx, license.ID))
}

func TestLicenseStoreListSearch(t *testing.T) {
	ctx := context.Background()
	store := NewLicenseStore(newTestDB(t))

	notes := "VIP customer build"
	_, err := store.Create(ctx, 1, nil, nil, &notes, nil, nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	matched, err := store.List(ctx, "vip")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, notes, *matched[0].Notes)
}

func TestLicenseStoreUpdateKeepsKey(t *testing.T) {
	ctx := context.Background()
	store := NewLicenseStore(newTestDB(t))

	license, err := store.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	updated, err := store.Update(ctx, license.ID, 5, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.MaxDevices)
	assert.Equal(t, license.LicenseKey, updated.LicenseKey, "license key is immutable")
}
