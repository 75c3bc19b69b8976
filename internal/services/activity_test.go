// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licentra/licentra/internal/events"
	"github.com/licentra/licentra/internal/models"
)

func TestActivitySummary(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	publisher := events.NewPublisher()

	licenses := models.NewLicenseStore(db.Conn())
	activations := models.NewActivationStore(db.Conn())

	svc, err := NewActivityService(activations, publisher, 30*time.Minute, time.Minute)
	require.NoError(t, err)
	defer svc.Close()

	license, err := licenses.Create(ctx, 5, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	seen, err := activations.Create(ctx, license.ID, "seen", nil)
	require.NoError(t, err)
	_, err = activations.Touch(ctx, seen.ID)
	require.NoError(t, err)

	_, err = activations.Create(ctx, license.ID, "never-seen", nil)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecentlyActive)
	assert.Equal(t, 1, summary.Inactive)
	assert.Equal(t, 30, summary.WindowMinutes)
}

func TestActivitySummaryEmptyLicense(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	licenses := models.NewLicenseStore(db.Conn())
	activations := models.NewActivationStore(db.Conn())

	svc, err := NewActivityService(activations, events.NewPublisher(), 30*time.Minute, time.Minute)
	require.NoError(t, err)
	defer svc.Close()

	license, err := licenses.Create(ctx, 1, nil, nil, nil, nil, nil)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RecentlyActive)
	assert.Equal(t, 0, summary.Inactive)
}
