// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/licentra/licentra/internal/events"
	"github.com/licentra/licentra/internal/models"
)

// DeviceActivity is a display-only classification of a license's devices by
// recency. No binding decision ever reads it.
type DeviceActivity struct {
	LicenseID      int `json:"licenseId"`
	RecentlyActive int `json:"recentlyActive"`
	Inactive       int `json:"inactive"`
	WindowMinutes  int `json:"windowMinutes"`
}

// ActivityService computes device activity summaries and caches them with a
// short TTL. Binding events invalidate the cached entry for the affected
// license.
type ActivityService struct {
	activations *models.ActivationStore
	cache       *ristretto.Cache
	window      time.Duration
	ttl         time.Duration
}

func NewActivityService(activations *models.ActivationStore, publisher *events.Publisher, window, ttl time.Duration) (*ActivityService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24, // 16MB
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	s := &ActivityService{
		activations: activations,
		cache:       cache,
		window:      window,
		ttl:         ttl,
	}

	publisher.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.DeviceBound, events.DeviceUnbound, events.BindingsReset:
			s.cache.Del(cacheKey(e.LicenseID))
		}
	})

	return s, nil
}

func cacheKey(licenseID int) string {
	return fmt.Sprintf("activity:%d", licenseID)
}

// Summary returns the cached activity summary for a license, computing it on
// a miss.
func (s *ActivityService) Summary(ctx context.Context, licenseID int) (*DeviceActivity, error) {
	if cached, found := s.cache.Get(cacheKey(licenseID)); found {
		if activity, ok := cached.(*DeviceActivity); ok {
			return activity, nil
		}
	}

	recent, err := s.activations.CountRecentlyActive(ctx, licenseID, s.window)
	if err != nil {
		return nil, err
	}

	inactive, err := s.activations.CountInactive(ctx, licenseID, s.window)
	if err != nil {
		return nil, err
	}

	activity := &DeviceActivity{
		LicenseID:      licenseID,
		RecentlyActive: recent,
		Inactive:       inactive,
		WindowMinutes:  int(s.window.Minutes()),
	}

	s.cache.SetWithTTL(cacheKey(licenseID), activity, 1, s.ttl)
	return activity, nil
}

func (s *ActivityService) Close() {
	s.cache.Close()
}
