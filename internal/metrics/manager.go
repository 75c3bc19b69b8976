// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/database"
)

type Manager struct {
	registry         *prometheus.Registry
	licenseCollector *LicenseCollector

	bindResults *prometheus.CounterVec
}

func NewManager(db *database.DB) *Manager {
	registry := prometheus.NewRegistry()

	licenseCollector := NewLicenseCollector(db)
	registry.MustRegister(licenseCollector)

	bindResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licentra_bind_results_total",
			Help: "Total validate-and-bind calls by result code",
		},
		[]string{"code"},
	)
	registry.MustRegister(bindResults)

	log.Info().Msg("Metrics manager initialized with license collector")

	return &Manager{
		registry:         registry,
		licenseCollector: licenseCollector,
		bindResults:      bindResults,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordBindResult counts one validate-and-bind outcome.
func (m *Manager) RecordBindResult(code string) {
	m.bindResults.WithLabelValues(code).Inc()
}
