// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/database"
)

// LicenseCollector scrapes license and activation gauges straight from the
// database on each collect.
type LicenseCollector struct {
	db *database.DB

	licensesDesc     *prometheus.Desc
	activationsDesc  *prometheus.Desc
	scrapeErrorsDesc *prometheus.Desc

	// The registry may run Collect from concurrent scrapes
	scrapeErrors atomic.Uint64
}

func NewLicenseCollector(db *database.DB) *LicenseCollector {
	return &LicenseCollector{
		db: db,

		licensesDesc: prometheus.NewDesc(
			"licentra_licenses",
			"Number of live licenses by status",
			[]string{"status"},
			nil,
		),
		activationsDesc: prometheus.NewDesc(
			"licentra_activations",
			"Total number of device activations",
			nil,
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"licentra_scrape_errors_total",
			"Total number of metric scrape errors",
			nil,
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.activationsDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := c.db.Conn().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM licenses WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect license metrics")
		c.scrapeErrors.Add(1)
	} else {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count float64
			if err := rows.Scan(&status, &count); err != nil {
				c.scrapeErrors.Add(1)
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.licensesDesc, prometheus.GaugeValue, count, status)
		}
	}

	var activations float64
	if err := c.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM activations`).Scan(&activations); err != nil {
		log.Error().Err(err).Msg("Failed to collect activation metrics")
		c.scrapeErrors.Add(1)
	} else {
		ch <- prometheus.MustNewConstMetric(c.activationsDesc, prometheus.GaugeValue, activations)
	}

	ch <- prometheus.MustNewConstMetric(c.scrapeErrorsDesc, prometheus.CounterValue, float64(c.scrapeErrors.Load()))
}
