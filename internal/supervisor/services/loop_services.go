// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package services

import (
	"context"
	"time"

	"github.com/feedloom/feedloom/internal/logging"
)

// periodicLoop runs fn immediately and then on every tick until the context
// is canceled. A failing run is logged and retried on the next tick; the
// service itself only exits on cancellation, so the supervisor does not
// thrash on transient store errors.
func periodicLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Str("service", name).Msg("Periodic run failed")
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// TrendingService periodically recomputes the trending snapshot.
type TrendingService struct {
	interval  time.Duration
	recompute func(context.Context) error
}

// NewTrendingService creates the trending recompute loop.
func NewTrendingService(interval time.Duration, recompute func(context.Context) error) *TrendingService {
	return &TrendingService{interval: interval, recompute: recompute}
}

// Serve implements suture.Service.
func (s *TrendingService) Serve(ctx context.Context) error {
	return periodicLoop(ctx, s.String(), s.interval, s.recompute)
}

// String implements suture's service naming.
func (s *TrendingService) String() string { return "trending-aggregator" }

// IndexRefreshService periodically rebuilds the similarity index from the
// catalog.
type IndexRefreshService struct {
	interval time.Duration
	refresh  func(context.Context) error
}

// NewIndexRefreshService creates the index rebuild loop.
func NewIndexRefreshService(interval time.Duration, refresh func(context.Context) error) *IndexRefreshService {
	return &IndexRefreshService{interval: interval, refresh: refresh}
}

// Serve implements suture.Service.
func (s *IndexRefreshService) Serve(ctx context.Context) error {
	return periodicLoop(ctx, s.String(), s.interval, s.refresh)
}

// String implements suture's service naming.
func (s *IndexRefreshService) String() string { return "index-refresh" }

// MaintenanceService runs Badger value-log garbage collection on the profile
// and record store.
type MaintenanceService struct {
	interval time.Duration
	gc       func() error
}

// NewMaintenanceService creates the store maintenance loop.
func NewMaintenanceService(interval time.Duration, gc func() error) *MaintenanceService {
	return &MaintenanceService{interval: interval, gc: gc}
}

// Serve implements suture.Service.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	return periodicLoop(ctx, s.String(), s.interval, func(context.Context) error {
		return s.gc()
	})
}

// String implements suture's service naming.
func (s *MaintenanceService) String() string { return "store-maintenance" }
