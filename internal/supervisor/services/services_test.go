// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockServer implements HTTPServer with controllable behavior.
type mockServer struct {
	listenErr error
	started   chan struct{}
	release   chan struct{}
	shutdowns atomic.Int32
}

func newMockServer(listenErr error) *mockServer {
	return &mockServer{
		listenErr: listenErr,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (m *mockServer) ListenAndServe() error {
	close(m.started)
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return errors.New("use of closed network connection")
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdowns.Add(1)
	close(m.release)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newMockServer(nil)
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-server.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	boom := errors.New("address already in use")
	svc := NewHTTPService(newMockServer(boom), time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Serve returned %v, want wrapped startup error", err)
	}
}

func TestTrendingServiceRunsImmediatelyAndOnTick(t *testing.T) {
	var runs atomic.Int32
	svc := NewTrendingService(10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve returned %v", err)
	}

	if n := runs.Load(); n < 2 {
		t.Errorf("recompute ran %d times, want at least 2 (startup + tick)", n)
	}
}

func TestPeriodicLoopSurvivesErrors(t *testing.T) {
	var runs atomic.Int32
	svc := NewIndexRefreshService(10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("store down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	if n := runs.Load(); n < 2 {
		t.Errorf("loop stopped after an error: %d runs", n)
	}
}

func TestMaintenanceServiceInvokesGC(t *testing.T) {
	var runs atomic.Int32
	svc := NewMaintenanceService(10*time.Millisecond, func() error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	if runs.Load() == 0 {
		t.Error("GC never ran")
	}
}

func TestServiceNames(t *testing.T) {
	tests := []struct {
		svc  interface{ String() string }
		want string
	}{
		{NewHTTPService(newMockServer(nil), time.Second), "http-server"},
		{NewTrendingService(time.Minute, nil), "trending-aggregator"},
		{NewIndexRefreshService(time.Minute, nil), "index-refresh"},
		{NewMaintenanceService(time.Minute, nil), "store-maintenance"},
	}
	for _, tt := range tests {
		if got := tt.svc.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}
