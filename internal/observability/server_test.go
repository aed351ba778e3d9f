// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adchub/adchub/internal/route"
)

func startServer(t *testing.T, ready ReadinessChecker, registrars ...Registrar) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, registrars...)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true }, route.RegisterMetrics)

	m := server.Metrics()
	m.ConnectionsTotal.Inc()
	m.ConnectionsTotal.Inc()
	m.DisconnectsTotal.WithLabelValues("socket_error").Inc()
	m.Users.Set(3)
	route.Deliveries.WithLabelValues("sent").Inc()

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, "adchub_connections_total 2")
	assert.Contains(t, body, `adchub_disconnects_total{reason="socket_error"} 1`)
	assert.Contains(t, body, "adchub_users 3")
	assert.Contains(t, body, `adchub_deliveries_total{outcome="sent"}`)
}

func TestServer_RegistrarsRunOnOwnRegistry(t *testing.T) {
	// The same package collectors may back several servers.
	a := NewServer("127.0.0.1:0", nil, route.RegisterMetrics)
	b := NewServer("127.0.0.1:0", nil, route.RegisterMetrics)
	assert.NotSame(t, a.Registry(), b.Registry())

	var called bool
	NewServer("127.0.0.1:0", nil, func(prometheus.Registerer) { called = true })
	assert.True(t, called)
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	server := startServer(t, ready.Load)

	status, body := get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", strings.TrimSpace(body))

	ready.Store(true)
	status, _ = get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	server := startServer(t, nil)
	status, _ := get(t, "http://"+server.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)
	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	require.NoError(t, server.Stop(context.Background()))

	_, err := server.Start()
	require.NoError(t, err)
	require.NoError(t, server.Stop(context.Background()))
	require.NoError(t, server.Stop(context.Background()))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	defer func() { _ = server.Stop(context.Background()) }()

	// Closing the listener underneath Serve is a serve failure.
	require.NoError(t, server.listener.Close())

	select {
	case serveErr := <-errCh:
		require.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool { return server.Addr() != "" }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServer_RunReportsListenError(t *testing.T) {
	busy := startServer(t, nil)
	err := NewServer(busy.Addr(), nil).Run(context.Background())
	require.Error(t, err)
}
