// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package main

import (
	"context"

	"github.com/adchub/adchub/internal/plugin/stats"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StatsStoreFactory opens the statistics store.
	// Default: stats.Connect
	StatsStoreFactory func(ctx context.Context, url string) (StatsStore, error)

	// Started is called once the client and metrics listeners are bound.
	// metricsAddr is empty when the observability server is disabled.
	// Default: none
	Started func(clientAddr, metricsAddr string)
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: stats.NewMigrator
	MigratorFactory func(url string) (Migrator, error)
}

// StatsStore wraps the methods used from stats.Store.
type StatsStore interface {
	stats.Recorder
	ResetOnline(ctx context.Context) (int64, error)
	Online(ctx context.Context) (int64, error)
	Close()
}

// Migrator wraps the methods used from stats.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() error
}
