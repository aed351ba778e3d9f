// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package main is the entry point for the ADCHub server.
package main

import (
	"fmt"
	"os"

	"github.com/adchub/adchub/internal/hub"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	hub.Version = version

	cmd := NewRootCmd()
	cmd.Version = formatVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func formatVersion(version, commit, date string) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
