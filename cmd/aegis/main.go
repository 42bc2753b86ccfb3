// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Aegis authorization server CLI.
package main

import (
	"os"

	"github.com/aegis-oauth/aegis/cmd/aegis/app"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
