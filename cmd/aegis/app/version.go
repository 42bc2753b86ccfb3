// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the aegis version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("aegis %s %s %s/%s\n", version, revision(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}
