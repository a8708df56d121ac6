/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	gatewayURL string
	verbose    bool
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "schemavault-admin",
		Short: "Manage versioned OpenAPI schemas in a schemavault server",
		Long: `schemavault-admin imports OpenAPI documents into a schemavault server
and inspects the versions it stores.

Every application, and every service within an application, keeps its own
version sequence starting at 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.gatewayURL, "gateway", envOr("SCHEMAVAULT_GATEWAY", "http://localhost:8080"), "schemavault server URL")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(
		importCmd(opts),
		listCmd(opts),
		showCmd(opts),
		getCmd(opts),
		appsCmd(opts),
		servicesCmd(opts),
		statsCmd(opts),
		versionCmd(),
	)

	return rootCmd
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	if vaultErr, ok := errors.AsVaultError(err); ok {
		return vaultErr.ExitCode()
	}
	return 1
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
