// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// casesync runs the case synchronization server and controls a running one.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wingedpig/casesync/pkg/client"
)

var version = "0.3.0"

var (
	configPath string
	apiURL     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "casesync",
	Short: "casesync - optimistic case sync and reconciliation",
	Long: `casesync keeps a local, optimistically updated copy of support cases,
conversations and titles, and reconciles it with the case backend.

Run "casesync serve" to start the server. The other commands talk to a
running server over its API (see --api and CASESYNC_API).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultAPI := "http://127.0.0.1:7420"
	if env := os.Getenv("CASESYNC_API"); env != "" {
		defaultAPI = strings.TrimSuffix(env, "/")
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPI, "Base URL of a running casesync server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd, initCmd)
	rootCmd.AddCommand(casesCmd, opsCmd, conflictsCmd, eventsCmd)
	rootCmd.AddCommand(recoverCmd, evictCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// apiClient returns a client for the server at --api.
func apiClient() *client.Client {
	return client.New(apiURL)
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
