// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wingedpig/casesync/internal/app"
	"github.com/wingedpig/casesync/internal/config"
)

var (
	serveHost  string
	servePort  int
	serveDebug bool

	initBaseURL string
	initStore   string
	initPort    int
	initForce   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the casesync server",
	Long: `Starts the engine and the HTTP API. Local state is loaded from the
configured store; if it is missing or unreadable it is rebuilt from the
backend before the server accepts requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a casesync.hjson configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "HTTP server host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")

	initCmd.Flags().StringVar(&initBaseURL, "backend", "https://cases.example.com", "Backend base URL")
	initCmd.Flags().StringVar(&initStore, "store", "file", "Store backend (file, badger, sqlite)")
	initCmd.Flags().IntVar(&initPort, "port", 7420, "Server port")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

// resolveConfig returns --config or the auto-detected config file.
func resolveConfig() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.NewLoader().FindConfig()
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Using config: %s\n", path)

	application, err := app.New(app.Options{
		ConfigPath: path,
		Host:       serveHost,
		Port:       servePort,
		Debug:      serveDebug,
		Version:    version,
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	return application.Run(context.Background())
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := "casesync.hjson"
	if configPath != "" {
		configFile = configPath
	}

	if _, err := os.Stat(configFile); err == nil && !initForce {
		return fmt.Errorf("%s already exists; remove it first or pass --force", configFile)
	}

	content := generateConfig(initBaseURL, initStore, initPort)
	// The generated file must load and validate as written.
	cfg, err := config.NewLoader().Parse([]byte(content))
	if err != nil {
		return fmt.Errorf("generated config does not parse: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data"
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n\n", configFile)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Set backend.token, e.g. token: '{{env \"CASESYNC_TOKEN\"}}'\n")
	fmt.Fprintln(out, "  2. Run: casesync serve")
	fmt.Fprintln(out, "  3. Check: casesync --api http://127.0.0.1:"+strconv.Itoa(initPort)+" cases list")
	return nil
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(baseURL, storeBackend string, port int) string {
	storePath := "data"
	switch storeBackend {
	case "sqlite":
		storePath = "casesync.db"
	case "badger":
		storePath = "badger"
	}

	var sb strings.Builder
	sb.WriteString(`{
  // =============================================================================
  // casesync configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Strings may use {{env "NAME"}} to read environment variables.

  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS, uncomment and set paths to your certificates:
    // tls_cert: "~/.casesync/cert.pem"
    // tls_key: "~/.casesync/key.pem"
  }

  backend: {
    base_url: "`)
	sb.WriteString(escapeHJSONValue(baseURL))
	sb.WriteString(`"
    token: '{{env "CASESYNC_TOKEN"}}'
    timeout: "30s"
    retries: 2
  }

  // Local state. "file" writes one JSON file per key and notices edits made
  // by other processes; "badger" and "sqlite" keep everything in one store.
  store: {
    backend: "`)
	sb.WriteString(escapeHJSONValue(storeBackend))
	sb.WriteString(`"
    path: "`)
	sb.WriteString(storePath)
	sb.WriteString(`"
  }

  // Title edits are sent after a quiet period, and at least every max_wait.
  titles: {
    debounce: "800ms"
    max_wait: "3s"
  }

  eviction: {
    interval: "5m"
    max_age: "7d"
    max_conversations: 50
    max_messages: 200
  }

  conflicts: {
    // Merges at or above this confidence are applied without asking.
    auto_merge_threshold: 0.7
    similarity_threshold: 0.8
    backups_per_case: 5
  }

  recovery: {
    concurrency: 4
    rate_per_second: 10
  }

  logging: {
    level: "info"
    format: "json"
  }
}
`)
	return sb.String()
}
