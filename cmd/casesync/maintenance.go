// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/wingedpig/casesync/internal/app"
	"github.com/wingedpig/casesync/pkg/client"
)

var (
	checkLocal bool

	eventTypes  []string
	eventCase   string
	eventLimit  int
	eventSince  string
	eventFollow bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild local state from the backend",
	Args:  cobra.NoArgs,
	RunE:  runRecover,
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Run an eviction pass now",
	Args:  cobra.NoArgs,
	RunE:  runEvict,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Audit local storage for integrity violations",
	Long: `Audits the local store without repairing it. With --local the store
named by the config file is opened directly, which requires that no server
is using it.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the event log",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	checkCmd.Flags().BoolVar(&checkLocal, "local", false, "Open the configured store directly instead of asking a server")

	eventsCmd.Flags().StringSliceVar(&eventTypes, "type", nil, "Event type patterns (e.g., case.*)")
	eventsCmd.Flags().StringVar(&eventCase, "case", "", "Only events about this case")
	eventsCmd.Flags().IntVarP(&eventLimit, "limit", "n", 50, "Maximum number of events")
	eventsCmd.Flags().StringVar(&eventSince, "since", "", "Only events newer than this duration (e.g., 10m)")
	eventsCmd.Flags().BoolVarP(&eventFollow, "follow", "f", false, "Stream new events")
}

func runRecover(cmd *cobra.Command, args []string) error {
	res, err := apiClient().Maintenance.Recover(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Recovered %d cases and %d conversations in %s\n",
			res.RecoveredCases, res.RecoveredConversations, res.Duration.Round(time.Millisecond))
		if res.DroppedOperations > 0 {
			fmt.Fprintf(out, "Dropped %d pending operations\n", res.DroppedOperations)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
	}
	if !res.Success {
		return fmt.Errorf("recovery incomplete")
	}
	return nil
}

func runEvict(cmd *cobra.Command, args []string) error {
	res, err := apiClient().Maintenance.Evict(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Evicted %d conversations, %d retained\n", len(res.Evicted), res.Retained)
	ids := make([]string, 0, len(res.Trimmed))
	for id := range res.Trimmed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  trimmed %d messages from %s\n", res.Trimmed[id], id)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	var (
		report *client.IntegrityReport
		err    error
	)
	if checkLocal {
		report, err = checkLocalStore(cmd)
	} else {
		report, err = apiClient().Maintenance.Integrity(cmd.Context())
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else if report.OK {
		fmt.Fprintln(out, "No integrity violations")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tCOUNTERPART\tDETAIL")
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Kind, v.ID, orDash(v.Counterpart), orDash(v.Detail))
		}
		w.Flush()
	}
	if !report.OK {
		return fmt.Errorf("%d integrity violation(s)", len(report.Violations))
	}
	return nil
}

// checkLocalStore loads the configured store into an engine that is never
// started, so nothing is repaired or sent to the backend.
func checkLocalStore(cmd *cobra.Command) (*client.IntegrityReport, error) {
	path, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Options{ConfigPath: path, LogOutput: io.Discard})
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(cmd.Context()); err != nil {
		return nil, err
	}
	defer a.Shutdown(context.Background())

	eng := a.Engine()
	if err := eng.Load(cmd.Context()); err != nil {
		return nil, err
	}
	report := &client.IntegrityReport{OK: true, Violations: []client.Violation{}}
	for _, v := range eng.CheckIntegrity() {
		report.OK = false
		report.Violations = append(report.Violations, client.Violation{
			Kind:        string(v.Kind),
			Context:     v.Context,
			ID:          v.ID,
			Counterpart: v.Counterpart,
			Detail:      v.Detail,
		})
	}
	return report, nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	if eventFollow {
		return followEvents(cmd)
	}

	opts := &client.ListOptions{Limit: eventLimit, Types: eventTypes, CaseID: eventCase}
	if eventSince != "" {
		d, err := time.ParseDuration(eventSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		opts.Since = time.Now().Add(-d)
	}
	list, err := apiClient().Events.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), list)
	}
	for _, ev := range list {
		printEvent(cmd.OutOrStdout(), ev)
	}
	return nil
}

func printEvent(w io.Writer, ev client.Event) {
	var parts []string
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Payload[k]))
	}
	fmt.Fprintf(w, "%s %-22s %-24s %s\n",
		ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, orDash(ev.CaseID), strings.Join(parts, " "))
}

// followEvents streams events over the server's WebSocket until interrupted.
func followEvents(cmd *cobra.Command) error {
	u, err := url.Parse(apiURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/events/ws"
	q := url.Values{}
	if len(eventTypes) > 0 {
		q.Set("pattern", eventTypes[0])
	}
	if eventCase != "" {
		q.Set("case", eventCase)
	}
	u.RawQuery = q.Encode()

	header := map[string][]string{client.VersionHeader: {client.LatestVersion}}
	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), header)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var ev client.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), ev)
			continue
		}
		printEvent(cmd.OutOrStdout(), ev)
	}
}
