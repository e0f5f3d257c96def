// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wingedpig/casesync/pkg/client"
)

var (
	opsStatus     string
	resolveBackup string
	resolveEdited string
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect, retry and dismiss pending operations",
}

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked operations",
	Args:  cobra.NoArgs,
	RunE:  runOpsList,
}

var opsRetryCmd = &cobra.Command{
	Use:   "retry <operation-id>...",
	Short: "Retry failed operations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOpsRetry,
}

var opsDismissCmd = &cobra.Command{
	Use:   "dismiss <operation-id>...",
	Short: "Roll back and forget operations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOpsDismiss,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Review and resolve conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts awaiting a decision",
	Args:  cobra.NoArgs,
	RunE:  runConflictsList,
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show both sides of a conflict",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsShow,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <choice>",
	Short: "Resolve a conflict",
	Long: `Resolve a conflict with one of:
  keep_local      keep what is stored locally
  accept_remote   take the backend's version
  accept_merged   apply the proposed merge
  restore_backup  restore a saved backup (--backup NAME)
  manual_edit     apply an edited snapshot (--snapshot FILE)`,
	Args: cobra.ExactArgs(2),
	RunE: runConflictsResolve,
}

func init() {
	opsCmd.AddCommand(opsListCmd, opsRetryCmd, opsDismissCmd)
	opsListCmd.Flags().StringVar(&opsStatus, "status", "", "Filter by status (pending, completed, failed)")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsShowCmd, conflictsResolveCmd)
	conflictsResolveCmd.Flags().StringVar(&resolveBackup, "backup", "", "Backup name for restore_backup")
	conflictsResolveCmd.Flags().StringVar(&resolveEdited, "snapshot", "", "JSON file with the edited snapshot for manual_edit")
}

func runOpsList(cmd *cobra.Command, args []string) error {
	ops, err := apiClient().Operations.List(cmd.Context(), opsStatus)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, "No operations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCASE\tATTEMPTS\tERROR")
	for _, op := range ops {
		msg := op.Reason
		if op.Error != nil {
			msg = op.Error.Hint
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Type, op.Status, op.CaseID, op.Attempts, orDash(truncate(msg, 60)))
	}
	return w.Flush()
}

func runOpsRetry(cmd *cobra.Command, args []string) error {
	var failed []string
	for _, id := range args {
		op, err := apiClient().Operations.Retry(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
			failed = append(failed, id)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, op.Status)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d retries failed", len(failed), len(args))
	}
	return nil
}

func runOpsDismiss(cmd *cobra.Command, args []string) error {
	for _, id := range args {
		if err := apiClient().Operations.Dismiss(cmd.Context(), id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s\n", id)
	}
	return nil
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	list, err := apiClient().Conflicts.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No conflicts")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tCASE\tSIMILARITY\tDETECTED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			c.ID, c.Type, c.Severity, c.Local.CaseID, c.Similarity, formatTime(c.DetectedAt))
	}
	return w.Flush()
}

func runConflictsShow(cmd *cobra.Command, args []string) error {
	c, err := apiClient().Conflicts.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, c)
	}

	fmt.Fprintf(out, "ID:         %s\n", c.ID)
	fmt.Fprintf(out, "Type:       %s (%s)\n", c.Type, c.Severity)
	fmt.Fprintf(out, "State:      %s\n", c.State)
	fmt.Fprintf(out, "Similarity: %.2f\n", c.Similarity)
	fmt.Fprintf(out, "Choices:    %s\n", strings.Join(c.Choices, ", "))
	fmt.Fprintln(out)
	printSide(cmd, "Local", c.Local)
	printSide(cmd, "Remote", c.Remote)
	if c.Merged != nil {
		printSide(cmd, fmt.Sprintf("Merged (confidence %.2f)", c.Merged.Confidence), c.Merged.Merged)
	}
	for _, b := range c.Backups {
		fmt.Fprintf(out, "Backup %s from %s\n", b.Name, formatTime(b.CreatedAt))
	}
	return nil
}

func printSide(cmd *cobra.Command, label string, s client.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", label)
	fmt.Fprintf(out, "  title:    %s\n", s.Title)
	fmt.Fprintf(out, "  messages: %d\n", len(s.Items))
	if s.Status != "" {
		fmt.Fprintf(out, "  status:   %s\n", s.Status)
	}
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	res := client.Resolution{Choice: args[1], Backup: resolveBackup}
	if resolveEdited != "" {
		data, err := os.ReadFile(resolveEdited)
		if err != nil {
			return err
		}
		var snap client.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse %s: %w", resolveEdited, err)
		}
		res.Snapshot = &snap
	}
	if err := apiClient().Conflicts.Resolve(cmd.Context(), args[0], res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s with %s\n", args[0], args[1])
	return nil
}
