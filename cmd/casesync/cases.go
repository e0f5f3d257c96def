// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingedpig/casesync/pkg/client"
)

var casesRefresh bool

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage cases and conversations",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases",
	Args:  cobra.NoArgs,
	RunE:  runCasesList,
}

var casesShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show a case and its conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesShow,
}

var casesCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a case",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCasesCreate,
}

var casesRenameCmd = &cobra.Command{
	Use:   "rename <case-id> <title>",
	Short: "Rename a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesRename,
}

var casesDeleteCmd = &cobra.Command{
	Use:   "delete <case-id>",
	Short: "Delete a case",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesDelete,
}

var casesPinCmd = &cobra.Command{
	Use:   "pin <case-id>",
	Short: "Protect a case from eviction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Cases.Pin(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pinned %s\n", args[0])
		return nil
	},
}

var casesUnpinCmd = &cobra.Command{
	Use:   "unpin <case-id>",
	Short: "Remove eviction protection from a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Cases.Unpin(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unpinned %s\n", args[0])
		return nil
	},
}

var casesSendCmd = &cobra.Command{
	Use:   "send <case-id> <message>",
	Short: "Send a message to a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesSend,
}

var casesSyncCmd = &cobra.Command{
	Use:   "sync <case-id>",
	Short: "Reconcile a conversation with the backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesSync,
}

var casesUploadCmd = &cobra.Command{
	Use:   "upload <case-id> <file>",
	Short: "Attach a document to a case",
	Args:  cobra.ExactArgs(2),
	RunE:  runCasesUpload,
}

func init() {
	casesCmd.AddCommand(casesListCmd, casesShowCmd, casesCreateCmd, casesRenameCmd, casesDeleteCmd,
		casesPinCmd, casesUnpinCmd, casesSendCmd, casesSyncCmd, casesUploadCmd)

	casesListCmd.Flags().BoolVar(&casesRefresh, "refresh", false, "Pull the case list from the backend first")
}

func caseFlags(c client.Case) string {
	flags := ""
	if c.Provisional {
		flags += "P"
	}
	if c.Pinned {
		flags += "*"
	}
	if c.Active {
		flags += ">"
	}
	return orDash(flags)
}

func runCasesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var (
		list []client.Case
		err  error
	)
	if casesRefresh {
		list, err = apiClient().Cases.Refresh(ctx)
	} else {
		list, err = apiClient().Cases.List(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No cases found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLAGS\tSTATUS\tUPDATED\tTITLE")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, caseFlags(c), orDash(c.Status), formatTime(c.UpdatedAt), truncate(c.Title, 50))
	}
	return w.Flush()
}

func runCasesShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := apiClient().Cases.Get(ctx, args[0])
	if err != nil {
		return err
	}
	items, err := apiClient().Cases.Conversation(ctx, c.ID)
	if err != nil {
		return err
	}
	ops, err := apiClient().Cases.Pending(ctx, c.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"case":         c,
			"conversation": items,
			"pending":      ops,
		})
	}

	fmt.Fprintf(out, "ID:       %s\n", c.ID)
	fmt.Fprintf(out, "Title:    %s\n", c.Title)
	fmt.Fprintf(out, "Status:   %s\n", orDash(c.Status))
	fmt.Fprintf(out, "Flags:    %s\n", caseFlags(*c))
	fmt.Fprintf(out, "Updated:  %s\n", formatTime(c.UpdatedAt))
	if len(ops) > 0 {
		fmt.Fprintf(out, "Pending:  %d operation(s)\n", len(ops))
	}
	fmt.Fprintln(out)
	printConversation(cmd, items)
	return nil
}

func printConversation(cmd *cobra.Command, items []client.ConversationItem) {
	out := cmd.OutOrStdout()
	for _, it := range items {
		who := "you"
		if it.Response != nil || it.Loading || it.Failed {
			who = "support"
		}
		text := it.Text()
		switch {
		case it.Loading:
			text = "(waiting for reply)"
		case it.Failed:
			text = "(failed, see: casesync ops list --status failed)"
		}
		fmt.Fprintf(out, "[%s] %-8s %s\n", it.Timestamp.Local().Format("15:04:05"), who, text)
	}
}

func runCasesCreate(cmd *cobra.Command, args []string) error {
	title := ""
	if len(args) > 0 {
		title = args[0]
	}
	c, err := apiClient().Cases.Create(cmd.Context(), title)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), c)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created case %s (%s)\n", c.ID, c.Title)
	return nil
}

func runCasesRename(cmd *cobra.Command, args []string) error {
	c, err := apiClient().Cases.Rename(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), c)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", c.ID, c.Title)
	return nil
}

func runCasesDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient().Cases.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runCasesSend(cmd *cobra.Command, args []string) error {
	sub, err := apiClient().Cases.Submit(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), sub)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent (operation %s)\n", sub.OperationID)
	return nil
}

func runCasesSync(cmd *cobra.Command, args []string) error {
	items, err := apiClient().Cases.Sync(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), items)
	}
	printConversation(cmd, items)
	return nil
}

func runCasesUpload(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := apiClient().Cases.Upload(cmd.Context(), args[0], filepath.Base(args[1]), f)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), doc)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes) as %s\n", doc.Name, doc.Size, doc.ID)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
