// ABOUTME: Conversation storage commands: list, show, rename, delete, and reindex
// ABOUTME: Output is tab-aligned for terminals

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/chatrelay/internal/store"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.ListIndex(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing conversations: %w", err)
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			fmt.Fprintln(out)
			cyan.Fprintln(out, "  Conversations")
			cyan.Fprintln(out, "  -------------")

			if len(entries) == 0 {
				fmt.Fprintln(out, "  (no conversations)")
				fmt.Fprintln(out)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tTITLE\tUPDATED")
			fmt.Fprintln(w, "  --\t-----\t-------")
			for _, e := range entries {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", e.ID, truncate(e.Title, 40), e.Timestamp.Local().Format("Jan 02 15:04"))
			}
			w.Flush()
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			conv, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading conversation: %w", err)
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			fmt.Fprintln(out)
			cyan.Fprintf(out, "  %s\n", conv.Title)
			gray.Fprintf(out, "  %s, %d messages\n\n", conv.ID, len(conv.Messages))

			for _, m := range conv.Messages {
				who := yellow
				if m.Role == store.RoleUser {
					who = green
				}
				who.Fprintf(out, "  [%s] ", m.Role)
				gray.Fprintf(out, "%s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "%s\n\n", m.Content)
			}
			return nil
		},
	}
}

func newRenameCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			title, err := st.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("renaming conversation: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Renamed %s to %q\n", args[0], title)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			green := color.New(color.FgGreen)
			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				green.Fprintf(cmd.OutOrStdout(), "  ✓ Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newReindexCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the conversation index from stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.RebuildIndex(cmd.Context())
			if err != nil {
				return fmt.Errorf("rebuilding index: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Indexed %d conversations\n", n)
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
