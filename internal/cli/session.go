package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"coda/internal/session"

	"github.com/spf13/cobra"
)

// NewSessionCmd creates the session command.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored sessions",
		Long:  `List, export, import and delete sessions kept in the local database.`,
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionExportCmd())
	cmd.AddCommand(newSessionImportCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		limit      int
		offset     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			infos, err := db.ListSessions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODE\tMESSAGES\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.ID, info.Mode, info.Messages, info.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of sessions to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of sessions to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			data, err := db.SessionSnapshot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func newSessionImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store a session snapshot exported earlier",
		Long:  `Store a session snapshot. Use "-" to read it from stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			sess, err := session.Import(data)
			if err != nil {
				return err
			}
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			if err := db.SaveSession(cmd.Context(), sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported session %s (%d messages)\n", sess.ID, sess.History.Len())
			return nil
		},
	}

	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			if err := db.DeleteSession(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}

	return cmd
}
