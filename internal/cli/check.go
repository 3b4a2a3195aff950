package cli

import (
	"fmt"
	"strings"

	"coda/internal/policy"

	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Classify a shell command",
		Long: `Classify a shell command the way the bash tool does before running it.

Read-only commands are allowed, compound or destructive ones need approval.`,
		Example: `  coda check "ls -la"
  coda check -- rm -rf build`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict := policy.EvaluateShellCommand(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, verdict)
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", verdict.Decision, verdict.Category, verdict.Reason)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
