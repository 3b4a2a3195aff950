package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"coda/internal/policy"

	"github.com/spf13/cobra"
)

// NewPermissionCmd creates the permission command.
func NewPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Inspect permission rules",
		Long:  `Evaluate permission rules and workspace path containment.`,
	}

	cmd.AddCommand(newPermissionEvalCmd())
	cmd.AddCommand(newPermissionPathCmd())

	return cmd
}

func newPermissionEvalCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "eval <permission> [values...]",
		Short: "Evaluate a permission against the configured rules",
		Example: `  coda permission eval read src/main.go
  coda permission eval bash "git push"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			ev, err := loadEvaluator(cliCtx)
			if err != nil {
				return err
			}

			d := ev.Check(args[0], args[1:])
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, d)
			}

			fmt.Fprintf(out, "%s\n", d.Action)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for i, v := range d.Values {
				rule := "(no rule)"
				if r := d.Matched[i]; r != nil {
					rule = fmt.Sprintf("%s %s -> %s", r.Permission, r.Pattern, r.Action)
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\n", v, policy.ActionOf(d.Matched[i]), rule)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// loadEvaluator builds the evaluator from the defaults, inline rules and the rules file.
func loadEvaluator(cliCtx *CLIContext) (*policy.Evaluator, error) {
	perm := cliCtx.Config.Permission
	ev := policy.NewEvaluator(append(policy.DefaultRuleset(), perm.Rules...))
	if perm.RulesFile == "" {
		return ev, nil
	}
	rules, err := policy.LoadRuleset(perm.RulesFile)
	if err != nil {
		return nil, err
	}
	ev.SetFileRules(rules)
	return ev, nil
}

func newPermissionPathCmd() *cobra.Command {
	var (
		root          string
		allowExternal bool
	)

	cmd := &cobra.Command{
		Use:   "path <path>...",
		Short: "Check whether paths stay inside the workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				if cliCtx := GetCLIContext(cmd); cliCtx != nil {
					root = cliCtx.Config.Agent.Workspace
				}
			}
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = wd
			}
			guard := policy.PathGuard{Root: root, AllowExternal: allowExternal}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			var blocked []string
			for _, p := range args {
				loc, err := guard.Classify(p)
				status := "ok"
				switch {
				case err != nil:
					status = err.Error()
					blocked = append(blocked, p)
				case loc == policy.Outside && !allowExternal:
					status = "blocked"
					blocked = append(blocked, p)
				case policy.IsDotenv(p):
					status = "dotenv"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p, loc, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(blocked) > 0 {
				return fmt.Errorf("%d path(s) outside %s: %s", len(blocked), root, strings.Join(blocked, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "workspace root (defaults to agent.workspace or the working directory)")
	cmd.Flags().BoolVar(&allowExternal, "allow-external", false, "allow paths outside the workspace")

	return cmd
}
