package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"coda/internal/provider/scripted"
	"coda/internal/runner"
	"coda/internal/runner/types"
	"coda/internal/session"

	"github.com/spf13/cobra"
)

// maxResultPreview bounds tool output echoed to the terminal.
const maxResultPreview = 200

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		transcript  string
		sessionID   string
		plan        bool
		stream      bool
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one agent turn",
		Long: `Run one agent turn against a model and store the session.

Model output is replayed from a transcript file, which makes turns
reproducible. Tool calls that need approval are confirmed on the terminal.`,
		Example: `  # Start a new session
  coda run --transcript turn.yaml "list the go files"

  # Continue a session in plan mode, streaming events
  coda run --transcript next.yaml --session 1f0c... --plan --stream "now plan the refactor"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustCLIContext(cmd)
			if err != nil {
				return err
			}
			if transcript == "" {
				return errors.New("--transcript is required")
			}

			prov, model, err := scripted.Load(transcript)
			if err != nil {
				return err
			}
			db, err := cliCtx.GetStorage()
			if err != nil {
				return err
			}

			cfg := *cliCtx.Config
			cfg.Agent.Model = model.ID()
			if autoApprove {
				cfg.Agent.AutoApprove = true
			}

			notifier := NewTerminalNotifier(cmd.InOrStdin(), cmd.ErrOrStderr())
			r, err := runner.New(&cfg, runner.Deps{Provider: prov, Store: db, Notifier: notifier})
			if err != nil {
				return err
			}
			defer r.Close()
			notifier.SetResponder(r.Approvals())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sess, err := r.Session(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("load session %s: %w", sessionID, err)
			}
			if plan {
				if err := sess.SetMode(session.ModePlan); err != nil {
					return err
				}
			}

			input := strings.Join(args, " ")
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			if !stream {
				res, err := r.Run(ctx, sess, input)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res.Text)
				fmt.Fprintf(errOut, "session %s | %d iteration(s) | %d tokens\n", sess.ID, res.Iterations, res.Usage.Count())
				return nil
			}

			events, err := r.Stream(ctx, sess, input)
			if err != nil {
				return err
			}
			var turnErr error
			for ev := range events {
				if err := printEvent(out, errOut, ev); err != nil {
					turnErr = err
				}
			}
			fmt.Fprintf(errOut, "session %s\n", sess.ID)
			return turnErr
		},
	}

	cmd.Flags().StringVarP(&transcript, "transcript", "t", "", "model transcript to replay (YAML)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID to continue")
	cmd.Flags().BoolVar(&plan, "plan", false, "run the turn in plan mode")
	cmd.Flags().BoolVar(&stream, "stream", false, "print events as they happen")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve every tool call that would ask")

	return cmd
}

// printEvent renders a stream event. It returns the turn error for error events.
func printEvent(out, errOut io.Writer, ev types.Event) error {
	switch ev.Type {
	case types.EventTypeContent:
		fmt.Fprint(out, ev.Content)
	case types.EventTypeThinking:
		fmt.Fprint(errOut, ev.Thinking)
	case types.EventTypeToolCall:
		if ev.ToolCall != nil {
			fmt.Fprintf(errOut, "\n-> %s %s\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
		}
	case types.EventTypeToolResult:
		if tr := ev.ToolResult; tr != nil {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(errOut, "<- %s [%s] %s\n", tr.ToolName, status, preview(tr.Output))
		}
	case types.EventTypeRetry:
		if r := ev.Retry; r != nil {
			fmt.Fprintf(errOut, "retry #%d in %s: %s\n", r.Attempt, r.Delay, r.Message)
		}
	case types.EventTypeCompaction:
		fmt.Fprintln(errOut, "[history compacted]")
	case types.EventTypeTruncated:
		fmt.Fprintf(errOut, "\n[output truncated: %s]\n", ev.TruncatedReason)
	case types.EventTypeDone:
		fmt.Fprintln(out)
		if ev.Usage != nil {
			fmt.Fprintf(errOut, "%d tokens\n", ev.Usage.Count())
		}
	case types.EventTypeError:
		if ev.Error != nil {
			return ev.Error
		}
		return errors.New(ev.ErrorMsg)
	}
	return nil
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxResultPreview {
		return s[:maxResultPreview] + "..."
	}
	return s
}
