package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"coda/internal/policy/approval"
	"coda/pkg/logger"
)

// Responder resolves approval requests.
type Responder interface {
	HandleResponse(requestID string, approved bool, message string) error
}

var _ approval.Notifier = (*TerminalNotifier)(nil)

// TerminalNotifier asks the user to approve tool calls on the terminal.
// A single key answers when in is a terminal, otherwise a line is read.
type TerminalNotifier struct {
	mu     sync.Mutex
	in     io.Reader
	reader *bufio.Reader
	out    io.Writer
	resp   Responder
}

// NewTerminalNotifier creates a notifier reading answers from in.
func NewTerminalNotifier(in io.Reader, out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{in: in, reader: bufio.NewReader(in), out: out}
}

// SetResponder sets where answers are sent. It must be called before the
// first request arrives.
func (n *TerminalNotifier) SetResponder(r Responder) {
	n.resp = r
}

// NotifyRequest prompts in the background; the manager is waiting on the answer.
func (n *TerminalNotifier) NotifyRequest(req *approval.Request) error {
	if n.resp == nil {
		return fmt.Errorf("terminal notifier: no responder")
	}
	go n.ask(req)
	return nil
}

// NotifyResolved reports requests that were not answered on the terminal.
func (n *TerminalNotifier) NotifyResolved(req *approval.Request, result *approval.Result) error {
	if result.Decision == approval.DecisionTimeout {
		n.mu.Lock()
		defer n.mu.Unlock()
		fmt.Fprintf(n.out, "\napproval for %s timed out\n", req.ToolName)
	}
	return nil
}

func (n *TerminalNotifier) ask(req *approval.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	fmt.Fprintf(n.out, "\n%s wants to run", req.ToolName)
	if req.Permission != "" && req.Permission != req.ToolName {
		fmt.Fprintf(n.out, " (%s)", req.Permission)
	}
	fmt.Fprintf(n.out, ": %s\n", req.Arguments)
	if req.Reason != "" {
		fmt.Fprintf(n.out, "  %s\n", req.Reason)
	}
	fmt.Fprint(n.out, "Allow? [y/N] ")

	approved, err := n.answer()
	if err != nil {
		logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to read approval answer")
	}
	if err := n.resp.HandleResponse(req.ID, approved, "terminal"); err != nil {
		// 已超时或已取消
		logger.Debug().Err(err).Str("request_id", req.ID).Msg("approval answer dropped")
	}
}

func (n *TerminalNotifier) answer() (bool, error) {
	if f, ok := n.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err == nil {
			defer func() { _ = term.Restore(fd, state) }()
			buf := make([]byte, 1)
			if _, err := f.Read(buf); err != nil {
				return false, err
			}
			fmt.Fprint(n.out, string(buf[0])+"\r\n")
			return buf[0] == 'y' || buf[0] == 'Y', nil
		}
	}

	line, err := n.reader.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
