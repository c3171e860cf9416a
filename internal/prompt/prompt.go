// Package prompt implements gate.Prompter on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/forest6511/timelock/pkg/gate"
)

// Inputs at the PIN prompt that start security-question recovery.
var forgotWords = map[string]bool{
	"forgot": true,
	"?":      true,
}

// Terminal prompts on a reader/writer pair. Hidden input is used only
// when the reader is an interactive terminal.
type Terminal struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	fd     int
	tty    bool
}

// New returns a Terminal reading from in. When in is an *os.File
// attached to a terminal, PINs are read without echo.
func New(in io.Reader, out, errOut io.Writer) *Terminal {
	t := &Terminal{
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		fd:     -1,
	}
	if f, ok := in.(*os.File); ok {
		t.fd = int(f.Fd())
		t.tty = term.IsTerminal(t.fd)
	}
	return t
}

// Stdio returns a Terminal on the process's standard streams.
func Stdio() *Terminal {
	return New(os.Stdin, os.Stdout, os.Stderr)
}

// readLine reads one line, trimming the trailing newline. EOF with no
// input means the user backed out.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", gate.ErrCancelled
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readSecret reads without echo on a terminal and falls back to a plain
// line for piped input.
func (t *Terminal) readSecret(ctx context.Context) (string, error) {
	if !t.tty {
		return t.readLine(ctx)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return string(b), nil
}

func (t *Terminal) problem(err error) {
	if err != nil {
		fmt.Fprintf(t.errOut, "%s\n", gate.ProblemText(err))
	}
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (t *Terminal) Confirm(ctx context.Context, title, message string) (bool, error) {
	fmt.Fprintf(t.out, "%s\n%s\n[y/N]: ", title, message)
	line, err := t.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// PromptPIN asks for the current PIN. Typing "forgot" or "?" starts
// recovery. An empty line cancels.
func (t *Terminal) PromptPIN(ctx context.Context, req gate.PINRequest) (gate.PINReply, error) {
	t.problem(req.Problem)
	if req.Message != "" {
		fmt.Fprintln(t.out, req.Message)
	}
	fmt.Fprint(t.out, "PIN (or \"forgot\"): ")
	line, err := t.readSecret(ctx)
	if err != nil {
		return gate.PINReply{}, err
	}
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return gate.PINReply{}, gate.ErrCancelled
	case forgotWords[strings.ToLower(line)]:
		return gate.PINReply{Forgot: true}, nil
	}
	return gate.PINReply{PIN: line}, nil
}

// PromptAnswer shows the security question and reads the answer.
func (t *Terminal) PromptAnswer(ctx context.Context, req gate.AnswerRequest) (string, error) {
	t.problem(req.Problem)
	fmt.Fprintf(t.out, "Security question: %s\nAnswer: ", req.Question)
	return t.readLine(ctx)
}

// PromptSetup reads one field of a new credential.
func (t *Terminal) PromptSetup(ctx context.Context, req gate.SetupRequest) (string, error) {
	t.problem(req.Problem)
	var label string
	switch req.Step {
	case gate.StepPIN:
		label = "Enter a 4-digit PIN"
	case gate.StepConfirm:
		label = "Re-enter PIN"
	case gate.StepQuestion:
		label = "Security question"
	case gate.StepAnswer:
		label = "Answer"
	default:
		label = req.Step.String()
	}
	fmt.Fprintf(t.out, "%s: ", label)
	if req.Step.Secret() {
		return t.readSecret(ctx)
	}
	return t.readLine(ctx)
}

// Notify prints a message on the error stream.
func (t *Terminal) Notify(_ context.Context, message string) {
	fmt.Fprintln(t.errOut, message)
}

var _ gate.Prompter = (*Terminal)(nil)
