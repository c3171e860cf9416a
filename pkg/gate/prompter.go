package gate

import (
	"context"
	"strings"
)

// PINRequest asks for the current PIN. Problem is the reason the previous
// attempt was rejected, or nil on the first prompt.
type PINRequest struct {
	Message string
	Problem error
}

// PINReply is the answer to a PINRequest. Forgot selects security-question
// recovery instead of a PIN.
type PINReply struct {
	PIN    string
	Forgot bool
}

// AnswerRequest asks for the security answer during recovery.
type AnswerRequest struct {
	Question string
	Problem  error
}

// SetupRequest asks for one field of a new credential.
type SetupRequest struct {
	Step    SetupStep
	Problem error
}

// Prompter is the interactive front end the gate talks to. Every method
// blocks until the user answers and returns ErrCancelled if the user
// backs out. Calls never overlap.
type Prompter interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
	PromptPIN(ctx context.Context, req PINRequest) (PINReply, error)
	PromptAnswer(ctx context.Context, req AnswerRequest) (string, error)
	PromptSetup(ctx context.Context, req SetupRequest) (string, error)
	// Notify shows a non-blocking message.
	Notify(ctx context.Context, message string)
}

// ProblemText renders a validation or verification error for display.
func ProblemText(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimPrefix(err.Error(), "gate: ")
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
