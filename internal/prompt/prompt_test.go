package prompt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/forest6511/timelock/pkg/gate"
)

func newTestTerminal(input string) (*Terminal, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(strings.NewReader(input), &out, &errOut), &out, &errOut
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \r\n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
	}
	for _, tt := range tests {
		term, out, _ := newTestTerminal(tt.input)
		got, err := term.Confirm(context.Background(), "Seal Entry", "Seal it?")
		if err != nil {
			t.Fatalf("Confirm(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Seal Entry") {
			t.Errorf("expected title in output, got %q", out.String())
		}
	}
}

func TestConfirmEOF(t *testing.T) {
	term, _, _ := newTestTerminal("")
	if _, err := term.Confirm(context.Background(), "t", "m"); !errors.Is(err, gate.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestPromptPIN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    gate.PINReply
		wantErr error
	}{
		{"pin", "1234\n", gate.PINReply{PIN: "1234"}, nil},
		{"no trailing newline", "1234", gate.PINReply{PIN: "1234"}, nil},
		{"forgot", "forgot\n", gate.PINReply{Forgot: true}, nil},
		{"question mark", "?\n", gate.PINReply{Forgot: true}, nil},
		{"empty line", "\n", gate.PINReply{}, gate.ErrCancelled},
		{"eof", "", gate.PINReply{}, gate.ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, _, _ := newTestTerminal(tt.input)
			got, err := term.PromptPIN(context.Background(), gate.PINRequest{Message: "Enter PIN"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("reply = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPromptPINShowsProblem(t *testing.T) {
	term, out, errOut := newTestTerminal("1234\n")
	_, err := term.PromptPIN(context.Background(), gate.PINRequest{
		Message: "Enter your PIN to unlock this entry",
		Problem: gate.ErrIncorrectPIN,
	})
	if err != nil {
		t.Fatalf("PromptPIN failed: %v", err)
	}
	if !strings.Contains(out.String(), "unlock this entry") {
		t.Errorf("message not shown: %q", out.String())
	}
	if !strings.HasPrefix(errOut.String(), "Incorrect PIN") {
		t.Errorf("problem not shown: %q", errOut.String())
	}
}

func TestPromptAnswer(t *testing.T) {
	term, out, _ := newTestTerminal("Fluffy\n")
	got, err := term.PromptAnswer(context.Background(), gate.AnswerRequest{Question: "First pet's name?"})
	if err != nil {
		t.Fatalf("PromptAnswer failed: %v", err)
	}
	if got != "Fluffy" {
		t.Errorf("answer = %q", got)
	}
	if !strings.Contains(out.String(), "First pet's name?") {
		t.Errorf("question not shown: %q", out.String())
	}
}

func TestPromptSetupSequence(t *testing.T) {
	term, _, _ := newTestTerminal("2580\n2580\nWhat was my first pet?\nfluffy\n")
	ctx := context.Background()
	want := []string{"2580", "2580", "What was my first pet?", "fluffy"}
	steps := []gate.SetupStep{gate.StepPIN, gate.StepConfirm, gate.StepQuestion, gate.StepAnswer}
	for i, step := range steps {
		got, err := term.PromptSetup(ctx, gate.SetupRequest{Step: step})
		if err != nil {
			t.Fatalf("step %v failed: %v", step, err)
		}
		if got != want[i] {
			t.Errorf("step %v = %q, want %q", step, got, want[i])
		}
	}
	if _, err := term.PromptSetup(ctx, gate.SetupRequest{Step: gate.StepPIN}); !errors.Is(err, gate.ErrCancelled) {
		t.Errorf("expected ErrCancelled at EOF, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	term, _, _ := newTestTerminal("y\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := term.Confirm(ctx, "t", "m"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNotify(t *testing.T) {
	term, out, errOut := newTestTerminal("")
	term.Notify(context.Background(), "PIN protection enabled")
	if out.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", out.String())
	}
	if errOut.String() != "PIN protection enabled\n" {
		t.Errorf("unexpected notice %q", errOut.String())
	}
}
