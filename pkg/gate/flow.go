package gate

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/journal"
)

// Validation limits
const (
	PINLength         = 4
	MinQuestionLength = 10
	MinAnswerLength   = 3
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// ValidatePIN reports whether pin is exactly four ASCII digits.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPIN
	}
	return nil
}

// normalizeText trims and NFC-normalises free text.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// normalizeAnswer is the form security answers are hashed and compared in.
func normalizeAnswer(s string) string {
	return strings.ToLower(normalizeText(s))
}

// verifyState is the state of a single PIN verification.
type verifyState int

const (
	awaitingPIN verifyState = iota
	awaitingAnswer
	verified
	cancelled
)

// verifyFlow holds the pure transition logic of verifyPin. It never
// prompts; Gate drives it by feeding replies in.
type verifyFlow struct {
	cred      journal.Credential
	state     verifyState
	problem   error
	recovered bool
	failures  int
}

func newVerifyFlow(cred journal.Credential) *verifyFlow {
	return &verifyFlow{cred: cred, state: awaitingPIN}
}

func (f *verifyFlow) done() bool {
	return f.state == verified || f.state == cancelled
}

func (f *verifyFlow) submitPIN(reply PINReply) {
	f.problem = nil
	if reply.Forgot {
		if f.cred.SecurityQuestion == "" || f.cred.SecurityAnswerHash == "" {
			f.problem = ErrNoRecovery
			return
		}
		f.state = awaitingAnswer
		return
	}

	pin := strings.TrimSpace(reply.PIN)
	if err := ValidatePIN(pin); err != nil {
		f.problem = err
		return
	}
	if ok, _ := crypto.VerifySecret([]byte(pin), f.cred.Hash); !ok {
		f.problem = ErrIncorrectPIN
		f.failures++
		return
	}
	f.state = verified
}

// legacyAnswerForms are the spellings a browser-era answer hash may have
// been computed over: lower-cased, with or without trimming, never
// NFC-normalised.
func legacyAnswerForms(raw string) []string {
	lower := strings.ToLower(raw)
	return []string{strings.TrimSpace(lower), lower}
}

func (f *verifyFlow) submitAnswer(raw string) {
	f.problem = nil
	answer := normalizeAnswer(raw)
	if answer == "" {
		f.problem = ErrEmptyAnswer
		return
	}
	ok, _ := crypto.VerifySecret([]byte(answer), f.cred.SecurityAnswerHash)
	if !ok && crypto.IsLegacy(f.cred.SecurityAnswerHash) {
		for _, form := range legacyAnswerForms(raw) {
			if ok, _ = crypto.VerifySecret([]byte(form), f.cred.SecurityAnswerHash); ok {
				break
			}
		}
	}
	if !ok {
		f.problem = ErrIncorrectAnswer
		f.failures++
		return
	}
	f.recovered = true
	f.state = verified
}

func (f *verifyFlow) cancel() {
	f.state = cancelled
}

// SetupStep identifies the field a setup prompt asks for.
type SetupStep int

const (
	StepPIN SetupStep = iota
	StepConfirm
	StepQuestion
	StepAnswer
	stepComplete
	stepCancelled
)

// String returns the prompt title for the step.
func (s SetupStep) String() string {
	switch s {
	case StepPIN:
		return "Set Up PIN"
	case StepConfirm:
		return "Confirm PIN"
	case StepQuestion, StepAnswer:
		return "Security Question"
	default:
		return "Unknown"
	}
}

// Secret reports whether the step's input should be hidden.
func (s SetupStep) Secret() bool {
	return s == StepPIN || s == StepConfirm
}

// setupFlow collects and validates a new credential one field at a time.
type setupFlow struct {
	step     SetupStep
	problem  error
	pin      string
	question string
	answer   string
}

func newSetupFlow() *setupFlow {
	return &setupFlow{step: StepPIN}
}

func (f *setupFlow) done() bool {
	return f.step == stepComplete || f.step == stepCancelled
}

// submit validates input for the current step and advances on success.
// A mismatched confirmation stays on the confirm step.
func (f *setupFlow) submit(input string) {
	f.problem = nil
	switch f.step {
	case StepPIN:
		pin := strings.TrimSpace(input)
		if err := ValidatePIN(pin); err != nil {
			f.problem = err
			return
		}
		f.pin = pin
		f.step = StepConfirm
	case StepConfirm:
		if strings.TrimSpace(input) != f.pin {
			f.problem = ErrPINMismatch
			return
		}
		f.step = StepQuestion
	case StepQuestion:
		q := normalizeText(input)
		if utf8.RuneCountInString(q) < MinQuestionLength {
			f.problem = ErrQuestionTooShort
			return
		}
		f.question = q
		f.step = StepAnswer
	case StepAnswer:
		a := normalizeAnswer(input)
		if utf8.RuneCountInString(a) < MinAnswerLength {
			f.problem = ErrAnswerTooShort
			return
		}
		f.answer = a
		f.step = stepComplete
	}
}

func (f *setupFlow) cancel() {
	f.step = stepCancelled
}

// credential hashes the collected fields. Only valid once complete.
func (f *setupFlow) credential(p crypto.Params) (journal.Credential, error) {
	if f.step != stepComplete {
		return journal.Credential{}, errors.New("gate: setup not complete")
	}
	pinHash, err := crypto.HashSecret([]byte(f.pin), p)
	if err != nil {
		return journal.Credential{}, err
	}
	answerHash, err := crypto.HashSecret([]byte(f.answer), p)
	if err != nil {
		return journal.Credential{}, err
	}
	return journal.Credential{
		Hash:               pinHash,
		SecurityQuestion:   f.question,
		SecurityAnswerHash: answerHash,
	}, nil
}
