// Package gate decides whether journal mutations are allowed and runs the
// interactive PIN flows that guard them.
//
// Every operation returns (bool, error). The bool is the outcome: false
// means the user declined, cancelled or abandoned a flow, and nothing was
// changed. The error is reserved for prompter faults and for refusals the
// entry's state makes unconditional (not found, already sealed).
package gate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/journal"
	"github.com/forest6511/timelock/pkg/security"
)

// Errors
var (
	ErrCancelled        = errors.New("gate: cancelled")
	ErrInvalidPIN       = errors.New("gate: PIN must be exactly 4 digits")
	ErrPINMismatch      = errors.New("gate: PINs do not match")
	ErrQuestionTooShort = fmt.Errorf("gate: security question must be at least %d characters", MinQuestionLength)
	ErrAnswerTooShort   = fmt.Errorf("gate: answer must be at least %d characters", MinAnswerLength)
	ErrIncorrectPIN     = errors.New("gate: incorrect PIN")
	ErrIncorrectAnswer  = errors.New("gate: incorrect answer")
	ErrEmptyAnswer      = errors.New("gate: please enter your answer")
	ErrNoRecovery       = errors.New("gate: no security question set up")
	ErrPINExists        = errors.New("gate: PIN protection is already enabled")
	ErrNoPIN            = errors.New("gate: PIN protection is not enabled")
)

// Confirmation dialogs
const (
	titleDeleteSealed = "Delete Sealed Entry"
	titleDeleteLocked = "Delete Locked Entry"
	titleDelete       = "Delete Entry"
	titleSeal         = "Seal Entry"
	titleClearAll     = "Clear All Data"
	titleRemovePIN    = "Remove PIN Protection"

	msgDeleteSealed = "This will permanently delete a sealed memory. This action cannot be undone."
	msgDeleteLocked = "This will delete a PIN-locked entry. You will need to verify your PIN to proceed."
	msgDelete       = "Are you sure you want to delete this entry?"
	msgSeal         = "Seal this memory? Once sealed, its content and timestamp will be locked forever and cannot be edited. This action is irreversible."
	msgClearAll     = "This will permanently delete all entries and settings. This action cannot be undone."
	msgRemovePIN    = "Are you sure you want to remove PIN protection? Sealed entries will no longer require a PIN to delete."
)

// PIN prompt messages
const (
	MsgVerifyDelete = "Enter your PIN to delete this entry:"
	MsgVerifyUnlock = "Enter your PIN to unlock this entry:"
	MsgVerifyChange = "Enter your current PIN:"
	MsgVerifyRemove = "Enter your PIN to remove protection:"
	MsgVerifySeal   = "Enter your PIN to seal this entry:"
)

// Options configures a Gate. The zero value is usable.
type Options struct {
	// Params are the Argon2id costs for new credentials. Zero means
	// crypto.DefaultParams.
	Params crypto.Params
	// KeepLocksOnPINRemoval leaves lock flags in place when the PIN is
	// removed instead of clearing them.
	KeepLocksOnPINRemoval bool
	Logger                *zap.Logger
	Auditor               journal.Auditor
	Source                string
}

// Gate guards a journal.Store with confirmations and PIN verification.
// Prompts are strictly sequential; a Gate must not be driven from more
// than one goroutine at a time.
type Gate struct {
	store      *journal.Store
	prompt     Prompter
	params     crypto.Params
	clearLocks bool
	logger     *zap.Logger
	auditor    journal.Auditor
	source     string
}

// New returns a Gate over store that asks p for user input.
func New(store *journal.Store, p Prompter, opts *Options) *Gate {
	if opts == nil {
		opts = &Options{}
	}
	g := &Gate{
		store:      store,
		prompt:     p,
		params:     opts.Params,
		clearLocks: !opts.KeepLocksOnPINRemoval,
		logger:     opts.Logger,
		auditor:    opts.Auditor,
		source:     opts.Source,
	}
	if g.params == (crypto.Params{}) {
		g.params = crypto.DefaultParams()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.source == "" {
		g.source = audit.SourceCLI
	}
	return g
}

// answered converts a prompter error into a flow outcome: cancellation is
// a normal "no", anything else is a fault.
func answered(err error) (cancelled bool, fault error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrCancelled) {
		return true, nil
	}
	return true, err
}

// confirm asks a yes/no question. Cancellation counts as no.
func (g *Gate) confirm(ctx context.Context, title, message string) (bool, error) {
	ok, err := g.prompt.Confirm(ctx, title, message)
	if stop, fault := answered(err); stop {
		return false, fault
	}
	return ok, nil
}

// VerifyPIN asks for the PIN, offering security-question recovery. It
// succeeds without prompting when no PIN is configured. Wrong answers
// re-prompt without limit; only cancellation ends the flow with false.
func (g *Gate) VerifyPIN(ctx context.Context, message string) (bool, error) {
	cred, ok := g.store.Credential()
	if !ok {
		return true, nil
	}

	f := newVerifyFlow(cred)
	for !f.done() {
		var err error
		switch f.state {
		case awaitingPIN:
			var reply PINReply
			reply, err = g.prompt.PromptPIN(ctx, PINRequest{Message: message, Problem: f.problem})
			if err == nil {
				f.submitPIN(reply)
			}
		case awaitingAnswer:
			var answer string
			answer, err = g.prompt.PromptAnswer(ctx, AnswerRequest{Question: cred.SecurityQuestion, Problem: f.problem})
			if err == nil {
				f.submitAnswer(answer)
			}
		}
		if stop, fault := answered(err); stop {
			f.cancel()
			if fault != nil {
				return false, fault
			}
		}
		if errors.Is(f.problem, ErrIncorrectPIN) || errors.Is(f.problem, ErrIncorrectAnswer) {
			g.logError(audit.OpPINVerifyFailed, f.problem)
		}
	}

	if f.state != verified {
		g.logger.Debug("pin verification cancelled", zap.Int("failures", f.failures))
		return false, nil
	}
	if f.recovered {
		g.logSuccess(audit.OpPINRecovered, "")
		g.prompt.Notify(ctx, "PIN verification bypassed")
	}
	return true, nil
}

// runSetup collects a new credential. It returns false if the user
// abandons the flow.
func (g *Gate) runSetup(ctx context.Context) (bool, error) {
	f := newSetupFlow()
	for !f.done() {
		step := f.step
		input, err := g.prompt.PromptSetup(ctx, SetupRequest{Step: step, Problem: f.problem})
		if stop, fault := answered(err); stop {
			f.cancel()
			if fault != nil {
				return false, fault
			}
			continue
		}
		f.submit(input)

		if f.problem == nil && step == StepPIN {
			if strength, warnings := security.CheckPIN(f.pin); strength != security.PINGood {
				for _, w := range warnings {
					g.prompt.Notify(ctx, "warning: "+w)
				}
			}
		}
	}
	if f.step != stepComplete {
		return false, nil
	}
	for _, w := range security.CheckRecovery(f.question, f.answer) {
		g.prompt.Notify(ctx, "warning: "+w)
	}

	cred, err := f.credential(g.params)
	if err != nil {
		return false, fmt.Errorf("gate: failed to hash credential: %w", err)
	}
	g.store.SetCredential(ctx, cred)
	return true, nil
}

// SetupPIN enables PIN protection.
func (g *Gate) SetupPIN(ctx context.Context) (bool, error) {
	if g.store.HasPIN() {
		return false, ErrPINExists
	}
	ok, err := g.runSetup(ctx)
	if ok {
		g.prompt.Notify(ctx, "PIN protection enabled")
	}
	return ok, err
}

// ChangePIN verifies the current PIN and then replaces the credential.
// Abandoning the new setup keeps the old PIN.
func (g *Gate) ChangePIN(ctx context.Context) (bool, error) {
	if !g.store.HasPIN() {
		return false, ErrNoPIN
	}
	if ok, err := g.VerifyPIN(ctx, MsgVerifyChange); !ok || err != nil {
		return false, err
	}
	ok, err := g.runSetup(ctx)
	if ok {
		g.prompt.Notify(ctx, "PIN changed")
	}
	return ok, err
}

// RemovePIN verifies the PIN, asks for confirmation, and deletes the
// credential. Lock flags are cleared unless the gate was configured to
// keep them.
func (g *Gate) RemovePIN(ctx context.Context) (bool, error) {
	if !g.store.HasPIN() {
		return false, ErrNoPIN
	}
	if ok, err := g.VerifyPIN(ctx, MsgVerifyRemove); !ok || err != nil {
		return false, err
	}
	if ok, err := g.confirm(ctx, titleRemovePIN, msgRemovePIN); !ok || err != nil {
		return false, err
	}

	cleared, err := g.store.RemoveCredential(ctx, g.clearLocks)
	if err != nil {
		return false, err
	}
	g.prompt.Notify(ctx, "PIN protection removed")
	if cleared > 0 {
		g.prompt.Notify(ctx, fmt.Sprintf("%d locked entries were unlocked", cleared))
	}
	return true, nil
}

// Lock locks an unsealed entry. Without a PIN the setup flow runs first;
// if it is abandoned the entry stays unlocked and Lock returns false so
// the caller can revert any optimistic state.
func (g *Gate) Lock(ctx context.Context, id string) (bool, error) {
	e, err := g.store.Get(id)
	if err != nil {
		return false, err
	}
	if e.IsSealed {
		return false, journal.ErrSealed
	}

	if !g.store.HasPIN() {
		ok, err := g.runSetup(ctx)
		if err != nil {
			return false, err
		}
		if !ok || !g.store.HasPIN() {
			return false, nil
		}
	}

	if err := g.store.Lock(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock verifies the PIN and unlocks the entry for the current view.
// An entry that is not locked is left alone.
func (g *Gate) Unlock(ctx context.Context, id string) (bool, error) {
	e, err := g.store.Get(id)
	if err != nil {
		return false, err
	}
	if e.IsSealed {
		return false, journal.ErrSealed
	}
	if !e.Locked {
		return true, nil
	}

	if ok, err := g.VerifyPIN(ctx, MsgVerifyUnlock); !ok || err != nil {
		return false, err
	}
	if err := g.store.Unlock(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an entry. Sealed or locked entries need a confirmation
// and the PIN when one is configured, whatever the session state; other
// entries need only a confirmation.
func (g *Gate) Delete(ctx context.Context, id string) (bool, error) {
	e, err := g.store.Get(id)
	if err != nil {
		return false, err
	}

	if (e.IsSealed || e.Locked) && g.store.HasPIN() {
		title, msg := titleDeleteLocked, msgDeleteLocked
		if e.IsSealed {
			title, msg = titleDeleteSealed, msgDeleteSealed
		}
		if ok, err := g.confirm(ctx, title, msg); !ok || err != nil {
			return false, err
		}
		if ok, err := g.VerifyPIN(ctx, MsgVerifyDelete); !ok || err != nil {
			return false, err
		}
	} else if ok, err := g.confirm(ctx, titleDelete, msgDelete); !ok || err != nil {
		return false, err
	}

	if err := g.store.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Seal asks for confirmation and seals the entry. A locked entry that is
// not unlocked for this view also needs the PIN.
func (g *Gate) Seal(ctx context.Context, id string) (bool, error) {
	e, err := g.store.Get(id)
	if err != nil {
		return false, err
	}
	if e.IsSealed {
		return false, journal.ErrAlreadySealed
	}

	if ok, err := g.confirm(ctx, titleSeal, msgSeal); !ok || err != nil {
		return false, err
	}
	if e.Locked && !e.UnlockedForSession {
		if ok, err := g.VerifyPIN(ctx, MsgVerifySeal); !ok || err != nil {
			return false, err
		}
	}
	if err := g.store.Seal(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// ClearAll asks for confirmation and erases every entry and the PIN.
func (g *Gate) ClearAll(ctx context.Context) (bool, error) {
	if ok, err := g.confirm(ctx, titleClearAll, msgClearAll); !ok || err != nil {
		return false, err
	}
	g.store.ClearAll(ctx)
	return true, nil
}

func (g *Gate) logSuccess(op, id string) {
	if g.auditor != nil {
		_ = g.auditor.LogSuccess(op, g.source, id)
	}
}

func (g *Gate) logError(op string, err error) {
	if g.auditor != nil {
		_ = g.auditor.LogError(op, g.source, "", "VERIFY_FAILED", err.Error())
	}
}
