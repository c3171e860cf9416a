package gate

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/journal"
	"github.com/forest6511/timelock/pkg/kvstore"
)

var testParams = crypto.Params{Memory: 64, Time: 1, Threads: 1}

type confirmReply struct {
	ok  bool
	err error
}

type textReply struct {
	text string
	err  error
}

type pinReply struct {
	reply PINReply
	err   error
}

// fakePrompter replays scripted answers. An exhausted queue behaves like
// the user cancelling.
type fakePrompter struct {
	confirms []confirmReply
	pins     []pinReply
	answers  []textReply
	setups   []textReply

	confirmTitles []string
	pinProblems   []error
	answerProblem []error
	setupSteps    []SetupStep
	setupProblems []error
	notices       []string
}

func (p *fakePrompter) Confirm(_ context.Context, title, _ string) (bool, error) {
	p.confirmTitles = append(p.confirmTitles, title)
	if len(p.confirms) == 0 {
		return false, ErrCancelled
	}
	r := p.confirms[0]
	p.confirms = p.confirms[1:]
	return r.ok, r.err
}

func (p *fakePrompter) PromptPIN(_ context.Context, req PINRequest) (PINReply, error) {
	p.pinProblems = append(p.pinProblems, req.Problem)
	if len(p.pins) == 0 {
		return PINReply{}, ErrCancelled
	}
	r := p.pins[0]
	p.pins = p.pins[1:]
	return r.reply, r.err
}

func (p *fakePrompter) PromptAnswer(_ context.Context, req AnswerRequest) (string, error) {
	p.answerProblem = append(p.answerProblem, req.Problem)
	if len(p.answers) == 0 {
		return "", ErrCancelled
	}
	r := p.answers[0]
	p.answers = p.answers[1:]
	return r.text, r.err
}

func (p *fakePrompter) PromptSetup(_ context.Context, req SetupRequest) (string, error) {
	p.setupSteps = append(p.setupSteps, req.Step)
	p.setupProblems = append(p.setupProblems, req.Problem)
	if len(p.setups) == 0 {
		return "", ErrCancelled
	}
	r := p.setups[0]
	p.setups = p.setups[1:]
	return r.text, r.err
}

func (p *fakePrompter) Notify(_ context.Context, message string) {
	p.notices = append(p.notices, message)
}

func (p *fakePrompter) pin(pins ...string) *fakePrompter {
	for _, s := range pins {
		p.pins = append(p.pins, pinReply{reply: PINReply{PIN: s}})
	}
	return p
}

func (p *fakePrompter) forgot() *fakePrompter {
	p.pins = append(p.pins, pinReply{reply: PINReply{Forgot: true}})
	return p
}

func (p *fakePrompter) answer(answers ...string) *fakePrompter {
	for _, s := range answers {
		p.answers = append(p.answers, textReply{text: s})
	}
	return p
}

func (p *fakePrompter) setup(inputs ...string) *fakePrompter {
	for _, s := range inputs {
		p.setups = append(p.setups, textReply{text: s})
	}
	return p
}

func (p *fakePrompter) confirm(answers ...bool) *fakePrompter {
	for _, ok := range answers {
		p.confirms = append(p.confirms, confirmReply{ok: ok})
	}
	return p
}

type recordingAuditor struct {
	ops []string
}

func (r *recordingAuditor) LogSuccess(op, _, _ string) error {
	r.ops = append(r.ops, op)
	return nil
}

func (r *recordingAuditor) LogError(op, _, _, _, _ string) error {
	r.ops = append(r.ops, op)
	return nil
}

func (r *recordingAuditor) count(op string) int {
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *journal.Store
	prompt  *fakePrompter
	gate    *Gate
	auditor *recordingAuditor
}

func newFixture(t *testing.T, opts *Options) *fixture {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.Params = testParams
	rec := &recordingAuditor{}
	opts.Auditor = rec
	store := journal.New(kvstore.NewMemoryStore(), &journal.Options{Auditor: rec})
	p := &fakePrompter{}
	return &fixture{store: store, prompt: p, gate: New(store, p, opts), auditor: rec}
}

// withPIN installs PIN 2580 with answer "fluffy".
func (f *fixture) withPIN(t *testing.T) {
	t.Helper()
	pinHash, err := crypto.HashSecret([]byte("2580"), testParams)
	if err != nil {
		t.Fatal(err)
	}
	answerHash, err := crypto.HashSecret([]byte("fluffy"), testParams)
	if err != nil {
		t.Fatal(err)
	}
	f.store.SetCredential(context.Background(), journal.Credential{
		Hash:               pinHash,
		SecurityQuestion:   "What was my first pet called?",
		SecurityAnswerHash: answerHash,
	})
}

func TestValidatePIN(t *testing.T) {
	valid := []string{"0000", "9999", "2580", "0420"}
	for _, pin := range valid {
		if err := ValidatePIN(pin); err != nil {
			t.Errorf("ValidatePIN(%q) = %v, want nil", pin, err)
		}
	}
	invalid := []string{"", "123", "12345", "12a4", " 123", "１２３４", "12.4"}
	for _, pin := range invalid {
		if err := ValidatePIN(pin); !errors.Is(err, ErrInvalidPIN) {
			t.Errorf("ValidatePIN(%q) = %v, want ErrInvalidPIN", pin, err)
		}
	}
}

func TestVerifyPINWithoutCredential(t *testing.T) {
	f := newFixture(t, nil)

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if !ok || err != nil {
		t.Fatalf("VerifyPIN() = %v, %v; want true", ok, err)
	}
	if len(f.prompt.pinProblems) != 0 {
		t.Error("expected no prompt when no PIN is configured")
	}
}

func TestVerifyPINRetriesWithoutLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.pin("1111", "12a4", "0000", "9999", "2580")

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if !ok || err != nil {
		t.Fatalf("VerifyPIN() = %v, %v; want true", ok, err)
	}
	want := []error{nil, ErrIncorrectPIN, ErrInvalidPIN, ErrIncorrectPIN, ErrIncorrectPIN}
	if len(f.prompt.pinProblems) != len(want) {
		t.Fatalf("expected %d prompts, got %d", len(want), len(f.prompt.pinProblems))
	}
	for i, w := range want {
		if !errors.Is(f.prompt.pinProblems[i], w) && f.prompt.pinProblems[i] != w {
			t.Errorf("prompt %d problem = %v, want %v", i, f.prompt.pinProblems[i], w)
		}
	}
	if n := f.auditor.count(audit.OpPINVerifyFailed); n != 3 {
		t.Errorf("expected 3 failed verifications audited, got %d", n)
	}
}

func TestVerifyPINCancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.pin("1111")

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if ok || err != nil {
		t.Errorf("VerifyPIN() = %v, %v; want false, nil", ok, err)
	}
}

func TestVerifyPINPrompterFault(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.pins = []pinReply{{err: io.ErrUnexpectedEOF}}

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if ok || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("VerifyPIN() = %v, %v; want false, ErrUnexpectedEOF", ok, err)
	}
}

func TestRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.forgot().answer("", "rex", "  FLUFFY ")

	ok, err := f.gate.VerifyPIN(ctx, "Enter PIN:")
	if !ok || err != nil {
		t.Fatalf("VerifyPIN() = %v, %v; want true", ok, err)
	}
	want := []error{nil, ErrEmptyAnswer, ErrIncorrectAnswer}
	for i, w := range want {
		if f.prompt.answerProblem[i] != w {
			t.Errorf("answer prompt %d problem = %v, want %v", i, f.prompt.answerProblem[i], w)
		}
	}
	if f.auditor.count(audit.OpPINRecovered) != 1 {
		t.Error("expected recovery to be audited")
	}
	if !strings.Contains(strings.Join(f.prompt.notices, "|"), "bypassed") {
		t.Errorf("expected bypass notice, got %v", f.prompt.notices)
	}

	// recovery covers one call only
	ok, _ = f.gate.VerifyPIN(ctx, "Enter PIN:")
	if ok {
		t.Error("expected the next verification to prompt again")
	}
}

func TestRecoveryCancelAbortsVerification(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.forgot().answer("rex")

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if ok || err != nil {
		t.Errorf("VerifyPIN() = %v, %v; want false, nil", ok, err)
	}
	if len(f.prompt.pinProblems) != 1 {
		t.Errorf("cancelled recovery must not return to the PIN prompt, got %d prompts", len(f.prompt.pinProblems))
	}
}

func TestForgotWithoutSecurityQuestion(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetCredential(context.Background(), journal.Credential{Hash: crypto.LegacyHash("2580")})
	f.prompt.forgot().pin("2580")

	ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
	if !ok || err != nil {
		t.Fatalf("VerifyPIN() = %v, %v; want true", ok, err)
	}
	if f.prompt.pinProblems[1] != ErrNoRecovery {
		t.Errorf("expected ErrNoRecovery problem, got %v", f.prompt.pinProblems[1])
	}
}

func TestVerifyLegacyCredential(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetCredential(context.Background(), journal.Credential{
		Hash:               crypto.LegacyHash("2580"),
		SecurityQuestion:   "What was my first pet called?",
		SecurityAnswerHash: crypto.LegacyHash("fluffy"),
	})

	f.prompt.pin("2580")
	if ok, _ := f.gate.VerifyPIN(context.Background(), "Enter PIN:"); !ok {
		t.Error("expected legacy PIN hash to verify")
	}
	f.prompt.forgot().answer("Fluffy")
	if ok, _ := f.gate.VerifyPIN(context.Background(), "Enter PIN:"); !ok {
		t.Error("expected legacy answer hash to verify")
	}
}

func TestVerifyLegacyAnswerForms(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		answer string
	}{
		{"decomposed accent", "cafe\u0301", "CAFE\u0301"},
		{"surrounding spaces", " fluffy ", " Fluffy "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.store.SetCredential(context.Background(), journal.Credential{
				Hash:               crypto.LegacyHash("2580"),
				SecurityQuestion:   "Where did we first meet?",
				SecurityAnswerHash: crypto.LegacyHash(tt.stored),
			})
			f.prompt.forgot().answer(tt.answer)

			ok, err := f.gate.VerifyPIN(context.Background(), "Enter PIN:")
			if !ok || err != nil {
				t.Errorf("VerifyPIN() = %v, %v; want true", ok, err)
			}
		})
	}
}

func TestSetupPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.prompt.setup("2580", "2580", "What was my first pet called?", "  Fluffy ")

	ok, err := f.gate.SetupPIN(ctx)
	if !ok || err != nil {
		t.Fatalf("SetupPIN() = %v, %v", ok, err)
	}
	cred, has := f.store.Credential()
	if !has {
		t.Fatal("expected credential to be stored")
	}
	if cred.SecurityQuestion != "What was my first pet called?" {
		t.Errorf("unexpected question %q", cred.SecurityQuestion)
	}
	if ok, _ := crypto.VerifySecret([]byte("2580"), cred.Hash); !ok {
		t.Error("stored hash does not verify the PIN")
	}
	if ok, _ := crypto.VerifySecret([]byte("fluffy"), cred.SecurityAnswerHash); !ok {
		t.Error("answer must be stored trimmed and lower-cased")
	}
	if strings.Contains(cred.Hash, "2580") {
		t.Error("PIN must not be stored in clear")
	}

	if _, err := f.gate.SetupPIN(ctx); !errors.Is(err, ErrPINExists) {
		t.Errorf("expected ErrPINExists, got %v", err)
	}
}

func TestSetupValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.setup(
		"123", "12345", "12a4", "2580",
		"2581", "2580",
		"Pet name?", "What was my first pet called?",
		"ab", "Fluffy the cat",
	)

	ok, err := f.gate.SetupPIN(context.Background())
	if !ok || err != nil {
		t.Fatalf("SetupPIN() = %v, %v", ok, err)
	}

	wantSteps := []SetupStep{
		StepPIN, StepPIN, StepPIN, StepPIN,
		StepConfirm, StepConfirm,
		StepQuestion, StepQuestion,
		StepAnswer, StepAnswer,
	}
	wantProblems := []error{
		nil, ErrInvalidPIN, ErrInvalidPIN, ErrInvalidPIN,
		nil, ErrPINMismatch,
		nil, ErrQuestionTooShort,
		nil, ErrAnswerTooShort,
	}
	if len(f.prompt.setupSteps) != len(wantSteps) {
		t.Fatalf("expected %d prompts, got %d", len(wantSteps), len(f.prompt.setupSteps))
	}
	for i := range wantSteps {
		if f.prompt.setupSteps[i] != wantSteps[i] {
			t.Errorf("prompt %d step = %v, want %v", i, f.prompt.setupSteps[i], wantSteps[i])
		}
		if f.prompt.setupProblems[i] != wantProblems[i] {
			t.Errorf("prompt %d problem = %v, want %v", i, f.prompt.setupProblems[i], wantProblems[i])
		}
	}
}

func TestSetupWeakPINWarns(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.setup("1234", "1234", "What was my first pet called?", "Fluffy the cat")

	if ok, _ := f.gate.SetupPIN(context.Background()); !ok {
		t.Fatal("weak PINs are allowed")
	}
	var warnings int
	for _, n := range f.prompt.notices {
		if strings.HasPrefix(n, "warning:") {
			warnings++
		}
	}
	if warnings == 0 {
		t.Errorf("expected weakness warnings, got %v", f.prompt.notices)
	}
}

func TestSetupAbandoned(t *testing.T) {
	f := newFixture(t, nil)
	f.prompt.setup("2580", "2580", "What was my first pet called?")

	ok, err := f.gate.SetupPIN(context.Background())
	if ok || err != nil {
		t.Errorf("SetupPIN() = %v, %v; want false, nil", ok, err)
	}
	if f.store.HasPIN() {
		t.Error("abandoned setup must not store a credential")
	}
}

func TestChangePIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.pin("2580").setup("7391", "7391", "Which street did I grow up on?", "Elm street")

	ok, err := f.gate.ChangePIN(ctx)
	if !ok || err != nil {
		t.Fatalf("ChangePIN() = %v, %v", ok, err)
	}
	cred, _ := f.store.Credential()
	if ok, _ := crypto.VerifySecret([]byte("7391"), cred.Hash); !ok {
		t.Error("expected the new PIN to verify")
	}
	if f.auditor.count(audit.OpPINChange) != 1 {
		t.Errorf("expected pin.change audit, got %v", f.auditor.ops)
	}
}

func TestChangePINRequiresCurrentPIN(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	before, _ := f.store.Credential()
	f.prompt.pin("1111").setup("7391", "7391", "Which street did I grow up on?", "Elm street")

	ok, err := f.gate.ChangePIN(context.Background())
	if ok || err != nil {
		t.Errorf("ChangePIN() = %v, %v; want false, nil", ok, err)
	}
	if len(f.prompt.setupSteps) != 0 {
		t.Error("setup must not start before the current PIN is verified")
	}
	after, _ := f.store.Credential()
	if after != before {
		t.Error("credential changed without verification")
	}
}

func TestChangePINAbandonKeepsOld(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	before, _ := f.store.Credential()
	f.prompt.pin("2580").setup("7391")

	if ok, _ := f.gate.ChangePIN(context.Background()); ok {
		t.Error("expected abandoned change to report false")
	}
	after, _ := f.store.Credential()
	if after != before {
		t.Error("abandoned change replaced the credential")
	}
}

func TestRemovePIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Lock(ctx, e.ID)
	f.prompt.pin("2580").confirm(true)

	ok, err := f.gate.RemovePIN(ctx)
	if !ok || err != nil {
		t.Fatalf("RemovePIN() = %v, %v", ok, err)
	}
	if f.store.HasPIN() {
		t.Error("expected credential to be removed")
	}
	got, _ := f.store.Get(e.ID)
	if got.Locked {
		t.Error("expected locks to be cleared with the PIN")
	}
	if f.prompt.confirmTitles[0] != titleRemovePIN {
		t.Errorf("unexpected confirmation %v", f.prompt.confirmTitles)
	}

	if _, err := f.gate.RemovePIN(ctx); !errors.Is(err, ErrNoPIN) {
		t.Errorf("expected ErrNoPIN, got %v", err)
	}
}

func TestRemovePINKeepLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &Options{KeepLocksOnPINRemoval: true})
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Lock(ctx, e.ID)
	f.prompt.pin("2580").confirm(true)

	if ok, _ := f.gate.RemovePIN(ctx); !ok {
		t.Fatal("expected removal")
	}
	got, _ := f.store.Get(e.ID)
	if !got.Locked {
		t.Error("expected lock flag to survive")
	}
}

func TestRemovePINDeclined(t *testing.T) {
	f := newFixture(t, nil)
	f.withPIN(t)
	f.prompt.pin("2580").confirm(false)

	if ok, _ := f.gate.RemovePIN(context.Background()); ok {
		t.Error("expected declined removal to report false")
	}
	if !f.store.HasPIN() {
		t.Error("declined removal deleted the credential")
	}
}

func TestLockWithoutPINAbandonedSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.store.Create(ctx)
	f.prompt.setup("2580")

	ok, err := f.gate.Lock(ctx, e.ID)
	if ok || err != nil {
		t.Fatalf("Lock() = %v, %v; want false, nil", ok, err)
	}
	got, _ := f.store.Get(e.ID)
	if got.Locked {
		t.Error("entry must stay unlocked when setup is abandoned")
	}
	if f.store.HasPIN() {
		t.Error("no credential should exist")
	}
}

func TestLockWithoutPINRunsSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.store.Create(ctx)
	f.prompt.setup("2580", "2580", "What was my first pet called?", "Fluffy")

	ok, err := f.gate.Lock(ctx, e.ID)
	if !ok || err != nil {
		t.Fatalf("Lock() = %v, %v", ok, err)
	}
	got, _ := f.store.Get(e.ID)
	if !got.Locked || !f.store.HasPIN() {
		t.Errorf("expected locked entry and PIN, got %+v", got)
	}
}

func TestLockRefusals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Seal(ctx, e.ID)

	if _, err := f.gate.Lock(ctx, e.ID); !errors.Is(err, journal.ErrSealed) {
		t.Errorf("Lock sealed: expected ErrSealed, got %v", err)
	}
	if _, err := f.gate.Unlock(ctx, e.ID); !errors.Is(err, journal.ErrSealed) {
		t.Errorf("Unlock sealed: expected ErrSealed, got %v", err)
	}
	if _, err := f.gate.Lock(ctx, "missing"); !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Lock(ctx, e.ID)

	// cancelled: state unchanged
	f.prompt.pin("0000")
	if ok, _ := f.gate.Unlock(ctx, e.ID); ok {
		t.Fatal("expected cancelled unlock to report false")
	}
	got, _ := f.store.Get(e.ID)
	if !got.Locked {
		t.Fatal("cancelled unlock changed the entry")
	}

	f.prompt.pin("2580")
	ok, err := f.gate.Unlock(ctx, e.ID)
	if !ok || err != nil {
		t.Fatalf("Unlock() = %v, %v", ok, err)
	}
	got, _ = f.store.Get(e.ID)
	if got.Locked || !got.UnlockedForSession {
		t.Errorf("expected session unlock, got %+v", got)
	}
	if err := f.store.Update(ctx, e.ID, journal.Fields{}); err != nil {
		t.Errorf("expected update after unlock, got %v", err)
	}

	// already unlocked: no prompt
	prompts := len(f.prompt.pinProblems)
	if ok, _ := f.gate.Unlock(ctx, e.ID); !ok || len(f.prompt.pinProblems) != prompts {
		t.Error("unlocking an unlocked entry should not prompt")
	}
}

func TestDeleteSealedRequiresConfirmAndPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Seal(ctx, e.ID)

	// declined confirmation: no PIN prompt
	f.prompt.confirm(false)
	if ok, _ := f.gate.Delete(ctx, e.ID); ok {
		t.Fatal("declined delete reported true")
	}
	if len(f.prompt.pinProblems) != 0 {
		t.Error("PIN prompted after a declined confirmation")
	}

	// wrong PIN then cancel: entry kept
	f.prompt.confirm(true).pin("1111")
	if ok, _ := f.gate.Delete(ctx, e.ID); ok {
		t.Fatal("delete with wrong PIN reported true")
	}
	if _, err := f.store.Get(e.ID); err != nil {
		t.Fatal("entry deleted without verification")
	}

	f.prompt.confirm(true).pin("2580")
	ok, err := f.gate.Delete(ctx, e.ID)
	if !ok || err != nil {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}
	if _, err := f.store.Get(e.ID); !errors.Is(err, journal.ErrNotFound) {
		t.Error("expected entry to be deleted")
	}
	for _, title := range f.prompt.confirmTitles {
		if title != titleDeleteSealed {
			t.Errorf("unexpected confirmation title %q", title)
		}
	}
}

func TestDeleteLockedWithPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Lock(ctx, e.ID)
	f.prompt.confirm(true).pin("2580")

	if ok, _ := f.gate.Delete(ctx, e.ID); !ok {
		t.Fatal("expected delete")
	}
	if f.prompt.confirmTitles[0] != titleDeleteLocked || len(f.prompt.pinProblems) != 1 {
		t.Errorf("expected locked confirmation and one PIN prompt, got %v", f.prompt.confirmTitles)
	}
}

func TestDeleteWithoutPINNeedsOnlyConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	plain := f.store.Create(ctx)
	locked := f.store.Create(ctx)
	_ = f.store.Lock(ctx, locked.ID)
	f.prompt.confirm(true, true)

	for _, id := range []string{plain.ID, locked.ID} {
		if ok, err := f.gate.Delete(ctx, id); !ok || err != nil {
			t.Fatalf("Delete(%s) = %v, %v", id, ok, err)
		}
	}
	if len(f.prompt.pinProblems) != 0 {
		t.Error("no PIN prompt expected without a credential")
	}
	for _, title := range f.prompt.confirmTitles {
		if title != titleDelete {
			t.Errorf("expected generic confirmation, got %q", title)
		}
	}
	if f.store.Len() != 0 {
		t.Error("expected both entries deleted")
	}
}

func TestDeleteUnlockedEntryWithPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	f.prompt.confirm(true)

	if ok, _ := f.gate.Delete(ctx, e.ID); !ok {
		t.Fatal("expected delete")
	}
	if len(f.prompt.pinProblems) != 0 {
		t.Error("plain entries need no PIN even when one is configured")
	}
}

func TestSeal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.store.Create(ctx)
	title, content := "A", "B"
	_ = f.store.Update(ctx, e.ID, journal.Fields{Title: &title, Content: &content})

	f.prompt.confirm(false)
	if ok, _ := f.gate.Seal(ctx, e.ID); ok {
		t.Fatal("declined seal reported true")
	}
	if got, _ := f.store.Get(e.ID); got.IsSealed {
		t.Fatal("declined seal sealed the entry")
	}

	f.prompt.confirm(true)
	ok, err := f.gate.Seal(ctx, e.ID)
	if !ok || err != nil {
		t.Fatalf("Seal() = %v, %v", ok, err)
	}
	got, _ := f.store.Get(e.ID)
	want := journal.Checksum("AB" + got.EditedAt.String())
	if got.Hash == nil || *got.Hash != want {
		t.Errorf("hash = %v, want %s", got.Hash, want)
	}
	again, _ := f.store.Get(e.ID)
	if *again.Hash != want {
		t.Error("hash changed between reads")
	}

	if _, err := f.gate.Seal(ctx, e.ID); !errors.Is(err, journal.ErrAlreadySealed) {
		t.Errorf("expected ErrAlreadySealed, got %v", err)
	}
}

func TestSealLockedEntryNeedsPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	e := f.store.Create(ctx)
	_ = f.store.Lock(ctx, e.ID)

	f.prompt.confirm(true).pin("1111")
	if ok, _ := f.gate.Seal(ctx, e.ID); ok {
		t.Fatal("sealed a locked entry without the PIN")
	}

	f.prompt.confirm(true).pin("2580")
	if ok, err := f.gate.Seal(ctx, e.ID); !ok || err != nil {
		t.Fatalf("Seal() = %v, %v", ok, err)
	}
	got, _ := f.store.Get(e.ID)
	if !got.IsSealed || got.Locked || got.UnlockedForSession {
		t.Errorf("unexpected sealed entry %+v", got)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.withPIN(t)
	f.store.Create(ctx)

	f.prompt.confirm(false)
	if ok, _ := f.gate.ClearAll(ctx); ok || f.store.Len() != 1 {
		t.Fatal("declined clear changed data")
	}

	f.prompt.confirm(true)
	if ok, _ := f.gate.ClearAll(ctx); !ok {
		t.Fatal("expected clear")
	}
	if f.store.Len() != 0 || f.store.HasPIN() {
		t.Error("expected empty store without PIN")
	}
	if f.prompt.confirmTitles[1] != titleClearAll {
		t.Errorf("unexpected confirmation %v", f.prompt.confirmTitles)
	}
}

func TestConfirmFault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.store.Create(ctx)
	f.prompt.confirms = []confirmReply{{err: io.ErrClosedPipe}}

	ok, err := f.gate.Delete(ctx, e.ID)
	if ok || !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Delete() = %v, %v; want false, ErrClosedPipe", ok, err)
	}
	if f.store.Len() != 1 {
		t.Error("entry deleted despite prompter fault")
	}
}

func TestProblemText(t *testing.T) {
	if got := ProblemText(ErrIncorrectPIN); got != "Incorrect PIN" {
		t.Errorf("ProblemText() = %q", got)
	}
	if got := ProblemText(nil); got != "" {
		t.Errorf("ProblemText(nil) = %q", got)
	}
}
