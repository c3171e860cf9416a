// Package journal owns the journal entries and the optional PIN credential.
//
// A Store is loaded once at startup (Load) and written back after every
// accepted mutation. Persistence failures never roll back the in-memory
// change; they are logged and handed to Options.OnSaveError so the
// presentation layer can show a non-blocking warning.
//
// The Store enforces the per-entry seal and lock rules on Update, Seal,
// Lock and Unlock. PIN verification and confirmations live in pkg/gate,
// which is the intended caller of Delete, Lock, Unlock and the credential
// methods.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/kvstore"
)

// Storage keys
const (
	EntriesKey = "timelock-entries"
	PINKey     = "timelock-pin"
)

// Errors
var (
	ErrNotFound       = errors.New("journal: entry not found")
	ErrSealed         = errors.New("journal: entry is sealed")
	ErrAlreadySealed  = errors.New("journal: entry is already sealed")
	ErrLocked         = errors.New("journal: entry is locked")
	ErrNoCredential   = errors.New("journal: no PIN configured")
	ErrLoadFailed     = errors.New("journal: failed to load stored data")
	ErrInvalidEntry   = errors.New("journal: invalid entry")
	ErrSealMismatch   = errors.New("journal: sealed entry checksum mismatch")
	ErrUnknownVersion = errors.New("journal: unsupported export version")
)

// Auditor receives a record of every accepted or refused operation.
// *audit.Logger satisfies it.
type Auditor interface {
	LogSuccess(op, source, keyName string) error
	LogError(op, source, keyName string, errCode, errMsg string) error
}

// Options configures a Store. The zero value is usable.
type Options struct {
	Logger      *zap.Logger
	Auditor     Auditor
	Source      string // audit source, e.g. audit.SourceCLI
	OnSaveError func(error)
	Now         func() time.Time
	NewID       func() string
}

// Store is the process-wide owner of entries and the PIN credential.
type Store struct {
	kv kvstore.Store

	mu      sync.RWMutex
	entries []*Entry // most recent first
	pin     *Credential

	logger      *zap.Logger
	auditor     Auditor
	source      string
	onSaveError func(error)
	now         func() time.Time
	newID       func() string
}

// New returns an empty Store persisting through kv. Call Load before use.
func New(kv kvstore.Store, opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		kv:          kv,
		logger:      opts.Logger,
		auditor:     opts.Auditor,
		source:      opts.Source,
		onSaveError: opts.OnSaveError,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.source == "" {
		s.source = audit.SourceCLI
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Load replaces in-memory state with what kv holds. Any read or decode
// failure leaves the store empty and returns an error wrapping
// ErrLoadFailed; the store remains usable either way. Entries without an
// id, or repeating an earlier id, are dropped with a warning.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, pin, err := s.read(ctx)
	if err != nil {
		s.entries = nil
		s.pin = nil
		s.logger.Warn("journal load failed, starting empty", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	seen := make(map[string]bool, len(entries))
	kept := entries[:0]
	for i, e := range entries {
		if e.ID == "" || seen[e.ID] {
			s.logger.Warn("dropping stored entry with missing or duplicate id",
				zap.Int("index", i), zap.String("id", e.ID))
			continue
		}
		seen[e.ID] = true
		if e.IsSealed {
			e.Locked = false
		}
		e.UnlockedForSession = false
		kept = append(kept, e)
	}
	s.entries = kept
	s.pin = pin
	s.logger.Debug("journal loaded",
		zap.Int("entries", len(kept)),
		zap.Bool("pin", pin != nil))
	return nil
}

func (s *Store) read(ctx context.Context) ([]*Entry, *Credential, error) {
	var entries []*Entry
	data, err := s.kv.Get(ctx, EntriesKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return nil, nil, err
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, nil, fmt.Errorf("decode entries: %w", err)
		}
		for i, e := range entries {
			if e == nil {
				return nil, nil, fmt.Errorf("decode entries: null entry at %d", i)
			}
		}
	}

	var pin *Credential
	data, err = s.kv.Get(ctx, PINKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return nil, nil, err
	default:
		if err := json.Unmarshal(data, &pin); err != nil {
			return nil, nil, fmt.Errorf("decode pin: %w", err)
		}
	}
	return entries, pin, nil
}

// Save writes entries and the credential. An absent credential removes the
// PIN key.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.write(ctx)
}

func (s *Store) write(ctx context.Context) error {
	entries := s.entries
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("journal: failed to encode entries: %w", err)
	}
	if err := s.kv.Set(ctx, EntriesKey, data); err != nil {
		return fmt.Errorf("journal: failed to save entries: %w", err)
	}

	if s.pin == nil {
		if err := s.kv.Remove(ctx, PINKey); err != nil {
			return fmt.Errorf("journal: failed to remove pin: %w", err)
		}
		return nil
	}
	data, err = json.Marshal(s.pin)
	if err != nil {
		return fmt.Errorf("journal: failed to encode pin: %w", err)
	}
	if err := s.kv.Set(ctx, PINKey, data); err != nil {
		return fmt.Errorf("journal: failed to save pin: %w", err)
	}
	return nil
}

// persist is the fire-and-forget save after an accepted mutation.
// Caller holds s.mu.
func (s *Store) persist(ctx context.Context) {
	if err := s.write(ctx); err != nil {
		s.logger.Warn("journal save failed", zap.Error(err))
		if s.onSaveError != nil {
			s.onSaveError(err)
		}
	}
}

func (s *Store) logSuccess(op, id string) {
	if s.auditor != nil {
		_ = s.auditor.LogSuccess(op, s.source, id)
	}
}

func (s *Store) logError(op, id, code string, err error) {
	if s.auditor != nil {
		_ = s.auditor.LogError(op, s.source, id, code, err.Error())
	}
}

func (s *Store) timestamp() Timestamp {
	return NewTimestamp(s.now())
}

// find returns the entry and its index, or ErrNotFound. Caller holds s.mu.
func (s *Store) find(id string) (*Entry, int, error) {
	for i, e := range s.entries {
		if e.ID == id {
			return e, i, nil
		}
	}
	return nil, -1, ErrNotFound
}

// Create inserts an empty entry at the head of the list.
func (s *Store) Create(ctx context.Context) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	e := &Entry{
		ID:        s.newID(),
		CreatedAt: now,
		EditedAt:  now,
	}
	s.entries = append([]*Entry{e}, s.entries...)
	s.persist(ctx)
	s.logSuccess(audit.OpEntryCreate, e.ID)
	return e.clone()
}

// Get returns a copy of the entry.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, _, err := s.find(id)
	if err != nil {
		return Entry{}, err
	}
	return e.clone(), nil
}

// Entries returns copies of all entries, most recent first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Update applies f and refreshes EditedAt. It refuses sealed entries and
// locked entries that are not unlocked for the current session.
func (s *Store) Update(ctx context.Context, id string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.find(id)
	if err != nil {
		return err
	}
	if e.IsSealed {
		s.logError(audit.OpEntryUpdate, id, "SEALED", ErrSealed)
		return ErrSealed
	}
	if e.Locked && !e.UnlockedForSession {
		s.logError(audit.OpEntryUpdate, id, "LOCKED", ErrLocked)
		return ErrLocked
	}

	if f.Title != nil {
		e.Title = *f.Title
	}
	if f.Content != nil {
		e.Content = *f.Content
	}
	e.EditedAt = s.timestamp()
	s.persist(ctx)
	s.logSuccess(audit.OpEntryUpdate, id)
	return nil
}

// Seal freezes the entry and records its checksum. Sealing clears any lock.
// There is no way back.
func (s *Store) Seal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.find(id)
	if err != nil {
		return err
	}
	if e.IsSealed {
		return ErrAlreadySealed
	}

	e.IsSealed = true
	hash := Checksum(e.SealInput())
	e.Hash = &hash
	e.Locked = false
	e.UnlockedForSession = false
	s.persist(ctx)
	s.logSuccess(audit.OpEntrySeal, id)
	return nil
}

// Delete removes the entry. It performs no access checks; interactive
// callers go through gate.Gate.Delete.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, i, err := s.find(id)
	if err != nil {
		return err
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.persist(ctx)
	s.logSuccess(audit.OpEntryDelete, id)
	return nil
}

// Lock marks an unsealed entry locked and ends any session unlock.
func (s *Store) Lock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.find(id)
	if err != nil {
		return err
	}
	if e.IsSealed {
		return ErrSealed
	}
	e.Locked = true
	e.UnlockedForSession = false
	s.persist(ctx)
	s.logSuccess(audit.OpEntryLock, id)
	return nil
}

// Unlock clears the lock and keeps the entry editable for the rest of the
// current view. The caller is responsible for PIN verification.
func (s *Store) Unlock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.find(id)
	if err != nil {
		return err
	}
	if e.IsSealed {
		return ErrSealed
	}
	e.Locked = false
	e.UnlockedForSession = true
	s.persist(ctx)
	s.logSuccess(audit.OpEntryUnlock, id)
	return nil
}

// OpenView returns a snapshot of the entry for display. It grants nothing;
// editing a locked entry still needs Unlock.
func (s *Store) OpenView(id string) (Entry, error) {
	return s.Get(id)
}

// CloseView ends the viewing session of an entry. Re-entering a locked
// entry requires unlocking again.
func (s *Store) CloseView(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, _, err := s.find(id); err == nil {
		e.UnlockedForSession = false
	}
}

// HasPIN reports whether a credential is configured.
func (s *Store) HasPIN() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pin != nil
}

// Credential returns a copy of the configured credential.
func (s *Store) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pin == nil {
		return Credential{}, false
	}
	return *s.pin, true
}

// SetCredential stores c, replacing any existing credential.
func (s *Store) SetCredential(ctx context.Context, c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := audit.OpPINSetup
	if s.pin != nil {
		op = audit.OpPINChange
	}
	s.pin = &c
	s.persist(ctx)
	s.logSuccess(op, "")
}

// RemoveCredential deletes the credential. With clearLocks, every locked
// entry is unlocked as well, since locks cannot be enforced without a PIN.
// It returns the number of entries unlocked.
func (s *Store) RemoveCredential(ctx context.Context, clearLocks bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pin == nil {
		return 0, ErrNoCredential
	}
	s.pin = nil

	cleared := 0
	if clearLocks {
		for _, e := range s.entries {
			if e.Locked {
				e.Locked = false
				e.UnlockedForSession = false
				cleared++
			}
		}
	}
	s.persist(ctx)
	s.logSuccess(audit.OpPINRemove, "")
	return cleared, nil
}

// ClearAll drops every entry and the credential, and removes both records
// from storage.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.pin = nil

	var errs []error
	for _, key := range []string{EntriesKey, PINKey} {
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("journal clear failed", zap.Error(err))
		if s.onSaveError != nil {
			s.onSaveError(err)
		}
	}
	s.logSuccess(audit.OpDataClear, "")
}

// SealProblem describes a sealed entry whose checksum no longer matches.
type SealProblem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Want  string `json:"stored_hash"`
	Got   string `json:"computed_hash"`
}

// VerifySeals recomputes the checksum of every sealed entry.
func (s *Store) VerifySeals() []SealProblem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var problems []SealProblem
	for _, e := range s.entries {
		if e.SealIntact() {
			continue
		}
		p := SealProblem{ID: e.ID, Title: e.Title, Got: Checksum(e.SealInput())}
		if e.Hash != nil {
			p.Want = *e.Hash
		}
		problems = append(problems, p)
	}
	return problems
}

// Open creates a Store and loads it. A load failure is returned together
// with a usable, empty Store.
func Open(ctx context.Context, kv kvstore.Store, opts *Options) (*Store, error) {
	s := New(kv, opts)
	return s, s.Load(ctx)
}
