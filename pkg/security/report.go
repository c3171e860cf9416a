package security

import (
	"fmt"

	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/journal"
)

// IssueType identifies the type of protection issue.
type IssueType string

const (
	// IssueSealMismatch indicates a sealed entry whose checksum no longer matches.
	IssueSealMismatch IssueType = "seal_mismatch"
	// IssueUnenforcedLock indicates locked entries while no PIN is set.
	IssueUnenforcedLock IssueType = "unenforced_lock"
	// IssueLegacyHash indicates a credential hashed with the old salted SHA-256 scheme.
	IssueLegacyHash IssueType = "legacy_hash"
)

// Severity indicates the urgency of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is a single finding.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	EntryID     string    `json:"entry_id,omitempty"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
}

// Report summarises the protection state of a journal.
type Report struct {
	Entries int     `json:"entries"`
	Sealed  int     `json:"sealed"`
	Locked  int     `json:"locked"`
	PINSet  bool    `json:"pin_set"`
	Issues  []Issue `json:"issues"`
}

// OK reports whether no critical issue was found.
func (r *Report) OK() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// Analyze builds a Report from the store's current state.
func Analyze(s *journal.Store) *Report {
	r := &Report{Issues: []Issue{}}
	for _, e := range s.Entries() {
		r.Entries++
		if e.IsSealed {
			r.Sealed++
		}
		if e.Locked {
			r.Locked++
		}
	}

	for _, p := range s.VerifySeals() {
		r.Issues = append(r.Issues, Issue{
			Type:        IssueSealMismatch,
			Severity:    SeverityCritical,
			EntryID:     p.ID,
			Description: fmt.Sprintf("sealed entry %q no longer matches its checksum", p.Title),
			Suggestion:  "restore the entry from an export taken before the change",
		})
	}

	cred, ok := s.Credential()
	r.PINSet = ok
	if !ok && r.Locked > 0 {
		r.Issues = append(r.Issues, Issue{
			Type:        IssueUnenforcedLock,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("%d locked entries but no PIN is set", r.Locked),
			Suggestion:  "run 'timelock pin setup' to protect them",
		})
	}
	if ok && (crypto.IsLegacy(cred.Hash) || crypto.IsLegacy(cred.SecurityAnswerHash)) {
		r.Issues = append(r.Issues, Issue{
			Type:        IssueLegacyHash,
			Severity:    SeverityInfo,
			Description: "PIN uses the legacy fixed-salt hash format",
			Suggestion:  "run 'timelock pin change' to rehash it",
		})
	}
	return r
}
