package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// ISOLayout is the persisted timestamp form: UTC, millisecond precision,
// literal Z. It matches what the browser journal wrote, so checksums over
// persisted editedAt values stay reproducible.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a UTC instant truncated to milliseconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC milliseconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

// String returns the ISOLayout form used in checksums and JSON.
func (t Timestamp) String() string {
	return t.UTC().Format(ISOLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("journal: timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("journal: invalid timestamp %q: %w", s, err)
	}
	*t = NewTimestamp(parsed)
	return nil
}

// Entry is a single journal entry.
//
// Once IsSealed is true, Title, Content, EditedAt and Hash never change and
// Locked is false. UnlockedForSession is never persisted.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
	EditedAt  Timestamp `json:"editedAt"`
	IsSealed  bool      `json:"isSealed"`
	Locked    bool      `json:"locked"`
	Hash      *string   `json:"hash"`

	UnlockedForSession bool `json:"-"`
}

// Editable reports whether Update would be accepted.
func (e *Entry) Editable() bool {
	if e.IsSealed {
		return false
	}
	return !e.Locked || e.UnlockedForSession
}

// SealInput is the string the seal checksum is computed over.
func (e *Entry) SealInput() string {
	return e.Title + e.Content + e.EditedAt.String()
}

// SealIntact reports whether a sealed entry still matches its checksum.
// Unsealed entries are trivially intact.
func (e *Entry) SealIntact() bool {
	if !e.IsSealed {
		return true
	}
	return e.Hash != nil && *e.Hash == Checksum(e.SealInput())
}

// clone returns a copy that shares no pointers with e.
func (e *Entry) clone() Entry {
	c := *e
	if e.Hash != nil {
		h := *e.Hash
		c.Hash = &h
	}
	return c
}

// Credential is the optional PIN record. Hash and SecurityAnswerHash are
// salted hashes produced by pkg/crypto.
type Credential struct {
	Hash               string `json:"hash"`
	SecurityQuestion   string `json:"securityQuestion"`
	SecurityAnswerHash string `json:"securityAnswerHash"`
}

// Fields carries an Update. Nil fields are left unchanged.
type Fields struct {
	Title   *string
	Content *string
}
