package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/forest6511/timelock/pkg/audit"
)

// SnapshotVersion is the export format version.
const SnapshotVersion = "1.0"

// Snapshot is the export document.
type Snapshot struct {
	Entries    []Entry   `json:"entries"`
	ExportDate Timestamp `json:"exportDate"`
	Version    string    `json:"version"`
}

// ImportResult summarises an Import.
type ImportResult struct {
	Added    int      `json:"added"`
	Skipped  int      `json:"skipped"`  // id already present
	Rejected []string `json:"rejected"` // ids of sealed entries failing verification
}

// ExportAll returns every entry and the current time. Credentials are
// never exported.
func (s *Store) ExportAll() Snapshot {
	snap := Snapshot{
		Entries:    s.Entries(),
		ExportDate: s.timestamp(),
		Version:    SnapshotVersion,
	}
	s.logSuccess(audit.OpDataExport, "")
	return snap
}

// ExportFileName is the suggested download name for a snapshot taken at t.
func ExportFileName(t time.Time) string {
	return "timelock-journal-" + t.UTC().Format("2006-01-02") + ".json"
}

// WriteTo encodes the snapshot as two-space indented JSON.
func (snap Snapshot) WriteTo(w io.Writer) (int64, error) {
	if snap.Entries == nil {
		snap.Entries = []Entry{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("journal: failed to encode snapshot: %w", err)
	}
	n, err := w.Write(append(data, '\n'))
	return int64(n), err
}

// ReadSnapshot decodes an export document.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("journal: failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownVersion, snap.Version)
	}
	return snap, nil
}

// Import merges snap into the store. Entries whose id already exists are
// skipped, sealed entries whose checksum does not match are rejected, and
// the result is ordered by creation time, most recent first.
func (s *Store) Import(ctx context.Context, snap Snapshot) (ImportResult, error) {
	if snap.Version != SnapshotVersion {
		return ImportResult{}, fmt.Errorf("%w: %q", ErrUnknownVersion, snap.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.entries))
	for _, e := range s.entries {
		seen[e.ID] = true
	}

	var res ImportResult
	for i := range snap.Entries {
		e := snap.Entries[i].clone()
		if e.ID == "" {
			return ImportResult{}, fmt.Errorf("%w: entry %d has no id", ErrInvalidEntry, i)
		}
		if seen[e.ID] {
			res.Skipped++
			continue
		}
		if e.IsSealed && !e.SealIntact() {
			res.Rejected = append(res.Rejected, e.ID)
			continue
		}
		if e.IsSealed {
			e.Locked = false
		}
		e.UnlockedForSession = false
		seen[e.ID] = true
		s.entries = append(s.entries, &e)
		res.Added++
	}

	if res.Added > 0 {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].CreatedAt.After(s.entries[j].CreatedAt.Time)
		})
		s.persist(ctx)
	}
	s.logSuccess(audit.OpDataImport, "")
	return res, nil
}
