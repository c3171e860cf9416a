package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/timelock/internal/cli"
	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/journal"
)

// previewLength is how many runes of a title journal_list returns.
const previewLength = 80

// JournalListInput represents input for journal_list tool.
type JournalListInput struct {
	SealedOnly bool `json:"sealed_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// JournalListOutput represents output for journal_list tool.
type JournalListOutput struct {
	Entries []EntryInfo `json:"entries"`
	Total   int         `json:"total"`
}

// EntryInfo is entry metadata without content.
type EntryInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	EditedAt  string `json:"edited_at"`
	Sealed    bool   `json:"sealed"`
	Locked    bool   `json:"locked"`
	HasBody   bool   `json:"has_content"`
}

// JournalReadInput represents input for journal_read tool.
type JournalReadInput struct {
	ID string `json:"id"`
}

// JournalReadOutput represents output for journal_read tool.
type JournalReadOutput struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	EditedAt  string `json:"edited_at"`
	Sealed    bool   `json:"sealed"`
	Hash      string `json:"hash,omitempty"`
	Intact    bool   `json:"intact"`
}

// JournalVerifyInput represents input for journal_verify tool.
type JournalVerifyInput struct{}

// JournalVerifyOutput represents output for journal_verify tool.
type JournalVerifyOutput struct {
	Sealed   int                   `json:"sealed"`
	Valid    bool                  `json:"valid"`
	Problems []journal.SealProblem `json:"problems,omitempty"`
}

func entryInfo(e journal.Entry) EntryInfo {
	return EntryInfo{
		ID:        e.ID,
		Title:     truncate(e.Title, previewLength),
		CreatedAt: e.CreatedAt.String(),
		EditedAt:  e.EditedAt.String(),
		Sealed:    e.IsSealed,
		Locked:    e.Locked,
		HasBody:   strings.TrimSpace(e.Content) != "",
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// handleJournalList handles the journal_list tool call.
func (s *Server) handleJournalList(_ context.Context, _ *mcp.CallToolRequest, input JournalListInput) (*mcp.CallToolResult, JournalListOutput, error) {
	if input.Limit < 0 {
		return nil, JournalListOutput{}, errors.New("limit must not be negative")
	}

	entries := s.store.Entries()
	output := JournalListOutput{
		Entries: make([]EntryInfo, 0, len(entries)),
	}
	for _, e := range entries {
		if input.SealedOnly && !e.IsSealed {
			continue
		}
		output.Total++
		if input.Limit > 0 && len(output.Entries) >= input.Limit {
			continue
		}
		output.Entries = append(output.Entries, entryInfo(e))
	}
	return nil, output, nil
}

// handleJournalRead handles the journal_read tool call.
func (s *Server) handleJournalRead(_ context.Context, _ *mcp.CallToolRequest, input JournalReadInput) (*mcp.CallToolResult, JournalReadOutput, error) {
	if input.ID == "" {
		return nil, JournalReadOutput{}, errors.New("id is required")
	}

	entries := s.store.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	id, err := cli.ResolveID(input.ID, ids)
	if err != nil {
		return nil, JournalReadOutput{}, err
	}
	e, err := s.store.Get(id)
	if err != nil {
		return nil, JournalReadOutput{}, fmt.Errorf("failed to get entry: %w", err)
	}

	if e.Locked && s.store.HasPIN() {
		s.logDenied(e.ID, "entry is locked")
		return nil, JournalReadOutput{}, fmt.Errorf("entry %s is locked; unlock it with the timelock CLI first", cli.ShortID(e.ID))
	}

	output := JournalReadOutput{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		CreatedAt: e.CreatedAt.String(),
		EditedAt:  e.EditedAt.String(),
		Sealed:    e.IsSealed,
		Intact:    e.SealIntact(),
	}
	if e.Hash != nil {
		output.Hash = *e.Hash
	}
	s.logSuccess(e.ID)
	return nil, output, nil
}

// handleJournalVerify handles the journal_verify tool call.
func (s *Server) handleJournalVerify(_ context.Context, _ *mcp.CallToolRequest, _ JournalVerifyInput) (*mcp.CallToolResult, JournalVerifyOutput, error) {
	sealed := 0
	for _, e := range s.store.Entries() {
		if e.IsSealed {
			sealed++
		}
	}
	problems := s.store.VerifySeals()
	return nil, JournalVerifyOutput{
		Sealed:   sealed,
		Valid:    len(problems) == 0,
		Problems: problems,
	}, nil
}

func (s *Server) logSuccess(id string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogSuccess(audit.OpEntryRead, audit.SourceMCP, id); err != nil {
		s.logger.Warn("audit write failed", zap.Error(err))
	}
}

func (s *Server) logDenied(id, reason string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogDenied(audit.OpEntryRead, audit.SourceMCP, id, reason); err != nil {
		s.logger.Warn("audit write failed", zap.Error(err))
	}
}
