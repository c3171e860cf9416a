package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forest6511/timelock/internal/cli"
	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/journal"
	"github.com/forest6511/timelock/pkg/security"
)

// exportFileMode keeps exported journals private to the owner.
const exportFileMode = 0600

func newExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports all entries to a JSON file",
		Long: `Exports all entries to a JSON file. The PIN is never exported.

By default the file is written to the current directory as
timelock-journal-YYYY-MM-DD.json. Use -o - to write to standard output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.store.ExportAll()

			if output == "-" {
				_, err := snap.WriteTo(a.out)
				return err
			}
			path := output
			if path == "" {
				path = journal.ExportFileName(time.Now())
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, exportFileMode)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if _, err := snap.WriteTo(f); err != nil {
				f.Close()
				return fmt.Errorf("failed to write export file: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}

			fmt.Fprintf(a.out, "Exported %d entries to %s\n", len(snap.Entries), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (- for stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Imports entries from an export file",
		Long: `Imports entries from a file written by 'timelock export'.

Entries whose id already exists are skipped. Sealed entries whose checksum
no longer matches are rejected. Use - to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader
			if args[0] == "-" {
				r = cmd.InOrStdin()
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer f.Close()
				r = f
			}

			snap, err := journal.ReadSnapshot(r)
			if err != nil {
				return err
			}
			res, err := a.store.Import(cmd.Context(), snap)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Imported %d entries (%d already present)\n", res.Added, res.Skipped)
			for _, id := range res.Rejected {
				a.warn("rejected sealed entry %s: checksum mismatch", cli.ShortID(id))
			}
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Deletes every entry and the PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.gate.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Nothing was deleted")
				return nil
			}
			fmt.Fprintln(a.out, "All journal data cleared")
			return nil
		},
	}
}

// verifyOutput is the JSON form of the verify command.
type verifyOutput struct {
	Journal *security.Report    `json:"journal"`
	Audit   *audit.VerifyResult `json:"audit,omitempty"`
}

func newVerifyCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Checks sealed entries and the audit log for tampering",
		Long: `Recomputes the checksum of every sealed entry, reviews PIN protection
and, when auditing is enabled, verifies the audit log chain.

Exits non-zero if a sealed entry or the audit log was modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res verifyOutput
			var g errgroup.Group
			g.Go(func() error {
				res.Journal = security.Analyze(a.store)
				return nil
			})
			if a.audit != nil {
				g.Go(func() error {
					r, err := a.audit.Verify()
					if err != nil {
						return fmt.Errorf("failed to verify audit log: %w", err)
					}
					res.Audit = r
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printVerify(a.out, res)
			}

			if !res.Journal.OK() || (res.Audit != nil && !res.Audit.Valid) {
				return errors.New("integrity check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func printVerify(w io.Writer, res verifyOutput) {
	r := res.Journal
	pin := "disabled"
	if r.PINSet {
		pin = "enabled"
	}
	fmt.Fprintf(w, "Entries: %d (%d sealed, %d locked), PIN protection %s\n", r.Entries, r.Sealed, r.Locked, pin)

	if len(r.Issues) == 0 {
		fmt.Fprintln(w, "✓ No issues found")
	}
	for _, is := range r.Issues {
		line := fmt.Sprintf("[%s] %s", is.Severity, is.Description)
		if is.EntryID != "" {
			line += fmt.Sprintf(" (%s)", cli.ShortID(is.EntryID))
		}
		fmt.Fprintln(w, line)
		if is.Suggestion != "" {
			fmt.Fprintf(w, "  → %s\n", is.Suggestion)
		}
	}

	if res.Audit == nil {
		return
	}
	if res.Audit.Valid {
		fmt.Fprintf(w, "✓ Audit log verified: %d records, chain intact\n", res.Audit.RecordsTotal)
		return
	}
	fmt.Fprintln(w, "✗ Audit log verification FAILED")
	for _, e := range res.Audit.Errors {
		fmt.Fprintf(w, "    - %s\n", e)
	}
}
