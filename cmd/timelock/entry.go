package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/timelock/internal/cli"
	"github.com/forest6511/timelock/pkg/journal"
)

// Display layout for timestamps in list and show output.
const displayTime = "2006-01-02 15:04"

// entryIDs returns the ids of all entries, most recent first.
func (a *app) entryIDs() []string {
	entries := a.store.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// resolve maps a CLI argument to a full entry id.
func (a *app) resolve(arg string) (string, error) {
	return cli.ResolveID(arg, a.entryIDs())
}

// readContent returns value, or all of stdin when value is "-".
func readContent(cmd *cobra.Command, value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"), nil
}

func displayTitle(e journal.Entry) string {
	if strings.TrimSpace(e.Title) == "" {
		return "(untitled)"
	}
	return e.Title
}

func statusFlag(e journal.Entry) string {
	switch {
	case e.IsSealed:
		return "S"
	case e.Locked:
		return "L"
	default:
		return "-"
	}
}

func newNewCmd(a *app) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Creates a new entry",
		Long: `Creates a new entry at the top of the journal.

Use --content - to read the body from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(cmd, content)
			if err != nil {
				return err
			}

			e := a.store.Create(cmd.Context())

			var f journal.Fields
			if cmd.Flags().Changed("title") {
				f.Title = &title
			}
			if cmd.Flags().Changed("content") {
				f.Content = &body
			}
			if f.Title != nil || f.Content != nil {
				if err := a.store.Update(cmd.Context(), e.ID, f); err != nil {
					return fmt.Errorf("failed to write entry: %w", err)
				}
			}

			fmt.Fprintf(a.out, "Created entry %s\n", cli.ShortID(e.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Entry title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Entry body, or - for standard input")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var sealedOnly, lockedOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists entries, most recent first",
		Long: `Lists entries, most recent first.

Flags column: S = sealed, L = locked, - = editable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []journal.Entry
			for _, e := range a.store.Entries() {
				if sealedOnly && !e.IsSealed {
					continue
				}
				if lockedOnly && !e.Locked {
					continue
				}
				entries = append(entries, e)
			}

			if asJSON {
				if entries == nil {
					entries = []journal.Entry{}
				}
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No entries found")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "%-8s  %s  %s  %s\n",
					cli.ShortID(e.ID), statusFlag(e),
					e.EditedAt.Local().Format(displayTime), displayTitle(e))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sealedOnly, "sealed", false, "Show only sealed entries")
	cmd.Flags().BoolVar(&lockedOnly, "locked", false, "Show only locked entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Shows an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			e, err := a.store.OpenView(id)
			if err != nil {
				return err
			}
			defer a.store.CloseView(id)

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(e)
			}

			fmt.Fprintf(a.out, "ID:      %s\n", e.ID)
			fmt.Fprintf(a.out, "Title:   %s\n", displayTitle(e))
			fmt.Fprintf(a.out, "Created: %s\n", e.CreatedAt.Local().Format(displayTime))
			fmt.Fprintf(a.out, "Edited:  %s\n", e.EditedAt.Local().Format(displayTime))
			switch {
			case e.IsSealed && e.SealIntact():
				fmt.Fprintf(a.out, "Status:  sealed (checksum %s)\n", *e.Hash)
			case e.IsSealed:
				fmt.Fprintln(a.out, "Status:  sealed, CHECKSUM MISMATCH (entry was modified after sealing)")
			case e.Locked:
				fmt.Fprintln(a.out, "Status:  locked")
			default:
				fmt.Fprintln(a.out, "Status:  editable")
			}
			if e.Content != "" {
				fmt.Fprintf(a.out, "\n%s\n", e.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Changes the title or body of an entry",
		Long: `Changes the title or body of an entry.

Sealed entries can never be edited. Locked entries must be unlocked first.
Use --content - to read the body from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f journal.Fields
			if cmd.Flags().Changed("title") {
				f.Title = &title
			}
			if cmd.Flags().Changed("content") {
				body, err := readContent(cmd, content)
				if err != nil {
					return err
				}
				f.Content = &body
			}
			if f.Title == nil && f.Content == nil {
				return errors.New("nothing to change: use --title or --content")
			}

			id, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			short := cli.ShortID(id)

			err = a.store.Update(cmd.Context(), id, f)
			switch {
			case errors.Is(err, journal.ErrSealed):
				return fmt.Errorf("entry %s is sealed and can no longer be edited: %w", short, err)
			case errors.Is(err, journal.ErrLocked):
				return fmt.Errorf("entry %s is locked; run 'timelock unlock %s' first: %w", short, short, err)
			case err != nil:
				return err
			}

			fmt.Fprintf(a.out, "Entry %s updated\n", short)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "New body, or - for standard input")
	return cmd
}

func newSealCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seal [id]",
		Short: "Seals an entry forever",
		Long: `Seals an entry. A sealed entry's title, body and timestamp are frozen
and protected by a checksum. This cannot be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			ok, err := a.gate.Seal(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Seal cancelled")
				return nil
			}
			e, err := a.store.Get(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Entry %s sealed (checksum %s)\n", cli.ShortID(id), *e.Hash)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Deletes entries",
		Long: `Deletes entries. Sealed and locked entries also need the PIN when
PIN protection is enabled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := cli.ResolveIDs(args, a.entryIDs())
			if err != nil {
				return err
			}
			for _, id := range ids {
				ok, err := a.gate.Delete(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(a.out, "Entry %s deleted\n", cli.ShortID(id))
				} else {
					fmt.Fprintf(a.out, "Entry %s kept\n", cli.ShortID(id))
				}
			}
			return nil
		},
	}
}

func newLockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock [id]",
		Short: "Locks an entry against edits",
		Long: `Locks an entry so it cannot be edited without the PIN.

If no PIN is set yet, you will be asked to set one up first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			ok, err := a.gate.Lock(cmd.Context(), id)
			if errors.Is(err, journal.ErrSealed) {
				return fmt.Errorf("entry %s is sealed; sealed entries cannot be locked: %w", cli.ShortID(id), err)
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "PIN setup abandoned; entry left unlocked")
				return nil
			}
			fmt.Fprintf(a.out, "Entry %s locked\n", cli.ShortID(id))
			return nil
		},
	}
}

func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock [id]",
		Short: "Unlocks a locked entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			ok, err := a.gate.Unlock(cmd.Context(), id)
			if errors.Is(err, journal.ErrSealed) {
				return fmt.Errorf("entry %s is sealed, not locked: %w", cli.ShortID(id), err)
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Entry left locked")
				return nil
			}
			// A CLI invocation is one viewing session.
			a.store.CloseView(id)
			fmt.Fprintf(a.out, "Entry %s unlocked\n", cli.ShortID(id))
			return nil
		},
	}
}
