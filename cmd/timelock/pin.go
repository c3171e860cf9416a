package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/gate"
)

func newPINCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manages PIN protection",
		Long: `Manages the 4-digit PIN that guards locked entries and deletion of
sealed or locked entries.

If you forget the PIN, type "forgot" at the PIN prompt to answer your
security question instead.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Sets up PIN protection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.gate.SetupPIN(cmd.Context())
			if errors.Is(err, gate.ErrPINExists) {
				return fmt.Errorf("%w; use 'timelock pin change'", err)
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "PIN setup abandoned")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "change",
		Short: "Changes the PIN and security question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.gate.ChangePIN(cmd.Context())
			if errors.Is(err, gate.ErrNoPIN) {
				return fmt.Errorf("%w; use 'timelock pin setup'", err)
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "PIN unchanged")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Removes PIN protection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.gate.RemovePIN(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "PIN protection kept")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Shows whether PIN protection is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, ok := a.store.Credential()
			if !ok {
				fmt.Fprintln(a.out, "PIN protection: disabled")
				return nil
			}
			fmt.Fprintln(a.out, "PIN protection: enabled")
			if cred.SecurityQuestion != "" {
				fmt.Fprintf(a.out, "Security question: %s\n", cred.SecurityQuestion)
			}
			if crypto.IsLegacy(cred.Hash) {
				fmt.Fprintln(a.out, "Hash format: legacy (run 'timelock pin change' to upgrade)")
			}
			return nil
		},
	})

	return cmd
}
