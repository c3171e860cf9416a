package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/timelock/internal/cli"
)

var errAuditDisabled = errors.New("audit logging is disabled in config.yaml")

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspects the audit log",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// cobra runs only the nearest persistent pre-run
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if a.audit == nil {
				return errAuditDisabled
			}
			return nil
		},
	}

	cmd.AddCommand(newAuditListCmd(a))
	cmd.AddCommand(newAuditVerifyCmd(a))
	cmd.AddCommand(newAuditExportCmd(a))
	return cmd
}

func newAuditListCmd(a *app) *cobra.Command {
	var limit int
	var since string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var after time.Time
			if since != "" {
				d, err := parseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since format: %w", err)
				}
				after = time.Now().Add(-d)
			}

			events, err := a.audit.ListEvents(limit, after)
			if err != nil {
				return fmt.Errorf("failed to list audit events: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(a.out, "No audit events found")
				return nil
			}

			// Format: TIMESTAMP OPERATION RESULT SOURCE [ENTRY]
			for _, event := range events {
				line := fmt.Sprintf("%s %s %s %s", event.Timestamp, event.Operation, event.Result, event.Source)
				if event.Entry != "" {
					line += " " + cli.ShortID(event.Entry)
				}
				if event.Error != nil && event.Error.Message != "" {
					line += fmt.Sprintf(" (%s)", event.Error.Message)
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to show")
	cmd.Flags().StringVar(&since, "since", "", "Show events since duration (e.g., 24h, 7d)")
	return cmd
}

func newAuditVerifyCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verifies audit log HMAC chain integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.audit.Verify()
			if err != nil {
				return fmt.Errorf("failed to verify audit log: %w", err)
			}

			if asJSON {
				if err := json.NewEncoder(a.out).Encode(result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Fprintf(a.out, "✓ Audit log verified: %d records, chain intact\n", result.RecordsTotal)
			} else {
				fmt.Fprintln(a.out, "✗ Audit log verification FAILED")
				fmt.Fprintf(a.out, "  Records total: %d\n", result.RecordsTotal)
				fmt.Fprintln(a.out, "  Errors:")
				for _, e := range result.Errors {
					fmt.Fprintf(a.out, "    - %s\n", e)
				}
			}

			if !result.Valid {
				return errors.New("audit log integrity check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newAuditExportCmd(a *app) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports audit logs to JSON or CSV format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = a.out
			if output != "" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, exportFileMode)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := a.audit.Export(w, format); err != nil {
				return fmt.Errorf("failed to export audit log: %w", err)
			}
			if output != "" {
				fmt.Fprintf(a.errOut, "Audit log exported to %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default: stdout)")
	return cmd
}

// parseDuration parses durations like "24h", "7d", "2w", "1m" (30 days)
// and "1y", falling back to time.ParseDuration.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return time.ParseDuration(s)
	}

	day := 24 * time.Hour
	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * day, nil
	case 'w':
		return time.Duration(value) * 7 * day, nil
	case 'm':
		return time.Duration(value) * 30 * day, nil
	case 'y':
		return time.Duration(value) * 365 * day, nil
	default:
		return time.ParseDuration(s)
	}
}
