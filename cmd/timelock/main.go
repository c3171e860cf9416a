package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/timelock/internal/config"
	"github.com/forest6511/timelock/internal/prompt"
	"github.com/forest6511/timelock/pkg/audit"
	"github.com/forest6511/timelock/pkg/gate"
	"github.com/forest6511/timelock/pkg/journal"
	"github.com/forest6511/timelock/pkg/kvstore"
)

// Directory names inside the timelock home.
const (
	journalDirName = "journal"
	auditDirName   = "audit"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Home    string
	Backend string
	Verbose bool
}

// app is everything a command needs once the journal is open.
type app struct {
	opts rootOptions

	cfg    *config.Config
	logger *zap.Logger
	kv     kvstore.Store
	store  *journal.Store
	gate   *gate.Gate
	audit  *audit.Logger // nil when auditing is disabled

	out    io.Writer
	errOut io.Writer
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command bound to a.
func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timelock",
		Short: "timelock is a local journal with sealed and PIN-locked entries",
		Long: `A pocket journal for the terminal.

Entries can be sealed, which freezes them forever behind a checksum, or
locked, which prevents edits until the PIN is entered.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Completion scripts don't need the journal
			if cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd {
				return nil
			}
			return a.open(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.opts.Home, "home", "", "Data directory (default $TIMELOCK_HOME or ~/.timelock)")
	cmd.PersistentFlags().StringVar(&a.opts.Backend, "backend", "", "Storage backend: file, sqlite, memory")
	cmd.PersistentFlags().BoolVarP(&a.opts.Verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newNewCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newShowCmd(a))
	cmd.AddCommand(newEditCmd(a))
	cmd.AddCommand(newSealCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newLockCmd(a))
	cmd.AddCommand(newUnlockCmd(a))
	cmd.AddCommand(newPINCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newVerifyCmd(a))
	cmd.AddCommand(newClearCmd(a))
	cmd.AddCommand(newAuditCmd(a))
	cmd.AddCommand(newMCPServerCmd(a))
	cmd.AddCommand(newCompletionCmd())

	return cmd
}

// open loads configuration and opens the journal, the audit log and the
// gate. Load failures of the journal itself are reported and the command
// continues on an empty journal.
func (a *app) open(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	home := a.opts.Home
	if home == "" {
		var err error
		home, err = config.DefaultHome()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(home)
	if err != nil {
		return err
	}
	if a.opts.Backend != "" {
		cfg.Backend = a.opts.Backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	for _, w := range cfg.Warnings {
		a.warn("%s", w)
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg, a.opts.Verbose)
	if err != nil {
		return err
	}

	kv, err := kvstore.Open(cfg.Backend, filepath.Join(home, journalDirName))
	if err != nil {
		if errors.Is(err, kvstore.ErrInUse) {
			return fmt.Errorf("journal at %s is open in another timelock process", home)
		}
		return fmt.Errorf("failed to open journal: %w", err)
	}
	a.kv = kv

	if cfg.Audit {
		a.audit, err = openAudit(home)
		if err != nil {
			return err
		}
	}

	var auditor journal.Auditor
	if a.audit != nil {
		auditor = a.audit
	}

	a.store, err = journal.Open(cmd.Context(), kv, &journal.Options{
		Logger:  a.logger.Named("journal"),
		Auditor: auditor,
		Source:  audit.SourceCLI,
		OnSaveError: func(err error) {
			a.warn("failed to save journal: %v", err)
		},
	})
	if err != nil {
		a.warn("%v; starting with an empty journal", err)
	}

	a.gate = gate.New(a.store, prompt.New(cmd.InOrStdin(), a.out, a.errOut), &gate.Options{
		Params:                cfg.Argon2.Params(),
		KeepLocksOnPINRemoval: !cfg.ClearLocksOnPINRemoval,
		Logger:                a.logger.Named("gate"),
		Auditor:               auditor,
		Source:                audit.SourceCLI,
	})
	return nil
}

// close releases the journal lock and flushes the logger.
func (a *app) close() {
	if a.kv != nil {
		if err := a.kv.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close journal", zap.Error(err))
		}
		a.kv = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) warn(format string, args ...any) {
	fmt.Fprintf(a.errOut, "warning: "+format+"\n", args...)
}

// newLogger builds a production zap logger on stderr at the configured level.
func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zap.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// openAudit opens the audit log under home, creating its key on first use.
func openAudit(home string) (*audit.Logger, error) {
	key, err := audit.LoadOrCreateKey(filepath.Join(home, audit.KeyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to load audit key: %w", err)
	}
	l := audit.NewLogger(filepath.Join(home, auditDirName))
	if err := l.SetHMACKey(key); err != nil {
		return nil, err
	}
	return l, nil
}
