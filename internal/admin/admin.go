// Package admin holds the saldo-admin subcommands: operator entry points
// into the engine that do not need the HTTP server running.
package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"saldo/internal/backend"
	"saldo/internal/cli"
	"saldo/internal/config"
	"saldo/internal/core"
	"saldo/internal/formula"
	"saldo/internal/log"
	"saldo/internal/services"
)

// Opener returns a ledger and the function that releases it.
type Opener func(ctx context.Context) (*services.LedgerService, func() error, error)

// OpenFromEnv opens the ledger described by the environment, like the
// server does, without publishing events.
func OpenFromEnv(ctx context.Context) (*services.LedgerService, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	res, err := backend.NewFactory(log.FromDefault(log.ComponentBackend)).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s backend: %w", bcfg.Type, err)
	}
	seq, err := core.GenerateSequence(cfg.PeriodStartYear, cfg.PeriodEndYear)
	if err != nil {
		_ = res.Cleanup()
		return nil, nil, err
	}
	ledger := services.NewLedgerService(res.Store, seq, formula.DefaultCatalog(seq), cli.LedgerConfig(cfg), nil)
	return ledger, res.Cleanup, nil
}

// Commands returns every subcommand, writing reports to out.
func Commands(open Opener, out io.Writer) []subcommands.Command {
	base := command{open: open, out: out}
	return []subcommands.Command{
		&periodsCmd{command: base},
		&summaryCmd{command: base},
		&cascadeCmd{command: base},
		&resumeCmd{command: base},
		&recomputeCmd{command: base},
	}
}

type command struct {
	open Opener
	out  io.Writer
}

// run opens the ledger, hands it to fn and maps the outcome to an exit status.
func (c command) run(ctx context.Context, fn func(*services.LedgerService) error) subcommands.ExitStatus {
	ledger, closeFn, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer func() {
		if err := closeFn(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing ledger: %v\n", err)
		}
	}()

	if err := fn(ledger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// periodFlag parses -p into a period; an empty flag is a usage error.
func periodFlag(value string) (core.Period, subcommands.ExitStatus, bool) {
	if value == "" {
		fmt.Fprintln(os.Stderr, "Error: -p is required")
		return core.Period{}, subcommands.ExitUsageError, false
	}
	p, err := core.ParsePeriodToken(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing period: %v\n", err)
		return core.Period{}, subcommands.ExitUsageError, false
	}
	return p, subcommands.ExitSuccess, true
}
