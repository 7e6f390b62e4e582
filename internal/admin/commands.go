package admin

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"saldo/internal/services"
)

type periodsCmd struct {
	command
	year int
}

func (*periodsCmd) Name() string     { return "periods" }
func (*periodsCmd) Synopsis() string { return "list the configured period sequence" }
func (*periodsCmd) Usage() string {
	return `saldo-admin periods [-y <year>]

  Lists the periods of the sequence, optionally only those of one year.
`
}

func (c *periodsCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.year, "y", 0, "Only list the periods of this year.")
}

func (c *periodsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(l *services.LedgerService) error {
		periods := l.Periods()
		if c.year != 0 {
			periods = l.Sequence().YearPeriods(c.year)
		}
		for i, p := range periods {
			fmt.Fprintf(c.out, "%3d  %s\n", i, p)
		}
		return nil
	})
}

type summaryCmd struct {
	command
	period string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "display the totals of a period" }
func (*summaryCmd) Usage() string {
	return `saldo-admin summary -p <period>

  Recomputes formula entries, then prints income, expense and net per
  currency. Periods are written "2026-03" or "Marzo 2026".
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "p", "", "Period to summarize.")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	p, status, ok := periodFlag(c.period)
	if !ok {
		return status
	}
	return c.run(ctx, func(l *services.LedgerService) error {
		sum, err := l.Summarize(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: %d entries, %d paid\n", sum.Period, sum.Entries, sum.Paid)
		for _, t := range sum.Totals {
			fmt.Fprintf(c.out, "  %s  income %s  expense %s  net %s\n",
				t.Currency,
				FormatMoney(t.Income, t.Currency),
				FormatMoney(t.Expense, t.Currency),
				FormatMoney(t.Net, t.Currency))
		}
		return nil
	})
}

type cascadeCmd struct {
	command
	period string
}

func (*cascadeCmd) Name() string     { return "cascade" }
func (*cascadeCmd) Synopsis() string { return "recompute carry-forward entries from a period" }
func (*cascadeCmd) Usage() string {
	return `saldo-admin cascade -p <period>

  Rewrites the carry entry of every period in the cascade window that
  starts at the given period.
`
}

func (c *cascadeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "p", "", "Period the cascade starts from.")
}

func (c *cascadeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	p, status, ok := periodFlag(c.period)
	if !ok {
		return status
	}
	return c.run(ctx, func(l *services.LedgerService) error {
		res, err := l.Cascade(ctx, p)
		if err != nil {
			return err
		}
		c.printCascade(res)
		return nil
	})
}

type resumeCmd struct {
	command
}

func (*resumeCmd) Name() string     { return "resume" }
func (*resumeCmd) Synopsis() string { return "continue cascades interrupted by a failure" }
func (*resumeCmd) Usage() string {
	return `saldo-admin resume

  Continues every cascade that left a checkpoint behind.
`
}

func (*resumeCmd) SetFlags(*flag.FlagSet) {}

func (c *resumeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(l *services.LedgerService) error {
		results, err := l.ResumeCascades(ctx)
		for _, res := range results {
			c.printCascade(res)
		}
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(c.out, "no pending cascades")
		}
		return nil
	})
}

type recomputeCmd struct {
	command
}

func (*recomputeCmd) Name() string     { return "recompute" }
func (*recomputeCmd) Synopsis() string { return "recompute formula entries" }
func (*recomputeCmd) Usage() string {
	return `saldo-admin recompute

  Rewrites the amount of every formula entry from the formula catalog.
`
}

func (*recomputeCmd) SetFlags(*flag.FlagSet) {}

func (c *recomputeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(l *services.LedgerService) error {
		res, err := l.Recompute(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "scanned %d, updated %d, not applicable %d\n", res.Scanned, res.Updated, res.NotApplicable)
		return nil
	})
}

func (c command) printCascade(res services.CascadeResult) {
	line := fmt.Sprintf("cascade from %s: %d steps, %d inserted, %d updated, %d unchanged, %d collapsed",
		res.Root, res.Steps, res.Inserted, res.Updated, res.Unchanged, res.Collapsed)
	if res.Skipped != "" {
		line += " (skipped: " + res.Skipped + ")"
	}
	fmt.Fprintln(c.out, line)
}
