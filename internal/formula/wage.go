package formula

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// BasePoint is one known base value of the wage table.
type BasePoint struct {
	Period core.Period
	Base   decimal.Decimal
}

type WageConfig struct {
	Table        []BasePoint
	Multiplier   decimal.Decimal
	AnomalyMonth time.Month // Month inside the table paid with an extra half
	TailEnd      core.Period
}

// DefaultWageConfig is the 2026 minimum-wage table, extrapolated to December.
func DefaultWageConfig() WageConfig {
	bases := []int64{341000, 346800, 352400, 357800, 363000, 367800, 372400, 376600}
	table := make([]BasePoint, len(bases))
	for i, b := range bases {
		table[i] = BasePoint{
			Period: core.NewPeriod(2026, time.Month(i+1)),
			Base:   decimal.NewFromInt(b),
		}
	}
	return WageConfig{
		Table:        table,
		Multiplier:   decimal.RequireFromString("2.5"),
		AnomalyMonth: time.June,
		TailEnd:      core.NewPeriod(2026, time.December),
	}
}

// Wage multiplies a tabulated base value. Periods between the end of the
// table and TailEnd extrapolate the base linearly with the table's average
// monthly delta; the last tail period gets the extra half.
type Wage struct {
	cfg   WageConfig
	table map[core.Period]decimal.Decimal
	first BasePoint
	last  BasePoint
	delta decimal.Decimal
}

func NewWage(cfg WageConfig) *Wage {
	points := append([]BasePoint(nil), cfg.Table...)
	sort.Slice(points, func(i, j int) bool { return points[i].Period.Before(points[j].Period) })

	w := &Wage{cfg: cfg, table: make(map[core.Period]decimal.Decimal, len(points))}
	for _, bp := range points {
		w.table[bp.Period] = bp.Base
	}
	if len(points) > 0 {
		w.first = points[0]
		w.last = points[len(points)-1]
	}
	if len(points) > 1 {
		w.delta = w.last.Base.Sub(w.first.Base).Div(decimal.NewFromInt(int64(len(points) - 1)))
	}
	return w
}

func (w *Wage) ID() string { return WageID }

func (w *Wage) ValueFor(_ *core.PeriodSequence, p core.Period) (decimal.Decimal, bool) {
	if base, ok := w.table[p]; ok {
		amount := base.Mul(w.cfg.Multiplier)
		if p.Month == w.cfg.AnomalyMonth {
			amount = amount.Add(amount.Div(decimal.NewFromInt(2)))
		}
		return amount.Round(2), true
	}
	if len(w.table) < 2 || !w.last.Period.Before(p) || w.cfg.TailEnd.Before(p) {
		return decimal.Zero, false
	}
	steps := monthsBetween(w.last.Period, p)
	base := w.last.Base.Add(w.delta.Mul(decimal.NewFromInt(int64(steps))))
	amount := base.Mul(w.cfg.Multiplier)
	if p == w.cfg.TailEnd {
		amount = amount.Add(amount.Div(decimal.NewFromInt(2)))
	}
	return amount.Round(2), true
}

func monthsBetween(from, to core.Period) int {
	return (to.Year-from.Year)*12 + int(to.Month) - int(from.Month)
}
