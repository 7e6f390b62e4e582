package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"saldo/internal/core"
	"saldo/internal/formula"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// DueDateStep is the fixed number of days between consecutive installments.
const DueDateStep = 30

// Reasons a propagation did nothing.
const (
	SkipNoInstallment        = "no installment"
	SkipMalformedInstallment = "malformed installment"
	SkipUnknownPeriod        = "unknown period"
	SkipCarryForward         = "carry-forward entry"
)

// InstallmentPropagator writes the remaining installments of a series into
// the periods that follow the edited one.
type InstallmentPropagator struct {
	store   storage.LedgerStore
	seq     *core.PeriodSequence
	catalog *formula.Catalog
	now     func() time.Time
	logger  *log.Logger
}

// PropagationResult describes the rows a propagation created, updated or pruned.
type PropagationResult struct {
	Installment core.Installment
	Created     []int64
	Updated     []int64
	Pruned      []int64
	Periods     []core.Period
	// Truncated is set when the series runs past the last period.
	Truncated bool
	// Skipped holds the reason of a no-op, empty otherwise.
	Skipped string
}

// Affected is the number of future entries written.
func (r PropagationResult) Affected() int {
	return len(r.Periods)
}

func NewInstallmentPropagator(store storage.LedgerStore, seq *core.PeriodSequence, catalog *formula.Catalog) *InstallmentPropagator {
	return &InstallmentPropagator{
		store:   store,
		seq:     seq,
		catalog: catalog,
		now:     time.Now,
		logger:  log.FromDefault(log.ComponentInstallments),
	}
}

// Propagate creates or updates installments current+1..total of source's
// series, one sequence position apart. The source entry itself is left as is.
//
// Siblings are matched by series id when source has one, otherwise by
// (period, label, group). Series members found after the new last
// installment are deleted.
func (p *InstallmentPropagator) Propagate(ctx context.Context, source core.LedgerEntry, installment string) (PropagationResult, error) {
	var res PropagationResult

	if source.Kind == core.KindCarryForward {
		res.Skipped = SkipCarryForward
		return res, nil
	}

	in, err := core.ParseInstallment(installment)
	if err != nil {
		res.Skipped = SkipMalformedInstallment
		p.logger.DebugContext(ctx, "Skipping propagation", log.FieldInstallment, installment, log.FieldError, err)
		return res, nil
	}
	if in.IsZero() {
		res.Skipped = SkipNoInstallment
		return res, nil
	}
	res.Installment = in

	idx, ok := p.seq.IndexOf(source.Period)
	if !ok {
		res.Skipped = SkipUnknownPeriod
		p.logger.DebugContext(ctx, "Skipping propagation", log.FieldPeriod, source.Period.String())
		return res, nil
	}

	base := source.DueDate
	if base.IsZero() {
		base = core.DateOf(p.now())
	}

	last := idx
	for n := in.Current + 1; n <= in.Total; n++ {
		step := n - in.Current
		target, ok := p.seq.Advance(idx, step)
		if !ok {
			res.Truncated = true
			break
		}
		period, _ := p.seq.At(target)
		last = target

		sibling := source
		sibling.ID = 0
		sibling.Period = period
		sibling.Installment = core.Installment{Current: n, Total: in.Total}
		sibling.DueDate = base.AddDays(DueDateStep * step)
		sibling.Paid = false
		if source.Kind == core.KindFormula && p.catalog != nil {
			if v, ok := p.catalog.ValueFor(source.Formula, period); ok {
				sibling.Amount = v
			}
		}

		created, updated, err := p.upsert(ctx, sibling)
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, created...)
		res.Updated = append(res.Updated, updated...)
		res.Periods = append(res.Periods, period)
	}

	if source.SeriesID != "" {
		pruned, err := p.prune(ctx, source.SeriesID, last)
		if err != nil {
			return res, err
		}
		res.Pruned = pruned
	}

	p.logger.InfoContext(ctx, "Installments propagated",
		log.NewFields().
			WithEntry(source.ID, source.Period.String(), source.Label, source.Group).
			WithSeries(source.SeriesID, in.String()).
			WithOperation(log.OpPropagate).
			ToSlice()...)
	return res, nil
}

func (p *InstallmentPropagator) siblingFilter(e core.LedgerEntry) core.Filter {
	if e.SeriesID != "" {
		return core.Filter{Period: e.Period, SeriesID: e.SeriesID}
	}
	return core.Filter{Period: e.Period, Label: e.Label, Group: e.Group}
}

// upsert updates every existing sibling of e in its period, or inserts e.
func (p *InstallmentPropagator) upsert(ctx context.Context, e core.LedgerEntry) (created, updated []int64, err error) {
	matches, err := p.store.Find(ctx, p.siblingFilter(e))
	if err != nil {
		return nil, nil, fmt.Errorf("find installment %s in %s: %w", e.Installment, e.Period, err)
	}
	matches = slices.DeleteFunc(matches, func(m core.LedgerEntry) bool {
		return m.Kind == core.KindCarryForward
	})

	if len(matches) == 0 {
		e.CreatedOn = core.DateOf(p.now())
		id, err := p.store.Insert(ctx, e)
		if err != nil {
			return nil, nil, fmt.Errorf("insert installment %s in %s: %w", e.Installment, e.Period, err)
		}
		return []int64{id}, nil, nil
	}

	patch := core.EntryPatch{
		Installment:   &e.Installment,
		Amount:        &e.Amount,
		Currency:      &e.Currency,
		PaymentMethod: &e.PaymentMethod,
		DueDate:       &e.DueDate,
		Account:       &e.Account,
		Direction:     &e.Direction,
	}
	if e.SeriesID != "" {
		patch.SeriesID = &e.SeriesID
	}
	for _, m := range matches {
		if err := p.store.UpdateFields(ctx, m.ID, patch); err != nil {
			return created, updated, fmt.Errorf("update installment %d: %w", m.ID, err)
		}
		updated = append(updated, m.ID)
	}
	return created, updated, nil
}

// prune deletes members of the series positioned after last.
func (p *InstallmentPropagator) prune(ctx context.Context, seriesID string, last core.PeriodIndex) ([]int64, error) {
	members, err := p.store.Find(ctx, core.Filter{SeriesID: seriesID})
	if err != nil {
		return nil, fmt.Errorf("find series %s: %w", seriesID, err)
	}

	var pruned []int64
	for _, m := range members {
		i, ok := p.seq.IndexOf(m.Period)
		if !ok || i <= last {
			continue
		}
		if err := p.store.Delete(ctx, m.ID); err != nil {
			return pruned, fmt.Errorf("prune installment %d: %w", m.ID, err)
		}
		pruned = append(pruned, m.ID)
	}
	return pruned, nil
}
