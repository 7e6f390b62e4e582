package services

import (
	"context"
	"fmt"

	"saldo/internal/core"
	"saldo/internal/formula"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// FormulaRecomputer rewrites the amount of every formula-driven entry from
// the catalog. It never creates or deletes rows.
type FormulaRecomputer struct {
	store   storage.LedgerStore
	catalog *formula.Catalog
	logger  *log.Logger
}

// RecomputeResult counts what a single Run touched.
type RecomputeResult struct {
	Scanned       int
	Updated       int
	NotApplicable int
}

func NewFormulaRecomputer(store storage.LedgerStore, catalog *formula.Catalog) *FormulaRecomputer {
	return &FormulaRecomputer{
		store:   store,
		catalog: catalog,
		logger:  log.FromDefault(log.ComponentFormula),
	}
}

// Run recomputes all formula entries. Entries whose formula is not
// applicable to their period keep their stored amount.
func (r *FormulaRecomputer) Run(ctx context.Context) (RecomputeResult, error) {
	var res RecomputeResult

	entries, err := r.store.Find(ctx, core.Filter{Kind: core.KindFormula})
	if err != nil {
		return res, fmt.Errorf("find formula entries: %w", err)
	}

	for _, e := range entries {
		res.Scanned++
		v, ok := r.catalog.ValueFor(e.Formula, e.Period)
		if !ok {
			res.NotApplicable++
			continue
		}
		if e.Amount.Equal(v) {
			continue
		}
		if err := r.store.UpdateAmount(ctx, e.ID, v); err != nil {
			return res, fmt.Errorf("update formula entry %d: %w", e.ID, err)
		}
		res.Updated++
		r.logger.DebugContext(ctx, "Formula amount updated",
			log.FieldEntryID, e.ID,
			log.FieldFormula, e.Formula,
			log.FieldPeriod, e.Period.String(),
			log.FieldAmount, v.String())
	}

	if res.Updated > 0 {
		r.logger.InfoContext(ctx, "Formula entries recomputed",
			"scanned", res.Scanned,
			"updated", res.Updated,
			"not_applicable", res.NotApplicable)
	}
	return res, nil
}
