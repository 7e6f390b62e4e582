// Package formula holds the period-indexed value formulas that own the amount
// of formula-driven ledger entries.
//
// Each formula is a strategy: the catalog maps a formula id to the algorithm
// and a reserved label to the formula id it triggers.
package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

const (
	WageID  = "wage"
	AssetID = "asset"

	WageLabel  = "SALARIO CHICOS"
	AssetLabel = "TERRENO"
)

// Formula computes the amount of an entry for a given period.
type Formula interface {
	ID() string
	// ValueFor returns the amount for p, or false when the formula does not
	// apply to that period.
	ValueFor(seq *core.PeriodSequence, p core.Period) (decimal.Decimal, bool)
}

// Catalog resolves formula ids and reserved labels.
type Catalog struct {
	seq      *core.PeriodSequence
	formulas map[string]Formula
	labels   map[string]string
}

func NewCatalog(seq *core.PeriodSequence) *Catalog {
	return &Catalog{
		seq:      seq,
		formulas: make(map[string]Formula),
		labels:   make(map[string]string),
	}
}

// DefaultCatalog registers the wage and asset formulas under their reserved labels.
func DefaultCatalog(seq *core.PeriodSequence) *Catalog {
	c := NewCatalog(seq)
	c.MustRegister(WageLabel, NewWage(DefaultWageConfig()))
	c.MustRegister(AssetLabel, NewAsset(DefaultAssetConfig()))
	return c
}

// Register adds f and binds label to it. Labels are matched case-insensitively.
func (c *Catalog) Register(label string, f Formula) error {
	norm := strings.ToUpper(strings.TrimSpace(label))
	if norm == "" {
		return fmt.Errorf("register formula %s: empty label", f.ID())
	}
	if _, ok := c.formulas[f.ID()]; ok {
		return fmt.Errorf("register formula %s: already registered", f.ID())
	}
	if id, ok := c.labels[norm]; ok {
		return fmt.Errorf("register formula %s: label %q already bound to %s", f.ID(), label, id)
	}
	c.formulas[f.ID()] = f
	c.labels[norm] = f.ID()
	return nil
}

func (c *Catalog) MustRegister(label string, f Formula) {
	if err := c.Register(label, f); err != nil {
		panic(err)
	}
}

// ValueFor evaluates the formula id at p.
func (c *Catalog) ValueFor(id string, p core.Period) (decimal.Decimal, bool) {
	f, ok := c.formulas[id]
	if !ok {
		return decimal.Zero, false
	}
	return f.ValueFor(c.seq, p)
}

// ReservedLabels returns a copy of the upper-cased label to formula id map.
func (c *Catalog) ReservedLabels() map[string]string {
	out := make(map[string]string, len(c.labels))
	for k, v := range c.labels {
		out[k] = v
	}
	return out
}

// IDs lists the registered formula ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.formulas))
	for id := range c.formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
