package formula

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

func TestWageValueFor(t *testing.T) {
	seq := core.MustGenerateSequence(2026, 2027)
	w := NewWage(DefaultWageConfig())

	tests := []struct {
		name   string
		period core.Period
		want   string
		ok     bool
	}{
		{"first table month", core.NewPeriod(2026, time.January), "852500", true},
		{"anomaly month gets an extra half", core.NewPeriod(2026, time.June), "1379250", true},
		{"last table month", core.NewPeriod(2026, time.August), "941500", true},
		{"first extrapolated month", core.NewPeriod(2026, time.September), "954214.29", true},
		{"last tail month gets an extra half", core.NewPeriod(2026, time.December), "1488535.71", true},
		{"after the tail", core.NewPeriod(2027, time.January), "0", false},
		{"before the table", core.NewPeriod(2025, time.December), "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.ValueFor(seq, tt.period)
			if ok != tt.ok {
				t.Fatalf("ValueFor(%s) ok = %v, want %v", tt.period, ok, tt.ok)
			}
			if ok && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("ValueFor(%s) = %s, want %s", tt.period, got, tt.want)
			}
		})
	}
}

func TestAssetValueFor(t *testing.T) {
	seq := core.MustGenerateSequence(2026, 2035)
	a := NewAsset(DefaultAssetConfig())

	got, ok := a.ValueFor(seq, core.NewPeriod(2026, time.January))
	if !ok || !got.Equal(decimal.NewFromInt(13800)) {
		t.Fatalf("index 0 = %s,%v want 13800", got, ok)
	}
	got, ok = a.ValueFor(seq, core.NewPeriod(2026, time.March))
	if !ok || !got.Equal(decimal.RequireFromString("14926.08")) {
		t.Fatalf("index 2 = %s,%v want 14926.08", got, ok)
	}
	if _, ok := a.ValueFor(seq, core.NewPeriod(2040, time.March)); ok {
		t.Fatalf("period outside the sequence must not apply")
	}
	if _, ok := a.ValueFor(nil, core.NewPeriod(2026, time.March)); ok {
		t.Fatalf("nil sequence must not apply")
	}
}

func TestFormulaDeterminism(t *testing.T) {
	seq := core.MustGenerateSequence(2026, 2035)
	c := DefaultCatalog(seq)
	for _, p := range seq.Periods() {
		for _, id := range c.IDs() {
			a, okA := c.ValueFor(id, p)
			b, okB := c.ValueFor(id, p)
			if okA != okB || !a.Equal(b) {
				t.Fatalf("%s at %s not deterministic: %s/%v vs %s/%v", id, p, a, okA, b, okB)
			}
		}
	}
}

func TestCatalogRegister(t *testing.T) {
	seq := core.MustGenerateSequence(2026, 2026)
	c := DefaultCatalog(seq)

	labels := c.ReservedLabels()
	if labels["SALARIO CHICOS"] != WageID || labels["TERRENO"] != AssetID {
		t.Fatalf("unexpected reserved labels: %v", labels)
	}
	if err := c.Register("otro", NewAsset(DefaultAssetConfig())); err == nil {
		t.Fatalf("expected duplicate formula id error")
	}
	if err := c.Register("terreno", constant{id: "k"}); err == nil {
		t.Fatalf("expected duplicate label error")
	}
	if err := c.Register("  ", constant{id: "k"}); err == nil {
		t.Fatalf("expected empty label error")
	}
	if err := c.Register("Bono", constant{id: "bonus", v: decimal.NewFromInt(7)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := c.ValueFor("bonus", core.NewPeriod(2026, time.May))
	if !ok || !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("ValueFor(bonus) = %s,%v", got, ok)
	}
	if _, ok := c.ValueFor("missing", core.NewPeriod(2026, time.May)); ok {
		t.Fatalf("unknown formula must not apply")
	}
}

type constant struct {
	id string
	v  decimal.Decimal
}

func (c constant) ID() string { return c.id }

func (c constant) ValueFor(*core.PeriodSequence, core.Period) (decimal.Decimal, bool) {
	return c.v, true
}
