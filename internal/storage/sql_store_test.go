package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

func newTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "saldo.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	in := core.LedgerEntry{
		CreatedOn:     core.NewDate(2026, 1, 5),
		Period:        core.NewPeriod(2026, time.January),
		Direction:     core.Expense,
		Group:         "CASA",
		Label:         "Alquiler",
		Account:       "contrato 12",
		Installment:   core.Installment{Current: 1, Total: 3},
		SeriesID:      "7a0c0b6e-4c39-4a8e-9d3e-2f7d1c1f0d11",
		Amount:        decimal.RequireFromString("1234.56"),
		Currency:      "ARS",
		PaymentMethod: "Transferencia",
		DueDate:       core.NewDate(2026, 1, 10),
		Paid:          true,
	}
	id, err := s.Insert(ctx, in)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	in.ID = id
	in.Kind = core.KindPlain
	if !got.Amount.Equal(in.Amount) {
		t.Fatalf("amount = %s, want %s", got.Amount, in.Amount)
	}
	got.Amount = in.Amount
	if got.CreatedOn.String() != in.CreatedOn.String() || got.DueDate.String() != in.DueDate.String() {
		t.Fatalf("dates = %s/%s, want %s/%s", got.CreatedOn, got.DueDate, in.CreatedOn, in.DueDate)
	}
	got.CreatedOn, got.DueDate = in.CreatedOn, in.DueDate
	if got != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestSQLStoreFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	enero := core.NewPeriod(2026, time.January)
	febrero := core.NewPeriod(2026, time.February)

	mk := func(p core.Period, label string, dir core.Direction, amount int64) int64 {
		t.Helper()
		id, err := s.Insert(ctx, core.LedgerEntry{Period: p, Label: label, Group: "VARIOS", Direction: dir, Currency: "ARS", Amount: decimal.NewFromInt(amount)})
		if err != nil {
			t.Fatalf("insert %s: %v", label, err)
		}
		return id
	}
	a := mk(enero, "Sueldo", core.Income, 1000)
	mk(enero, "Super", core.Expense, 400)
	mk(febrero, "Super", core.Expense, 200)

	got, err := s.Find(ctx, core.Filter{Period: enero})
	if err != nil || len(got) != 2 {
		t.Fatalf("find enero: %d entries, err=%v", len(got), err)
	}
	if n, _ := s.Count(ctx, core.Filter{Label: "Super", Direction: core.Expense}); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	if err := s.UpdateAmount(ctx, a, decimal.NewFromInt(1500)); err != nil {
		t.Fatalf("update amount: %v", err)
	}
	paid := true
	kind := core.KindFormula
	formulaID := "wage"
	if err := s.UpdateFields(ctx, a, core.EntryPatch{Paid: &paid, Kind: &kind, Formula: &formulaID}); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	e, _ := s.Get(ctx, a)
	if !e.Amount.Equal(decimal.NewFromInt(1500)) || !e.Paid || e.Kind != core.KindFormula || e.Formula != "wage" {
		t.Fatalf("unexpected entry after update: %+v", e)
	}

	got, _ = s.Find(ctx, core.Filter{Kind: core.KindFormula})
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("find by kind: %+v", got)
	}

	if err := s.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateAmount(ctx, a, decimal.Zero); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
	if _, err := s.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on get, got %v", err)
	}
}

func TestSQLStoreCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	root := core.NewPeriod(2026, time.March)

	for _, next := range []core.PeriodIndex{3, 5} {
		if err := s.SaveCheckpoint(ctx, core.CascadeCheckpoint{Root: root, Next: next, End: 25}); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}
	pending, err := s.PendingCheckpoints(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Root != root || pending[0].Next != 5 || pending[0].End != 25 {
		t.Fatalf("unexpected checkpoints: %+v", pending)
	}
	if pending[0].UpdatedAt.IsZero() {
		t.Fatalf("expected UpdatedAt to be set")
	}

	if err := s.ClearCheckpoint(ctx, root); err != nil {
		t.Fatalf("clear: %v", err)
	}
	pending, _ = s.PendingCheckpoints(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no checkpoints, got %+v", pending)
	}
}

func TestSQLStoreGroups(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != len(DefaultGroups) {
		t.Fatalf("expected seeded groups %v, got %v", DefaultGroups, groups)
	}

	if err := s.AddGroup(ctx, " viajes "); err != nil {
		t.Fatalf("add group: %v", err)
	}
	if err := s.AddGroup(ctx, "VIAJES"); err != nil {
		t.Fatalf("add duplicate group: %v", err)
	}
	groups, _ = s.ListGroups(ctx)
	if len(groups) != len(DefaultGroups)+1 {
		t.Fatalf("unexpected groups: %v", groups)
	}

	if err := s.DeleteGroup(ctx, "viajes"); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if err := s.DeleteGroup(ctx, "viajes"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE entries SET amount = ?, paid = ? WHERE id = ?"
	if got := DialectSQLite.rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := "UPDATE entries SET amount = $1, paid = $2 WHERE id = $3"
	if got := DialectPostgres.rebind(q); got != want {
		t.Fatalf("postgres rebind = %s, want %s", got, want)
	}
}

func TestSQLStoreKeepsAmountPrecision(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	amount := decimal.RequireFromString("1234.123456789")
	id, err := s.Insert(ctx, core.LedgerEntry{
		Period: core.NewPeriod(2026, time.January), Direction: core.Expense,
		Group: "VARIOS", Label: "Interes", Amount: amount, Currency: "ARS",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Amount.Equal(amount) {
		t.Errorf("amount = %s, want %s", got.Amount, amount)
	}
}

// Both dialects must store amounts without rounding, or cascades would
// sum differently per backend.
func TestMigrationsKeepAmountsUnscaled(t *testing.T) {
	b, err := migrationsFS.ReadFile("migrations/postgres/000001_create_entries.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	col := regexp.MustCompile(`(?m)^\s*amount\s+(\S+)`).FindSubmatch(b)
	if col == nil {
		t.Fatal("amount column not found")
	}
	if got := string(col[1]); got != "NUMERIC" {
		t.Errorf("postgres amount type = %s, want unscaled NUMERIC", got)
	}
}
