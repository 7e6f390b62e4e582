package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/storage"
	"saldo/internal/storage/memory"
)

var (
	errStoreDown = errors.New("store unavailable")
	testNow      = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return testNow }

func period(month time.Month) core.Period {
	return core.NewPeriod(2026, month)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	storage.Store
	failInsert func(core.LedgerEntry) error
	failFind   func(core.Filter) error
	failUpdate func(int64) error
}

func (f *failingStore) Insert(ctx context.Context, e core.LedgerEntry) (int64, error) {
	if f.failInsert != nil {
		if err := f.failInsert(e); err != nil {
			return 0, err
		}
	}
	return f.Store.Insert(ctx, e)
}

func (f *failingStore) Find(ctx context.Context, flt core.Filter) ([]core.LedgerEntry, error) {
	if f.failFind != nil {
		if err := f.failFind(flt); err != nil {
			return nil, err
		}
	}
	return f.Store.Find(ctx, flt)
}

func (f *failingStore) UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	if f.failUpdate != nil {
		if err := f.failUpdate(id); err != nil {
			return err
		}
	}
	return f.Store.UpdateAmount(ctx, id, amount)
}

func (f *failingStore) UpdateFields(ctx context.Context, id int64, p core.EntryPatch) error {
	if f.failUpdate != nil {
		if err := f.failUpdate(id); err != nil {
			return err
		}
	}
	return f.Store.UpdateFields(ctx, id, p)
}

func newFailingStore() *failingStore {
	return &failingStore{Store: memory.New(storage.DefaultGroups)}
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func mustInsert(t *testing.T, s storage.LedgerStore, e core.LedgerEntry) int64 {
	t.Helper()
	if e.Currency == "" {
		e.Currency = "ARS"
	}
	if e.Group == "" {
		e.Group = "VARIOS"
	}
	id, err := s.Insert(context.Background(), e)
	if err != nil {
		t.Fatalf("insert %s: %v", e.Label, err)
	}
	return id
}

func income(p core.Period, label, amount string) core.LedgerEntry {
	return core.LedgerEntry{Period: p, Direction: core.Income, Label: label, Amount: dec(amount)}
}

func expense(p core.Period, label, amount string) core.LedgerEntry {
	return core.LedgerEntry{Period: p, Direction: core.Expense, Label: label, Amount: dec(amount)}
}

func carriesIn(t *testing.T, s storage.LedgerStore, p core.Period) []core.LedgerEntry {
	t.Helper()
	got, err := s.Find(context.Background(), core.Filter{Period: p, Kind: core.KindCarryForward})
	if err != nil {
		t.Fatalf("find carries of %s: %v", p, err)
	}
	return got
}

// carryAmount returns the single carry amount of p, failing on zero or many.
func carryAmount(t *testing.T, s storage.LedgerStore, p core.Period) decimal.Decimal {
	t.Helper()
	got := carriesIn(t, s, p)
	if len(got) != 1 {
		t.Fatalf("expected one carry entry in %s, got %d", p, len(got))
	}
	return got[0].Amount
}

func snapshot(t *testing.T, s storage.LedgerStore) []string {
	t.Helper()
	entries, err := s.Find(context.Background(), core.Filter{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%t|%s",
			e.ID, e.Period, e.Direction, e.Group, e.Label, e.Installment, e.SeriesID,
			e.Kind, e.Formula, e.Amount.String(), e.Currency, e.Paid, e.DueDate))
	}
	return out
}
