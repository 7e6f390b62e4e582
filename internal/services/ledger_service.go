package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/formula"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// ErrNoTargets is returned when a bulk copy has nowhere to go.
var ErrNoTargets = errors.New("no target periods")

// EventPublisher receives a notification after every ledger mutation.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// LedgerConfig configures the engine behind a LedgerService.
type LedgerConfig struct {
	Cascade    CascadeConfig
	Currencies []core.Currency
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Cascade:    DefaultCascadeConfig(),
		Currencies: []core.Currency{"ARS", "USD"},
	}
}

// NewEntry is the input of CreateEntry.
type NewEntry struct {
	Period        core.Period
	Direction     core.Direction
	Group         string
	Label         string
	Account       string
	Installment   string // "current/total", empty for a single entry
	Amount        decimal.Decimal
	Currency      core.Currency
	PaymentMethod string
	DueDate       core.Date
	Paid          bool
}

// EntryUpdate lists the fields to change on an entry; nil means unchanged.
type EntryUpdate struct {
	Period        *core.Period
	Direction     *core.Direction
	Group         *string
	Label         *string
	Account       *string
	Installment   *string
	Amount        *decimal.Decimal
	Currency      *core.Currency
	PaymentMethod *string
	DueDate       *core.Date
	Paid          *bool
}

// Settlement is a bulk payment update.
type Settlement struct {
	DueDate       *core.Date
	PaymentMethod *string
	Paid          *bool
}

// UpdateResult reports what an update changed beyond the entry itself.
type UpdateResult struct {
	Entry       core.LedgerEntry
	Propagation PropagationResult
	Cascade     CascadeResult
}

// LedgerService runs ledger mutations and the recomputation they trigger:
// formula values, installment propagation and the carry-forward cascade.
// Mutations are serialised by a single mutex.
type LedgerService struct {
	mu sync.Mutex

	store      storage.Store
	seq        *core.PeriodSequence
	catalog    *formula.Catalog
	cfg        LedgerConfig
	recomputer *FormulaRecomputer
	propagator *InstallmentPropagator
	cascade    *CarryForwardCascade
	publisher  EventPublisher
	now        func() time.Time
	logger     *log.Logger
}

// NewLedgerService wires the engine on top of store. publisher may be nil.
func NewLedgerService(store storage.Store, seq *core.PeriodSequence, catalog *formula.Catalog, cfg LedgerConfig, publisher EventPublisher) *LedgerService {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = DefaultLedgerConfig().Currencies
	}
	cascade := NewCarryForwardCascade(store, store, seq, cfg.Cascade)
	cfg.Cascade = cascade.Config()
	if !slices.Contains(cfg.Currencies, cfg.Cascade.BaseCurrency) {
		cfg.Currencies = append(cfg.Currencies, cfg.Cascade.BaseCurrency)
	}

	return &LedgerService{
		store:      store,
		seq:        seq,
		catalog:    catalog,
		cfg:        cfg,
		recomputer: NewFormulaRecomputer(store, catalog),
		propagator: NewInstallmentPropagator(store, seq, catalog),
		cascade:    cascade,
		publisher:  publisher,
		now:        time.Now,
		logger:     log.FromDefault(log.ComponentLedger),
	}
}

// SetClock replaces the time source of the service and its engine.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
	s.propagator.now = now
	s.cascade.now = now
}

func (s *LedgerService) Sequence() *core.PeriodSequence {
	return s.seq
}

func (s *LedgerService) Periods() []core.Period {
	return s.seq.Periods()
}

func (s *LedgerService) today() core.Date {
	return core.DateOf(s.now())
}

func (s *LedgerService) resolveKind(label string) (core.EntryKind, string) {
	return core.ResolveKind(label, s.cfg.Cascade.Label, s.catalog.ReservedLabels())
}

func (s *LedgerService) validate(e core.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !s.seq.Contains(e.Period) {
		return fmt.Errorf("%w: %s", core.ErrUnknownPeriod, e.Period)
	}
	if !slices.Contains(s.cfg.Currencies, e.Currency) {
		return fmt.Errorf("%w: %s", core.ErrInvalidCurrency, e.Currency)
	}
	if e.Amount.IsNegative() && e.Kind != core.KindCarryForward {
		return core.ErrInvalidAmount
	}
	return nil
}

// formulaAmount returns the catalog value of e's formula at p, or fallback.
func (s *LedgerService) formulaAmount(e core.LedgerEntry, p core.Period, fallback decimal.Decimal) decimal.Decimal {
	if e.Kind != core.KindFormula {
		return fallback
	}
	if v, ok := s.catalog.ValueFor(e.Formula, p); ok {
		return v
	}
	return fallback
}

// CreateEntry stores a new entry. A multi-installment entry is expanded into
// installments current..total over consecutive periods, stopping at the end
// of the sequence; only the first one keeps the paid flag. Returns the ids
// created, first installment first.
func (s *LedgerService) CreateEntry(ctx context.Context, in NewEntry) ([]int64, error) {
	inst, err := core.ParseInstallment(in.Installment)
	if err != nil {
		return nil, err
	}

	e := core.LedgerEntry{
		CreatedOn:     s.today(),
		Period:        in.Period,
		Direction:     in.Direction,
		Group:         strings.TrimSpace(in.Group),
		Label:         strings.TrimSpace(in.Label),
		Account:       strings.TrimSpace(in.Account),
		Installment:   inst,
		Amount:        in.Amount,
		Currency:      in.Currency,
		PaymentMethod: in.PaymentMethod,
		DueDate:       in.DueDate,
		Paid:          in.Paid,
	}
	e.Kind, e.Formula = s.resolveKind(e.Label)
	if e.Kind == core.KindCarryForward {
		return nil, fmt.Errorf("%w: %q", core.ErrCarryForwardManaged, e.Label)
	}
	if err := s.validate(e); err != nil {
		return nil, err
	}
	if e.DueDate.IsZero() {
		e.DueDate = s.today()
	}
	if e.IsSeries() {
		e.SeriesID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, _ := s.seq.IndexOf(e.Period)
	first := e.Installment.Current
	if e.Installment.IsZero() {
		first = 1
	}
	last := max(first, e.Installment.Total)

	var ids []int64
	for n := first; n <= last; n++ {
		step := n - first
		target, ok := s.seq.Advance(idx, step)
		if !ok {
			break
		}
		period, _ := s.seq.At(target)

		row := e
		row.Period = period
		row.Amount = s.formulaAmount(e, period, e.Amount)
		row.DueDate = e.DueDate.AddDays(DueDateStep * step)
		if !e.Installment.IsZero() {
			row.Installment = core.Installment{Current: n, Total: e.Installment.Total}
		}
		if step > 0 {
			row.Paid = false
		}

		id, err := s.store.Insert(ctx, row)
		if err != nil {
			return ids, fmt.Errorf("insert entry %s in %s: %w", row.Label, period, err)
		}
		ids = append(ids, id)
	}

	s.logger.InfoContext(ctx, "Entry created",
		log.NewFields().
			WithEntry(ids[0], e.Period.String(), e.Label, e.Group).
			WithAmount(e.Amount, string(e.Currency)).
			WithSeries(e.SeriesID, e.Installment.String()).
			WithOperation(log.OpCreate).
			ToSlice()...)

	if _, err := s.runCascade(ctx, e.Period); err != nil {
		return ids, err
	}
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryCreated, e.Period, ids...))
	return ids, nil
}

// UpdateEntry applies u to entry id. When the installment descriptor
// changes, the rest of the series is propagated. The cascade starts from
// the earlier of the old and new period.
func (s *LedgerService) UpdateEntry(ctx context.Context, id int64, u EntryUpdate) (UpdateResult, error) {
	var res UpdateResult

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.store.Get(ctx, id)
	if err != nil {
		return res, err
	}

	patch := core.EntryPatch{
		Period:        u.Period,
		Direction:     u.Direction,
		Group:         trimmed(u.Group),
		Label:         trimmed(u.Label),
		Account:       trimmed(u.Account),
		Amount:        u.Amount,
		Currency:      u.Currency,
		PaymentMethod: u.PaymentMethod,
		DueDate:       u.DueDate,
		Paid:          u.Paid,
	}
	if u.Installment != nil {
		inst, err := core.ParseInstallment(*u.Installment)
		if err != nil {
			return res, err
		}
		patch.Installment = &inst
	}
	if patch.Label != nil {
		kind, formulaID := s.resolveKind(*patch.Label)
		patch.Kind = &kind
		patch.Formula = &formulaID
	}

	updated := old
	patch.Apply(&updated)
	if err := checkCarryEdit(old, updated); err != nil {
		return res, err
	}
	if err := s.validate(updated); err != nil {
		return res, err
	}
	if updated.Kind == core.KindFormula {
		v := s.formulaAmount(updated, updated.Period, updated.Amount)
		if !v.Equal(updated.Amount) {
			updated.Amount = v
			patch.Amount = &v
		}
	}
	if updated.IsSeries() && updated.SeriesID == "" {
		updated.SeriesID = uuid.NewString()
		patch.SeriesID = &updated.SeriesID
	}

	if !patch.IsEmpty() {
		if err := s.store.UpdateFields(ctx, id, patch); err != nil {
			return res, fmt.Errorf("update entry %d: %w", id, err)
		}
	}
	res.Entry = updated

	if updated.Installment != old.Installment && !updated.Installment.IsZero() {
		res.Propagation, err = s.propagator.Propagate(ctx, updated, updated.Installment.String())
		if err != nil {
			return res, fmt.Errorf("propagate installments of entry %d: %w", id, err)
		}
	}

	root := updated.Period
	if old.Period.Before(root) && s.seq.Contains(old.Period) {
		root = old.Period
	}
	res.Cascade, err = s.runCascade(ctx, root)
	if err != nil {
		return res, err
	}

	s.logger.InfoContext(ctx, "Entry updated",
		log.NewFields().
			WithEntry(id, updated.Period.String(), updated.Label, updated.Group).
			WithAmount(updated.Amount, string(updated.Currency)).
			WithSeries(updated.SeriesID, updated.Installment.String()).
			WithOperation(log.OpUpdate).
			ToSlice()...)

	ids := append([]int64{id}, res.Propagation.Created...)
	ids = append(ids, res.Propagation.Updated...)
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryUpdated, updated.Period, ids...))
	return res, nil
}

// checkCarryEdit allows only payment metadata and the account tag to change
// on a carry-forward entry, and refuses turning any other entry into one.
func checkCarryEdit(old, updated core.LedgerEntry) error {
	if old.Kind != core.KindCarryForward && updated.Kind != core.KindCarryForward {
		return nil
	}
	if old.Kind != updated.Kind ||
		old.Period != updated.Period ||
		old.Direction != updated.Direction ||
		old.Group != updated.Group ||
		old.Installment != updated.Installment ||
		old.Currency != updated.Currency ||
		!old.Amount.Equal(updated.Amount) {
		return fmt.Errorf("%w: entry %d", core.ErrCarryForwardManaged, old.ID)
	}
	return nil
}

// DeleteEntry removes one entry and cascades from its period.
func (s *LedgerService) DeleteEntry(ctx context.Context, id int64) error {
	_, err := s.DeleteEntries(ctx, []int64{id})
	return err
}

// DeleteEntries removes entries and cascades once from the earliest
// affected period. A deleted carry-forward entry is rebuilt by cascading
// from the period before it. Unknown ids are reported as storage.ErrNotFound.
func (s *LedgerService) DeleteEntries(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		root    core.Period
		deleted []int64
	)
	for _, id := range ids {
		e, err := s.store.Get(ctx, id)
		if err != nil {
			return len(deleted), err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return len(deleted), fmt.Errorf("delete entry %d: %w", id, err)
		}
		deleted = append(deleted, id)
		from := e.Period
		if e.Kind == core.KindCarryForward {
			if prev, ok := s.seq.PeriodAfter(e.Period, -1); ok {
				from = prev
			}
		}
		if root.IsZero() || from.Before(root) {
			root = from
		}
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	s.logger.InfoContext(ctx, "Entries deleted",
		log.FieldOperation, log.OpDelete,
		"count", len(deleted),
		log.FieldPeriod, root.String())

	if _, err := s.runCascade(ctx, root); err != nil {
		return len(deleted), err
	}
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryDeleted, root, deleted...))
	return len(deleted), nil
}

// SettleEntries bulk-updates payment metadata. Amounts do not change, so
// there is nothing to cascade.
func (s *LedgerService) SettleEntries(ctx context.Context, ids []int64, st Settlement) (int, error) {
	patch := core.EntryPatch{DueDate: st.DueDate, PaymentMethod: st.PaymentMethod, Paid: st.Paid}
	if patch.IsEmpty() || len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range ids {
		if err := s.store.UpdateFields(ctx, id, patch); err != nil {
			return i, fmt.Errorf("settle entry %d: %w", id, err)
		}
	}

	s.logger.InfoContext(ctx, "Entries settled", log.FieldOperation, log.OpSettle, "count", len(ids))
	s.publish(ctx, &amqp.LedgerEvent{Type: amqp.EventEntryUpdated, EntryIDs: ids, Timestamp: s.now()})
	return len(ids), nil
}

// ReplicateEntries copies the expenses of model whose label is in labels
// into every target period as unpaid single entries. The model period
// itself is never a target. Returns the number of rows created.
func (s *LedgerService) ReplicateEntries(ctx context.Context, model core.Period, labels []string, targets []core.Period) (int, error) {
	if !s.seq.Contains(model) {
		return 0, fmt.Errorf("%w: %s", core.ErrUnknownPeriod, model)
	}
	targets, err := s.targetPeriods(model, targets)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.Find(ctx, core.Filter{Period: model, Direction: core.Expense})
	if err != nil {
		return 0, fmt.Errorf("find model entries: %w", err)
	}
	// First row per label, in label selection order.
	var picked []core.LedgerEntry
	for _, label := range labels {
		i := slices.IndexFunc(rows, func(e core.LedgerEntry) bool {
			return e.Label == label && e.Kind != core.KindCarryForward
		})
		if i >= 0 {
			picked = append(picked, rows[i])
		}
	}
	if len(picked) == 0 {
		return 0, nil
	}

	today := s.today()
	var created []int64
	for _, p := range targets {
		for _, e := range picked {
			row := e
			row.ID = 0
			row.CreatedOn = today
			row.Period = p
			row.Installment = core.Installment{Current: 1, Total: 1}
			row.SeriesID = ""
			row.Amount = s.formulaAmount(e, p, e.Amount)
			row.DueDate = today
			row.Paid = false
			id, err := s.store.Insert(ctx, row)
			if err != nil {
				return len(created), fmt.Errorf("replicate %s into %s: %w", e.Label, p, err)
			}
			created = append(created, id)
		}
	}

	s.logger.InfoContext(ctx, "Entries replicated",
		log.FieldOperation, log.OpReplicate,
		log.FieldPeriod, model.String(),
		"count", len(created))

	if _, err := s.runCascade(ctx, targets[0]); err != nil {
		return len(created), err
	}
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryCreated, targets[0], created...))
	return len(created), nil
}

// CloneMonth replaces the entries of dst with copies of src. With a nil dst
// every other period of src's year is replaced. Carry entries are neither
// copied nor removed; the cascade recomputes them.
func (s *LedgerService) CloneMonth(ctx context.Context, src core.Period, dst *core.Period) (int, error) {
	if !s.seq.Contains(src) {
		return 0, fmt.Errorf("%w: %s", core.ErrUnknownPeriod, src)
	}
	var targets []core.Period
	if dst != nil {
		targets = []core.Period{*dst}
	} else {
		targets = s.seq.YearPeriods(src.Year)
	}
	targets, err := s.targetPeriods(src, targets)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.Find(ctx, core.Filter{Period: src})
	if err != nil {
		return 0, fmt.Errorf("find source entries: %w", err)
	}
	rows = slices.DeleteFunc(rows, func(e core.LedgerEntry) bool { return e.Kind == core.KindCarryForward })

	today := s.today()
	copied := 0
	for _, p := range targets {
		existing, err := s.store.Find(ctx, core.Filter{Period: p})
		if err != nil {
			return copied, fmt.Errorf("find entries of %s: %w", p, err)
		}
		for _, e := range existing {
			if e.Kind == core.KindCarryForward {
				continue
			}
			if err := s.store.Delete(ctx, e.ID); err != nil {
				return copied, fmt.Errorf("clear entry %d of %s: %w", e.ID, p, err)
			}
		}
		for _, e := range rows {
			row := e
			row.ID = 0
			row.CreatedOn = today
			row.Period = p
			row.SeriesID = ""
			row.Amount = s.formulaAmount(e, p, e.Amount)
			row.Paid = false
			if _, err := s.store.Insert(ctx, row); err != nil {
				return copied, fmt.Errorf("clone %s into %s: %w", e.Label, p, err)
			}
			copied++
		}
	}

	s.logger.InfoContext(ctx, "Month cloned",
		log.FieldOperation, log.OpClone,
		log.FieldPeriod, src.String(),
		"targets", len(targets),
		"count", copied)

	if _, err := s.runCascade(ctx, targets[0]); err != nil {
		return copied, err
	}
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventEntryCreated, targets[0]))
	return copied, nil
}

// targetPeriods validates targets, drops exclude and returns them in sequence order.
func (s *LedgerService) targetPeriods(exclude core.Period, targets []core.Period) ([]core.Period, error) {
	var out []core.Period
	for _, p := range targets {
		if !s.seq.Contains(p) {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownPeriod, p)
		}
		if p == exclude || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	slices.SortFunc(out, func(a, b core.Period) int {
		ia, _ := s.seq.IndexOf(a)
		ib, _ := s.seq.IndexOf(b)
		return int(ia - ib)
	})
	return out, nil
}

// ListPeriod recomputes formula entries, then returns the entries of p.
func (s *LedgerService) ListPeriod(ctx context.Context, p core.Period) ([]core.LedgerEntry, error) {
	if !s.seq.Contains(p) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownPeriod, p)
	}
	if _, err := s.Recompute(ctx); err != nil {
		return nil, err
	}
	entries, err := s.store.Find(ctx, core.Filter{Period: p})
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", p, err)
	}
	return entries, nil
}

// Summarize returns per-currency totals of p.
func (s *LedgerService) Summarize(ctx context.Context, p core.Period) (core.PeriodSummary, error) {
	entries, err := s.ListPeriod(ctx, p)
	if err != nil {
		return core.PeriodSummary{}, err
	}
	return core.Summarize(p, entries), nil
}

// Recompute runs the formula recomputer.
func (s *LedgerService) Recompute(ctx context.Context) (RecomputeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputer.Run(ctx)
}

// Cascade runs the carry-forward cascade from p on demand.
func (s *LedgerService) Cascade(ctx context.Context, p core.Period) (CascadeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCascade(ctx, p)
}

// ResumeCascades continues cascades interrupted by a failure.
func (s *LedgerService) ResumeCascades(ctx context.Context) ([]CascadeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.cascade.Resume(ctx)
	if err != nil {
		s.publishCascadeFailure(ctx, err)
	}
	return results, err
}

func (s *LedgerService) runCascade(ctx context.Context, p core.Period) (CascadeResult, error) {
	res, err := s.cascade.Cascade(ctx, p)
	if err != nil {
		s.publishCascadeFailure(ctx, err)
		return res, err
	}
	return res, nil
}

func (s *LedgerService) publishCascadeFailure(ctx context.Context, err error) {
	ev := &amqp.LedgerEvent{Type: amqp.EventCascadeFailed, Error: err.Error(), Timestamp: s.now()}
	var ce *CascadeError
	if errors.As(err, &ce) {
		ev.Period = ce.Root.String()
	}
	s.publish(ctx, ev)
}

func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			"type", ev.Type,
			log.FieldPeriod, ev.Period,
			log.FieldError, err)
	}
}

func (s *LedgerService) ListGroups(ctx context.Context) ([]string, error) {
	return s.store.ListGroups(ctx)
}

func (s *LedgerService) AddGroup(ctx context.Context, name string) error {
	return s.store.AddGroup(ctx, name)
}

func (s *LedgerService) DeleteGroup(ctx context.Context, name string) error {
	return s.store.DeleteGroup(ctx, name)
}

// Close closes the store
func (s *LedgerService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
