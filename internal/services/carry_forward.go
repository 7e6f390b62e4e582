package services

import (
	"context"
	"fmt"
	"time"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// Carry-forward entry defaults.
const (
	DefaultCascadeWindow      = 24
	DefaultCarryLabel         = "Ahorro Mes Anterior"
	DefaultCarryGroup         = "AHORRO MANUEL"
	DefaultCarryPaymentMethod = "Automático"
)

// CascadeConfig controls the carry-forward cascade.
type CascadeConfig struct {
	Window        int
	BaseCurrency  core.Currency
	Label         string
	Group         string
	PaymentMethod string
}

func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		Window:        DefaultCascadeWindow,
		BaseCurrency:  "ARS",
		Label:         DefaultCarryLabel,
		Group:         DefaultCarryGroup,
		PaymentMethod: DefaultCarryPaymentMethod,
	}
}

// CascadeError reports a cascade that stopped part way. Steps before Failed
// are committed; the checkpoint for Root lets Resume continue from Failed.
type CascadeError struct {
	Root   core.Period
	Failed core.Period
	Err    error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade from %s stopped at %s: %v", e.Root, e.Failed, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }

// CascadeResult summarises one cascade run.
type CascadeResult struct {
	Root      core.Period
	Steps     int
	Inserted  int
	Updated   int
	Unchanged int
	Collapsed int
	Skipped   string
}

// CarryForwardCascade keeps the carry-forward singleton of each period equal
// to the base-currency net of the period before it.
type CarryForwardCascade struct {
	store       storage.LedgerStore
	checkpoints storage.CheckpointStore
	seq         *core.PeriodSequence
	cfg         CascadeConfig
	now         func() time.Time
	logger      *log.Logger
}

// NewCarryForwardCascade builds a cascade. checkpoints may be nil, in which
// case progress is not recorded and Resume has nothing to do.
func NewCarryForwardCascade(store storage.LedgerStore, checkpoints storage.CheckpointStore, seq *core.PeriodSequence, cfg CascadeConfig) *CarryForwardCascade {
	def := DefaultCascadeConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = def.BaseCurrency
	}
	if cfg.Label == "" {
		cfg.Label = def.Label
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = def.PaymentMethod
	}
	return &CarryForwardCascade{
		store:       store,
		checkpoints: checkpoints,
		seq:         seq,
		cfg:         cfg,
		now:         time.Now,
		logger:      log.FromDefault(log.ComponentCascade),
	}
}

// Config returns the effective configuration.
func (c *CarryForwardCascade) Config() CascadeConfig {
	return c.cfg
}

// Cascade recomputes the carry entries of the window that starts at from.
// Step i writes the net of periods[i] into periods[i+1]; steps run strictly
// in order because each net includes the carry written by the step before.
func (c *CarryForwardCascade) Cascade(ctx context.Context, from core.Period) (CascadeResult, error) {
	res := CascadeResult{Root: from}

	idx, ok := c.seq.IndexOf(from)
	if !ok {
		res.Skipped = SkipUnknownPeriod
		c.logger.DebugContext(ctx, "Skipping cascade", log.FieldPeriod, from.String())
		return res, nil
	}

	end := min(c.seq.Last()-1, idx+core.PeriodIndex(c.cfg.Window)-1)
	return c.run(ctx, core.CascadeCheckpoint{Root: from, Next: idx, End: end})
}

// Resume continues every cascade that left a checkpoint behind.
func (c *CarryForwardCascade) Resume(ctx context.Context) ([]CascadeResult, error) {
	if c.checkpoints == nil {
		return nil, nil
	}
	pending, err := c.checkpoints.PendingCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending cascades: %w", err)
	}

	var results []CascadeResult
	for _, cp := range pending {
		cp.End = min(cp.End, c.seq.Last()-1)
		c.logger.InfoContext(ctx, "Resuming cascade",
			log.FieldPeriod, cp.Root.String(),
			"next", int(cp.Next),
			"end", int(cp.End))

		res, err := c.run(ctx, cp)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (c *CarryForwardCascade) run(ctx context.Context, cp core.CascadeCheckpoint) (CascadeResult, error) {
	res := CascadeResult{Root: cp.Root}

	if cp.Done() {
		return res, c.clear(ctx, cp.Root)
	}
	if err := c.save(ctx, cp); err != nil {
		return res, &CascadeError{Root: cp.Root, Failed: c.periodAt(cp.Next + 1), Err: err}
	}

	for i := cp.Next; i <= cp.End; i++ {
		target := c.periodAt(i + 1)
		if err := ctx.Err(); err != nil {
			return res, &CascadeError{Root: cp.Root, Failed: target, Err: err}
		}
		if err := c.step(ctx, i, &res); err != nil {
			c.logger.ErrorContext(ctx, "Cascade step failed",
				log.FieldPeriod, target.String(),
				"root", cp.Root.String(),
				log.FieldError, err)
			return res, &CascadeError{Root: cp.Root, Failed: target, Err: err}
		}
		res.Steps++
		if i < cp.End {
			cp.Next = i + 1
			if err := c.save(ctx, cp); err != nil {
				return res, &CascadeError{Root: cp.Root, Failed: c.periodAt(i + 2), Err: err}
			}
		}
	}

	if err := c.clear(ctx, cp.Root); err != nil {
		return res, &CascadeError{Root: cp.Root, Failed: c.periodAt(cp.End + 1), Err: err}
	}

	c.logger.DebugContext(ctx, "Cascade complete",
		log.FieldPeriod, cp.Root.String(),
		"steps", res.Steps,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"collapsed", res.Collapsed)
	return res, nil
}

// step upserts the carry entry of periods[i+1] from the net of periods[i].
func (c *CarryForwardCascade) step(ctx context.Context, i core.PeriodIndex, res *CascadeResult) error {
	period, _ := c.seq.At(i)
	next, ok := c.seq.At(i + 1)
	if !ok {
		return nil
	}

	entries, err := c.store.Find(ctx, core.Filter{Period: period, Currency: c.cfg.BaseCurrency})
	if err != nil {
		return fmt.Errorf("find entries of %s: %w", period, err)
	}
	net := core.NetIn(entries, c.cfg.BaseCurrency)

	carries, err := c.store.Find(ctx, core.Filter{Period: next, Kind: core.KindCarryForward})
	if err != nil {
		return fmt.Errorf("find carry entry of %s: %w", next, err)
	}

	if len(carries) == 0 {
		today := core.DateOf(c.now())
		_, err := c.store.Insert(ctx, core.LedgerEntry{
			CreatedOn:     today,
			Period:        next,
			Direction:     core.Income,
			Group:         c.cfg.Group,
			Label:         c.cfg.Label,
			Installment:   core.Installment{Current: 1, Total: 1},
			Kind:          core.KindCarryForward,
			Amount:        net,
			Currency:      c.cfg.BaseCurrency,
			PaymentMethod: c.cfg.PaymentMethod,
			DueDate:       today,
		})
		if err != nil {
			return fmt.Errorf("insert carry entry of %s: %w", next, err)
		}
		res.Inserted++
		return nil
	}

	// Store results are ordered by id: keep the oldest row.
	keep := carries[0]
	for _, dup := range carries[1:] {
		if err := c.store.Delete(ctx, dup.ID); err != nil {
			return fmt.Errorf("collapse carry entry %d: %w", dup.ID, err)
		}
		res.Collapsed++
	}

	var patch core.EntryPatch
	if !keep.Amount.Equal(net) {
		patch.Amount = &net
	}
	if keep.Direction != core.Income {
		dir := core.Income
		patch.Direction = &dir
	}
	if keep.Currency != c.cfg.BaseCurrency {
		patch.Currency = &c.cfg.BaseCurrency
	}
	if patch.IsEmpty() {
		res.Unchanged++
		return nil
	}
	if err := c.store.UpdateFields(ctx, keep.ID, patch); err != nil {
		return fmt.Errorf("update carry entry %d: %w", keep.ID, err)
	}
	res.Updated++
	return nil
}

func (c *CarryForwardCascade) periodAt(i core.PeriodIndex) core.Period {
	p, _ := c.seq.At(i)
	return p
}

func (c *CarryForwardCascade) save(ctx context.Context, cp core.CascadeCheckpoint) error {
	if c.checkpoints == nil {
		return nil
	}
	cp.UpdatedAt = c.now()
	if err := c.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (c *CarryForwardCascade) clear(ctx context.Context, root core.Period) error {
	if c.checkpoints == nil {
		return nil
	}
	if err := c.checkpoints.ClearCheckpoint(ctx, root); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
