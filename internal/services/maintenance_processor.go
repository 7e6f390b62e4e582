package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/log"
)

// MaintenanceConfig holds configuration for the maintenance processor
type MaintenanceConfig struct {
	// Interval is how often formulas are recomputed and interrupted
	// cascades resumed (default: 1h)
	Interval time.Duration
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{Interval: time.Hour}
}

// MaintenanceProcessor keeps derived rows fresh in the background: it
// periodically recomputes formula entries and resumes cascades left behind
// by failures, and reacts to ledger events consumed from the broker.
type MaintenanceProcessor struct {
	ledger *LedgerService
	config MaintenanceConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewMaintenanceProcessor(ledger *LedgerService, config MaintenanceConfig) *MaintenanceProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceConfig().Interval
	}
	return &MaintenanceProcessor{
		ledger: ledger,
		config: config,
		logger: log.FromDefault(log.ComponentWorker),
	}
}

// Start begins the maintenance loop. Returns an error if already running.
func (p *MaintenanceProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("maintenance processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stop, done)

	p.logger.InfoContext(ctx, "Maintenance processor started", "interval", p.config.Interval.String())
	return nil
}

// Stop signals the loop and waits for it to finish or for ctx to expire.
// The processor counts as stopped either way: a timed-out loop exits after
// its current run and Start may be called again.
func (p *MaintenanceProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	done := p.doneCh
	close(p.stopCh)
	p.mu.Unlock()

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Maintenance processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Maintenance processor stop timed out")
		return ctx.Err()
	}
}

func (p *MaintenanceProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *MaintenanceProcessor) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Catch up on startup
	p.runOnceLogged(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnceLogged(ctx)
		}
	}
}

func (p *MaintenanceProcessor) runOnceLogged(ctx context.Context) {
	if err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.ErrorContext(ctx, "Maintenance run failed", log.FieldError, err)
	}
}

// RunOnce recomputes formula entries and resumes pending cascades.
func (p *MaintenanceProcessor) RunOnce(ctx context.Context) error {
	rec, err := p.ledger.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("recompute formulas: %w", err)
	}
	results, err := p.ledger.ResumeCascades(ctx)
	if err != nil {
		return fmt.Errorf("resume cascades: %w", err)
	}
	if rec.Updated > 0 || len(results) > 0 {
		p.logger.InfoContext(ctx, "Maintenance run complete",
			"formulas_updated", rec.Updated,
			"cascades_resumed", len(results))
	}
	return nil
}

// HandleEvent reacts to a consumed ledger event. A failed cascade is
// resumed right away; if that fails too the checkpoint stays and the next
// periodic run retries, so the event is not requeued.
func (p *MaintenanceProcessor) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	switch ev.Type {
	case amqp.EventCascadeFailed:
		results, err := p.ledger.ResumeCascades(ctx)
		if err != nil {
			p.logger.WarnContext(ctx, "Resume after failed cascade did not complete",
				log.FieldPeriod, ev.Period,
				log.FieldError, err)
			return nil
		}
		p.logger.InfoContext(ctx, "Resumed failed cascade",
			log.FieldPeriod, ev.Period,
			"cascades_resumed", len(results))
	case amqp.EventEntryCreated, amqp.EventEntryUpdated, amqp.EventEntryDeleted:
		p.logger.InfoContext(ctx, "Ledger changed",
			"type", ev.Type,
			log.FieldPeriod, ev.Period,
			"entries", len(ev.EntryIDs))
	default:
		p.logger.WarnContext(ctx, "Ignoring unknown ledger event", "type", ev.Type)
	}
	return nil
}
