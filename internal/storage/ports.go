package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// ErrNotFound is returned when an id does not identify a stored row.
var ErrNotFound = errors.New("not found")

// Ports implemented by every backend.
type (
	// LedgerStore persists ledger entries.
	LedgerStore interface {
		Find(ctx context.Context, f core.Filter) ([]core.LedgerEntry, error)
		Get(ctx context.Context, id int64) (core.LedgerEntry, error)
		// Insert ignores e.ID and returns the id assigned by the store.
		Insert(ctx context.Context, e core.LedgerEntry) (int64, error)
		UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error
		UpdateFields(ctx context.Context, id int64, p core.EntryPatch) error
		Delete(ctx context.Context, id int64) error
		Count(ctx context.Context, f core.Filter) (int, error)
	}

	// CheckpointStore keeps the progress of carry-forward cascades.
	CheckpointStore interface {
		SaveCheckpoint(ctx context.Context, c core.CascadeCheckpoint) error
		PendingCheckpoints(ctx context.Context) ([]core.CascadeCheckpoint, error)
		ClearCheckpoint(ctx context.Context, root core.Period) error
	}

	// GroupStore maintains the set of known entry groups.
	GroupStore interface {
		ListGroups(ctx context.Context) ([]string, error)
		AddGroup(ctx context.Context, name string) error
		DeleteGroup(ctx context.Context, name string) error
	}

	// Store is the full backend surface.
	Store interface {
		LedgerStore
		CheckpointStore
		GroupStore
		Close() error
	}
)

// DefaultGroups seed a fresh store.
var DefaultGroups = []string{"AHORRO MANUEL", "CASA", "AUTO", "VARIOS", "DEUDAS"}
