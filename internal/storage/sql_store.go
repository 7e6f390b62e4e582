package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"saldo/internal/core"
)

const entryColumns = `id, created_on, period, direction, grp, label, account, installment,
	series_id, kind, formula, amount, currency, payment_method, due_date, paid`

type scanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Store on top of database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath and migrates it.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open(DialectSQLite.DriverName(), dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between engine steps.
	db.SetMaxOpenConns(1)

	return openSQLStore(db, dbPath, DialectSQLite)
}

// NewPostgresStore connects to the Postgres database at url and migrates it.
func NewPostgresStore(url string) (*SQLStore, error) {
	db, err := sql.Open(DialectPostgres.DriverName(), url)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(time.Minute)

	return openSQLStore(db, url, DialectPostgres)
}

func openSQLStore(db *sql.DB, dsn string, d Dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Dialect reports the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func whereClause(f core.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		conds = append(conds, col+" = ?")
		args = append(args, v)
	}
	if !f.Period.IsZero() {
		add("period", f.Period.String())
	}
	if f.Label != "" {
		add("label", f.Label)
	}
	if f.Group != "" {
		add("grp", f.Group)
	}
	if f.Direction != "" {
		add("direction", string(f.Direction))
	}
	if f.Currency != "" {
		add("currency", string(f.Currency))
	}
	if f.Kind != "" {
		add("kind", string(f.Kind))
	}
	if f.Formula != "" {
		add("formula", f.Formula)
	}
	if f.SeriesID != "" {
		add("series_id", f.SeriesID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(sc scanner) (core.LedgerEntry, error) {
	var (
		e                                   core.LedgerEntry
		createdOn, period, installment, due string
		direction, kind, currency           string
	)
	err := sc.Scan(&e.ID, &createdOn, &period, &direction, &e.Group, &e.Label, &e.Account,
		&installment, &e.SeriesID, &kind, &e.Formula, &e.Amount, &currency,
		&e.PaymentMethod, &due, &e.Paid)
	if err != nil {
		return core.LedgerEntry{}, err
	}

	e.Direction = core.Direction(direction)
	e.Kind = core.EntryKind(kind)
	e.Currency = core.Currency(currency)
	// Rows written by older tools may hold malformed values; keep them
	// readable and let the engine treat them as unknown.
	if p, err := core.ParsePeriod(period); err == nil {
		e.Period = p
	} else {
		slog.Warn("Stored entry has an unparseable period", "id", e.ID, "period", period)
	}
	if in, err := core.ParseInstallment(installment); err == nil {
		e.Installment = in
	}
	if d, err := core.ParseDate(createdOn); err == nil {
		e.CreatedOn = d
	}
	if d, err := core.ParseDate(due); err == nil {
		e.DueDate = d
	}
	return e, nil
}

// Find returns the entries matching f ordered by id.
func (s *SQLStore) Find(ctx context.Context, f core.Filter) ([]core.LedgerEntry, error) {
	where, args := whereClause(f)
	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+entryColumns+" FROM entries"+where+" ORDER BY id"), args...)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (core.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+entryColumns+" FROM entries WHERE id = ?"), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, fmt.Errorf("get entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

func (s *SQLStore) Insert(ctx context.Context, e core.LedgerEntry) (int64, error) {
	if e.Kind == "" {
		e.Kind = core.KindPlain
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO entries
		(created_on, period, direction, grp, label, account, installment, series_id,
		 kind, formula, amount, currency, payment_method, due_date, paid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		e.CreatedOn.String(), e.Period.String(), string(e.Direction), e.Group, e.Label,
		e.Account, e.Installment.String(), e.SeriesID, string(e.Kind), e.Formula,
		e.Amount, string(e.Currency), e.PaymentMethod, e.DueDate.String(), e.Paid,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	slog.DebugContext(ctx, "Entry saved",
		"id", id,
		"period", e.Period.String(),
		"label", e.Label,
		"amount", e.Amount.String())

	return id, nil
}

func (s *SQLStore) UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	return s.UpdateFields(ctx, id, core.EntryPatch{Amount: &amount})
}

func (s *SQLStore) UpdateFields(ctx context.Context, id int64, p core.EntryPatch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Period != nil {
		set("period", p.Period.String())
	}
	if p.Direction != nil {
		set("direction", string(*p.Direction))
	}
	if p.Group != nil {
		set("grp", *p.Group)
	}
	if p.Label != nil {
		set("label", *p.Label)
	}
	if p.Account != nil {
		set("account", *p.Account)
	}
	if p.Installment != nil {
		set("installment", p.Installment.String())
	}
	if p.SeriesID != nil {
		set("series_id", *p.SeriesID)
	}
	if p.Kind != nil {
		set("kind", string(*p.Kind))
	}
	if p.Formula != nil {
		set("formula", *p.Formula)
	}
	if p.Amount != nil {
		set("amount", *p.Amount)
	}
	if p.Currency != nil {
		set("currency", string(*p.Currency))
	}
	if p.PaymentMethod != nil {
		set("payment_method", *p.PaymentMethod)
	}
	if p.DueDate != nil {
		set("due_date", p.DueDate.String())
	}
	if p.Paid != nil {
		set("paid", *p.Paid)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, s.q("UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	return expectAffected(res, id)
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM entries WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	return expectAffected(res, id)
}

func (s *SQLStore) Count(ctx context.Context, f core.Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM entries"+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func expectAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) SaveCheckpoint(ctx context.Context, c core.CascadeCheckpoint) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO cascade_checkpoints (root, next_index, end_index, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (root) DO UPDATE SET
			next_index = excluded.next_index,
			end_index = excluded.end_index,
			updated_at = excluded.updated_at`),
		c.Root.String(), int(c.Next), int(c.End), c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.Root, err)
	}
	return nil
}

func (s *SQLStore) PendingCheckpoints(ctx context.Context) ([]core.CascadeCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT root, next_index, end_index, updated_at FROM cascade_checkpoints ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []core.CascadeCheckpoint
	for rows.Next() {
		var (
			root, updated string
			next, end     int
		)
		if err := rows.Scan(&root, &next, &end, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		p, err := core.ParsePeriod(root)
		if err != nil {
			slog.WarnContext(ctx, "Skipping checkpoint with unknown root", "root", root)
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, updated)
		out = append(out, core.CascadeCheckpoint{
			Root:      p,
			Next:      core.PeriodIndex(next),
			End:       core.PeriodIndex(end),
			UpdatedAt: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ClearCheckpoint(ctx context.Context, root core.Period) error {
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM cascade_checkpoints WHERE root = ?"), root.String()); err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", root, err)
	}
	return nil
}

func (s *SQLStore) ListGroups(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM groups ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddGroup(ctx context.Context, name string) error {
	name = normalizeGroup(name)
	if name == "" {
		return core.ErrEmptyGroup
	}
	if _, err := s.db.ExecContext(ctx, s.q("INSERT INTO groups (name) VALUES (?) ON CONFLICT DO NOTHING"), name); err != nil {
		return fmt.Errorf("add group %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) DeleteGroup(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM groups WHERE name = ?"), normalizeGroup(name))
	if err != nil {
		return fmt.Errorf("delete group %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	return nil
}

// normalizeGroup upper-cases group names the way they are shown and stored.
func normalizeGroup(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
