// Package memory is an in-process storage backend used for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/storage"
)

type Store struct {
	mu          sync.Mutex
	nextID      int64
	entries     map[int64]core.LedgerEntry
	groups      []string
	checkpoints map[core.Period]core.CascadeCheckpoint
}

var _ storage.Store = (*Store)(nil)

func New(groups []string) *Store {
	return &Store{
		nextID:      1,
		entries:     map[int64]core.LedgerEntry{},
		groups:      dedupe(groups),
		checkpoints: map[core.Period]core.CascadeCheckpoint{},
	}
}

// NewFromFiles seeds groups from base/seed_groups.txt, falling back to
// storage.DefaultGroups when the file is missing or empty.
func NewFromFiles(base string) *Store {
	groups := readLines(filepath.Join(base, "seed_groups.txt"))
	if len(groups) == 0 {
		groups = storage.DefaultGroups
	}
	return New(groups)
}

func (s *Store) Find(_ context.Context, f core.Filter) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(_ context.Context, id int64) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, fmt.Errorf("get entry %d: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

func (s *Store) Insert(_ context.Context, e core.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Kind == "" {
		e.Kind = core.KindPlain
	}
	e.ID = s.nextID
	s.nextID++
	s.entries[e.ID] = e
	return e.ID, nil
}

func (s *Store) UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	return s.UpdateFields(ctx, id, core.EntryPatch{Amount: &amount})
}

func (s *Store) UpdateFields(_ context.Context, id int64, p core.EntryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %d: %w", id, storage.ErrNotFound)
	}
	p.Apply(&e)
	s.entries[id] = e
	return nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("entry %d: %w", id, storage.ErrNotFound)
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) Count(_ context.Context, f core.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if f.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, c core.CascadeCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[c.Root] = c
	return nil
}

// PendingCheckpoints returns checkpoints oldest first.
func (s *Store) PendingCheckpoints(_ context.Context) ([]core.CascadeCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CascadeCheckpoint, 0, len(s.checkpoints))
	for _, c := range s.checkpoints {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Root.Before(out[j].Root)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) ClearCheckpoint(_ context.Context, root core.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, root)
	return nil
}

// ListGroups returns groups sorted by name.
func (s *Store) ListGroups(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.groups...)
	sort.Strings(out)
	return out, nil
}

func (s *Store) AddGroup(_ context.Context, name string) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return core.ErrEmptyGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g == name {
			return nil
		}
	}
	s.groups = append(s.groups, name)
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, name string) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.groups {
		if g == name {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("group %s: %w", name, storage.ErrNotFound)
}

func (s *Store) Close() error { return nil }

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

// dedupe upper-cases names and drops blanks and repeats, keeping input order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
