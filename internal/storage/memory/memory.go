// Package memory is an in-process store for development and tests, seeded
// from a YAML file.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"scadenze/internal/core"
	"scadenze/internal/ports"
	"scadenze/internal/storage"
)

var _ ports.Store = (*Store)(nil)

// Seed is the YAML layout:
//
//	items:
//	  - id: 7
//	    name: Affitto
//	    amount: "950.00"
//	    type: Expense
//	    repeat_type: monthly_date
//	    day_of_month: 1
//	    anchor_date: 2024-01-01    # or created_at; today when both are missing
//	completions:
//	  "2024-01": ["7_0"]
type Seed struct {
	Items       []storage.ItemRecord `yaml:"items"`
	Completions map[string][]string  `yaml:"completions"`
}

type Store struct {
	mu     sync.RWMutex
	items  map[int64]core.RecurringItem
	checks map[core.YearMonth]core.CompletionSet
}

// New returns a store holding items. Monthly items without an anchor are
// anchored to today, as SQLite does with created_at.
func New(items ...core.RecurringItem) *Store {
	s := &Store{
		items:  make(map[int64]core.RecurringItem, len(items)),
		checks: make(map[core.YearMonth]core.CompletionSet),
	}
	today := core.DateOf(time.Now())
	for _, it := range items {
		s.items[it.ID] = storage.Anchored(it, today)
	}
	return s
}

// NewFromFile loads a seed file. An empty path yields an empty store.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return NewFromYAML(data)
}

func NewFromYAML(data []byte) (*Store, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	s := New()
	today := core.DateOf(time.Now())
	for _, rec := range seed.Items {
		item, err := rec.ToItem()
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		if _, dup := s.items[item.ID]; dup {
			return nil, fmt.Errorf("seed: duplicate item id %d", item.ID)
		}
		s.items[item.ID] = storage.Anchored(item, today)
	}
	for month, ids := range seed.Completions {
		ym, err := core.ParseYearMonth(month)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		set := core.NewCompletionSet()
		for _, id := range ids {
			if _, _, err := core.ParseOccurrenceID(id); err != nil {
				return nil, fmt.Errorf("seed %s: %w", month, err)
			}
			set.Add(core.OccurrenceID(id))
		}
		s.checks[ym] = set
	}
	return s, nil
}

func (s *Store) ListRecurringItems(_ context.Context) ([]core.RecurringItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RecurringItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRecurringItem(_ context.Context, id int64) (core.RecurringItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return core.RecurringItem{}, fmt.Errorf("%w: %d", core.ErrItemNotFound, id)
	}
	return it, nil
}

// FetchCompletedOccurrenceIDs returns a copy of the month's record.
func (s *Store) FetchCompletedOccurrenceIDs(_ context.Context, ym core.YearMonth) (core.CompletionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checks[ym].Union(), nil
}

func (s *Store) MarkOccurrenceCompleted(_ context.Context, id core.OccurrenceID, ym core.YearMonth, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.checks[ym]
	if !ok {
		if !completed {
			return nil
		}
		set = core.NewCompletionSet()
		s.checks[ym] = set
	}
	if completed {
		set.Add(id)
	} else {
		delete(set, id)
	}
	return nil
}

// Completions returns a copy of every month's record.
func (s *Store) Completions() map[core.YearMonth]core.CompletionSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.YearMonth]core.CompletionSet, len(s.checks))
	for ym, set := range s.checks {
		out[ym] = set.Union()
	}
	return out
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
