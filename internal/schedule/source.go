package schedule

import (
	"fmt"

	"scadenze/internal/cache"
	"scadenze/internal/core"
)

// Source produces occurrences for recurring items.
type Source interface {
	Generate(item core.RecurringItem, n int) ([]core.Occurrence, error)
	OccurrencesInMonth(item core.RecurringItem, ym core.YearMonth) ([]core.Occurrence, error)
}

var (
	_ Source = (*Generator)(nil)
	_ Source = (*CachedGenerator)(nil)
	_ Source = activeOnly{}
)

// ActiveOnly wraps src so that inactive items produce no occurrences.
func ActiveOnly(src Source) Source {
	return activeOnly{src: src}
}

type activeOnly struct {
	src Source
}

func (a activeOnly) Generate(item core.RecurringItem, n int) ([]core.Occurrence, error) {
	if !item.Active {
		return nil, nil
	}
	return a.src.Generate(item, n)
}

func (a activeOnly) OccurrencesInMonth(item core.RecurringItem, ym core.YearMonth) ([]core.Occurrence, error) {
	if !item.Active {
		return nil, nil
	}
	return a.src.OccurrencesInMonth(item, ym)
}

// CachedGenerator memoizes Generate by item definition and count. Items
// without an anchor are keyed by the month they resolve to, so the cache
// rolls over with the calendar.
type CachedGenerator struct {
	gen   *Generator
	cache cache.Cache[[]core.Occurrence]
}

func NewCachedGenerator(gen *Generator, c cache.Cache[[]core.Occurrence]) *CachedGenerator {
	return &CachedGenerator{gen: gen, cache: c}
}

func (c *CachedGenerator) Generate(item core.RecurringItem, n int) ([]core.Occurrence, error) {
	key, err := c.key(item, n)
	if err != nil {
		return nil, err
	}
	if occs, ok := c.cache.Get(key); ok {
		return append([]core.Occurrence(nil), occs...), nil
	}
	occs, err := c.gen.Generate(item, n)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]core.Occurrence(nil), occs...))
	return occs, nil
}

func (c *CachedGenerator) OccurrencesInMonth(item core.RecurringItem, ym core.YearMonth) ([]core.Occurrence, error) {
	return c.gen.OccurrencesInMonth(item, ym)
}

func (c *CachedGenerator) key(item core.RecurringItem, n int) (string, error) {
	switch p := item.Policy.(type) {
	case core.MonthlyOnDay:
		base, err := c.gen.Base(item)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d|m|%d|%s|%d", item.ID, p.Day, base, n), nil
	case core.Interval:
		return fmt.Sprintf("%d|i|%s|%d|%s|%d", item.ID, p.Start, p.Every, p.Unit, n), nil
	default:
		return "", policyError(item.Policy)
	}
}
