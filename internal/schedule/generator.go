// Package schedule expands recurring items into dated occurrences.
//
// Every occurrence is computed directly from (item, index), never from the
// previous occurrence, so regenerating index N for the same item always
// yields the same date and identifier. Months shorter than the requested
// day of month clamp to their last day: a schedule on the 31st fires on
// Feb 29 (or 28), Apr 30 and so on, and the next month returns to the 31st.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"scadenze/internal/core"
)

// DefaultMaxOccurrences bounds a single Generate call.
const DefaultMaxOccurrences = 10000

// ErrInvalidCount is returned for negative counts, negative indexes and
// counts above the generator's bound.
var ErrInvalidCount = errors.New("invalid occurrence count")

type Options struct {
	// Now supplies "today" for MonthlyOnDay items without an anchor.
	Now func() time.Time
	// MaxOccurrences caps n in Generate. Zero means DefaultMaxOccurrences.
	MaxOccurrences int
}

type Generator struct {
	now func() time.Time
	max int
}

func NewGenerator(opts Options) *Generator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = DefaultMaxOccurrences
	}
	return &Generator{now: opts.Now, max: opts.MaxOccurrences}
}

// Generate returns occurrences 0..n-1 of item in increasing date order.
func (g *Generator) Generate(item core.RecurringItem, n int) ([]core.Occurrence, error) {
	if n < 0 || n > g.max {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidCount, n, g.max)
	}
	seq, err := g.sequenceFor(item.Policy)
	if err != nil {
		return nil, err
	}
	out := make([]core.Occurrence, n)
	for i := range out {
		out[i] = occurrence(item.ID, i, seq.dateAt(i))
	}
	return out, nil
}

// At returns the single occurrence with the given index.
func (g *Generator) At(item core.RecurringItem, index int) (core.Occurrence, error) {
	if index < 0 {
		return core.Occurrence{}, fmt.Errorf("%w: index %d", ErrInvalidCount, index)
	}
	seq, err := g.sequenceFor(item.Policy)
	if err != nil {
		return core.Occurrence{}, err
	}
	return occurrence(item.ID, index, seq.dateAt(index)), nil
}

// OccurrencesInMonth returns the occurrences dated inside ym, inclusive of
// both month ends. The result may be empty.
func (g *Generator) OccurrencesInMonth(item core.RecurringItem, ym core.YearMonth) ([]core.Occurrence, error) {
	seq, err := g.sequenceFor(item.Policy)
	if err != nil {
		return nil, err
	}
	first, last := ym.First(), ym.Last()

	// Start one index before the estimate, the occurrence preceding the month.
	start := seq.lowerIndex(first) - 1
	if start < 0 {
		start = 0
	}

	var out []core.Occurrence
	for i := start; i < start+g.max; i++ {
		d := seq.dateAt(i)
		if d.After(last) {
			break
		}
		if !d.Before(first) {
			out = append(out, occurrence(item.ID, i, d))
		}
	}
	return out, nil
}

// Base returns the month MonthlyOnDay generation starts from for item, with
// the anchor taking precedence over today. Interval items report the month
// of their start date.
func (g *Generator) Base(item core.RecurringItem) (core.YearMonth, error) {
	switch p := item.Policy.(type) {
	case core.MonthlyOnDay:
		return g.monthlyBase(p), nil
	case core.Interval:
		return core.MonthOf(p.Start), nil
	default:
		return core.YearMonth{}, policyError(item.Policy)
	}
}

func (g *Generator) monthlyBase(p core.MonthlyOnDay) core.YearMonth {
	if anchor, ok := p.Anchor.Get(); ok {
		return core.MonthOf(anchor)
	}
	return core.MonthOf(core.DateOf(g.now()))
}

func (g *Generator) sequenceFor(policy core.SchedulePolicy) (sequence, error) {
	if policy == nil {
		return nil, policyError(policy)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	switch p := policy.(type) {
	case core.MonthlyOnDay:
		return monthSequence{base: g.monthlyBase(p), day: p.Day, every: 1}, nil
	case core.Interval:
		switch p.Unit {
		case core.UnitDay:
			return daySequence{start: p.Start, step: p.Every}, nil
		case core.UnitWeek:
			return daySequence{start: p.Start, step: p.Every * 7}, nil
		case core.UnitMonth:
			return monthSequence{base: core.MonthOf(p.Start), day: p.Start.Day(), every: p.Every}, nil
		}
	}
	return nil, policyError(policy)
}

func policyError(policy core.SchedulePolicy) error {
	return &core.ScheduleError{Field: "policy", Value: fmt.Sprintf("%T", policy), Reason: "unsupported schedule policy"}
}

func occurrence(itemID int64, index int, d core.Date) core.Occurrence {
	return core.Occurrence{
		ItemID: itemID,
		Index:  index,
		Date:   d,
		ID:     core.NewOccurrenceID(itemID, index),
	}
}

type sequence interface {
	dateAt(index int) core.Date
	// lowerIndex returns an index no greater than that of the first
	// occurrence on or after d.
	lowerIndex(d core.Date) int
}

const secondsPerDay = 24 * 60 * 60

// daySequence steps a fixed number of days from start.
type daySequence struct {
	start core.Date
	step  int
}

func (s daySequence) dateAt(index int) core.Date {
	return s.start.AddDays(index * s.step)
}

func (s daySequence) lowerIndex(d core.Date) int {
	// Dates are midnight UTC; whole Unix days, no Duration overflow.
	days := int((d.Unix() - s.start.Unix()) / secondsPerDay)
	if days <= 0 {
		return 0
	}
	return days / s.step
}

// monthSequence fires on day (clamped) every `every` months from base.
type monthSequence struct {
	base  core.YearMonth
	day   int
	every int
}

func (s monthSequence) dateAt(index int) core.Date {
	return core.ClampedDate(s.base.Year, s.base.Month+time.Month(index*s.every), s.day)
}

func (s monthSequence) lowerIndex(d core.Date) int {
	months := s.base.MonthsUntil(core.MonthOf(d))
	if months <= 0 {
		return 0
	}
	return months / s.every
}
