// Package services combines generated schedules with completion records and
// orchestrates the jobs built on top of them.
package services

import (
	"fmt"

	"github.com/samber/mo"

	"scadenze/internal/core"
	"scadenze/internal/schedule"
)

const (
	DefaultSearchDepth     = 100
	DefaultLookbackMonths  = 12
	DefaultLookaheadMonths = 12
)

// ResolverConfig bounds the next-due search. Items with long intervals
// (yearly, say) need a wider lookback or a deeper search.
type ResolverConfig struct {
	// SearchDepth is the number of occurrences examined from index 0.
	SearchDepth int
	// LookbackMonths is how far before asOf completion records are consulted
	// and overdue occurrences are carried.
	LookbackMonths int
	// LookaheadMonths is how far after asOf completion records are consulted.
	LookaheadMonths int
	// CarryOverdue keeps a past, uncompleted occurrence inside the lookback
	// window as the next due one. When false only occurrences on or after
	// asOf are candidates.
	CarryOverdue bool
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		SearchDepth:     DefaultSearchDepth,
		LookbackMonths:  DefaultLookbackMonths,
		LookaheadMonths: DefaultLookaheadMonths,
		CarryOverdue:    true,
	}
}

func (c ResolverConfig) Validate() error {
	if c.SearchDepth < 0 {
		return fmt.Errorf("search depth must not be negative: %d", c.SearchDepth)
	}
	if c.SearchDepth > schedule.DefaultMaxOccurrences {
		return fmt.Errorf("search depth %d exceeds %d", c.SearchDepth, schedule.DefaultMaxOccurrences)
	}
	if c.LookbackMonths < 0 || c.LookaheadMonths < 0 {
		return fmt.Errorf("lookback and lookahead must not be negative: %d/%d", c.LookbackMonths, c.LookaheadMonths)
	}
	return nil
}

// Due is the result of a next-due lookup.
type Due struct {
	core.Occurrence
	// Overdue is set when the occurrence is dated before asOf.
	Overdue bool
	// HorizonExceeded is set when every examined occurrence was completed or
	// out of range; Occurrence is then the last one examined.
	HorizonExceeded bool
}

// Err reports core.ErrSchedulingHorizonExceeded for best-effort results.
func (d Due) Err() error {
	if d.HorizonExceeded {
		return fmt.Errorf("%w: item %d after %d occurrences", core.ErrSchedulingHorizonExceeded, d.ItemID, d.Index+1)
	}
	return nil
}

// OccurrenceState is the externally observed state of an occurrence.
type OccurrenceState string

const (
	StateUpcoming  OccurrenceState = "upcoming"
	StateDue       OccurrenceState = "due"
	StateOverdue   OccurrenceState = "overdue"
	StateCompleted OccurrenceState = "completed"
)

type OccurrenceStatus struct {
	core.Occurrence
	Completed bool
}

// NextDueResolver answers "what is due next" for an item given the union of
// the completion records of its window. It never writes completion state.
type NextDueResolver struct {
	src schedule.Source
	cfg ResolverConfig
}

func NewNextDueResolver(src schedule.Source, cfg ResolverConfig) *NextDueResolver {
	return &NextDueResolver{src: src, cfg: cfg}
}

func (r *NextDueResolver) Config() ResolverConfig {
	return r.cfg
}

// WithSearchDepth returns a resolver sharing the source with a different
// depth.
func (r *NextDueResolver) WithSearchDepth(depth int) *NextDueResolver {
	cfg := r.cfg
	cfg.SearchDepth = depth
	return &NextDueResolver{src: r.src, cfg: cfg}
}

// Window returns the first and last month whose completion records must be
// unioned before calling NextDue for asOf.
func (r *NextDueResolver) Window(asOf core.Date) (from, to core.YearMonth) {
	m := core.MonthOf(asOf)
	return m.AddMonths(-r.cfg.LookbackMonths), m.AddMonths(r.cfg.LookaheadMonths)
}

// Months lists every month of Window(asOf) in order.
func (r *NextDueResolver) Months(asOf core.Date) []core.YearMonth {
	from, to := r.Window(asOf)
	months := make([]core.YearMonth, 0, from.MonthsUntil(to)+1)
	for m := from; !to.Before(m); m = m.AddMonths(1) {
		months = append(months, m)
	}
	return months
}

// NextDue walks the item's occurrences from index 0 and returns the first
// one that is not completed and either falls on or after asOf or, with
// CarryOverdue, is still inside the lookback window. When the search depth
// runs out the last examined occurrence is returned with HorizonExceeded
// set. A zero depth or an item without occurrences yields None.
func (r *NextDueResolver) NextDue(item core.RecurringItem, completed core.CompletionSet, asOf core.Date) (mo.Option[Due], error) {
	if r.cfg.SearchDepth <= 0 {
		return mo.None[Due](), nil
	}
	occs, err := r.src.Generate(item, r.cfg.SearchDepth)
	if err != nil {
		return mo.None[Due](), fmt.Errorf("generate occurrences for item %d: %w", item.ID, err)
	}
	if len(occs) == 0 {
		return mo.None[Due](), nil
	}

	from, _ := r.Window(asOf)
	for _, occ := range occs {
		if completed.Has(occ.ID) {
			continue
		}
		if !occ.Date.Before(asOf) {
			return mo.Some(Due{Occurrence: occ}), nil
		}
		if r.cfg.CarryOverdue && !core.MonthOf(occ.Date).Before(from) {
			return mo.Some(Due{Occurrence: occ, Overdue: true}), nil
		}
	}
	return mo.Some(Due{Occurrence: occs[len(occs)-1], HorizonExceeded: true}), nil
}

// MonthStatus lists the item's occurrences inside ym with their completion
// flag.
func (r *NextDueResolver) MonthStatus(item core.RecurringItem, ym core.YearMonth, completed core.CompletionSet) ([]OccurrenceStatus, error) {
	occs, err := r.src.OccurrencesInMonth(item, ym)
	if err != nil {
		return nil, fmt.Errorf("occurrences of item %d in %s: %w", item.ID, ym, err)
	}
	out := make([]OccurrenceStatus, len(occs))
	for i, occ := range occs {
		out[i] = OccurrenceStatus{Occurrence: occ, Completed: completed.Has(occ.ID)}
	}
	return out, nil
}

// State classifies occ relative to asOf.
func State(occ core.Occurrence, completed core.CompletionSet, asOf core.Date) OccurrenceState {
	switch {
	case completed.Has(occ.ID):
		return StateCompleted
	case occ.Date.After(asOf):
		return StateUpcoming
	case occ.Date.Equal(asOf):
		return StateDue
	default:
		return StateOverdue
	}
}
