package services

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/core"
	"scadenze/internal/schedule"
)

func monthlyItem(id int64, day int, anchor core.Date) core.RecurringItem {
	return core.RecurringItem{
		ID:        id,
		Name:      "rent",
		Amount:    core.Money{Cents: 95000},
		Direction: core.Expense,
		Policy:    core.MonthlyOnDay{Day: day, Anchor: mo.Some(anchor)},
		Active:    true,
	}
}

func newResolver(cfg ResolverConfig) *NextDueResolver {
	return NewNextDueResolver(schedule.ActiveOnly(schedule.NewGenerator(schedule.Options{})), cfg)
}

// mustDue takes NextDue's results directly: mustDue(t)(r.NextDue(...)).
func mustDue(t *testing.T) func(mo.Option[Due], error) Due {
	return func(opt mo.Option[Due], err error) Due {
		t.Helper()
		require.NoError(t, err)
		due, ok := opt.Get()
		require.True(t, ok, "expected a next due occurrence")
		return due
	}
}

func TestNextDue_OverdueOccurrenceStaysNext(t *testing.T) {
	r := newResolver(DefaultResolverConfig())
	item := monthlyItem(7, 1, core.NewDate(2024, 1, 1))
	completed := core.NewCompletionSet("7_0", "7_1")

	due := mustDue(t)(r.NextDue(item, completed, core.NewDate(2024, 3, 15)))
	assert.Equal(t, core.OccurrenceID("7_2"), due.ID)
	assert.Equal(t, "2024-03-01", due.Date.String())
	assert.True(t, due.Overdue)
	assert.False(t, due.HorizonExceeded)
	assert.NoError(t, due.Err())
}

func TestNextDue_WithoutCarryOverdueSkipsPast(t *testing.T) {
	cfg := DefaultResolverConfig()
	cfg.CarryOverdue = false
	r := newResolver(cfg)
	item := monthlyItem(7, 1, core.NewDate(2024, 1, 1))

	due := mustDue(t)(r.NextDue(item, core.NewCompletionSet("7_0", "7_1"), core.NewDate(2024, 3, 15)))
	assert.Equal(t, core.OccurrenceID("7_3"), due.ID)
	assert.Equal(t, "2024-04-01", due.Date.String())
	assert.False(t, due.Overdue)
}

func TestNextDue_SkipsCompleted(t *testing.T) {
	r := newResolver(DefaultResolverConfig())
	item := monthlyItem(7, 1, core.NewDate(2024, 1, 1))
	asOf := core.NewDate(2024, 1, 1)

	due := mustDue(t)(r.NextDue(item, nil, asOf))
	assert.Equal(t, core.OccurrenceID("7_0"), due.ID, "an occurrence on asOf is due, not past")
	assert.False(t, due.Overdue)

	due = mustDue(t)(r.NextDue(item, core.NewCompletionSet("7_0", "7_1", "7_2"), asOf))
	assert.Equal(t, core.OccurrenceID("7_3"), due.ID)
	assert.Equal(t, "2024-04-01", due.Date.String())
}

func TestNextDue_LookbackWindow(t *testing.T) {
	cfg := DefaultResolverConfig()
	cfg.LookbackMonths = 1
	r := newResolver(cfg)
	item := monthlyItem(7, 10, core.NewDate(2024, 1, 1))

	// January is outside the window, February inside.
	due := mustDue(t)(r.NextDue(item, nil, core.NewDate(2024, 3, 15)))
	assert.Equal(t, "2024-02-10", due.Date.String())
	assert.True(t, due.Overdue)
}

func TestNextDue_SearchDepthBound(t *testing.T) {
	cfg := DefaultResolverConfig()
	cfg.SearchDepth = 3
	r := newResolver(cfg)
	item := monthlyItem(7, 1, core.NewDate(2024, 1, 1))
	// Indexes 0..4 done; the next uncompleted one is index 5.
	completed := core.NewCompletionSet("7_0", "7_1", "7_2", "7_3", "7_4")

	due := mustDue(t)(r.NextDue(item, completed, core.NewDate(2024, 1, 1)))
	assert.True(t, due.HorizonExceeded)
	assert.Equal(t, core.OccurrenceID("7_2"), due.ID, "the last examined occurrence is the fallback")
	assert.ErrorIs(t, due.Err(), core.ErrSchedulingHorizonExceeded)

	deeper := mustDue(t)(r.WithSearchDepth(10).NextDue(item, completed, core.NewDate(2024, 1, 1)))
	assert.False(t, deeper.HorizonExceeded)
	assert.Equal(t, core.OccurrenceID("7_5"), deeper.ID)
}

func TestNextDue_EmptyResults(t *testing.T) {
	item := monthlyItem(7, 1, core.NewDate(2024, 1, 1))

	cfg := DefaultResolverConfig()
	cfg.SearchDepth = 0
	opt, err := newResolver(cfg).NextDue(item, nil, core.NewDate(2024, 1, 1))
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())

	inactive := item
	inactive.Active = false
	opt, err = newResolver(DefaultResolverConfig()).NextDue(inactive, nil, core.NewDate(2024, 1, 1))
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())
}

func TestNextDue_InvalidDefinition(t *testing.T) {
	item := monthlyItem(7, 0, core.NewDate(2024, 1, 1))
	_, err := newResolver(DefaultResolverConfig()).NextDue(item, nil, core.NewDate(2024, 1, 1))
	assert.ErrorIs(t, err, core.ErrInvalidScheduleDefinition)
}

func TestNextDue_Interval(t *testing.T) {
	r := newResolver(DefaultResolverConfig())
	item := core.RecurringItem{
		ID:     3,
		Name:   "paycheck",
		Policy: core.Interval{Start: core.NewDate(2024, 1, 5), Every: 2, Unit: core.UnitWeek},
		Active: true,
	}
	completed := core.NewCompletionSet("3_0", "3_1", "3_2")

	due := mustDue(t)(r.NextDue(item, completed, core.NewDate(2024, 2, 10)))
	assert.Equal(t, core.OccurrenceID("3_3"), due.ID)
	assert.Equal(t, "2024-02-16", due.Date.String())
	assert.False(t, due.Overdue)
}

func TestNextDue_DoesNotMutateCompletions(t *testing.T) {
	r := newResolver(DefaultResolverConfig())
	completed := core.NewCompletionSet("7_0")
	_, err := r.NextDue(monthlyItem(7, 1, core.NewDate(2024, 1, 1)), completed, core.NewDate(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, []core.OccurrenceID{"7_0"}, completed.IDs())
}

func TestWindowAndMonths(t *testing.T) {
	r := newResolver(ResolverConfig{SearchDepth: 10, LookbackMonths: 2, LookaheadMonths: 1})
	from, to := r.Window(core.NewDate(2024, 1, 20))
	assert.Equal(t, "2023-11", from.String())
	assert.Equal(t, "2024-02", to.String())

	months := r.Months(core.NewDate(2024, 1, 20))
	require.Len(t, months, 4)
	assert.Equal(t, []string{"2023-11", "2023-12", "2024-01", "2024-02"},
		[]string{months[0].String(), months[1].String(), months[2].String(), months[3].String()})
}

func TestMonthStatus(t *testing.T) {
	r := newResolver(DefaultResolverConfig())
	item := core.RecurringItem{
		ID:     3,
		Policy: core.Interval{Start: core.NewDate(2024, 1, 5), Every: 2, Unit: core.UnitWeek},
		Active: true,
	}
	statuses, err := r.MonthStatus(item, core.YearMonth{Year: 2024, Month: time.February}, core.NewCompletionSet("3_2"))
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, core.OccurrenceID("3_2"), statuses[0].ID)
	assert.True(t, statuses[0].Completed)
	assert.Equal(t, core.OccurrenceID("3_3"), statuses[1].ID)
	assert.False(t, statuses[1].Completed)
}

func TestState(t *testing.T) {
	occ := core.Occurrence{ItemID: 7, Index: 2, Date: core.NewDate(2024, 3, 1), ID: "7_2"}
	assert.Equal(t, StateUpcoming, State(occ, nil, core.NewDate(2024, 2, 28)))
	assert.Equal(t, StateDue, State(occ, nil, core.NewDate(2024, 3, 1)))
	assert.Equal(t, StateOverdue, State(occ, nil, core.NewDate(2024, 3, 15)))
	assert.Equal(t, StateCompleted, State(occ, core.NewCompletionSet("7_2"), core.NewDate(2024, 3, 15)))
}

func TestResolverConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultResolverConfig().Validate())
	assert.Error(t, ResolverConfig{SearchDepth: -1}.Validate())
	assert.Error(t, ResolverConfig{SearchDepth: schedule.DefaultMaxOccurrences + 1}.Validate())
	assert.Error(t, ResolverConfig{SearchDepth: 1, LookbackMonths: -1}.Validate())
}
