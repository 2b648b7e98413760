package worker

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/amqp"
	"scadenze/internal/core"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
	sheetsmem "scadenze/internal/sheets/memory"
	"scadenze/internal/storage/memory"
)

func fixture() (*ScheduleWorker, *memory.Store, *sheetsmem.Exporter) {
	inactive := core.RecurringItem{
		ID:     9,
		Name:   "gym",
		Policy: core.MonthlyOnDay{Day: 5, Anchor: mo.Some(core.NewDate(2024, 1, 1))},
	}
	store := memory.New(
		core.RecurringItem{
			ID:        7,
			Name:      "rent",
			Amount:    core.Money{Cents: 95000},
			Direction: core.Expense,
			Policy:    core.MonthlyOnDay{Day: 1, Anchor: mo.Some(core.NewDate(2024, 1, 1))},
			Active:    true,
		},
		core.RecurringItem{
			ID:        3,
			Name:      "paycheck",
			Amount:    core.Money{Cents: 250000},
			Direction: core.Income,
			Policy:    core.Interval{Start: core.NewDate(2024, 1, 5), Every: 2, Unit: core.UnitWeek},
			Active:    true,
		},
		inactive,
	)
	gen := schedule.NewGenerator(schedule.Options{})
	resolver := services.NewNextDueResolver(schedule.ActiveOnly(gen), services.DefaultResolverConfig())
	svc := services.NewCompletionService(store, store, gen, nil, nil)
	exporter := sheetsmem.New()
	return NewScheduleWorker(store, store, resolver, gen, exporter, svc), store, exporter
}

func TestRows(t *testing.T) {
	w, store, _ := fixture()
	ctx := context.Background()
	feb := core.YearMonth{Year: 2024, Month: time.February}
	require.NoError(t, store.MarkOccurrenceCompleted(ctx, "3_2", feb, true))

	rows, err := w.Rows(ctx, feb)
	require.NoError(t, err)

	got := map[core.OccurrenceID]bool{}
	for _, r := range rows {
		got[r.Occurrence.ID] = r.Completed
	}
	// Rent 7_1 (Feb 1), paychecks 3_2 (Feb 2) and 3_3 (Feb 16); the gym is inactive.
	assert.Equal(t, map[core.OccurrenceID]bool{"7_1": false, "3_2": true, "3_3": false}, got)
	for _, r := range rows {
		assert.NotEmpty(t, r.Rule)
	}
}

func TestHandlePostedThenCompletionExports(t *testing.T) {
	w, store, exporter := fixture()
	ctx := context.Background()

	require.NoError(t, w.HandlePostedMessage(ctx, amqp.NewOccurrencePostedMessage("7_2", "", true)))
	mar := core.YearMonth{Year: 2024, Month: time.March}
	set, err := store.FetchCompletedOccurrenceIDs(ctx, mar)
	require.NoError(t, err)
	assert.True(t, set.Has("7_2"))

	require.NoError(t, w.HandleCompletionMessage(ctx, amqp.NewOccurrenceCompletionMessage("7_2", mar, true)))
	values, ok := exporter.Month(mar)
	require.True(t, ok)

	var rent []any
	for _, v := range values[1:] {
		if v[1] == "7_2" {
			rent = v
		}
	}
	require.NotNil(t, rent)
	assert.Equal(t, "done", rent[6])
}

func TestHandlePostedMessage_UnknownItemIsRejected(t *testing.T) {
	w, _, _ := fixture()
	err := w.HandlePostedMessage(context.Background(), amqp.NewOccurrencePostedMessage("42_0", "", true))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrItemNotFound)
	assert.Contains(t, err.Error(), "rejected")
}

func TestHandleCompletionMessage_BadMonth(t *testing.T) {
	w, _, exporter := fixture()
	msg := &amqp.OccurrenceCompletionMessage{OccurrenceID: "7_2", Month: "soon"}
	err := w.HandleCompletionMessage(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrInvalidYearMonth)
	assert.Equal(t, 0, exporter.Exports())
}

func TestStartupExport(t *testing.T) {
	w, _, exporter := fixture()
	require.NoError(t, w.StartupExport(context.Background(), core.NewDate(2024, 4, 20)))
	_, ok := exporter.Month(core.YearMonth{Year: 2024, Month: time.April})
	assert.True(t, ok)
}

func TestExportMonth_NoExporter(t *testing.T) {
	w, _, _ := fixture()
	w.exporter = nil
	assert.NoError(t, w.ExportMonth(context.Background(), core.YearMonth{Year: 2024, Month: time.April}))
}
