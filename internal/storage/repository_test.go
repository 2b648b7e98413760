package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/core"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "scadenze.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestMigrations(t *testing.T) {
	_, path := newTestRepo(t)

	version, dirty, err := MigrationVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, RunMigrations(path))
}

func TestRecurringItems(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rent := core.RecurringItem{
		ID:        7,
		Name:      "Affitto",
		Amount:    core.Money{Cents: 95000},
		Direction: core.Expense,
		Policy:    core.MonthlyOnDay{Day: 1, Anchor: mo.Some(core.NewDate(2024, 1, 1))},
		Active:    true,
	}
	salary := core.RecurringItem{
		Name:      "Stipendio",
		Amount:    core.Money{Cents: 250000},
		Direction: core.Income,
		Policy:    core.Interval{Start: core.NewDate(2024, 1, 5), Every: 2, Unit: core.UnitWeek},
		Active:    false,
		Notes:     "biweekly",
	}

	id, err := repo.InsertRecurringItem(ctx, rent)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	salaryID, err := repo.InsertRecurringItem(ctx, salary)
	require.NoError(t, err)
	assert.Equal(t, int64(8), salaryID)

	items, err := repo.ListRecurringItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, rent, items[0])

	got, err := repo.GetRecurringItem(ctx, salaryID)
	require.NoError(t, err)
	salary.ID = salaryID
	assert.Equal(t, salary, got)

	_, err = repo.GetRecurringItem(ctx, 999)
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestRecurringItems_InvalidPolicyStillLoads(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.InsertRecurringItem(ctx, core.RecurringItem{
		Name:      "Broken",
		Amount:    core.Money{Cents: 100},
		Direction: core.Expense,
		Policy:    core.Interval{Start: core.NewDate(2024, 1, 1), Every: 0, Unit: core.UnitDay},
		Active:    true,
	})
	require.NoError(t, err)

	item, err := repo.GetRecurringItem(ctx, id)
	require.NoError(t, err)
	assert.ErrorIs(t, item.Policy.Validate(), core.ErrInvalidScheduleDefinition)
}

func TestRecurringItems_UnanchoredUsesCreatedAt(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.InsertRecurringItem(ctx, core.RecurringItem{
		Name:      "Palestra",
		Amount:    core.Money{Cents: 4000},
		Direction: core.Expense,
		Policy:    core.MonthlyOnDay{Day: 15},
		Active:    true,
	})
	require.NoError(t, err)

	first, err := repo.GetRecurringItem(ctx, id)
	require.NoError(t, err)
	anchor, ok := first.Policy.(core.MonthlyOnDay).Anchor.Get()
	require.True(t, ok, "created_at anchors the item")
	assert.Equal(t, core.MonthOf(core.DateOf(time.Now().UTC())), core.MonthOf(anchor))

	again, err := repo.GetRecurringItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRecurringChecks(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	march := core.YearMonth{Year: 2024, Month: time.March}
	april := march.AddMonths(1)

	empty, err := repo.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	require.NoError(t, repo.MarkOccurrenceCompleted(ctx, "7_2", march, true))
	require.NoError(t, repo.MarkOccurrenceCompleted(ctx, "7_2", march, true))
	require.NoError(t, repo.MarkOccurrenceCompleted(ctx, "3_4", march, true))
	require.NoError(t, repo.MarkOccurrenceCompleted(ctx, "7_3", april, true))

	set, err := repo.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, []core.OccurrenceID{"3_4", "7_2"}, set.IDs())

	require.NoError(t, repo.MarkOccurrenceCompleted(ctx, "7_2", march, false))
	set, err = repo.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, []core.OccurrenceID{"3_4"}, set.IDs())

	var rows int
	require.NoError(t, repo.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recurring_checks WHERE occurrence_id = '7_2'`).Scan(&rows))
	assert.Equal(t, 1, rows, "upsert keeps a single row per occurrence and month")
}
