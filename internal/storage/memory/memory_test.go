package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/core"
)

const seedYAML = `
items:
  - id: 7
    name: Affitto
    amount: "950.00"
    type: Expense
    repeat_type: monthly_date
    day_of_month: 1
    anchor_date: 2024-01-01
  - id: 3
    name: Stipendio
    amount: "1250,50"
    type: Income
    repeat_type: interval
    start_date: 2024-01-05
    interval_value: 2
    interval_unit: week
    active: false
completions:
  "2024-01": ["7_0"]
  "2024-02": ["7_1", "3_3"]
`

func TestNewFromYAML(t *testing.T) {
	s, err := NewFromYAML([]byte(seedYAML))
	require.NoError(t, err)
	ctx := context.Background()

	items, err := s.ListRecurringItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.False(t, items[0].Active)
	assert.Equal(t, int64(125050), items[0].Amount.Cents)
	assert.Equal(t, core.KindMonthlyOnDay, items[1].Policy.Kind())

	feb, err := s.FetchCompletedOccurrenceIDs(ctx, core.YearMonth{Year: 2024, Month: time.February})
	require.NoError(t, err)
	assert.Equal(t, []core.OccurrenceID{"3_3", "7_1"}, feb.IDs())
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	s, err := NewFromFile(path)
	require.NoError(t, err)
	_, err = s.GetRecurringItem(context.Background(), 7)
	assert.NoError(t, err)

	_, err = NewFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty, err := NewFromFile("")
	require.NoError(t, err)
	items, err := empty.ListRecurringItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewFromYAML_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"bad yaml":      "items: [",
		"bad month":     "completions:\n  \"2024-13\": [\"7_0\"]\n",
		"bad id":        "completions:\n  \"2024-01\": [\"seven\"]\n",
		"bad kind":      "items:\n  - {id: 1, name: x, type: Expense, repeat_type: yearly}\n",
		"duplicate ids": "items:\n  - {id: 1, name: x, type: Expense, day_of_month: 1}\n  - {id: 1, name: y, type: Expense, day_of_month: 2}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewFromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMarkOccurrenceCompleted(t *testing.T) {
	s := New()
	ctx := context.Background()
	march := core.YearMonth{Year: 2024, Month: time.March}

	require.NoError(t, s.MarkOccurrenceCompleted(ctx, "7_2", march, false))
	require.NoError(t, s.MarkOccurrenceCompleted(ctx, "7_2", march, true))
	require.NoError(t, s.MarkOccurrenceCompleted(ctx, "7_2", march, true))

	set, err := s.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.True(t, set.Has("7_2"))

	set.Add("9_9")
	again, err := s.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.False(t, again.Has("9_9"), "returned sets are copies")

	require.NoError(t, s.MarkOccurrenceCompleted(ctx, "7_2", march, false))
	set, err = s.FetchCompletedOccurrenceIDs(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestUnanchoredItemsGetStableAnchor(t *testing.T) {
	s, err := NewFromYAML([]byte(`
items:
  - id: 7
    name: Affitto
    amount: "950.00"
    type: Expense
    day_of_month: 1
    created_at: 2024-03-02
`))
	require.NoError(t, err)
	item, err := s.GetRecurringItem(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 3, 2), item.Policy.(core.MonthlyOnDay).Anchor.MustGet())

	s = New(core.RecurringItem{ID: 4, Name: "gym", Direction: core.Expense, Policy: core.MonthlyOnDay{Day: 10}})
	item, err = s.GetRecurringItem(context.Background(), 4)
	require.NoError(t, err)
	anchor, ok := item.Policy.(core.MonthlyOnDay).Anchor.Get()
	require.True(t, ok)
	assert.Equal(t, core.MonthOf(core.DateOf(time.Now())), core.MonthOf(anchor))
}
