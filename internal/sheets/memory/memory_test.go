package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scadenze/internal/core"
	"scadenze/internal/ports"
)

func TestExporterReplacesMonth(t *testing.T) {
	e := New()
	ym := core.YearMonth{Year: 2024, Month: time.March}
	ctx := context.Background()

	_, ok := e.Month(ym)
	assert.False(t, ok)

	first := []ports.ScheduleRow{
		{Occurrence: core.Occurrence{ID: "7_2", Date: core.NewDate(2024, 3, 1)}, Name: "rent"},
		{Occurrence: core.Occurrence{ID: "3_4", Date: core.NewDate(2024, 3, 1)}, Name: "paycheck"},
	}
	require.NoError(t, e.ExportMonth(ctx, ym, first))
	require.NoError(t, e.ExportMonth(ctx, ym, first[:1]))

	values, ok := e.Month(ym)
	require.True(t, ok)
	assert.Len(t, values, 2, "header plus the single remaining row")
	assert.Equal(t, 2, e.Exports())
}
