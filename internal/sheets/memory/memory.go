package memory

import (
	"context"
	"sync"

	"scadenze/internal/core"
	"scadenze/internal/ports"
	"scadenze/internal/sheets"
)

var _ ports.ScheduleExporter = (*Exporter)(nil)

// Exporter keeps the last export of every month in memory.
type Exporter struct {
	mu      sync.Mutex
	months  map[core.YearMonth][][]any
	exports int
}

func New() *Exporter {
	return &Exporter{months: make(map[core.YearMonth][][]any)}
}

// ExportMonth replaces the stored values of ym.
func (e *Exporter) ExportMonth(_ context.Context, ym core.YearMonth, rows []ports.ScheduleRow) error {
	values := sheets.Values(rows)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.months[ym] = values
	e.exports++
	return nil
}

// Month returns the last exported values of ym, header included.
func (e *Exporter) Month(ym core.YearMonth) ([][]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.months[ym]
	return v, ok
}

// Exports counts ExportMonth calls.
func (e *Exporter) Exports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports
}
