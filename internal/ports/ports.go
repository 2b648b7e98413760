// Package ports declares the external collaborators of the scheduler: the
// per-month completion store, the read-only source of recurring items and
// the monthly schedule export.
package ports

import (
	"context"

	"scadenze/internal/core"
)

// CompletionReader returns the occurrence IDs recorded as completed under
// month ym. A month with no record yields an empty set, not an error.
type CompletionReader interface {
	FetchCompletedOccurrenceIDs(ctx context.Context, ym core.YearMonth) (core.CompletionSet, error)
}

// CompletionWriter records or clears the completion of one occurrence in the
// record of month ym. Writes are idempotent.
type CompletionWriter interface {
	MarkOccurrenceCompleted(ctx context.Context, id core.OccurrenceID, ym core.YearMonth, completed bool) error
}

type CompletionStore interface {
	CompletionReader
	CompletionWriter
}

// ItemReader lists recurring definitions. GetRecurringItem returns an error
// wrapping core.ErrItemNotFound for unknown IDs.
type ItemReader interface {
	ListRecurringItems(ctx context.Context) ([]core.RecurringItem, error)
	GetRecurringItem(ctx context.Context, id int64) (core.RecurringItem, error)
}

// Store is everything a backend provides.
type Store interface {
	ItemReader
	CompletionStore
	Close() error
}

// ScheduleRow is one occurrence line of an exported month.
type ScheduleRow struct {
	Occurrence core.Occurrence
	Name       string
	Amount     core.Money
	Direction  core.Direction
	Rule       string
	Completed  bool
}

type ScheduleExporter interface {
	ExportMonth(ctx context.Context, ym core.YearMonth, rows []ScheduleRow) error
}
