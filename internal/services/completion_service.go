package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scadenze/internal/amqp"
	"scadenze/internal/core"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/ports"
	"scadenze/internal/schedule"
)

type CompletionPublisher interface {
	PublishOccurrenceCompletion(ctx context.Context, msg *amqp.OccurrenceCompletionMessage) error
}

// CompletionService is the only writer of completion records.
type CompletionService struct {
	items     ports.ItemReader
	store     ports.CompletionWriter
	gen       *schedule.Generator
	publisher CompletionPublisher
	metrics   *metrics.Registry
}

func NewCompletionService(items ports.ItemReader, store ports.CompletionWriter, gen *schedule.Generator, publisher CompletionPublisher, m *metrics.Registry) *CompletionService {
	return &CompletionService{
		items:     items,
		store:     store,
		gen:       gen,
		publisher: publisher,
		metrics:   m,
	}
}

// SetCompleted marks or unmarks the occurrence in the record of month ym.
// A zero ym files it under the month the occurrence falls in. It returns
// the month written.
func (s *CompletionService) SetCompleted(ctx context.Context, id core.OccurrenceID, ym core.YearMonth, completed bool) (core.YearMonth, error) {
	itemID, index, err := core.ParseOccurrenceID(string(id))
	if err != nil {
		return core.YearMonth{}, err
	}
	item, err := s.items.GetRecurringItem(ctx, itemID)
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("get recurring item %d: %w", itemID, err)
	}
	occ, err := s.gen.At(item, index)
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("locate occurrence %s: %w", id, err)
	}
	if ym.IsZero() {
		ym = core.MonthOf(occ.Date)
	}

	err = s.store.MarkOccurrenceCompleted(ctx, occ.ID, ym, completed)
	s.metrics.ObserveCompletionWrite(completed, err)
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("write completion %s for %s: %w", occ.ID, ym, err)
	}

	fields := applog.NewFields().
		WithOperation(applog.OpMark).
		WithOccurrence(occ.ItemID, occ.ID.String(), occ.Date.String()).
		WithMonth(ym.String())
	slog.InfoContext(ctx, "Completion record updated", append(fields.ToSlice(), "completed", completed)...)

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping completion message")
		return ym, nil
	}
	if err := s.publisher.PublishOccurrenceCompletion(ctx, amqp.NewOccurrenceCompletionMessage(occ.ID, ym, completed)); err != nil {
		// The record is written; the notification is best effort.
		slog.ErrorContext(ctx, "Failed to publish completion message",
			"occurrence_id", occ.ID, "error", err)
	}
	return ym, nil
}

// HandlePosted applies a ledger posting event.
func (s *CompletionService) HandlePosted(ctx context.Context, msg *amqp.OccurrencePostedMessage) error {
	var ym core.YearMonth
	if msg.Month != "" {
		parsed, err := core.ParseYearMonth(msg.Month)
		if err != nil {
			return amqp.Reject(err)
		}
		ym = parsed
	}
	_, err := s.SetCompleted(ctx, msg.OccurrenceID, ym, msg.Posted)
	if err != nil && isPermanent(err) {
		return amqp.Reject(err)
	}
	return err
}

// isPermanent reports errors a redelivery cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{core.ErrInvalidOccurrenceID, core.ErrItemNotFound, core.ErrInvalidScheduleDefinition, schedule.ErrInvalidCount} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
