package worker

import (
	"context"
	"fmt"
	"log/slog"

	"scadenze/internal/amqp"
	"scadenze/internal/core"
	"scadenze/internal/ports"
	"scadenze/internal/services"
)

// RuleRenderer renders an item's policy as an RRULE value.
type RuleRenderer interface {
	Rule(item core.RecurringItem) (string, error)
}

// ScheduleWorker applies ledger postings to the completion records and keeps
// the exported monthly schedule in step with them.
type ScheduleWorker struct {
	items       ports.ItemReader
	completions ports.CompletionReader
	resolver    *services.NextDueResolver
	rules       RuleRenderer
	exporter    ports.ScheduleExporter
	service     *services.CompletionService
}

func NewScheduleWorker(
	items ports.ItemReader,
	completions ports.CompletionReader,
	resolver *services.NextDueResolver,
	rules RuleRenderer,
	exporter ports.ScheduleExporter,
	service *services.CompletionService,
) *ScheduleWorker {
	return &ScheduleWorker{
		items:       items,
		completions: completions,
		resolver:    resolver,
		rules:       rules,
		exporter:    exporter,
		service:     service,
	}
}

// HandlePostedMessage marks or unmarks the posted occurrence.
func (w *ScheduleWorker) HandlePostedMessage(ctx context.Context, msg *amqp.OccurrencePostedMessage) error {
	slog.InfoContext(ctx, "Processing posted message",
		"message_id", msg.MessageID,
		"occurrence_id", msg.OccurrenceID,
		"posted", msg.Posted)

	if err := w.service.HandlePosted(ctx, msg); err != nil {
		return fmt.Errorf("apply posting %s: %w", msg.OccurrenceID, err)
	}
	return nil
}

// HandleCompletionMessage re-exports the month whose record changed.
func (w *ScheduleWorker) HandleCompletionMessage(ctx context.Context, msg *amqp.OccurrenceCompletionMessage) error {
	ym, err := core.ParseYearMonth(msg.Month)
	if err != nil {
		return amqp.Reject(err)
	}
	slog.InfoContext(ctx, "Processing completion message",
		"message_id", msg.MessageID,
		"occurrence_id", msg.OccurrenceID,
		"month", msg.Month)
	return w.ExportMonth(ctx, ym)
}

// ExportMonth writes every active item's occurrences in ym, with their
// completion flags from ym's record.
func (w *ScheduleWorker) ExportMonth(ctx context.Context, ym core.YearMonth) error {
	if w.exporter == nil {
		slog.WarnContext(ctx, "No schedule exporter configured, skipping export", "month", ym.String())
		return nil
	}
	rows, err := w.Rows(ctx, ym)
	if err != nil {
		return err
	}
	if err := w.exporter.ExportMonth(ctx, ym, rows); err != nil {
		return fmt.Errorf("export %s: %w", ym, err)
	}
	slog.InfoContext(ctx, "Successfully exported month", "month", ym.String(), "rows", len(rows))
	return nil
}

// Rows builds the export lines of ym. Items whose policy cannot be
// evaluated are logged and left out.
func (w *ScheduleWorker) Rows(ctx context.Context, ym core.YearMonth) ([]ports.ScheduleRow, error) {
	items, err := w.items.ListRecurringItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recurring items: %w", err)
	}
	completed, err := w.completions.FetchCompletedOccurrenceIDs(ctx, ym)
	if err != nil {
		return nil, fmt.Errorf("fetch completions for %s: %w", ym, err)
	}

	var rows []ports.ScheduleRow
	for _, item := range items {
		statuses, err := w.resolver.MonthStatus(item, ym, completed)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping item in export", "item_id", item.ID, "name", item.Name, "error", err)
			continue
		}
		if len(statuses) == 0 {
			continue
		}
		rule, err := w.rules.Rule(item)
		if err != nil {
			slog.WarnContext(ctx, "Failed to render rule", "item_id", item.ID, "error", err)
		}
		for _, st := range statuses {
			rows = append(rows, ports.ScheduleRow{
				Occurrence: st.Occurrence,
				Name:       item.Name,
				Amount:     item.Amount,
				Direction:  item.Direction,
				Rule:       rule,
				Completed:  st.Completed,
			})
		}
	}
	return rows, nil
}

// StartupExport exports the month containing asOf, recovering from
// completion messages missed while the worker was down.
func (w *ScheduleWorker) StartupExport(ctx context.Context, asOf core.Date) error {
	ym := core.MonthOf(asOf)
	if err := w.ExportMonth(ctx, ym); err != nil {
		return fmt.Errorf("startup export: %w", err)
	}
	return nil
}
