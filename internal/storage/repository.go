// Package storage persists recurring items and per-month completion
// records in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"scadenze/internal/core"
	"scadenze/internal/ports"

	_ "modernc.org/sqlite"
)

var _ ports.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const itemColumns = `id, name, amount_cents, type, repeat_type, day_of_month, anchor_date,
	start_date, interval_value, interval_unit, is_active, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ItemRecord, error) {
	var (
		rec                 ItemRecord
		day, every          sql.NullInt64
		anchor, start, unit sql.NullString
		active              bool
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.AmountCents, &rec.Type, &rec.RepeatType,
		&day, &anchor, &start, &every, &unit, &active, &rec.Notes, &rec.CreatedAt)
	if err != nil {
		return ItemRecord{}, err
	}
	rec.DayOfMonth = int(day.Int64)
	rec.AnchorDate = anchor.String
	rec.StartDate = start.String
	rec.Every = int(every.Int64)
	rec.Unit = unit.String
	rec.Active = &active
	return rec, nil
}

// ListRecurringItems returns every item ordered by ID. Rows that cannot be
// converted are logged and skipped.
func (r *SQLiteRepository) ListRecurringItems(ctx context.Context) ([]core.RecurringItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM recurring_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query recurring items: %w", err)
	}
	defer rows.Close()

	var items []core.RecurringItem
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring item: %w", err)
		}
		item, err := rec.ToItem()
		if err != nil {
			slog.WarnContext(ctx, "Skipping malformed recurring item", "id", rec.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recurring items: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) GetRecurringItem(ctx context.Context, id int64) (core.RecurringItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM recurring_items WHERE id = ?`, id)
	rec, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringItem{}, fmt.Errorf("%w: %d", core.ErrItemNotFound, id)
	}
	if err != nil {
		return core.RecurringItem{}, fmt.Errorf("get recurring item %d: %w", id, err)
	}
	return rec.ToItem()
}

// FetchCompletedOccurrenceIDs implements ports.CompletionReader.
func (r *SQLiteRepository) FetchCompletedOccurrenceIDs(ctx context.Context, ym core.YearMonth) (core.CompletionSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT occurrence_id FROM recurring_checks WHERE month = ? AND is_checked = 1`, ym.String())
	if err != nil {
		return nil, fmt.Errorf("query recurring checks for %s: %w", ym, err)
	}
	defer rows.Close()

	set := make(core.CompletionSet)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recurring check: %w", err)
		}
		set.Add(core.OccurrenceID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recurring checks: %w", err)
	}
	return set, nil
}

// MarkOccurrenceCompleted implements ports.CompletionWriter. Unmarking keeps
// the row with is_checked = 0.
func (r *SQLiteRepository) MarkOccurrenceCompleted(ctx context.Context, id core.OccurrenceID, ym core.YearMonth, completed bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_checks (occurrence_id, month, is_checked)
		VALUES (?, ?, ?)
		ON CONFLICT (occurrence_id, month) DO UPDATE SET
			is_checked = excluded.is_checked,
			updated_at = datetime('now')`,
		string(id), ym.String(), completed)
	if err != nil {
		return fmt.Errorf("upsert recurring check %s/%s: %w", id, ym, err)
	}

	slog.DebugContext(ctx, "Recurring check saved",
		"occurrence_id", id,
		"month", ym.String(),
		"checked", completed)
	return nil
}

// InsertRecurringItem stores item and returns its ID; a zero item.ID lets
// SQLite assign one. Definitions are otherwise read-only here, this exists
// for seeding and tests. The policy is stored as given, unvalidated.
func (r *SQLiteRepository) InsertRecurringItem(ctx context.Context, item core.RecurringItem) (int64, error) {
	rec := RecordFromItem(item)
	var id any
	if rec.ID > 0 {
		id = rec.ID
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_items (id, name, amount_cents, type, repeat_type, day_of_month,
			anchor_date, start_date, interval_value, interval_unit, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Name, rec.AmountCents, rec.Type, rec.RepeatType,
		nullInt(rec.DayOfMonth), nullString(rec.AnchorDate), nullString(rec.StartDate),
		nullInt(rec.Every), nullString(rec.Unit), item.Active, rec.Notes)
	if err != nil {
		return 0, fmt.Errorf("insert recurring item %q: %w", rec.Name, err)
	}
	return res.LastInsertId()
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
