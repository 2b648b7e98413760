package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	Income  Direction = "Income"
	Expense Direction = "Expense"
)

const dateLayout = "2006-01-02"

type (
	Direction string

	// Date is a calendar date. The embedded time is always midnight UTC.
	Date struct {
		time.Time
	}

	// YearMonth identifies a calendar month. Its string form ("2024-03") is
	// the key completion records are stored under.
	YearMonth struct {
		Year  int
		Month time.Month
	}

	RecurringItem struct {
		ID        int64
		Name      string
		Amount    Money
		Direction Direction
		Policy    SchedulePolicy
		Active    bool
		Notes     string
	}

	// OccurrenceID is "{itemId}_{sequenceIndex}".
	OccurrenceID string

	Occurrence struct {
		ItemID int64
		Index  int
		Date   Date
		ID     OccurrenceID
	}

	// CompletionSet holds the occurrence identifiers marked fulfilled.
	// A nil set is a valid empty set for reads.
	CompletionSet map[OccurrenceID]struct{}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date, keeping t's own year/month/day.
func DateOf(t time.Time) Date {
	return Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding with the date-only form.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("parse date %s: %w", b, err)
	}
	return d.UnmarshalText([]byte(s))
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds year/month/day, moving day back to the last day of the
// month when the month is shorter. Month overflow rolls the year.
func ClampedDate(year int, month time.Month, day int) Date {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return Date{Time: first.AddDate(0, 0, day-1)}
}

// MonthOf returns the month d falls in.
func MonthOf(d Date) YearMonth {
	return YearMonth{Year: d.Time.Year(), Month: d.Time.Month()}
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: %q", ErrInvalidYearMonth, s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// AddMonths returns the month n months later (n may be negative).
func (ym YearMonth) AddMonths(n int) YearMonth {
	t := time.Date(ym.Year, ym.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// First returns the first day of the month.
func (ym YearMonth) First() Date {
	return NewDate(ym.Year, int(ym.Month), 1)
}

// Last returns the last day of the month.
func (ym YearMonth) Last() Date {
	return NewDate(ym.Year, int(ym.Month), DaysIn(ym.Year, ym.Month))
}

func (ym YearMonth) Contains(d Date) bool {
	return !d.Before(ym.First()) && !d.After(ym.Last())
}

func (ym YearMonth) Before(o YearMonth) bool {
	return ym.index() < o.index()
}

// MonthsUntil returns the number of months from ym to o (negative when o is earlier).
func (ym YearMonth) MonthsUntil(o YearMonth) int {
	return o.index() - ym.index()
}

func (ym YearMonth) index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

func (d Direction) Validate() error {
	switch d {
	case Income, Expense:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, string(d))
	}
}

// ParseDirection accepts the stored forms "Income"/"Expense" case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

func (ri RecurringItem) Validate() error {
	if len(strings.TrimSpace(ri.Name)) == 0 {
		return ErrEmptyName
	}
	if err := ri.Direction.Validate(); err != nil {
		return err
	}
	if ri.Policy == nil {
		return &ScheduleError{Field: "policy", Reason: "missing schedule policy"}
	}
	return ri.Policy.Validate()
}

// NewOccurrenceID builds the identifier of occurrence index of item itemID.
func NewOccurrenceID(itemID int64, index int) OccurrenceID {
	return OccurrenceID(strconv.FormatInt(itemID, 10) + "_" + strconv.Itoa(index))
}

// ParseOccurrenceID splits an identifier back into item ID and index.
func ParseOccurrenceID(s string) (int64, int, error) {
	sep := strings.LastIndexByte(s, '_')
	if sep <= 0 || sep == len(s)-1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidOccurrenceID, s)
	}
	itemID, err := strconv.ParseInt(s[:sep], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidOccurrenceID, s)
	}
	index, err := strconv.Atoi(s[sep+1:])
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidOccurrenceID, s)
	}
	return itemID, index, nil
}

func (id OccurrenceID) String() string { return string(id) }

// NewCompletionSet returns a set containing ids.
func NewCompletionSet(ids ...OccurrenceID) CompletionSet {
	s := make(CompletionSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s CompletionSet) Has(id OccurrenceID) bool {
	_, ok := s[id]
	return ok
}

func (s CompletionSet) Add(id OccurrenceID) {
	s[id] = struct{}{}
}

func (s CompletionSet) Len() int {
	return len(s)
}

// Union returns a new set with the members of s and all others.
func (s CompletionSet) Union(others ...CompletionSet) CompletionSet {
	n := len(s)
	for _, o := range others {
		n += len(o)
	}
	out := make(CompletionSet, n)
	for id := range s {
		out[id] = struct{}{}
	}
	for _, o := range others {
		for id := range o {
			out[id] = struct{}{}
		}
	}
	return out
}

// IDs returns the members sorted, for stable output.
func (s CompletionSet) IDs() []OccurrenceID {
	ids := make([]OccurrenceID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
