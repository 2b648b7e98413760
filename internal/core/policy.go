package core

import (
	"fmt"
	"strings"

	"github.com/samber/mo"
)

const (
	KindMonthlyOnDay PolicyKind = "monthly_date"
	KindInterval     PolicyKind = "interval"
)

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
)

type (
	// PolicyKind is the stored discriminator of a schedule policy.
	PolicyKind string

	IntervalUnit string

	// SchedulePolicy is implemented only by MonthlyOnDay and Interval.
	SchedulePolicy interface {
		Kind() PolicyKind
		Validate() error
		schedulePolicy()
	}

	// MonthlyOnDay fires once per calendar month on Day. Generation starts in
	// the anchor's month, or in the current month when no anchor is set.
	MonthlyOnDay struct {
		Day    int
		Anchor mo.Option[Date]
	}

	// Interval fires every Every units starting at Start.
	Interval struct {
		Start Date
		Every int
		Unit  IntervalUnit
	}
)

func (MonthlyOnDay) schedulePolicy() {}
func (Interval) schedulePolicy()     {}

func (MonthlyOnDay) Kind() PolicyKind { return KindMonthlyOnDay }
func (Interval) Kind() PolicyKind     { return KindInterval }

func (p MonthlyOnDay) Validate() error {
	if p.Day < 1 || p.Day > 31 {
		return &ScheduleError{Field: "day_of_month", Value: p.Day, Reason: "must be between 1 and 31"}
	}
	if anchor, ok := p.Anchor.Get(); ok && anchor.IsZero() {
		return &ScheduleError{Field: "anchor_date", Reason: "anchor present but zero"}
	}
	return nil
}

func (p Interval) Validate() error {
	if p.Start.IsZero() {
		return &ScheduleError{Field: "start_date", Reason: "start date is required"}
	}
	if p.Every <= 0 {
		return &ScheduleError{Field: "interval_value", Value: p.Every, Reason: "must be positive"}
	}
	return p.Unit.Validate()
}

func (p MonthlyOnDay) String() string {
	if anchor, ok := p.Anchor.Get(); ok {
		return fmt.Sprintf("monthly on day %d from %s", p.Day, anchor)
	}
	return fmt.Sprintf("monthly on day %d", p.Day)
}

func (p Interval) String() string {
	return fmt.Sprintf("every %d %s from %s", p.Every, p.Unit, p.Start)
}

func (u IntervalUnit) Validate() error {
	switch u {
	case UnitDay, UnitWeek, UnitMonth:
		return nil
	default:
		return &ScheduleError{Field: "interval_unit", Value: string(u), Reason: "must be day, week or month"}
	}
}

// ParseIntervalUnit accepts singular and plural unit names.
func ParseIntervalUnit(s string) (IntervalUnit, error) {
	u := IntervalUnit(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if err := u.Validate(); err != nil {
		return "", err
	}
	return u, nil
}
