package storage

import (
	"fmt"
	"strings"

	"github.com/samber/mo"

	"scadenze/internal/core"
)

// ItemRecord is the flat, storage-side shape of a recurring item shared by
// the SQLite rows and the YAML seed file. Only the fields of the record's
// RepeatType are read.
type ItemRecord struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Amount      string `yaml:"amount"`
	AmountCents int64  `yaml:"-"`
	Type        string `yaml:"type"`
	RepeatType  string `yaml:"repeat_type"`
	DayOfMonth  int    `yaml:"day_of_month,omitempty"`
	AnchorDate  string `yaml:"anchor_date,omitempty"`
	StartDate   string `yaml:"start_date,omitempty"`
	Every       int    `yaml:"interval_value,omitempty"`
	Unit        string `yaml:"interval_unit,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
	Notes       string `yaml:"notes,omitempty"`
	// CreatedAt anchors monthly items stored without anchor_date. SQLite
	// fills it with datetime('now'); only the date part is read.
	CreatedAt string `yaml:"created_at,omitempty"`
}

// ToItem converts the record. Malformed dates, kinds and units are
// schedule definition errors; range checks are left to the policy's
// Validate so that a bad item still loads and fails where it is used.
func (r ItemRecord) ToItem() (core.RecurringItem, error) {
	dir, err := core.ParseDirection(r.Type)
	if err != nil {
		return core.RecurringItem{}, fmt.Errorf("item %d: %w", r.ID, err)
	}

	amount := core.Money{Cents: r.AmountCents}
	if r.Amount != "" {
		amount, err = core.ParseMoney(r.Amount)
		if err != nil {
			return core.RecurringItem{}, fmt.Errorf("item %d: %w", r.ID, err)
		}
	}

	policy, err := r.policy()
	if err != nil {
		return core.RecurringItem{}, fmt.Errorf("item %d: %w", r.ID, err)
	}
	if r.CreatedAt != "" {
		created, err := core.ParseDate(datePart(r.CreatedAt))
		if err != nil {
			return core.RecurringItem{}, fmt.Errorf("item %d: created_at: %w", r.ID, err)
		}
		policy = anchorPolicy(policy, created)
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return core.RecurringItem{
		ID:        r.ID,
		Name:      r.Name,
		Amount:    amount,
		Direction: dir,
		Policy:    policy,
		Active:    active,
		Notes:     r.Notes,
	}, nil
}

func (r ItemRecord) policy() (core.SchedulePolicy, error) {
	switch core.PolicyKind(strings.TrimSpace(r.RepeatType)) {
	case core.KindMonthlyOnDay, "":
		p := core.MonthlyOnDay{Day: r.DayOfMonth}
		if r.AnchorDate != "" {
			anchor, err := core.ParseDate(r.AnchorDate)
			if err != nil {
				return nil, &core.ScheduleError{Field: "anchor_date", Value: r.AnchorDate, Reason: "not a YYYY-MM-DD date"}
			}
			p.Anchor = mo.Some(anchor)
		}
		return p, nil
	case core.KindInterval:
		start, err := core.ParseDate(r.StartDate)
		if err != nil {
			return nil, &core.ScheduleError{Field: "start_date", Value: r.StartDate, Reason: "not a YYYY-MM-DD date"}
		}
		unit, err := core.ParseIntervalUnit(r.Unit)
		if err != nil {
			return nil, err
		}
		return core.Interval{Start: start, Every: r.Every, Unit: unit}, nil
	default:
		return nil, &core.ScheduleError{Field: "repeat_type", Value: r.RepeatType, Reason: "unknown repeat type"}
	}
}

// Anchored pins a MonthlyOnDay item without an anchor to the month of
// created. Unanchored items start from the current month, so index 0 would
// name a different date every month and a completion recorded in one month
// would mark the next month's occurrence too.
func Anchored(item core.RecurringItem, created core.Date) core.RecurringItem {
	item.Policy = anchorPolicy(item.Policy, created)
	return item
}

func anchorPolicy(policy core.SchedulePolicy, created core.Date) core.SchedulePolicy {
	p, ok := policy.(core.MonthlyOnDay)
	if !ok || p.Anchor.IsPresent() || created.IsZero() {
		return policy
	}
	p.Anchor = mo.Some(created)
	return p
}

// datePart strips the time from "YYYY-MM-DD HH:MM:SS" and RFC 3339 values.
func datePart(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// RecordFromItem is the inverse of ToItem.
func RecordFromItem(item core.RecurringItem) ItemRecord {
	active := item.Active
	r := ItemRecord{
		ID:          item.ID,
		Name:        item.Name,
		AmountCents: item.Amount.Cents,
		Type:        string(item.Direction),
		Active:      &active,
		Notes:       item.Notes,
	}
	switch p := item.Policy.(type) {
	case core.MonthlyOnDay:
		r.RepeatType = string(core.KindMonthlyOnDay)
		r.DayOfMonth = p.Day
		if anchor, ok := p.Anchor.Get(); ok {
			r.AnchorDate = anchor.String()
		}
	case core.Interval:
		r.RepeatType = string(core.KindInterval)
		r.StartDate = p.Start.String()
		r.Every = p.Every
		r.Unit = string(p.Unit)
	}
	return r
}
