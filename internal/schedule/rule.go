package schedule

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"

	"scadenze/internal/core"
)

// Rule renders the item's policy as an RFC 5545 RRULE value, e.g.
// "FREQ=WEEKLY;INTERVAL=2". The clamp to the last day of short months is
// expressed as BYMONTHDAY=28,...,d;BYSETPOS=-1.
func (g *Generator) Rule(item core.RecurringItem) (string, error) {
	r, err := g.rrule(item, 0)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(r.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "RRULE:") {
			return strings.TrimPrefix(line, "RRULE:"), nil
		}
		if line != "" && !strings.HasPrefix(line, "DTSTART") {
			return line, nil
		}
	}
	return "", fmt.Errorf("render rrule for item %d: empty rule", item.ID)
}

// rrule builds the equivalent rrule-go rule. count zero means unbounded.
func (g *Generator) rrule(item core.RecurringItem, count int) (*rrule.RRule, error) {
	if _, err := g.sequenceFor(item.Policy); err != nil {
		return nil, err
	}

	opt := rrule.ROption{Count: count}
	switch p := item.Policy.(type) {
	case core.MonthlyOnDay:
		opt.Freq = rrule.MONTHLY
		opt.Interval = 1
		opt.Dtstart = g.monthlyBase(p).First().Time
		opt.Bymonthday, opt.Bysetpos = clampedMonthDays(p.Day)
	case core.Interval:
		opt.Interval = p.Every
		opt.Dtstart = p.Start.Time
		switch p.Unit {
		case core.UnitDay:
			opt.Freq = rrule.DAILY
		case core.UnitWeek:
			opt.Freq = rrule.WEEKLY
		case core.UnitMonth:
			opt.Freq = rrule.MONTHLY
			opt.Bymonthday, opt.Bysetpos = clampedMonthDays(p.Start.Day())
		}
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule for item %d: %w", item.ID, err)
	}
	return r, nil
}

func clampedMonthDays(day int) (days []int, setpos []int) {
	if day <= 28 {
		return []int{day}, nil
	}
	for d := 28; d <= day; d++ {
		days = append(days, d)
	}
	return days, []int{-1}
}
