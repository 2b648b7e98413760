package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"

	"scadenze/internal/core"
	"scadenze/internal/schedule"
)

const calendarProductID = "-//scadenze//NONSGML v1.0//EN"

// handleCalendar serves the item's first count occurrences as all-day
// VEVENTs. Occurrence IDs make the event UIDs stable across refreshes.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	count, err := intParam(r, "count", defaultCalendarCount, 1, schedule.DefaultMaxOccurrences)
	if err != nil {
		fail(w, r, err)
		return
	}
	occs, err := s.deps.Source.Generate(item, count)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.deps.Metrics.AddGenerated(len(occs))

	cal := buildCalendar(item, occs, s.deps.Now())
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		fail(w, r, fmt.Errorf("encode calendar for item %d: %w", item.ID, err))
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"item-%d.ics\"", item.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func buildCalendar(item core.RecurringItem, occs []core.Occurrence, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, calendarProductID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText("X-WR-CALNAME", item.Name)

	summary := fmt.Sprintf("%s %s %s", item.Name, directionSign(item.Direction), item.Amount)
	for _, occ := range occs {
		ev := ical.NewComponent(ical.CompEvent)
		ev.Props.SetText(ical.PropUID, string(occ.ID)+"@scadenze")
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDate(ical.PropDateTimeStart, occ.Date.Time)
		ev.Props.SetText(ical.PropSummary, summary)
		if item.Notes != "" {
			ev.Props.SetText(ical.PropDescription, item.Notes)
		}
		cal.Children = append(cal.Children, ev)
	}
	return cal
}

func directionSign(d core.Direction) string {
	if d == core.Income {
		return "+"
	}
	return "-"
}
