// Package sheets renders a month of occurrences as spreadsheet rows. The
// google and memory subpackages implement ports.ScheduleExporter on top of it.
package sheets

import (
	"fmt"
	"sort"
	"strings"

	"scadenze/internal/core"
	"scadenze/internal/ports"
)

const (
	StatusDone = "done"
	StatusOpen = "open"
)

// Header is the first row of every exported month.
var Header = []any{"Date", "Occurrence", "Item", "Direction", "Amount", "Rule", "Status"}

// Columns is the A1 column span covered by Header.
const Columns = "A:G"

// Values returns Header followed by one line per row, ordered by date and
// then occurrence ID. rows is not modified.
func Values(rows []ports.ScheduleRow) [][]any {
	sorted := make([]ports.ScheduleRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Occurrence, sorted[j].Occurrence
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})

	out := make([][]any, 0, len(sorted)+1)
	out = append(out, Header)
	for _, r := range sorted {
		status := StatusOpen
		if r.Completed {
			status = StatusDone
		}
		out = append(out, []any{
			r.Occurrence.Date.String(),
			string(r.Occurrence.ID),
			r.Name,
			string(r.Direction),
			r.Amount.String(),
			r.Rule,
			status,
		})
	}
	return out
}

// TabName returns "<YYYY-MM> <base>", the tab a month is exported to.
func TabName(base string, ym core.YearMonth) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ym.String()
	}
	return fmt.Sprintf("%s %s", ym, base)
}
