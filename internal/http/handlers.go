package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/mo"

	"scadenze/internal/core"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

const (
	defaultPreviewCount  = 12
	defaultCalendarCount = 24
)

type scheduleView struct {
	Kind   core.PolicyKind `json:"kind"`
	Day    int             `json:"day,omitempty"`
	Anchor *core.Date      `json:"anchor,omitempty"`
	Start  *core.Date      `json:"start,omitempty"`
	Every  int             `json:"every,omitempty"`
	Unit   string          `json:"unit,omitempty"`
}

type itemView struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Amount    string         `json:"amount"`
	Direction core.Direction `json:"direction"`
	Active    bool           `json:"active"`
	Notes     string         `json:"notes,omitempty"`
	Schedule  *scheduleView  `json:"schedule,omitempty"`
	Rule      string         `json:"rule,omitempty"`
	NextDue   *dueView       `json:"next_due"`
	Error     string         `json:"error,omitempty"`
}

type occurrenceView struct {
	ID    core.OccurrenceID `json:"id"`
	Index int               `json:"index"`
	Date  core.Date         `json:"date"`
}

type dueView struct {
	occurrenceView
	Overdue         bool `json:"overdue"`
	HorizonExceeded bool `json:"horizon_exceeded"`
}

type statusView struct {
	occurrenceView
	Completed bool                     `json:"completed"`
	State     services.OccurrenceState `json:"state"`
}

func viewOf(occ core.Occurrence) occurrenceView {
	return occurrenceView{ID: occ.ID, Index: occ.Index, Date: occ.Date}
}

func dueViewOf(opt mo.Option[services.Due]) *dueView {
	due, ok := opt.Get()
	if !ok {
		return nil
	}
	return &dueView{
		occurrenceView:  viewOf(due.Occurrence),
		Overdue:         due.Overdue,
		HorizonExceeded: due.HorizonExceeded,
	}
}

func scheduleOf(p core.SchedulePolicy) *scheduleView {
	switch p := p.(type) {
	case core.MonthlyOnDay:
		v := &scheduleView{Kind: p.Kind(), Day: p.Day}
		if a, ok := p.Anchor.Get(); ok {
			v.Anchor = &a
		}
		return v
	case core.Interval:
		start := p.Start
		return &scheduleView{Kind: p.Kind(), Start: &start, Every: p.Every, Unit: string(p.Unit)}
	default:
		return nil
	}
}

func (s *Server) itemView(item core.RecurringItem) itemView {
	v := itemView{
		ID:        item.ID,
		Name:      item.Name,
		Amount:    item.Amount.String(),
		Direction: item.Direction,
		Active:    item.Active,
		Notes:     item.Notes,
		Schedule:  scheduleOf(item.Policy),
	}
	if s.deps.Rules != nil {
		if rule, err := s.deps.Rules.Rule(item); err == nil {
			v.Rule = rule
		}
	}
	return v
}

func (s *Server) today() core.Date {
	return core.DateOf(s.deps.Now())
}

func (s *Server) resolve(r *http.Request, res *services.NextDueResolver, item core.RecurringItem, completed core.CompletionSet, asOf core.Date) (mo.Option[services.Due], error) {
	if !item.Active {
		s.deps.Metrics.ObserveResolution(metrics.OutcomeInactive)
		return mo.None[services.Due](), nil
	}
	opt, err := res.NextDue(item, completed, asOf)
	if err != nil {
		s.deps.Metrics.ObserveResolution(metrics.OutcomeError)
		return opt, err
	}
	due, ok := opt.Get()
	switch {
	case !ok:
		s.deps.Metrics.ObserveResolution(metrics.OutcomeNone)
	case due.HorizonExceeded:
		s.deps.Metrics.ObserveResolution(metrics.OutcomeHorizon)
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Next due search exhausted",
			applog.FieldOperation, applog.OpNextDue,
			applog.FieldItemID, item.ID,
			"search_depth", res.Config().SearchDepth)
	case due.Overdue:
		s.deps.Metrics.ObserveResolution(metrics.OutcomeOverdue)
	default:
		s.deps.Metrics.ObserveResolution(metrics.OutcomeDue)
	}
	return opt, nil
}

// handleListRecurring lists every item with its next due occurrence as of
// today. Items whose definition cannot be evaluated carry an error string
// instead of failing the listing.
func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateParam(r, "as_of", s.today())
	if err != nil {
		fail(w, r, err)
		return
	}
	items, err := s.deps.Items.ListRecurringItems(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	completed, err := s.deps.Loader.LoadFor(r.Context(), s.deps.Resolver, asOf)
	if err != nil {
		fail(w, r, err)
		return
	}

	out := make([]itemView, 0, len(items))
	for _, item := range items {
		v := s.itemView(item)
		opt, err := s.resolve(r, s.deps.Resolver, item, completed, asOf)
		if err != nil {
			v.Error = err.Error()
		} else {
			v.NextDue = dueViewOf(opt)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"as_of": asOf, "items": out})
}

func (s *Server) loadItem(r *http.Request) (core.RecurringItem, error) {
	id, err := itemID(r)
	if err != nil {
		return core.RecurringItem{}, err
	}
	return s.deps.Items.GetRecurringItem(r.Context(), id)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	count, err := intParam(r, "count", defaultPreviewCount, 0, schedule.DefaultMaxOccurrences)
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

	views := make([]occurrenceView, len(occs))
	for i, occ := range occs {
		views[i] = viewOf(occ)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":        s.itemView(item),
		"occurrences": views,
	})
}

func (s *Server) handleNextDue(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	asOf, err := dateParam(r, "as_of", s.today())
	if err != nil {
		fail(w, r, err)
		return
	}
	res := s.deps.Resolver
	depth, err := intParam(r, "depth", res.Config().SearchDepth, 0, schedule.DefaultMaxOccurrences)
	if err != nil {
		fail(w, r, err)
		return
	}
	if depth != res.Config().SearchDepth {
		res = res.WithSearchDepth(depth)
	}

	completed, err := s.deps.Loader.LoadFor(r.Context(), res, asOf)
	if err != nil {
		fail(w, r, err)
		return
	}
	opt, err := s.resolve(r, res, item, completed, asOf)
	if err != nil {
		fail(w, r, err)
		return
	}
	body := map[string]any{
		"item_id":  item.ID,
		"as_of":    asOf,
		"next_due": dueViewOf(opt),
	}
	if due, ok := opt.Get(); ok && due.HorizonExceeded {
		body["warning"] = due.Err().Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	today := s.today()
	ym, err := monthParam(r, "month", core.MonthOf(today))
	if err != nil {
		fail(w, r, err)
		return
	}
	completed, err := s.deps.Completions.FetchCompletedOccurrenceIDs(r.Context(), ym)
	if err != nil {
		fail(w, r, err)
		return
	}
	statuses, err := s.deps.Resolver.MonthStatus(item, ym, completed)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.deps.Metrics.AddGenerated(len(statuses))

	views := make([]statusView, len(statuses))
	for i, st := range statuses {
		views[i] = statusView{
			occurrenceView: viewOf(st.Occurrence),
			Completed:      st.Completed,
			State:          services.State(st.Occurrence, completed, today),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":     item.ID,
		"month":       ym.String(),
		"occurrences": views,
	})
}

func (s *Server) handleSetCompletion(w http.ResponseWriter, r *http.Request) {
	id := core.OccurrenceID(chi.URLParam(r, "occurrenceId"))
	ym, completed, err := decodeCompletion(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	written, err := s.deps.Completion.SetCompleted(r.Context(), id, ym, completed)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"occurrence_id": id,
		"month":         written.String(),
		"completed":     completed,
	})
}
