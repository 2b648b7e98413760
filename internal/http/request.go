package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"scadenze/internal/core"
)

const maxBodyBytes = 1 << 16

// itemID parses the {id} path parameter.
func itemID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, invalidParam("id", fmt.Errorf("%q is not an item id", raw))
	}
	return id, nil
}

// intParam returns the query parameter name, or def when absent. Values
// outside [lo, hi] are rejected.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, err)
	}
	if n < lo || n > hi {
		return 0, invalidParam(name, fmt.Errorf("%d outside [%d, %d]", n, lo, hi))
	}
	return n, nil
}

// dateParam parses a YYYY-MM-DD query parameter, defaulting to def.
func dateParam(r *http.Request, name string, def core.Date) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, invalidParam(name, err)
	}
	return d, nil
}

// monthParam parses a YYYY-MM query parameter, defaulting to def.
func monthParam(r *http.Request, name string, def core.YearMonth) (core.YearMonth, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	ym, err := core.ParseYearMonth(raw)
	if err != nil {
		return core.YearMonth{}, invalidParam(name, err)
	}
	return ym, nil
}

type completionRequest struct {
	Month     string `json:"month"`
	Completed *bool  `json:"completed"`
}

// decodeCompletion reads a completion body. month may be empty; completed
// is required.
func decodeCompletion(r *http.Request) (core.YearMonth, bool, error) {
	var req completionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return core.YearMonth{}, false, invalidParam("body", err)
	}
	if req.Completed == nil {
		return core.YearMonth{}, false, invalidParam("body", errors.New("completed is required"))
	}
	var ym core.YearMonth
	if strings.TrimSpace(req.Month) != "" {
		parsed, err := core.ParseYearMonth(req.Month)
		if err != nil {
			return core.YearMonth{}, false, invalidParam("month", err)
		}
		ym = parsed
	}
	return ym, *req.Completed, nil
}
