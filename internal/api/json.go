package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"carerounds/internal/geo"
	"carerounds/internal/opt"
	"carerounds/internal/schedule"
	"carerounds/internal/store"
)

// Problem is an RFC7807 problem details response body.
type Problem struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	Violations any    `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses so handlers stay
// uniform.
func writeError(w http.ResponseWriter, err error, instance string) {
	var ce *schedule.ComplianceError
	var ite *schedule.InvalidTransitionError
	var be *schedule.BatchError
	var infeasible *opt.InfeasibleChangeError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, Problem{
			Type: "about:blank", Title: "Compliance validation failed", Status: http.StatusUnprocessableEntity,
			Detail: ce.Error(), Instance: instance, Violations: ce.Violations,
		})
	case errors.As(err, &be):
		p := Problem{
			Type: "about:blank", Title: "Batch rejected", Status: http.StatusUnprocessableEntity,
			Detail: be.Error(), Instance: instance,
		}
		if errors.As(be.Err, &infeasible) {
			p.Violations = infeasible.Violations
		}
		writeJSON(w, http.StatusUnprocessableEntity, p)
	case errors.As(err, &ite):
		writeProblem(w, http.StatusConflict, "Invalid state transition", ite.Error(), instance)
	case errors.Is(err, store.ErrVersionConflict):
		writeProblem(w, http.StatusConflict, "Concurrent modification", "assignment changed since it was read; retry", instance)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
	case errors.Is(err, geo.ErrUnavailable):
		writeProblem(w, http.StatusServiceUnavailable, "Travel time provider unavailable", err.Error(), instance)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), instance)
	}
}
