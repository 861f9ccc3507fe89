package api

import (
	"fmt"
	"net/http"

	"carerounds/internal/importer"
)

// ImportVisitsHandler handles POST /v1/visits/import. The body is a CSV
// upload; rows that fail to parse are reported back without blocking the
// rest unless strict=true.
func (s *Server) ImportVisitsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanSchedule() {
		writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
		return
	}
	visits, rowErrs, err := importer.ParseVisits(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	if strict := r.URL.Query().Get("strict"); (strict == "true" || strict == "1") && len(rowErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"created": 0, "errors": rowErrs})
		return
	}
	for i := range visits {
		if err := validateVisitIn(&visits[i]); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid visit", fmt.Sprintf("row %d: %v", i+2, err), r.URL.Path)
			return
		}
	}
	created := []string{}
	if len(visits) > 0 {
		out, err := s.Sched.CreateVisits(r.Context(), p.Tenant, visits)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		for _, v := range out {
			created = append(created, v.ID)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"created": len(created), "visitIds": created, "errors": rowErrs})
}
