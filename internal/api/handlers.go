package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"carerounds/internal/model"
	"carerounds/internal/opt"
	"carerounds/internal/schedule"
)

// visitEventNames maps field event types to the published event names.
var visitEventNames = map[string]string{
	"start":    "visit.started",
	"complete": "visit.completed",
	"cancel":   "visit.cancelled",
	"miss":     "visit.missed",
}

// VisitsHandler handles POST/GET /v1/visits.
func (s *Server) VisitsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanSchedule() {
			writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
			return
		}
		var req struct {
			Visits []model.VisitIn `json:"visits"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(req.Visits) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing visits", "at least one visit is required", r.URL.Path)
			return
		}
		for i := range req.Visits {
			if err := validateVisitIn(&req.Visits[i]); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid visit", fmt.Sprintf("visit %d: %v", i, err), r.URL.Path)
				return
			}
		}
		visits, err := s.Sched.CreateVisits(r.Context(), p.Tenant, req.Visits)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"created": len(visits), "visits": visits})
	case http.MethodGet:
		p := s.getPrincipal(r)
		f := model.ScheduleFilter{
			TenantID: p.Tenant,
			ClientID: r.URL.Query().Get("clientId"),
			Area:     r.URL.Query().Get("area"),
		}
		var err error
		if f.From, f.To, err = parseRangeParams(r); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid time range", err.Error(), r.URL.Path)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListVisits(r.Context(), f, cursor, limit)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// VisitByIDHandler handles /v1/visits/{id}, /v1/visits/{id}/events and
// /v1/visits/{id}/audit.
func (s *Server) VisitByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/visits/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)

	if len(parts) > 1 && parts[1] == "events" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.CanReportVisit() {
			writeProblem(w, 403, "Forbidden", "carer, coordinator or admin required", r.URL.Path)
			return
		}
		var ev model.VisitEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateStruct(&ev); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path)
			return
		}
		if ev.TS.IsZero() {
			ev.TS = time.Now().UTC()
		}
		v, err := s.Sched.ApplyVisitEvent(r.Context(), p.Tenant, id, ev)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		name := visitEventNames[ev.Type]
		data := map[string]any{"visitId": v.ID, "state": v.State, "ts": ev.TS.Format(time.RFC3339)}
		s.Pub.Emit(r.Context(), p.Tenant, name, data)
		s.Broker.Publish(p.Tenant, SSEEvent{Type: name, Data: data})
		writeJSON(w, http.StatusOK, v)
		return
	}

	if len(parts) > 1 && parts[1] == "audit" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListAuditEvents(r.Context(), p.Tenant, id, cursor, limit)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := s.Store.GetVisit(r.Context(), p.Tenant, id)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodDelete:
		if !p.CanSchedule() {
			writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
			return
		}
		if err := s.Store.ArchiveVisit(r.Context(), p.Tenant, id); err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// StaffHandler handles POST/GET /v1/staff.
func (s *Server) StaffHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanSchedule() {
			writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
			return
		}
		var in model.StaffIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateStruct(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid staff member", err.Error(), r.URL.Path)
			return
		}
		m, err := s.Store.CreateStaff(r.Context(), p.Tenant, model.StaffMember{
			Name:           in.Name,
			Gender:         in.Gender,
			Qualifications: in.Qualifications,
			WorkingHours:   in.WorkingHours,
			Base:           in.Base,
			MaxTravelSec:   in.MaxTravelSec,
		})
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListStaff(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ScheduleHandler handles GET/POST/PUT /v1/schedule.
func (s *Server) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getSchedule(w, r)
	case http.MethodPost:
		s.createSchedule(w, r)
	case http.MethodPut:
		s.updateSchedule(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	f := model.ScheduleFilter{
		TenantID: p.Tenant,
		StaffID:  r.URL.Query().Get("staffId"),
		ClientID: r.URL.Query().Get("clientId"),
		Area:     r.URL.Query().Get("area"),
	}
	// Carers only see their own rounds.
	if p.Role == "carer" {
		if p.StaffID == "" {
			writeProblem(w, 403, "Forbidden", "carer token lacks staff identity", r.URL.Path)
			return
		}
		f.StaffID = p.StaffID
	}
	var err error
	if f.From, f.To, err = parseRangeParams(r); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid time range", err.Error(), r.URL.Path)
		return
	}
	view, err := s.Sched.GetSchedule(r.Context(), f)
	if err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.CanSchedule() {
		writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
		return
	}
	var req struct {
		Day         string                      `json:"day"`
		VisitIDs    []string                    `json:"visitIds,omitempty"`
		Manual      []schedule.ManualAssignment `json:"manual,omitempty"`
		Preferences *model.Preferences          `json:"preferences,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.Day == "" {
		writeProblem(w, http.StatusBadRequest, "Missing day", "day (YYYY-MM-DD) is required", r.URL.Path)
		return
	}
	if _, err := time.Parse("2006-01-02", req.Day); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid day", err.Error(), r.URL.Path)
		return
	}
	if req.Preferences == nil && len(req.Manual) == 0 {
		writeProblem(w, http.StatusBadRequest, "Missing mode", "either preferences or manual assignments are required", r.URL.Path)
		return
	}
	if req.Preferences != nil && len(req.Manual) > 0 {
		writeProblem(w, http.StatusBadRequest, "Ambiguous mode", "preferences and manual assignments are mutually exclusive", r.URL.Path)
		return
	}
	if err := validatePreferences(req.Preferences); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid preferences", err.Error(), r.URL.Path)
		return
	}
	for i := range req.Manual {
		if err := validateStruct(&req.Manual[i]); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid manual assignment", fmt.Sprintf("assignment %d: %v", i, err), r.URL.Path)
			return
		}
	}

	res, err := s.Sched.CreateSchedule(r.Context(), schedule.CreateRequest{
		TenantID: p.Tenant,
		Day:      req.Day,
		VisitIDs: req.VisitIDs,
		Manual:   req.Manual,
		Prefs:    req.Preferences,
	})
	if err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	s.recordRun(res.Metrics, len(res.Unresolved))
	data := map[string]any{"day": req.Day, "version": res.Assignment.Version, "unstaffed": len(res.Assignment.Unstaffed)}
	s.Pub.Emit(r.Context(), p.Tenant, "schedule.created", data)
	s.Broker.Publish(p.Tenant, SSEEvent{Type: "schedule.created", Data: data})
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.CanSchedule() {
		writeProblem(w, 403, "Forbidden", "coordinator or admin required", r.URL.Path)
		return
	}
	var req struct {
		Day        string                 `json:"day"`
		Changes    []model.ScheduleChange `json:"changes"`
		BestEffort bool                   `json:"bestEffort,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.Day == "" {
		writeProblem(w, http.StatusBadRequest, "Missing day", "day (YYYY-MM-DD) is required", r.URL.Path)
		return
	}
	if len(req.Changes) == 0 {
		writeProblem(w, http.StatusBadRequest, "Missing changes", "at least one change is required", r.URL.Path)
		return
	}
	for i := range req.Changes {
		if err := validateStruct(&req.Changes[i]); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid change", fmt.Sprintf("change %d: %v", i, err), r.URL.Path)
			return
		}
	}

	res, err := s.Sched.UpdateSchedule(r.Context(), p.Tenant, req.Day, req.Changes, req.BestEffort)
	if err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	s.recordRun(res.Metrics, len(res.Unresolved))
	data := map[string]any{"day": req.Day, "version": res.Assignment.Version, "applied": len(req.Changes) - len(res.Skipped), "skipped": len(res.Skipped)}
	s.Pub.Emit(r.Context(), p.Tenant, "schedule.updated", data)
	s.Broker.Publish(p.Tenant, SSEEvent{Type: "schedule.updated", Data: data})
	writeJSON(w, http.StatusOK, res)
}

// ScheduleStreamHandler handles GET /v1/schedule/stream (SSE).
func (s *Server) ScheduleStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(p.Tenant)
	defer s.Broker.Unsubscribe(p.Tenant, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"tenantId\":\"%s\",\"ts\":\"%s\"}\n\n", p.Tenant, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateStruct(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		writeProblem(w, http.StatusBadRequest, "Missing day", "", r.URL.Path)
		return
	}
	mode := r.URL.Query().Get("mode")
	items := []map[string]any{}
	for m, run := range opt.GetRuns(p.Tenant, day) {
		if mode != "" && m != mode {
			continue
		}
		items = append(items, map[string]any{
			"mode":        m,
			"visits":      run.Visits,
			"assigned":    run.Assigned,
			"unresolved":  run.Unresolved,
			"passes":      run.Passes,
			"relocations": run.Relocations,
			"swaps":       run.Swaps,
			"geoHits":     run.GeoHits,
			"geoMisses":   run.GeoMisses,
			"elapsedMs":   run.ElapsedMs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ScheduleStatsHandler handles GET /v1/admin/schedule/stats.
func (s *Server) ScheduleStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		writeProblem(w, http.StatusBadRequest, "Missing day", "", r.URL.Path)
		return
	}
	a, err := s.Store.GetAssignment(r.Context(), p.Tenant, day)
	if err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	legs := 0
	travelSec := 0
	for _, rt := range a.Routes {
		legs += len(rt.Legs)
		for _, l := range rt.Legs {
			travelSec += l.TravelSec
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":       a.Day,
		"version":   a.Version,
		"routes":    len(a.Routes),
		"legs":      legs,
		"unstaffed": len(a.Unstaffed),
		"travelSec": travelSec,
		"cost":      a.Cost,
	})
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
		writeError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz and checks storage connectivity.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseRangeParams(r *http.Request) (from, to time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = parseTimeParam(v); err != nil {
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = parseTimeParam(v); err != nil {
			return
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = fmt.Errorf("to precedes from")
	}
	return
}

// parseTimeParam accepts RFC3339 timestamps or bare dates.
func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
