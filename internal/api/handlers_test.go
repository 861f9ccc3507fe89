package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carerounds/internal/config"
	"carerounds/internal/model"
)

const testDay = "2026-03-02" // a Monday

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(config.Default(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func seedStaff(t *testing.T, h http.Handler) string {
	t.Helper()
	in := model.StaffIn{
		Name: "Priya N",
		WorkingHours: []model.WorkingHours{
			{Weekday: time.Monday, Start: "07:00", End: "20:00"},
		},
		Base: model.GeoPoint{Lat: 51.5, Lng: -0.1},
	}
	w := doJSON(t, h, http.MethodPost, "/v1/staff", in, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var m model.StaffMember
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m.ID
}

func seedVisit(t *testing.T, h http.Handler, clientID string, earliest, latest time.Time) string {
	t.Helper()
	body := map[string]any{"visits": []model.VisitIn{{
		ClientID:    clientID,
		Window:      model.TimeWindow{EarliestStart: earliest, LatestStart: latest},
		DurationSec: 1800,
		Staffing:    model.Staffing{Count: 1},
		Location:    model.Location{Lat: 51.51, Lng: -0.11},
	}}}
	w := doJSON(t, h, http.MethodPost, "/v1/visits", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Visits []model.Visit `json:"visits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Visits, 1)
	return resp.Visits[0].ID
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t).Routes()
	assert.Equal(t, 200, doJSON(t, h, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, 200, doJSON(t, h, http.MethodGet, "/readyz", nil, nil).Code)
}

func TestCreateScheduleOptimized(t *testing.T) {
	h := newTestServer(t).Routes()
	seedStaff(t, h)
	seedVisit(t, h, "c1", at(9, 0), at(11, 0))
	seedVisit(t, h, "c2", at(13, 0), at(15, 0))

	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{
		"day":         testDay,
		"preferences": map[string]any{},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res struct {
		Assignment model.Assignment `json:"assignment"`
		Unresolved []string         `json:"unresolved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, testDay, res.Assignment.Day)
	assert.Equal(t, 1, res.Assignment.Version)
	legs := 0
	for _, rt := range res.Assignment.Routes {
		legs += len(rt.Legs)
	}
	assert.Equal(t, 2, legs+len(res.Unresolved))

	// The stored schedule is readable back.
	w = doJSON(t, h, http.MethodGet, "/v1/schedule?from="+testDay+"&to=2026-03-03", nil, nil)
	require.Equal(t, 200, w.Code)
	var view struct {
		Assignments []model.Assignment `json:"assignments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Assignments, 1)
}

func TestCreateScheduleRequiresMode(t *testing.T) {
	h := newTestServer(t).Routes()
	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{"day": testDay}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateScheduleForbiddenForCarer(t *testing.T) {
	h := newTestServer(t).Routes()
	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{
		"day": testDay, "preferences": map[string]any{},
	}, map[string]string{"X-Role": "carer"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateScheduleRequiresReason(t *testing.T) {
	h := newTestServer(t).Routes()
	seedStaff(t, h)
	seedVisit(t, h, "c1", at(9, 0), at(11, 0))
	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{"day": testDay, "preferences": map[string]any{}}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPut, "/v1/schedule", map[string]any{
		"day":     testDay,
		"changes": []map[string]any{{"visitId": "v1"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Reason")
}

func TestUpdateScheduleAtomicRejection(t *testing.T) {
	h := newTestServer(t).Routes()
	staffID := seedStaff(t, h)
	visitID := seedVisit(t, h, "c1", at(9, 0), at(11, 0))
	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{"day": testDay, "preferences": map[string]any{}}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// 23:00 is outside working hours, so the move is infeasible.
	late := at(23, 0)
	w = doJSON(t, h, http.MethodPut, "/v1/schedule", map[string]any{
		"day": testDay,
		"changes": []model.ScheduleChange{{
			VisitID: visitID, StaffID: &staffID, Start: &late, Reason: "client request",
		}},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestVisitEventFlow(t *testing.T) {
	h := newTestServer(t).Routes()
	visitID := seedVisit(t, h, "c1", at(9, 0), at(11, 0))

	w := doJSON(t, h, http.MethodPost, "/v1/visits/"+visitID+"/events", model.VisitEvent{Type: "start"}, nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	var v model.Visit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, model.VisitInProgress, v.State)

	// cancel is not allowed once in progress
	w = doJSON(t, h, http.MethodPost, "/v1/visits/"+visitID+"/events", model.VisitEvent{Type: "cancel"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/visits/"+visitID+"/events", model.VisitEvent{Type: "complete"}, nil)
	require.Equal(t, 200, w.Code)

	// the audit trail records the lifecycle
	w = doJSON(t, h, http.MethodGet, "/v1/visits/"+visitID+"/audit", nil, nil)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "visit.start")
	assert.Contains(t, w.Body.String(), "visit.complete")
}

func TestCarerScheduleScopedToSelf(t *testing.T) {
	h := newTestServer(t).Routes()

	w := doJSON(t, h, http.MethodGet, "/v1/schedule", nil, map[string]string{"X-Role": "carer"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/schedule", nil, map[string]string{"X-Role": "carer", "X-Staff-Id": "s1"})
	assert.Equal(t, 200, w.Code)
}

func TestSubscriptionsAdminOnly(t *testing.T) {
	h := newTestServer(t).Routes()
	body := model.SubscriptionRequest{URL: "https://hooks.example/care", Events: []string{"schedule.created"}}

	w := doJSON(t, h, http.MethodPost, "/v1/subscriptions", body, map[string]string{"X-Role": "coordinator"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/subscriptions", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))

	req := httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestImportVisitsCSV(t *testing.T) {
	h := newTestServer(t).Routes()
	csv := "clientId,area,earliestStart,latestStart,durationSec,lat,lng\n" +
		"c1,north,2026-03-02T09:00:00Z,2026-03-02T10:00:00Z,1800,51.5,-0.1\n" +
		"bad-row,north,not-a-time,2026-03-02T10:00:00Z,1800,51.5,-0.1\n"

	req := httptest.NewRequest(http.MethodPost, "/v1/visits/import", strings.NewReader(csv))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Created  int      `json:"created"`
		VisitIDs []string `json:"visitIds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Created)
}

func TestScheduleStatsAndPlanMetrics(t *testing.T) {
	h := newTestServer(t).Routes()
	seedStaff(t, h)
	seedVisit(t, h, "c1", at(9, 0), at(11, 0))
	w := doJSON(t, h, http.MethodPost, "/v1/schedule", map[string]any{"day": testDay, "preferences": map[string]any{}}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/admin/schedule/stats?day="+testDay, nil, nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "\"routes\"")

	w = doJSON(t, h, http.MethodGet, "/v1/admin/plan-metrics?day="+testDay, nil, nil)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "\"mode\"")
}

func TestVisitArchiveHidesFromList(t *testing.T) {
	h := newTestServer(t).Routes()
	visitID := seedVisit(t, h, "c1", at(9, 0), at(11, 0))

	req := httptest.NewRequest(http.MethodDelete, "/v1/visits/"+visitID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	w := doJSON(t, h, http.MethodGet, "/v1/visits", nil, nil)
	require.Equal(t, 200, w.Code)
	assert.NotContains(t, w.Body.String(), visitID)
}
