package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/audit"
	"carerounds/internal/compliance"
	"carerounds/internal/geo"
	"carerounds/internal/model"
	"carerounds/internal/opt"
	"carerounds/internal/store"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	o := opt.New(geo.NewHaversine(30), nil)
	svc := NewService(mem, o, compliance.NewRules(), audit.NewRecorder(mem, nil), nil)
	return svc, mem
}

func seedStaff(t *testing.T, mem *store.Memory, ids ...string) []model.StaffMember {
	t.Helper()
	out := []model.StaffMember{}
	for _, id := range ids {
		s, err := mem.CreateStaff(context.Background(), "t1", model.StaffMember{
			ID:   id,
			Name: "Carer " + id,
			WorkingHours: []model.WorkingHours{
				{Weekday: time.Monday, Start: "07:00", End: "20:00"},
			},
			Base: model.GeoPoint{Lat: 51.5, Lng: -0.1},
		})
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func visitIn(client string, startHour, durMin int) model.VisitIn {
	return model.VisitIn{
		ClientID:    client,
		Window:      model.TimeWindow{EarliestStart: at(startHour, 0), LatestStart: at(startHour+1, 0)},
		DurationSec: durMin * 60,
		Staffing:    model.Staffing{Count: 1},
		Location:    model.Location{Lat: 51.5, Lng: -0.1},
	}
}

func TestCreateVisitsExpandsRecurrence(t *testing.T) {
	svc, _ := newTestService(t)
	in := visitIn("c1", 9, 30)
	in.Recurrence = &model.Recurrence{Freq: model.FreqDaily, Interval: 1, Until: at(9, 0).Add(2 * 24 * time.Hour)}

	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{in})
	require.NoError(t, err)
	require.Len(t, visits, 3)
	for i, v := range visits {
		assert.Equal(t, model.VisitScheduled, v.State)
		assert.Equal(t, at(9, 0).Add(time.Duration(i)*24*time.Hour), v.Window.EarliestStart)
		assert.NotEmpty(t, v.ID)
	}
	// Instances are independent rows, not views of a master.
	assert.NotEqual(t, visits[0].ID, visits[1].ID)
}

func TestCreateScheduleOptimized(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1")
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{
		visitIn("c1", 9, 30),
		visitIn("c2", 11, 30),
	})
	require.NoError(t, err)

	res, err := svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, 1, res.Assignment.Version)
	require.Len(t, res.Assignment.Routes, 1)
	assert.Len(t, res.Assignment.Routes[0].Legs, 2)

	// Every input visit is accounted for.
	total := len(res.Unresolved)
	for _, r := range res.Assignment.Routes {
		total += len(r.Legs)
	}
	assert.Equal(t, len(visits), total)

	// A second run bumps the version.
	res2, err := svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Assignment.Version)
}

func TestCreateScheduleComplianceGate(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1")
	in := visitIn("c1", 9, 30)
	in.Staffing.Count = 3 // more staff than the roster holds
	_, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{in})
	require.NoError(t, err)

	_, err = svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	var ce *ComplianceError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Violations)

	// Nothing was persisted.
	_, err = mem.GetAssignment(context.Background(), "t1", "2026-03-02")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateScheduleManual(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1")
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{visitIn("c1", 9, 30)})
	require.NoError(t, err)

	start := at(9, 15)
	res, err := svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02",
		Manual: []ManualAssignment{{VisitID: visits[0].ID, StaffID: "s1", Start: &start}},
	})
	require.NoError(t, err)
	require.Len(t, res.Assignment.Routes, 1)
	require.Len(t, res.Assignment.Routes[0].Legs, 1)
	assert.Equal(t, start, res.Assignment.Routes[0].Legs[0].Start)
	_ = mem
}

func TestGetScheduleClientFilterScopesLegs(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1")
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{
		visitIn("c1", 9, 30),
		visitIn("c2", 11, 30),
	})
	require.NoError(t, err)

	_, err = svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	require.NoError(t, err)

	// A client filter scopes both the visit list and the assignment legs.
	view, err := svc.GetSchedule(context.Background(), model.ScheduleFilter{TenantID: "t1", ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, view.Visits, 1)
	assert.Equal(t, "c1", view.Visits[0].ClientID)
	require.Len(t, view.Assignments, 1)
	require.Len(t, view.Assignments[0].Routes, 1)
	legs := view.Assignments[0].Routes[0].Legs
	require.Len(t, legs, 1)
	assert.Equal(t, visits[0].ID, legs[0].VisitID)
}

func TestUpdateScheduleAtomicRejection(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1", "s2")
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{
		visitIn("c1", 9, 30),
		visitIn("c2", 11, 30),
	})
	require.NoError(t, err)

	created, err := svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	require.NoError(t, err)

	s2 := "s2"
	badStart := at(23, 0) // outside both the window and working hours
	_, err = svc.UpdateSchedule(context.Background(), "t1", "2026-03-02", []model.ScheduleChange{
		{VisitID: visits[0].ID, StaffID: &s2, Reason: "cover swap"},
		{VisitID: visits[1].ID, Start: &badStart, Reason: "client request"},
	}, false)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, visits[1].ID, be.VisitID)

	// All-or-nothing: the feasible first change was not applied either.
	stored, err := mem.GetAssignment(context.Background(), "t1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, created.Assignment.Version, stored.Version)
	assert.Equal(t, created.Assignment.Routes, stored.Routes)
}

func TestUpdateScheduleBestEffort(t *testing.T) {
	svc, mem := newTestService(t)
	seedStaff(t, mem, "s1", "s2")
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{
		visitIn("c1", 9, 30),
		visitIn("c2", 11, 30),
	})
	require.NoError(t, err)

	_, err = svc.CreateSchedule(context.Background(), CreateRequest{
		TenantID: "t1", Day: "2026-03-02", Prefs: &model.Preferences{},
	})
	require.NoError(t, err)

	s2 := "s2"
	badStart := at(23, 0)
	res, err := svc.UpdateSchedule(context.Background(), "t1", "2026-03-02", []model.ScheduleChange{
		{VisitID: visits[0].ID, StaffID: &s2, Reason: "cover swap"},
		{VisitID: visits[1].ID, Start: &badStart, Reason: "client request"},
	}, true)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, visits[1].ID, res.Skipped[0].VisitID)

	// The feasible change landed on s2.
	found := false
	for _, r := range res.Assignment.Routes {
		for _, l := range r.Legs {
			if l.VisitID == visits[0].ID {
				assert.Equal(t, "s2", r.StaffID)
				found = true
			}
		}
	}
	assert.True(t, found)
	_ = mem
}

func TestUpdateScheduleRequiresReason(t *testing.T) {
	svc, _ := newTestService(t)
	s1 := "s1"
	_, err := svc.UpdateSchedule(context.Background(), "t1", "2026-03-02", []model.ScheduleChange{
		{VisitID: "v1", StaffID: &s1},
	}, false)
	var be *BatchError
	require.ErrorAs(t, err, &be)
}

func TestVisitStateMachine(t *testing.T) {
	svc, mem := newTestService(t)
	visits, err := svc.CreateVisits(context.Background(), "t1", []model.VisitIn{visitIn("c1", 9, 30)})
	require.NoError(t, err)
	id := visits[0].ID
	ctx := context.Background()

	v, err := svc.ApplyVisitEvent(ctx, "t1", id, model.VisitEvent{Type: "start"})
	require.NoError(t, err)
	assert.Equal(t, model.VisitInProgress, v.State)

	// cancel is only valid from SCHEDULED
	_, err = svc.ApplyVisitEvent(ctx, "t1", id, model.VisitEvent{Type: "cancel"})
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, model.VisitInProgress, ite.From)

	v, err = svc.ApplyVisitEvent(ctx, "t1", id, model.VisitEvent{Type: "complete"})
	require.NoError(t, err)
	assert.Equal(t, model.VisitCompleted, v.State)

	// Terminal states are immutable; state stays COMPLETED.
	_, err = svc.ApplyVisitEvent(ctx, "t1", id, model.VisitEvent{Type: "miss"})
	require.ErrorAs(t, err, &ite)
	got, err := mem.GetVisit(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, model.VisitCompleted, got.State)
}

func TestVisitMissFromScheduledAndInProgress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	visits, err := svc.CreateVisits(ctx, "t1", []model.VisitIn{visitIn("c1", 9, 30), visitIn("c2", 11, 30)})
	require.NoError(t, err)

	v, err := svc.ApplyVisitEvent(ctx, "t1", visits[0].ID, model.VisitEvent{Type: "miss"})
	require.NoError(t, err)
	assert.Equal(t, model.VisitMissed, v.State)

	_, err = svc.ApplyVisitEvent(ctx, "t1", visits[1].ID, model.VisitEvent{Type: "start"})
	require.NoError(t, err)
	v, err = svc.ApplyVisitEvent(ctx, "t1", visits[1].ID, model.VisitEvent{Type: "miss"})
	require.NoError(t, err)
	assert.Equal(t, model.VisitMissed, v.State)
}
