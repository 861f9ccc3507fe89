// Package schedule orchestrates visit scheduling: the compliance gate, the
// optimizer, persistence with optimistic versioning, incremental batch edits
// and the visit state machine.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carerounds/internal/audit"
	"carerounds/internal/compliance"
	"carerounds/internal/model"
	"carerounds/internal/opt"
	"carerounds/internal/recurrence"
	"carerounds/internal/store"
)

const dayLayout = "2006-01-02"

// ComplianceError rejects a scheduling request before optimization.
type ComplianceError struct {
	Violations []compliance.Violation
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("compliance validation failed: %d violation(s)", len(e.Violations))
}

// InvalidTransitionError reports a visit state machine violation. The visit's
// state is left untouched.
type InvalidTransitionError struct {
	VisitID string
	From    model.VisitState
	Event   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("visit %s: event %q not allowed in state %s", e.VisitID, e.Event, e.From)
}

// BatchError rejects an atomic update batch. No change from the batch was
// applied.
type BatchError struct {
	Index   int
	VisitID string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("change %d (visit %s) rejected: %v", e.Index, e.VisitID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// SkippedChange reports a change dropped in best-effort mode.
type SkippedChange struct {
	Index   int    `json:"index"`
	VisitID string `json:"visitId"`
	Reason  string `json:"reason"`
}

// Result is the outcome of a schedule write.
type Result struct {
	Assignment model.Assignment `json:"assignment"`
	Unresolved []string         `json:"unresolved,omitempty"`
	Skipped    []SkippedChange  `json:"skipped,omitempty"`
	Metrics    opt.RunMetrics   `json:"-"`
}

// View is the read model for GetSchedule.
type View struct {
	Visits      []model.Visit      `json:"visits"`
	Assignments []model.Assignment `json:"assignments"`
}

// ManualAssignment places one visit on one staff member without running the
// optimizer. A nil Start lets the engine pick the earliest feasible slot.
type ManualAssignment struct {
	VisitID string     `json:"visitId" validate:"required"`
	StaffID string     `json:"staffId" validate:"required"`
	Start   *time.Time `json:"start,omitempty"`
}

// CreateRequest drives CreateSchedule. Visits may be selected by ID or
// omitted to schedule every SCHEDULED visit on the day.
type CreateRequest struct {
	TenantID string
	Day      string
	VisitIDs []string
	Manual   []ManualAssignment
	Prefs    *model.Preferences
}

type Service struct {
	store    store.Store
	opt      *opt.Optimizer
	validate compliance.Validator
	audit    *audit.Recorder
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // tenant|day -> serializes writes
}

func NewService(s store.Store, o *opt.Optimizer, v compliance.Validator, a *audit.Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, opt: o, validate: v, audit: a, log: log, locks: map[string]*sync.Mutex{}}
}

// dayLock serializes schedule writes for one tenant-day. Edits to the same
// staff route always share a day, so this also serializes per-staff-route
// updates.
func (s *Service) dayLock(tenantID, day string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + day
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func dayRange(day string) (time.Time, time.Time, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, t.Add(24 * time.Hour), nil
}

// CreateVisits expands recurrence rules and persists the resulting visit
// instances. Each instance is independent once created.
func (s *Service) CreateVisits(ctx context.Context, tenantID string, ins []model.VisitIn) ([]model.Visit, error) {
	visits := []model.Visit{}
	for _, in := range ins {
		expanded, err := recurrence.Expand(in)
		if err != nil {
			return nil, err
		}
		for _, e := range expanded {
			visits = append(visits, model.Visit{
				ID:          uuid.New().String(),
				TenantID:    tenantID,
				ClientID:    e.ClientID,
				Area:        e.Area,
				Window:      e.Window,
				DurationSec: e.DurationSec,
				Tasks:       e.Tasks,
				Staffing:    e.Staffing,
				Location:    e.Location,
				State:       model.VisitScheduled,
			})
		}
	}
	if _, err := s.store.CreateVisits(ctx, tenantID, visits); err != nil {
		return nil, err
	}
	events := make([]model.AuditEvent, 0, len(visits))
	for _, v := range visits {
		events = append(events, model.AuditEvent{Type: "visit.created", VisitID: v.ID})
	}
	s.audit.RecordAll(ctx, tenantID, events)
	return visits, nil
}

// GetSchedule returns visits and assignments matching the filter. Read-only.
func (s *Service) GetSchedule(ctx context.Context, f model.ScheduleFilter) (View, error) {
	visits, _, err := s.store.ListVisits(ctx, f, "", 500)
	if err != nil {
		return View{}, err
	}
	assignments, _, err := s.store.ListAssignments(ctx, f.TenantID, "", 500)
	if err != nil {
		return View{}, err
	}
	var keep map[string]bool
	if f.ClientID != "" || f.Area != "" {
		keep = make(map[string]bool, len(visits))
		for _, v := range visits {
			keep[v.ID] = true
		}
	}
	out := []model.Assignment{}
	for _, a := range assignments {
		day, dayEnd, err := dayRange(a.Day)
		if err != nil {
			continue
		}
		if !f.From.IsZero() && dayEnd.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !day.Before(f.To) {
			continue
		}
		if f.StaffID != "" {
			a = filterByStaff(a, f.StaffID)
			if len(a.Routes) == 0 {
				continue
			}
		}
		if keep != nil {
			a = filterByVisits(a, keep)
			if len(a.Routes) == 0 && len(a.Unstaffed) == 0 {
				continue
			}
		}
		out = append(out, a)
	}
	return View{Visits: visits, Assignments: out}, nil
}

// filterByVisits trims routes and the unstaffed list to the given visit set,
// so client and area filters scope legs the same way they scope visits.
func filterByVisits(a model.Assignment, keep map[string]bool) model.Assignment {
	routes := []model.StaffRoute{}
	for _, r := range a.Routes {
		legs := []model.Leg{}
		for _, l := range r.Legs {
			if keep[l.VisitID] {
				legs = append(legs, l)
			}
		}
		if len(legs) > 0 {
			routes = append(routes, model.StaffRoute{StaffID: r.StaffID, Legs: legs})
		}
	}
	a.Routes = routes
	un := []string{}
	for _, id := range a.Unstaffed {
		if keep[id] {
			un = append(un, id)
		}
	}
	a.Unstaffed = un
	return a
}

func filterByStaff(a model.Assignment, staffID string) model.Assignment {
	routes := []model.StaffRoute{}
	for _, r := range a.Routes {
		if r.StaffID == staffID {
			routes = append(routes, r)
		}
	}
	a.Routes = routes
	a.Unstaffed = nil
	return a
}

// CreateSchedule runs the compliance gate, then either the optimizer (when
// preferences are given) or manual placement, and persists the result. The
// whole request fails before any persistence when compliance rejects it.
func (s *Service) CreateSchedule(ctx context.Context, req CreateRequest) (Result, error) {
	lock := s.dayLock(req.TenantID, req.Day)
	lock.Lock()
	defer lock.Unlock()

	visits, err := s.visitsFor(ctx, req)
	if err != nil {
		return Result{}, err
	}
	roster, _, err := s.store.ListStaff(ctx, req.TenantID, "", 500)
	if err != nil {
		return Result{}, err
	}

	cres, err := s.validate.Validate(ctx, compliance.Input{TenantID: req.TenantID, Day: req.Day, Visits: visits, Roster: roster})
	if err != nil {
		return Result{}, err
	}
	if !cres.Valid {
		return Result{}, &ComplianceError{Violations: cres.Violations}
	}

	in := opt.Input{TenantID: req.TenantID, Day: req.Day, Visits: visits, Roster: roster}
	if req.Prefs != nil {
		in.Prefs = *req.Prefs
	}

	var res opt.Result
	if req.Prefs != nil {
		res, err = s.opt.Optimize(ctx, in)
	} else {
		// Manual mode: place the given assignments one by one, no
		// improvement phase.
		in.Prefs.ImprovementPasses = -1
		changes := make([]opt.Change, 0, len(req.Manual))
		for _, m := range req.Manual {
			staffID := m.StaffID
			changes = append(changes, opt.Change{VisitID: m.VisitID, StaffID: &staffID, Start: m.Start})
		}
		res, err = s.opt.Repair(ctx, in, model.Assignment{TenantID: req.TenantID, Day: req.Day}, changes)
	}
	if err != nil {
		return Result{}, err
	}

	expected := 0
	if cur, err := s.store.GetAssignment(ctx, req.TenantID, req.Day); err == nil {
		expected = cur.Version
		res.Assignment.ID = cur.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}
	saved, err := s.store.SaveAssignment(ctx, res.Assignment, expected)
	if err != nil {
		return Result{}, err
	}

	opt.RecordRun(req.TenantID, req.Day, res.Metrics)
	s.audit.Record(ctx, req.TenantID, model.AuditEvent{Type: "schedule.created", Reason: res.Metrics.Mode})
	s.log.Info("schedule created",
		zap.String("tenant", req.TenantID),
		zap.String("day", req.Day),
		zap.Int("visits", len(visits)),
		zap.Int("unresolved", len(res.Unresolved)),
		zap.Int("version", saved.Version))

	return Result{Assignment: saved, Unresolved: res.Unresolved, Metrics: res.Metrics}, nil
}

func (s *Service) visitsFor(ctx context.Context, req CreateRequest) ([]model.Visit, error) {
	if len(req.VisitIDs) > 0 {
		out := make([]model.Visit, 0, len(req.VisitIDs))
		for _, id := range req.VisitIDs {
			v, err := s.store.GetVisit(ctx, req.TenantID, id)
			if err != nil {
				return nil, fmt.Errorf("visit %s: %w", id, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
	from, to, err := dayRange(req.Day)
	if err != nil {
		return nil, err
	}
	visits, _, err := s.store.ListVisits(ctx, model.ScheduleFilter{TenantID: req.TenantID, From: from, To: to}, "", 500)
	if err != nil {
		return nil, err
	}
	out := visits[:0]
	for _, v := range visits {
		if v.State == model.VisitScheduled {
			out = append(out, v)
		}
	}
	return out, nil
}

// UpdateSchedule applies a batch of incremental edits. The default is
// all-or-nothing: the first infeasible change rejects the batch and nothing
// persists. Best-effort mode applies what it can and reports the rest.
func (s *Service) UpdateSchedule(ctx context.Context, tenantID, day string, changes []model.ScheduleChange, bestEffort bool) (Result, error) {
	for i, ch := range changes {
		if ch.Reason == "" {
			return Result{}, &BatchError{Index: i, VisitID: ch.VisitID, Err: errors.New("reason is required")}
		}
	}

	lock := s.dayLock(tenantID, day)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.GetAssignment(ctx, tenantID, day)
	if err != nil {
		return Result{}, err
	}

	from, to, err := dayRange(day)
	if err != nil {
		return Result{}, err
	}
	visits, _, err := s.store.ListVisits(ctx, model.ScheduleFilter{TenantID: tenantID, From: from, To: to}, "", 500)
	if err != nil {
		return Result{}, err
	}
	roster, _, err := s.store.ListStaff(ctx, tenantID, "", 500)
	if err != nil {
		return Result{}, err
	}
	in := opt.Input{TenantID: tenantID, Day: day, Visits: visits, Roster: roster}

	var res opt.Result
	var skipped []SkippedChange
	applied := make([]model.ScheduleChange, 0, len(changes))

	if bestEffort {
		working := current
		for i, ch := range changes {
			next, err := s.opt.Repair(ctx, in, working, []opt.Change{toOptChange(ch)})
			if err != nil {
				var infeasible *opt.InfeasibleChangeError
				if errors.As(err, &infeasible) {
					skipped = append(skipped, SkippedChange{Index: i, VisitID: ch.VisitID, Reason: infeasible.Error()})
					continue
				}
				return Result{}, err
			}
			working = next.Assignment
			res = next
			applied = append(applied, ch)
		}
		if len(applied) == 0 {
			return Result{Assignment: current, Skipped: skipped}, nil
		}
	} else {
		optChanges := make([]opt.Change, 0, len(changes))
		for _, ch := range changes {
			optChanges = append(optChanges, toOptChange(ch))
		}
		res, err = s.opt.Repair(ctx, in, current, optChanges)
		if err != nil {
			var infeasible *opt.InfeasibleChangeError
			if errors.As(err, &infeasible) {
				return Result{}, &BatchError{VisitID: infeasible.VisitID, Err: err}
			}
			return Result{}, err
		}
		applied = changes
	}

	saved, err := s.store.SaveAssignment(ctx, res.Assignment, current.Version)
	if err != nil {
		return Result{}, err
	}

	events := make([]model.AuditEvent, 0, len(applied))
	for _, ch := range applied {
		e := model.AuditEvent{Type: "schedule.updated", VisitID: ch.VisitID, Reason: ch.Reason}
		if ch.StaffID != nil {
			e.StaffID = *ch.StaffID
		}
		events = append(events, e)
	}
	s.audit.RecordAll(ctx, tenantID, events)
	opt.RecordRun(tenantID, day, res.Metrics)
	s.log.Info("schedule updated",
		zap.String("tenant", tenantID),
		zap.String("day", day),
		zap.Int("applied", len(applied)),
		zap.Int("skipped", len(skipped)),
		zap.Int("version", saved.Version))

	return Result{Assignment: saved, Unresolved: res.Unresolved, Skipped: skipped, Metrics: res.Metrics}, nil
}

func toOptChange(ch model.ScheduleChange) opt.Change {
	return opt.Change{VisitID: ch.VisitID, StaffID: ch.StaffID, Start: ch.Start}
}

// transitions maps a field event to its permitted source states.
var transitions = map[string]struct {
	from []model.VisitState
	to   model.VisitState
}{
	"start":    {from: []model.VisitState{model.VisitScheduled}, to: model.VisitInProgress},
	"complete": {from: []model.VisitState{model.VisitInProgress}, to: model.VisitCompleted},
	"cancel":   {from: []model.VisitState{model.VisitScheduled}, to: model.VisitCancelled},
	"miss":     {from: []model.VisitState{model.VisitScheduled, model.VisitInProgress}, to: model.VisitMissed},
}

// ApplyVisitEvent drives the visit state machine. Invalid transitions leave
// the state untouched.
func (s *Service) ApplyVisitEvent(ctx context.Context, tenantID, visitID string, ev model.VisitEvent) (model.Visit, error) {
	tr, ok := transitions[ev.Type]
	if !ok {
		return model.Visit{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	v, err := s.store.GetVisit(ctx, tenantID, visitID)
	if err != nil {
		return model.Visit{}, err
	}
	allowed := false
	for _, f := range tr.from {
		if v.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return model.Visit{}, &InvalidTransitionError{VisitID: visitID, From: v.State, Event: ev.Type}
	}
	updated, err := s.store.UpdateVisitState(ctx, tenantID, visitID, v.State, tr.to)
	if errors.Is(err, store.ErrStateConflict) {
		// Lost a race with a concurrent event; report the transition as
		// invalid from the now-current state.
		cur, gerr := s.store.GetVisit(ctx, tenantID, visitID)
		if gerr != nil {
			return model.Visit{}, gerr
		}
		return model.Visit{}, &InvalidTransitionError{VisitID: visitID, From: cur.State, Event: ev.Type}
	}
	if err != nil {
		return model.Visit{}, err
	}
	s.audit.Record(ctx, tenantID, model.AuditEvent{Type: "visit." + ev.Type, VisitID: visitID, Reason: ev.Note, TS: ev.TS})
	return updated, nil
}
