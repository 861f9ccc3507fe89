// Package constraint evaluates whether a staff member can take a visit at a
// proposed start time. All checks are hard constraints; soft preferences are
// costed by the optimizer, never here.
package constraint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"carerounds/internal/geo"
	"carerounds/internal/model"
)

type Reason string

const (
	ReasonMissingQualification Reason = "missing_qualification"
	ReasonGenderMismatch       Reason = "gender_mismatch"
	ReasonOutsideWindow        Reason = "outside_time_window"
	ReasonOutsideWorkingHours  Reason = "outside_working_hours"
	ReasonTravelCeiling        Reason = "travel_ceiling_exceeded"
	ReasonOverlap              Reason = "route_overlap"
)

type Violation struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Eligibility carries every violated reason so callers can report diagnostics
// rather than just the first failure.
type Eligibility struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// Commitment is one existing entry on a staff member's route, ordered by
// start time. Loc is the visit location, needed for travel buffers.
type Commitment struct {
	VisitID string
	Start   time.Time
	End     time.Time
	Loc     model.GeoPoint
}

// Checker is pure given a deterministic geo provider.
type Checker struct {
	Geo geo.Provider
}

func NewChecker(g geo.Provider) *Checker { return &Checker{Geo: g} }

// IsEligible runs the hard-constraint checks in order, collecting all
// violations. route must be sorted by start and exclude the visit under
// consideration. Geo failures abort with an error; they are faults, not
// violations.
func (c *Checker) IsEligible(ctx context.Context, staff model.StaffMember, visit model.Visit, proposedStart time.Time, route []Commitment, prefs model.Preferences) (Eligibility, error) {
	var vs []Violation
	end := proposedStart.Add(time.Duration(visit.DurationSec) * time.Second)

	if prefs.ConsiderQualifications == nil || *prefs.ConsiderQualifications {
		for _, q := range visit.RequiredQualifications() {
			if !staff.HasQualification(q) {
				vs = append(vs, Violation{Reason: ReasonMissingQualification, Detail: string(q)})
			}
		}
	}

	if g := visit.Staffing.Gender; g != "" && g != model.GenderPrefAny && string(g) != string(staff.Gender) {
		vs = append(vs, Violation{Reason: ReasonGenderMismatch, Detail: fmt.Sprintf("visit requires %s", g)})
	}

	if proposedStart.Before(visit.Window.EarliestStart) || proposedStart.After(visit.Window.LatestStart) {
		vs = append(vs, Violation{Reason: ReasonOutsideWindow, Detail: fmt.Sprintf(
			"start %s outside [%s, %s]",
			proposedStart.Format(time.RFC3339),
			visit.Window.EarliestStart.Format(time.RFC3339),
			visit.Window.LatestStart.Format(time.RFC3339))})
	}

	// Travel from the prior commitment, or base if first of the day.
	prev, next := neighbors(route, proposedStart)
	fromLoc := staff.Base
	if prev != nil {
		fromLoc = prev.Loc
	}
	leadIn, err := c.Geo.TravelTime(ctx, fromLoc, visit.Location.Point())
	if err != nil {
		return Eligibility{}, fmt.Errorf("travel time lookup: %w", err)
	}

	if v, ok := c.checkWorkingHours(staff, proposedStart, end, leadIn); !ok {
		vs = append(vs, v)
	}

	ceiling := travelCeiling(staff, prefs)
	if ceiling > 0 && leadIn > ceiling {
		vs = append(vs, Violation{Reason: ReasonTravelCeiling, Detail: fmt.Sprintf("%s exceeds ceiling %s", leadIn.Round(time.Second), ceiling)})
	}

	if prev != nil && prev.End.Add(leadIn).After(proposedStart) {
		vs = append(vs, Violation{Reason: ReasonOverlap, Detail: fmt.Sprintf("conflicts with visit %s", prev.VisitID)})
	}
	if next != nil {
		out, err := c.Geo.TravelTime(ctx, visit.Location.Point(), next.Loc)
		if err != nil {
			return Eligibility{}, fmt.Errorf("travel time lookup: %w", err)
		}
		if end.Add(out).After(next.Start) {
			vs = append(vs, Violation{Reason: ReasonOverlap, Detail: fmt.Sprintf("conflicts with visit %s", next.VisitID)})
		}
	}

	return Eligibility{OK: len(vs) == 0, Violations: vs}, nil
}

// LeadInTravel returns the travel time from the staff member's prior
// commitment (or base) to the visit, given the proposed start.
func (c *Checker) LeadInTravel(ctx context.Context, staff model.StaffMember, visit model.Visit, proposedStart time.Time, route []Commitment) (time.Duration, error) {
	prev, _ := neighbors(route, proposedStart)
	fromLoc := staff.Base
	if prev != nil {
		fromLoc = prev.Loc
	}
	return c.Geo.TravelTime(ctx, fromLoc, visit.Location.Point())
}

func (c *Checker) checkWorkingHours(staff model.StaffMember, start, end time.Time, leadIn time.Duration) (Violation, bool) {
	var wh *model.WorkingHours
	for i := range staff.WorkingHours {
		if staff.WorkingHours[i].Weekday == start.Weekday() {
			wh = &staff.WorkingHours[i]
			break
		}
	}
	if wh == nil {
		return Violation{Reason: ReasonOutsideWorkingHours, Detail: fmt.Sprintf("not working on %s", start.Weekday())}, false
	}
	dayStart, err1 := atClock(start, wh.Start)
	dayEnd, err2 := atClock(start, wh.End)
	if err1 != nil || err2 != nil {
		return Violation{Reason: ReasonOutsideWorkingHours, Detail: "invalid working hours"}, false
	}
	// The visit plus lead-in travel must fit inside the working window.
	if start.Add(-leadIn).Before(dayStart) || end.After(dayEnd) {
		return Violation{Reason: ReasonOutsideWorkingHours, Detail: fmt.Sprintf(
			"visit plus travel outside %s-%s", wh.Start, wh.End)}, false
	}
	return Violation{}, true
}

// neighbors finds the commitments immediately before and after the proposed
// start on a route sorted by start time.
func neighbors(route []Commitment, start time.Time) (prev, next *Commitment) {
	i := sort.Search(len(route), func(i int) bool { return route[i].Start.After(start) })
	if i > 0 {
		prev = &route[i-1]
	}
	if i < len(route) {
		next = &route[i]
	}
	return prev, next
}

func travelCeiling(staff model.StaffMember, prefs model.Preferences) time.Duration {
	ceil := time.Duration(staff.MaxTravelSec) * time.Second
	if prefs.MaxTravelSec > 0 {
		p := time.Duration(prefs.MaxTravelSec) * time.Second
		if ceil == 0 || p < ceil {
			ceil = p
		}
	}
	return ceil
}

func atClock(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
