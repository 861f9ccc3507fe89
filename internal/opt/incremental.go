package opt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"carerounds/internal/constraint"
	"carerounds/internal/model"
	"carerounds/internal/plan"
)

// Change is one incremental edit to an existing assignment. A nil StaffID
// keeps the current assignee; an empty string unassigns the visit.
type Change struct {
	VisitID string
	StaffID *string
	Start   *time.Time
}

// InfeasibleChangeError reports the hard constraints a requested change would
// violate. It is data for the caller, carried as an error so a batch aborts.
type InfeasibleChangeError struct {
	VisitID    string
	StaffID    string
	Violations []constraint.Violation
}

func (e *InfeasibleChangeError) Error() string {
	reasons := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		reasons[i] = string(v.Reason)
	}
	return fmt.Sprintf("change to visit %s infeasible for staff %s: %s", e.VisitID, e.StaffID, strings.Join(reasons, ", "))
}

// Repair applies incremental edits to an existing assignment, recomputing
// only the affected staff routes, then runs the improvement phase scoped to
// those routes. The input plan is rebuilt from the persisted assignment, so a
// failed batch leaves nothing behind.
func (o *Optimizer) Repair(ctx context.Context, in Input, current model.Assignment, changes []Change) (Result, error) {
	started := time.Now()
	r := o.newRun(in)
	r.metrics.Mode = "repair"
	r.metrics.Visits = len(changes)

	locs := map[string]model.GeoPoint{}
	for _, v := range in.Visits {
		locs[v.ID] = v.Location.Point()
	}
	r.pl = plan.FromAssignment(current, locs)
	for _, m := range r.roster {
		r.pl.EnsureRoute(m.ID)
	}

	affected := map[string]bool{}
	for _, ch := range changes {
		touched, err := r.applyChange(ctx, ch)
		if err != nil {
			return Result{}, err
		}
		for _, id := range touched {
			affected[id] = true
		}
	}

	if len(affected) > 0 {
		if err := r.improve(ctx, deadlineFor(r.prefs, started), affected); err != nil {
			return Result{}, err
		}
	}

	res := r.finish(started)
	res.Assignment.ID = current.ID
	res.Assignment.Version = current.Version
	return res, nil
}

func (r *run) applyChange(ctx context.Context, ch Change) ([]string, error) {
	v, ok := r.byID[ch.VisitID]
	if !ok {
		return nil, fmt.Errorf("unknown visit %s", ch.VisitID)
	}
	holder, cur, held := r.pl.FindVisit(ch.VisitID)

	// Reassigning a double-up visit piecemeal would leave its siblings on a
	// stale start; those go through a full re-optimize instead.
	if v.Staffing.Count > 1 && ch.StaffID != nil {
		return nil, &InfeasibleChangeError{VisitID: ch.VisitID, StaffID: strVal(ch.StaffID),
			Violations: []constraint.Violation{{Reason: constraint.ReasonOverlap, Detail: "multi-staff visit requires full re-optimization"}}}
	}

	// Unassign.
	if ch.StaffID != nil && *ch.StaffID == "" {
		if !held {
			return nil, nil // already unstaffed; a repeated no-op stays a no-op
		}
		if _, err := r.pl.Remove(holder, ch.VisitID); err != nil {
			return nil, err
		}
		if err := r.refreshTravel(ctx, holder); err != nil {
			return nil, err
		}
		r.pl.MarkUnstaffed(ch.VisitID)
		return []string{holder}, nil
	}

	target := holder
	if ch.StaffID != nil {
		target = *ch.StaffID
	}
	if target == "" {
		// Unstaffed visit with no explicit target: construct picks the best
		// eligible staff, or leaves it unstaffed again.
		if err := r.construct(ctx, v); err != nil {
			return nil, err
		}
		if newHolder, _, ok := r.pl.FindVisit(ch.VisitID); ok {
			return []string{newHolder}, nil
		}
		return nil, nil
	}
	m, ok := r.staffByID(target)
	if !ok {
		return nil, fmt.Errorf("unknown staff %s", target)
	}

	touched := []string{target}
	if held {
		if _, err := r.pl.Remove(holder, ch.VisitID); err != nil {
			return nil, err
		}
		if err := r.refreshTravel(ctx, holder); err != nil {
			return nil, err
		}
		if holder != target {
			touched = append(touched, holder)
		}
	}

	var start time.Time
	var lead time.Duration
	if ch.Start != nil {
		// An explicit start is a manual override: it must hold exactly.
		elig, err := r.checker.IsEligible(ctx, m, v, *ch.Start, r.pl.Commitments(target), r.prefs)
		if err != nil {
			return nil, err
		}
		if !elig.OK {
			if held {
				r.pl.Insert(holder, cur)
				if err := r.refreshTravel(ctx, holder); err != nil {
					return nil, err
				}
			}
			return nil, &InfeasibleChangeError{VisitID: ch.VisitID, StaffID: target, Violations: elig.Violations}
		}
		start = *ch.Start
		lead, err = r.checker.LeadInTravel(ctx, m, v, start, r.pl.Commitments(target))
		if err != nil {
			return nil, err
		}
	} else {
		c, feasible, err := r.earliestFeasible(ctx, m, v, time.Time{})
		if err != nil {
			return nil, err
		}
		if !feasible {
			if held {
				r.pl.Insert(holder, cur)
				if err := r.refreshTravel(ctx, holder); err != nil {
					return nil, err
				}
			}
			return nil, &InfeasibleChangeError{VisitID: ch.VisitID, StaffID: target,
				Violations: []constraint.Violation{{Reason: constraint.ReasonOverlap, Detail: "no feasible start on target route"}}}
		}
		start, lead = c.start, c.lead
	}

	r.pl.Insert(target, plan.Stop{
		VisitID:   ch.VisitID,
		Start:     start,
		End:       start.Add(time.Duration(v.DurationSec) * time.Second),
		TravelSec: int(lead.Seconds()),
		Loc:       v.Location.Point(),
	})
	if err := r.refreshTravel(ctx, target); err != nil {
		return nil, err
	}
	sort.Strings(touched)
	return touched, nil
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
