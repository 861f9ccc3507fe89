package opt

import (
	"context"
	"time"

	"carerounds/internal/plan"
)

const costEpsilon = 1e-6

// improve runs bounded passes of single-visit relocations and pairwise swaps,
// accepting only moves that reduce total cost and keep every hard constraint.
// A nil scope considers all routes; otherwise a move must touch at least one
// route in scope (incremental mode). Returns the best plan found when the
// deadline expires mid-pass.
func (r *run) improve(ctx context.Context, deadline time.Time, scope map[string]bool) error {
	passes := r.prefs.ImprovementPasses
	if passes == 0 {
		passes = defaultPasses
	}
	if passes < 0 {
		return nil
	}
	cur := r.totalCost().Total
	for pass := 0; pass < passes; pass++ {
		r.metrics.Passes++
		improved := false

		for _, from := range r.pl.StaffIDs() {
			for _, s := range r.pl.Stops(from) {
				v, ok := r.byID[s.VisitID]
				if !ok || v.Staffing.Count > 1 {
					continue
				}
				for _, m := range r.roster {
					if m.ID == from {
						continue
					}
					if scope != nil && !scope[from] && !scope[m.ID] {
						continue
					}
					if time.Now().After(deadline) {
						return nil
					}
					next, moved, err := r.tryRelocate(ctx, s.VisitID, from, m.ID, cur)
					if err != nil {
						return err
					}
					if moved {
						cur = next
						improved = true
						r.metrics.Relocations++
						break // stop moved off this route; next stop
					}
				}
			}
		}

		ids := r.pl.StaffIDs()
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if scope != nil && !scope[ids[i]] && !scope[ids[j]] {
					continue
				}
				for _, sa := range r.pl.Stops(ids[i]) {
					va, ok := r.byID[sa.VisitID]
					if !ok || va.Staffing.Count > 1 {
						continue
					}
					for _, sb := range r.pl.Stops(ids[j]) {
						vb, ok := r.byID[sb.VisitID]
						if !ok || vb.Staffing.Count > 1 {
							continue
						}
						if time.Now().After(deadline) {
							return nil
						}
						next, swapped, err := r.trySwap(ctx, ids[i], sa.VisitID, ids[j], sb.VisitID, cur)
						if err != nil {
							return err
						}
						if swapped {
							cur = next
							improved = true
							r.metrics.Swaps++
						}
					}
				}
			}
		}

		if !improved {
			break
		}
	}
	return nil
}

// tryRelocate moves one visit to another staff route if that strictly reduces
// total cost; otherwise the plan is restored exactly.
func (r *run) tryRelocate(ctx context.Context, visitID, from, to string, cur float64) (float64, bool, error) {
	v := r.byID[visitID]
	toStaff, ok := r.staffByID(to)
	if !ok {
		return cur, false, nil
	}
	orig, err := r.pl.Remove(from, visitID)
	if err != nil {
		return cur, false, nil
	}
	if err := r.refreshTravel(ctx, from); err != nil {
		return cur, false, err
	}
	restore := func() error {
		r.pl.Insert(from, orig)
		return r.refreshTravel(ctx, from)
	}

	c, feasible, err := r.earliestFeasible(ctx, toStaff, v, time.Time{})
	if err != nil {
		return cur, false, err
	}
	if !feasible {
		return cur, false, restore()
	}
	r.pl.Insert(to, plan.Stop{
		VisitID:   visitID,
		Start:     c.start,
		End:       c.start.Add(orig.End.Sub(orig.Start)),
		TravelSec: int(c.lead.Seconds()),
		Loc:       orig.Loc,
	})
	if err := r.refreshTravel(ctx, to); err != nil {
		return cur, false, err
	}
	next := r.totalCost().Total
	if next+costEpsilon < cur {
		return next, true, nil
	}
	if _, err := r.pl.Remove(to, visitID); err != nil {
		return cur, false, err
	}
	if err := r.refreshTravel(ctx, to); err != nil {
		return cur, false, err
	}
	return cur, false, restore()
}

// trySwap exchanges two visits across two routes if the exchange strictly
// reduces total cost and both reinsertions stay feasible.
func (r *run) trySwap(ctx context.Context, staffA, visitA, staffB, visitB string, cur float64) (float64, bool, error) {
	va, vb := r.byID[visitA], r.byID[visitB]
	ma, okA := r.staffByID(staffA)
	mb, okB := r.staffByID(staffB)
	if !okA || !okB {
		return cur, false, nil
	}
	origA, err := r.pl.Remove(staffA, visitA)
	if err != nil {
		return cur, false, nil
	}
	origB, err := r.pl.Remove(staffB, visitB)
	if err != nil {
		r.pl.Insert(staffA, origA)
		return cur, false, nil
	}
	if err := r.refreshTravel(ctx, staffA); err != nil {
		return cur, false, err
	}
	if err := r.refreshTravel(ctx, staffB); err != nil {
		return cur, false, err
	}
	restore := func() error {
		r.pl.Insert(staffA, origA)
		r.pl.Insert(staffB, origB)
		if err := r.refreshTravel(ctx, staffA); err != nil {
			return err
		}
		return r.refreshTravel(ctx, staffB)
	}

	cb, okCrossB, err := r.earliestFeasible(ctx, ma, vb, time.Time{})
	if err != nil {
		return cur, false, err
	}
	ca, okCrossA, err := r.earliestFeasible(ctx, mb, va, time.Time{})
	if err != nil {
		return cur, false, err
	}
	if !okCrossA || !okCrossB {
		return cur, false, restore()
	}
	r.pl.Insert(staffA, plan.Stop{
		VisitID:   visitB,
		Start:     cb.start,
		End:       cb.start.Add(origB.End.Sub(origB.Start)),
		TravelSec: int(cb.lead.Seconds()),
		Loc:       origB.Loc,
	})
	r.pl.Insert(staffB, plan.Stop{
		VisitID:   visitA,
		Start:     ca.start,
		End:       ca.start.Add(origA.End.Sub(origA.Start)),
		TravelSec: int(ca.lead.Seconds()),
		Loc:       origA.Loc,
	})
	if err := r.refreshTravel(ctx, staffA); err != nil {
		return cur, false, err
	}
	if err := r.refreshTravel(ctx, staffB); err != nil {
		return cur, false, err
	}
	next := r.totalCost().Total
	if next+costEpsilon < cur {
		return next, true, nil
	}
	if _, err := r.pl.Remove(staffA, visitB); err != nil {
		return cur, false, err
	}
	if _, err := r.pl.Remove(staffB, visitA); err != nil {
		return cur, false, err
	}
	return cur, false, restore()
}
