// Package opt implements the visit scheduling engine: a deterministic greedy
// construction pass followed by a bounded local-search improvement phase.
package opt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"carerounds/internal/constraint"
	"carerounds/internal/geo"
	"carerounds/internal/model"
	"carerounds/internal/plan"
)

// Default cost weights. Costs are denominated in travel seconds; the
// preference weight is the seconds-equivalent penalty for bypassing a
// client's preferred carer.
const (
	defaultTravelWeight     = 1.0
	defaultBalanceWeight    = 0.1
	defaultPreferenceWeight = 600.0
	defaultPasses           = 2
	defaultTimeBudget       = 500 * time.Millisecond
)

type Optimizer struct {
	Geo geo.Provider
	Log *zap.Logger
}

func New(g geo.Provider, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{Geo: g, Log: log}
}

type Input struct {
	TenantID string
	Day      string
	Visits   []model.Visit
	Roster   []model.StaffMember
	Prefs    model.Preferences
}

type Result struct {
	Assignment model.Assignment
	Unresolved []string
	Cost       model.CostBreakdown
	Metrics    RunMetrics
}

// RunMetrics describes one optimizer run for the admin metrics endpoints.
type RunMetrics struct {
	Mode        string `json:"mode"`
	Visits      int    `json:"visits"`
	Assigned    int    `json:"assigned"`
	Unresolved  int    `json:"unresolved"`
	Passes      int    `json:"passes"`
	Relocations int    `json:"relocations"`
	Swaps       int    `json:"swaps"`
	GeoHits     int    `json:"geoHits"`
	GeoMisses   int    `json:"geoMisses"`
	ElapsedMs   int64  `json:"elapsedMs"`
}

type weights struct {
	travel     float64
	balance    float64
	preference float64
}

func resolveWeights(p model.Preferences) weights {
	w := weights{travel: defaultTravelWeight}
	if p.TravelWeight > 0 {
		w.travel = p.TravelWeight
	}
	if p.BalanceWorkload {
		w.balance = defaultBalanceWeight
		if p.BalanceWeight > 0 {
			w.balance = p.BalanceWeight
		}
	}
	if p.PrioritizeClientPreferences {
		w.preference = defaultPreferenceWeight
		if p.PreferenceWeight > 0 {
			w.preference = p.PreferenceWeight
		}
	}
	return w
}

// run bundles the per-invocation state: the geo cache scoped to this run, the
// checker built on it, and deterministic copies of the inputs.
type run struct {
	opt     *Optimizer
	cache   *geo.RunCache
	checker *constraint.Checker
	pl      *plan.Plan
	visits  []model.Visit
	byID    map[string]model.Visit
	roster  []model.StaffMember
	prefs   model.Preferences
	w       weights
	metrics RunMetrics
}

func (o *Optimizer) newRun(in Input) *run {
	cache := geo.NewRunCache(o.Geo)
	r := &run{
		opt:     o,
		cache:   cache,
		checker: constraint.NewChecker(cache),
		pl:      plan.New(in.TenantID, in.Day),
		prefs:   in.Prefs,
		w:       resolveWeights(in.Prefs),
		byID:    map[string]model.Visit{},
	}
	r.visits = append(r.visits, in.Visits...)
	sort.Slice(r.visits, func(i, j int) bool {
		a, b := r.visits[i], r.visits[j]
		if !a.Window.EarliestStart.Equal(b.Window.EarliestStart) {
			return a.Window.EarliestStart.Before(b.Window.EarliestStart)
		}
		return a.ID < b.ID
	})
	for _, v := range r.visits {
		r.byID[v.ID] = v
	}
	r.roster = append(r.roster, in.Roster...)
	sort.Slice(r.roster, func(i, j int) bool { return r.roster[i].ID < r.roster[j].ID })
	for _, m := range r.roster {
		r.pl.EnsureRoute(m.ID)
	}
	return r
}

// Optimize builds an assignment for the given visits and roster. Identical
// inputs produce identical output: visits are processed in ascending
// earliest-start order, candidates in staff-ID order, and ties break on lower
// lead-in travel then staff ID.
func (o *Optimizer) Optimize(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	r := o.newRun(in)
	r.metrics.Mode = "full"
	r.metrics.Visits = len(r.visits)

	for _, v := range r.visits {
		if err := r.construct(ctx, v); err != nil {
			return Result{}, err
		}
	}

	if err := r.improve(ctx, deadlineFor(r.prefs, started), nil); err != nil {
		return Result{}, err
	}

	return r.finish(started), nil
}

func (r *run) finish(started time.Time) Result {
	cost := r.totalCost()
	a := r.pl.Snapshot()
	a.Cost = cost
	r.metrics.Assigned = r.pl.AssignedCount()
	r.metrics.Unresolved = len(a.Unstaffed)
	r.metrics.GeoHits, r.metrics.GeoMisses = r.cache.Stats()
	r.metrics.ElapsedMs = time.Since(started).Milliseconds()
	r.opt.Log.Debug("optimizer run finished",
		zap.String("mode", r.metrics.Mode),
		zap.Int("visits", r.metrics.Visits),
		zap.Int("unresolved", r.metrics.Unresolved),
		zap.Float64("cost", cost.Total),
		zap.Int64("elapsedMs", r.metrics.ElapsedMs),
	)
	return Result{Assignment: a, Unresolved: a.Unstaffed, Cost: cost, Metrics: r.metrics}
}

func deadlineFor(p model.Preferences, started time.Time) time.Time {
	budget := defaultTimeBudget
	if p.TimeBudgetMs > 0 {
		budget = time.Duration(p.TimeBudgetMs) * time.Millisecond
	}
	return started.Add(budget)
}

type candidate struct {
	staff model.StaffMember
	start time.Time
	lead  time.Duration
	cost  float64
}

// construct assigns one visit to its required number of staff, or marks it
// unstaffed. Multi-staff visits share a single start time.
func (r *run) construct(ctx context.Context, v model.Visit) error {
	need := v.Staffing.Count
	if need <= 0 {
		need = 1
	}
	workload := r.pl.Workload()
	chosen := make([]candidate, 0, need)
	taken := map[string]bool{}
	shared := time.Time{}

	for slot := 0; slot < need; slot++ {
		var best *candidate
		for _, m := range r.roster {
			if taken[m.ID] {
				continue
			}
			c, ok, err := r.earliestFeasible(ctx, m, v, shared)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			c.cost = r.incrementalCost(m, c.lead, v, workload)
			if best == nil || less(c, *best) {
				tmp := c
				best = &tmp
			}
		}
		if best == nil {
			r.markUnresolved(v, chosen)
			return nil
		}
		taken[best.staff.ID] = true
		chosen = append(chosen, *best)
		if best.start.After(shared) {
			shared = best.start
		}
	}

	// Everyone attends at the latest feasible start among the chosen; confirm
	// eligibility there before committing.
	for i := range chosen {
		if chosen[i].start.Equal(shared) {
			continue
		}
		elig, err := r.checker.IsEligible(ctx, chosen[i].staff, v, shared, r.pl.Commitments(chosen[i].staff.ID), r.prefs)
		if err != nil {
			return err
		}
		if !elig.OK {
			r.markUnresolved(v, nil)
			return nil
		}
		lead, err := r.checker.LeadInTravel(ctx, chosen[i].staff, v, shared, r.pl.Commitments(chosen[i].staff.ID))
		if err != nil {
			return err
		}
		chosen[i].start = shared
		chosen[i].lead = lead
	}

	end := shared.Add(time.Duration(v.DurationSec) * time.Second)
	for _, c := range chosen {
		r.pl.Insert(c.staff.ID, plan.Stop{
			VisitID:   v.ID,
			Start:     shared,
			End:       end,
			TravelSec: int(c.lead.Seconds()),
			Loc:       v.Location.Point(),
		})
		if err := r.refreshTravel(ctx, c.staff.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) markUnresolved(v model.Visit, partial []candidate) {
	// A partially staffed visit is not staffed at all; never leave a
	// half-covered double-up on the rota.
	for _, c := range partial {
		_, _ = r.pl.Remove(c.staff.ID, v.ID)
	}
	r.pl.MarkUnstaffed(v.ID)
}

// less orders candidates by cost, then lead-in travel, then staff ID.
func less(a, b candidate) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.lead != b.lead {
		return a.lead < b.lead
	}
	return a.staff.ID < b.staff.ID
}

func (r *run) incrementalCost(m model.StaffMember, lead time.Duration, v model.Visit, workload map[string]float64) float64 {
	cost := lead.Seconds() * r.w.travel
	if r.w.balance > 0 {
		cost += workload[m.ID] * r.w.balance
	}
	if r.w.preference > 0 && !isPreferred(v, m.ID) {
		cost += r.w.preference
	}
	return cost
}

func isPreferred(v model.Visit, staffID string) bool {
	if len(v.Staffing.PreferredStaff) == 0 {
		return true
	}
	for _, id := range v.Staffing.PreferredStaff {
		if id == staffID {
			return true
		}
	}
	return false
}

// earliestFeasible finds the earliest start within the visit window at which
// the staff member passes all hard constraints, considering their current
// route. Candidate starts are the window opening, the lower bound, and each
// commitment's end plus travel.
func (r *run) earliestFeasible(ctx context.Context, m model.StaffMember, v model.Visit, notBefore time.Time) (candidate, bool, error) {
	route := r.pl.Commitments(m.ID)
	starts := []time.Time{v.Window.EarliestStart}
	if notBefore.After(v.Window.EarliestStart) {
		starts = []time.Time{notBefore}
	}
	for _, c := range route {
		tr, err := r.cache.TravelTime(ctx, c.Loc, v.Location.Point())
		if err != nil {
			return candidate{}, false, fmt.Errorf("travel time lookup: %w", err)
		}
		t := c.End.Add(tr)
		if t.After(starts[0]) && !t.After(v.Window.LatestStart) {
			starts = append(starts, t)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for _, s := range starts {
		if s.After(v.Window.LatestStart) {
			break
		}
		elig, err := r.checker.IsEligible(ctx, m, v, s, route, r.prefs)
		if err != nil {
			return candidate{}, false, err
		}
		if !elig.OK {
			continue
		}
		lead, err := r.checker.LeadInTravel(ctx, m, v, s, route)
		if err != nil {
			return candidate{}, false, err
		}
		return candidate{staff: m, start: s, lead: lead}, true, nil
	}
	return candidate{}, false, nil
}

// refreshTravel recomputes each stop's lead-in travel after the route shape
// changed. Start times are untouched; feasibility was checked on insert.
func (r *run) refreshTravel(ctx context.Context, staffID string) error {
	m, ok := r.staffByID(staffID)
	if !ok {
		return fmt.Errorf("unknown staff %s", staffID)
	}
	stops := r.pl.Stops(staffID)
	prev := m.Base
	for i := range stops {
		tr, err := r.cache.TravelTime(ctx, prev, stops[i].Loc)
		if err != nil {
			return fmt.Errorf("travel time lookup: %w", err)
		}
		stops[i].TravelSec = int(tr.Seconds())
		prev = stops[i].Loc
	}
	r.pl.ReplaceStops(staffID, stops)
	return nil
}

func (r *run) staffByID(id string) (model.StaffMember, bool) {
	i := sort.Search(len(r.roster), func(i int) bool { return r.roster[i].ID >= id })
	if i < len(r.roster) && r.roster[i].ID == id {
		return r.roster[i], true
	}
	return model.StaffMember{}, false
}

// totalCost evaluates the weighted objective over the whole plan.
func (r *run) totalCost() model.CostBreakdown {
	travel := r.pl.TravelSeconds()
	imbalance := 0.0
	if r.w.balance > 0 {
		wl := r.pl.Workload()
		lo, hi := 0.0, 0.0
		first := true
		for _, m := range r.roster {
			w := wl[m.ID]
			if first {
				lo, hi = w, w
				first = false
				continue
			}
			if w < lo {
				lo = w
			}
			if w > hi {
				hi = w
			}
		}
		imbalance = hi - lo
	}
	preference := 0.0
	if r.w.preference > 0 {
		for _, id := range r.pl.StaffIDs() {
			for _, s := range r.pl.Stops(id) {
				if v, ok := r.byID[s.VisitID]; ok && !isPreferred(v, id) {
					preference++
				}
			}
		}
	}
	return model.CostBreakdown{
		TravelSec:  travel,
		Imbalance:  imbalance,
		Preference: preference,
		Total:      travel*r.w.travel + imbalance*r.w.balance + preference*r.w.preference,
	}
}
