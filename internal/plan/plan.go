// Package plan holds the mutable assignment model for a scheduling period:
// one ordered route per staff member plus the set of unstaffed visits.
// Mutations are atomic per staff route; operations touching two routes take
// both locks in staff-ID order.
package plan

import (
	"errors"
	"sort"
	"sync"
	"time"

	"carerounds/internal/constraint"
	"carerounds/internal/model"
)

var ErrStopNotFound = errors.New("stop not found on route")

// Stop is one staffed visit on a route, carrying its location so travel
// buffers can be recomputed without a visit lookup.
type Stop struct {
	VisitID   string
	Start     time.Time
	End       time.Time
	TravelSec int
	Loc       model.GeoPoint
}

type route struct {
	mu    sync.Mutex
	stops []Stop
}

type Plan struct {
	TenantID string
	Day      string

	mu        sync.Mutex // guards the maps, not the routes
	routes    map[string]*route
	unstaffed map[string]struct{}
}

func New(tenantID, day string) *Plan {
	return &Plan{
		TenantID:  tenantID,
		Day:       day,
		routes:    map[string]*route{},
		unstaffed: map[string]struct{}{},
	}
}

// FromAssignment rebuilds a mutable plan from a persisted assignment. locs
// maps visit IDs to their locations.
func FromAssignment(a model.Assignment, locs map[string]model.GeoPoint) *Plan {
	p := New(a.TenantID, a.Day)
	for _, r := range a.Routes {
		rt := p.route(r.StaffID)
		for _, l := range r.Legs {
			rt.stops = append(rt.stops, Stop{
				VisitID:   l.VisitID,
				Start:     l.Start,
				End:       l.End,
				TravelSec: l.TravelSec,
				Loc:       locs[l.VisitID],
			})
		}
		sortStops(rt.stops)
	}
	for _, id := range a.Unstaffed {
		p.unstaffed[id] = struct{}{}
	}
	return p
}

func (p *Plan) route(staffID string) *route {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.routes[staffID]
	if !ok {
		r = &route{}
		p.routes[staffID] = r
	}
	return r
}

// EnsureRoute registers an empty route so snapshots include idle staff.
func (p *Plan) EnsureRoute(staffID string) { p.route(staffID) }

// Insert adds a stop to the staff route, keeping start order.
func (p *Plan) Insert(staffID string, s Stop) {
	r := p.route(staffID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, s)
	sortStops(r.stops)
	p.mu.Lock()
	delete(p.unstaffed, s.VisitID)
	p.mu.Unlock()
}

// Remove deletes the visit's stop from the staff route.
func (p *Plan) Remove(staffID, visitID string) (Stop, error) {
	r := p.route(staffID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.stops {
		if s.VisitID == visitID {
			r.stops = append(r.stops[:i], r.stops[i+1:]...)
			return s, nil
		}
	}
	return Stop{}, ErrStopNotFound
}

// Move relocates a visit from one staff route to another (or re-times it on
// the same route). Both route locks are taken in staff-ID order.
func (p *Plan) Move(fromStaff, toStaff string, s Stop) error {
	if fromStaff == toStaff {
		r := p.route(fromStaff)
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, old := range r.stops {
			if old.VisitID == s.VisitID {
				r.stops[i] = s
				sortStops(r.stops)
				return nil
			}
		}
		return ErrStopNotFound
	}
	a, b := p.route(fromStaff), p.route(toStaff)
	first, second := a, b
	if toStaff < fromStaff {
		first, second = b, a
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	for i, old := range a.stops {
		if old.VisitID == s.VisitID {
			a.stops = append(a.stops[:i], a.stops[i+1:]...)
			b.stops = append(b.stops, s)
			sortStops(b.stops)
			return nil
		}
	}
	return ErrStopNotFound
}

// Swap exchanges two visits between two staff routes atomically.
func (p *Plan) Swap(staffA, visitA, staffB, visitB string, newA, newB Stop) error {
	if staffA == staffB {
		return errors.New("swap requires distinct staff routes")
	}
	a, b := p.route(staffA), p.route(staffB)
	first, second := a, b
	if staffB < staffA {
		first, second = b, a
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	ia, ib := indexOf(a.stops, visitA), indexOf(b.stops, visitB)
	if ia < 0 || ib < 0 {
		return ErrStopNotFound
	}
	a.stops = append(a.stops[:ia], a.stops[ia+1:]...)
	b.stops = append(b.stops[:ib], b.stops[ib+1:]...)
	a.stops = append(a.stops, newB)
	b.stops = append(b.stops, newA)
	sortStops(a.stops)
	sortStops(b.stops)
	return nil
}

// ReplaceStops swaps a staff route's stops wholesale, used when travel times
// are recomputed after an insertion changes a successor's predecessor.
func (p *Plan) ReplaceStops(staffID string, stops []Stop) {
	r := p.route(staffID)
	r.mu.Lock()
	defer r.mu.Unlock()
	sortStops(stops)
	r.stops = stops
}

// MarkUnstaffed records a visit that no eligible staff could take.
func (p *Plan) MarkUnstaffed(visitID string) {
	p.mu.Lock()
	p.unstaffed[visitID] = struct{}{}
	p.mu.Unlock()
}

// ClearUnstaffed removes a visit from the unstaffed set, e.g. after a manual
// override staffs it.
func (p *Plan) ClearUnstaffed(visitID string) {
	p.mu.Lock()
	delete(p.unstaffed, visitID)
	p.mu.Unlock()
}

// Commitments returns the staff route as checker input, sorted by start.
func (p *Plan) Commitments(staffID string) []constraint.Commitment {
	r := p.route(staffID)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]constraint.Commitment, len(r.stops))
	for i, s := range r.stops {
		out[i] = constraint.Commitment{VisitID: s.VisitID, Start: s.Start, End: s.End, Loc: s.Loc}
	}
	return out
}

// Stops returns a copy of the staff route.
func (p *Plan) Stops(staffID string) []Stop {
	r := p.route(staffID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stop(nil), r.stops...)
}

// StaffIDs returns every staff ID with a registered route, sorted.
func (p *Plan) StaffIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.routes))
	for id := range p.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FindVisit returns the staff route currently holding the visit.
func (p *Plan) FindVisit(visitID string) (staffID string, s Stop, ok bool) {
	for _, id := range p.StaffIDs() {
		for _, st := range p.Stops(id) {
			if st.VisitID == visitID {
				return id, st, true
			}
		}
	}
	return "", Stop{}, false
}

// Unstaffed returns the unstaffed visit IDs, sorted.
func (p *Plan) Unstaffed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.unstaffed))
	for id := range p.unstaffed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AssignedCount returns the number of distinct assigned visits.
func (p *Plan) AssignedCount() int {
	seen := map[string]struct{}{}
	for _, id := range p.StaffIDs() {
		for _, s := range p.Stops(id) {
			seen[s.VisitID] = struct{}{}
		}
	}
	return len(seen)
}

// TravelSeconds sums travel time across all routes.
func (p *Plan) TravelSeconds() float64 {
	total := 0.0
	for _, id := range p.StaffIDs() {
		for _, s := range p.Stops(id) {
			total += float64(s.TravelSec)
		}
	}
	return total
}

// Workload returns committed seconds (service plus travel) per staff route.
func (p *Plan) Workload() map[string]float64 {
	out := map[string]float64{}
	for _, id := range p.StaffIDs() {
		w := 0.0
		for _, s := range p.Stops(id) {
			w += s.End.Sub(s.Start).Seconds() + float64(s.TravelSec)
		}
		out[id] = w
	}
	return out
}

// Snapshot renders a deterministic immutable view: routes sorted by staff ID,
// legs by start time.
func (p *Plan) Snapshot() model.Assignment {
	a := model.Assignment{TenantID: p.TenantID, Day: p.Day, Unstaffed: p.Unstaffed()}
	for _, id := range p.StaffIDs() {
		r := model.StaffRoute{StaffID: id}
		for _, s := range p.Stops(id) {
			r.Legs = append(r.Legs, model.Leg{
				VisitID:   s.VisitID,
				StaffID:   id,
				Start:     s.Start,
				End:       s.End,
				TravelSec: s.TravelSec,
			})
		}
		a.Routes = append(a.Routes, r)
	}
	return a
}

func indexOf(stops []Stop, visitID string) int {
	for i, s := range stops {
		if s.VisitID == visitID {
			return i
		}
	}
	return -1
}

func sortStops(stops []Stop) {
	sort.Slice(stops, func(i, j int) bool {
		if !stops[i].Start.Equal(stops[j].Start) {
			return stops[i].Start.Before(stops[j].Start)
		}
		return stops[i].VisitID < stops[j].VisitID
	})
}
