// Package compliance gates schedules against regulatory rules before they
// reach the optimizer. The service treats the validator as a collaborator and
// rejects the whole request when validation fails.
package compliance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"carerounds/internal/model"
)

// Input is one scheduling request to validate: the visits to place and the
// roster available for the day.
type Input struct {
	TenantID string
	Day      string
	Visits   []model.Visit
	Roster   []model.StaffMember
}

type Violation struct {
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
	VisitID string `json:"visitId,omitempty"`
}

type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

type Validator interface {
	Validate(ctx context.Context, in Input) (Result, error)
}

const (
	RuleStaffingRatio   = "staffing_ratio"
	RuleClientOverlap   = "client_visit_overlap"
	RuleCapacity        = "roster_capacity"
	RuleWindowUnordered = "window_unordered"
)

// Rules is the default validator. All checks run; violations accumulate.
type Rules struct{}

func NewRules() Rules { return Rules{} }

func (Rules) Validate(ctx context.Context, in Input) (Result, error) {
	var out []Violation

	for _, v := range in.Visits {
		if v.Window.LatestStart.Before(v.Window.EarliestStart) {
			out = append(out, Violation{
				Rule:    RuleWindowUnordered,
				Detail:  "latest start precedes earliest start",
				VisitID: v.ID,
			})
		}
		if v.Staffing.Count > len(in.Roster) {
			out = append(out, Violation{
				Rule:    RuleStaffingRatio,
				Detail:  fmt.Sprintf("visit needs %d staff, roster has %d", v.Staffing.Count, len(in.Roster)),
				VisitID: v.ID,
			})
		}
	}

	out = append(out, clientOverlaps(in.Visits)...)

	if len(in.Visits) > 0 && capacityShortfall(in.Visits, in.Roster) {
		out = append(out, Violation{
			Rule:   RuleCapacity,
			Detail: "required care hours exceed rostered working hours for the day",
		})
	}

	return Result{Valid: len(out) == 0, Violations: out}, nil
}

// clientOverlaps flags two visits for the same client whose windows force an
// overlap: even at the extremes of both windows the visits cannot be
// sequenced.
func clientOverlaps(visits []model.Visit) []Violation {
	byClient := map[string][]model.Visit{}
	for _, v := range visits {
		byClient[v.ClientID] = append(byClient[v.ClientID], v)
	}
	var out []Violation
	clients := make([]string, 0, len(byClient))
	for c := range byClient {
		clients = append(clients, c)
	}
	sort.Strings(clients)
	for _, c := range clients {
		vs := byClient[c]
		sort.Slice(vs, func(i, j int) bool { return vs[i].Window.EarliestStart.Before(vs[j].Window.EarliestStart) })
		for i := 1; i < len(vs); i++ {
			prev, cur := vs[i-1], vs[i]
			prevEarliestEnd := prev.Window.EarliestStart.Add(time.Duration(prev.DurationSec) * time.Second)
			if cur.Window.LatestStart.Before(prevEarliestEnd) {
				out = append(out, Violation{
					Rule:    RuleClientOverlap,
					Detail:  fmt.Sprintf("overlaps earlier visit %s for the same client", prev.ID),
					VisitID: cur.ID,
				})
			}
		}
	}
	return out
}

// capacityShortfall compares total required staff-seconds against the total
// rostered seconds on the visits' weekday. A coarse bound: passing it does not
// guarantee feasibility, failing it guarantees infeasibility.
func capacityShortfall(visits []model.Visit, roster []model.StaffMember) bool {
	required := 0
	var day time.Weekday
	for i, v := range visits {
		if i == 0 {
			day = v.Window.EarliestStart.Weekday()
		}
		count := v.Staffing.Count
		if count <= 0 {
			count = 1
		}
		required += v.DurationSec * count
	}
	available := 0
	for _, s := range roster {
		for _, wh := range s.WorkingHours {
			if wh.Weekday != day {
				continue
			}
			start, err1 := time.Parse("15:04", wh.Start)
			end, err2 := time.Parse("15:04", wh.End)
			if err1 != nil || err2 != nil || !end.After(start) {
				continue
			}
			available += int(end.Sub(start) / time.Second)
		}
	}
	return required > available
}
