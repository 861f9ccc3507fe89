// Package recurrence expands a visit recurrence rule into concrete visit
// instances. Expansion happens exactly once, at creation time; the stored
// visits carry no link back to the rule, so later edits to one instance can
// never cross-mutate a sibling.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"carerounds/internal/model"
)

// MaxInstances caps a single expansion to keep bulk creates bounded.
const MaxInstances = 366

// Expand returns one visit per occurrence, the first being the template
// itself. The template's window and duration shift together with each
// occurrence of its EarliestStart.
func Expand(in model.VisitIn) ([]model.VisitIn, error) {
	if in.Recurrence == nil {
		return []model.VisitIn{in}, nil
	}
	rec := *in.Recurrence
	var freq rrule.Frequency
	switch rec.Freq {
	case model.FreqDaily:
		freq = rrule.DAILY
	case model.FreqWeekly:
		freq = rrule.WEEKLY
	case model.FreqMonthly:
		freq = rrule.MONTHLY
	default:
		return nil, fmt.Errorf("unsupported recurrence freq %q", rec.Freq)
	}
	interval := rec.Interval
	if interval <= 0 {
		interval = 1
	}
	if rec.Until.IsZero() {
		return nil, fmt.Errorf("recurrence until is required")
	}
	if rec.Until.Before(in.Window.EarliestStart) {
		return nil, fmt.Errorf("recurrence until %s precedes window start", rec.Until.Format(time.RFC3339))
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  in.Window.EarliestStart,
		Until:    rec.Until,
		Count:    MaxInstances,
	})
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}
	windowSpan := in.Window.LatestStart.Sub(in.Window.EarliestStart)
	out := make([]model.VisitIn, 0, 8)
	for _, occ := range rule.All() {
		inst := in
		inst.Recurrence = nil
		inst.Window = model.TimeWindow{EarliestStart: occ, LatestStart: occ.Add(windowSpan)}
		out = append(out, inst)
		if len(out) >= MaxInstances {
			break
		}
	}
	return out, nil
}
