package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"carerounds/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("field %s failed on %q", e.Field(), e.Tag())
		}
		return err
	}
	return nil
}

func validateVisitIn(in *model.VisitIn) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Window.EarliestStart.After(in.Window.LatestStart) {
		return fmt.Errorf("window earliestStart must not be after latestStart")
	}
	if in.Staffing.Count < 0 {
		return fmt.Errorf("staffing count must be >= 0")
	}
	for _, t := range in.Tasks {
		if t.DurationSec < 0 {
			return fmt.Errorf("task %q durationSec must be >= 0", t.Name)
		}
	}
	if in.Recurrence != nil {
		switch in.Recurrence.Freq {
		case model.FreqDaily, model.FreqWeekly, model.FreqMonthly:
		default:
			return fmt.Errorf("invalid recurrence freq: %s", in.Recurrence.Freq)
		}
		if in.Recurrence.Interval < 0 {
			return fmt.Errorf("recurrence interval must be >= 0")
		}
		if in.Recurrence.Until.Before(in.Window.EarliestStart) {
			return fmt.Errorf("recurrence until must not precede the first window")
		}
	}
	return nil
}

func validatePreferences(p *model.Preferences) error {
	if p == nil {
		return nil
	}
	if p.TravelWeight < 0 || p.BalanceWeight < 0 || p.PreferenceWeight < 0 {
		return fmt.Errorf("weights must be >= 0")
	}
	if p.MaxTravelSec < 0 {
		return fmt.Errorf("maxTravelSec must be >= 0")
	}
	if p.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if p.ImprovementPasses < -1 {
		return fmt.Errorf("improvementPasses must be >= -1")
	}
	return nil
}
