package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/model"
)

func mondayAt(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) // a Monday
}

func fullDayCarer(id string) model.StaffMember {
	return model.StaffMember{
		ID:           id,
		Name:         id,
		WorkingHours: []model.WorkingHours{{Weekday: time.Monday, Start: "08:00", End: "18:00"}},
	}
}

func TestValidateOK(t *testing.T) {
	in := Input{
		TenantID: "t1",
		Visits: []model.Visit{
			{ID: "v1", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(9, 0), LatestStart: mondayAt(10, 0)}, DurationSec: 1800, Staffing: model.Staffing{Count: 1}},
			{ID: "v2", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(12, 0), LatestStart: mondayAt(13, 0)}, DurationSec: 1800, Staffing: model.Staffing{Count: 1}},
		},
		Roster: []model.StaffMember{fullDayCarer("s1")},
	}
	res, err := NewRules().Validate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Violations)
}

func TestValidateStaffingRatio(t *testing.T) {
	in := Input{
		Visits: []model.Visit{
			{ID: "v1", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(9, 0), LatestStart: mondayAt(10, 0)}, DurationSec: 1800, Staffing: model.Staffing{Count: 2}},
		},
		Roster: []model.StaffMember{fullDayCarer("s1")},
	}
	res, err := NewRules().Validate(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Valid)
	assert.Equal(t, RuleStaffingRatio, res.Violations[0].Rule)
	assert.Equal(t, "v1", res.Violations[0].VisitID)
}

func TestValidateClientOverlap(t *testing.T) {
	// Second visit must start before the first can possibly end.
	in := Input{
		Visits: []model.Visit{
			{ID: "v1", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(9, 0), LatestStart: mondayAt(9, 0)}, DurationSec: 3600, Staffing: model.Staffing{Count: 1}},
			{ID: "v2", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(9, 15), LatestStart: mondayAt(9, 30)}, DurationSec: 1800, Staffing: model.Staffing{Count: 1}},
		},
		Roster: []model.StaffMember{fullDayCarer("s1"), fullDayCarer("s2")},
	}
	res, err := NewRules().Validate(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Valid)
	assert.Equal(t, RuleClientOverlap, res.Violations[0].Rule)
	assert.Equal(t, "v2", res.Violations[0].VisitID)
}

func TestValidateCapacity(t *testing.T) {
	// 12h of required care against a 10h rostered day.
	in := Input{
		Visits: []model.Visit{
			{ID: "v1", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(8, 0), LatestStart: mondayAt(9, 0)}, DurationSec: 12 * 3600, Staffing: model.Staffing{Count: 1}},
		},
		Roster: []model.StaffMember{fullDayCarer("s1")},
	}
	res, err := NewRules().Validate(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Valid)
	found := false
	for _, v := range res.Violations {
		if v.Rule == RuleCapacity {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateWindowUnordered(t *testing.T) {
	in := Input{
		Visits: []model.Visit{
			{ID: "v1", ClientID: "c1", Window: model.TimeWindow{EarliestStart: mondayAt(10, 0), LatestStart: mondayAt(9, 0)}, DurationSec: 1800, Staffing: model.Staffing{Count: 1}},
		},
		Roster: []model.StaffMember{fullDayCarer("s1")},
	}
	res, err := NewRules().Validate(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Valid)
	assert.Equal(t, RuleWindowUnordered, res.Violations[0].Rule)
}
