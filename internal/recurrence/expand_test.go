package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/model"
)

func template(earliest, latest time.Time) model.VisitIn {
	return model.VisitIn{
		ClientID:    "c1",
		Window:      model.TimeWindow{EarliestStart: earliest, LatestStart: latest},
		DurationSec: 1800,
		Staffing:    model.Staffing{Count: 1},
		Location:    model.Location{Lat: 51.5, Lng: -0.1},
	}
}

func TestExpandNoRecurrence(t *testing.T) {
	in := template(
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	)
	out, err := Expand(in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}

func TestExpandDaily(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := template(start, start.Add(2*time.Hour))
	in.Recurrence = &model.Recurrence{Freq: model.FreqDaily, Until: start.Add(2 * 24 * time.Hour)}

	out, err := Expand(in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, inst := range out {
		want := start.Add(time.Duration(i) * 24 * time.Hour)
		assert.True(t, inst.Window.EarliestStart.Equal(want), "instance %d start", i)
		assert.Equal(t, 2*time.Hour, inst.Window.LatestStart.Sub(inst.Window.EarliestStart), "window span shifts with the occurrence")
		assert.Nil(t, inst.Recurrence, "instances carry no rule back-reference")
	}
}

func TestExpandWeeklyInterval(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := template(start, start.Add(time.Hour))
	in.Recurrence = &model.Recurrence{Freq: model.FreqWeekly, Interval: 2, Until: start.Add(5 * 7 * 24 * time.Hour)}

	out, err := Expand(in)
	require.NoError(t, err)
	require.Len(t, out, 3) // weeks 0, 2, 4
	assert.True(t, out[1].Window.EarliestStart.Equal(start.Add(14*24*time.Hour)))
	assert.True(t, out[2].Window.EarliestStart.Equal(start.Add(28*24*time.Hour)))
}

func TestExpandRequiresUntil(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := template(start, start.Add(time.Hour))
	in.Recurrence = &model.Recurrence{Freq: model.FreqDaily}

	_, err := Expand(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "until")
}

func TestExpandRejectsUntilBeforeStart(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := template(start, start.Add(time.Hour))
	in.Recurrence = &model.Recurrence{Freq: model.FreqDaily, Until: start.Add(-time.Hour)}

	_, err := Expand(in)
	require.Error(t, err)
}

func TestExpandCapsInstances(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := template(start, start.Add(time.Hour))
	in.Recurrence = &model.Recurrence{Freq: model.FreqDaily, Until: start.Add(1000 * 24 * time.Hour)}

	out, err := Expand(in)
	require.NoError(t, err)
	assert.Len(t, out, MaxInstances)
}
