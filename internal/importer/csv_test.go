package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/model"
)

const header = "clientId,area,earliestStart,latestStart,durationSec,lat,lng,staffCount,qualifications,genderPreference\n"

func TestParseVisits(t *testing.T) {
	in := header +
		"c1,north,2026-03-02T09:00:00Z,2026-03-02T10:00:00Z,1800,51.5,-0.1,1,MEDICATION;PERSONAL_CARE,FEMALE\n" +
		"c2,,2026-03-02T11:00:00Z,2026-03-02T12:00:00Z,3600,51.6,-0.2,,,\n"

	visits, rowErrs, err := ParseVisits(strings.NewReader(in))
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, visits, 2)

	v := visits[0]
	assert.Equal(t, "c1", v.ClientID)
	assert.Equal(t, "north", v.Area)
	assert.Equal(t, 1800, v.DurationSec)
	assert.Equal(t, []model.Qualification{model.QualMedication, model.QualPersonalCare}, v.Staffing.Qualifications)
	assert.Equal(t, model.GenderPrefFemale, v.Staffing.Gender)

	// staffCount defaults to 1 when omitted
	assert.Equal(t, 1, visits[1].Staffing.Count)
	assert.Equal(t, model.GenderPreference(""), visits[1].Staffing.Gender)
}

func TestParseVisitsCollectsRowErrors(t *testing.T) {
	in := header +
		"c1,north,2026-03-02T09:00:00Z,2026-03-02T10:00:00Z,1800,51.5,-0.1,1,,\n" +
		",north,2026-03-02T09:00:00Z,2026-03-02T10:00:00Z,1800,51.5,-0.1,1,,\n" +
		"c3,north,not-a-time,2026-03-02T10:00:00Z,1800,51.5,-0.1,1,,\n" +
		"c4,north,2026-03-02T10:00:00Z,2026-03-02T09:00:00Z,1800,51.5,-0.1,1,,\n"

	visits, rowErrs, err := ParseVisits(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, visits, 1)
	require.Len(t, rowErrs, 3)
	assert.Equal(t, 3, rowErrs[0].Row)
	assert.Contains(t, rowErrs[1].Err, "earliestStart")
	assert.Contains(t, rowErrs[2].Err, "precedes")
}

func TestParseVisitsMissingColumn(t *testing.T) {
	_, _, err := ParseVisits(strings.NewReader("clientId,area\nc1,north\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}
