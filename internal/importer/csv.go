// Package importer parses bulk visit uploads. The CSV layout mirrors the
// export format of common rostering tools so agencies can migrate without
// hand-editing files.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"carerounds/internal/model"
)

// Columns recognised in the header row. Order does not matter; unknown
// columns are ignored.
const (
	colClientID       = "clientId"
	colArea           = "area"
	colEarliestStart  = "earliestStart"
	colLatestStart    = "latestStart"
	colDurationSec    = "durationSec"
	colLat            = "lat"
	colLng            = "lng"
	colAccessNotes    = "accessNotes"
	colStaffCount     = "staffCount"
	colQualifications = "qualifications"
	colGender         = "genderPreference"
	colPreferredStaff = "preferredStaff"
)

// RowError reports a single rejected row. Row is 1-based and counts the
// header.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// ParseVisits reads a CSV visit upload. Malformed rows are collected rather
// than aborting the import; the caller decides whether partial acceptance is
// allowed.
func ParseVisits(r io.Reader) ([]model.VisitIn, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{colClientID, colEarliestStart, colLatestStart, colDurationSec, colLat, colLng} {
		if _, ok := idx[required]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", required)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var visits []model.VisitIn
	var errs []RowError
	row := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			errs = append(errs, RowError{Row: row, Err: err.Error()})
			continue
		}
		v, err := parseRow(rec, get)
		if err != nil {
			errs = append(errs, RowError{Row: row, Err: err.Error()})
			continue
		}
		visits = append(visits, v)
	}
	return visits, errs, nil
}

func parseRow(rec []string, get func([]string, string) string) (model.VisitIn, error) {
	var v model.VisitIn
	v.ClientID = get(rec, colClientID)
	if v.ClientID == "" {
		return v, fmt.Errorf("clientId is required")
	}
	v.Area = get(rec, colArea)

	earliest, err := time.Parse(time.RFC3339, get(rec, colEarliestStart))
	if err != nil {
		return v, fmt.Errorf("earliestStart: %w", err)
	}
	latest, err := time.Parse(time.RFC3339, get(rec, colLatestStart))
	if err != nil {
		return v, fmt.Errorf("latestStart: %w", err)
	}
	if latest.Before(earliest) {
		return v, fmt.Errorf("latestStart precedes earliestStart")
	}
	v.Window = model.TimeWindow{EarliestStart: earliest, LatestStart: latest}

	dur, err := strconv.Atoi(get(rec, colDurationSec))
	if err != nil || dur <= 0 {
		return v, fmt.Errorf("durationSec must be a positive integer")
	}
	v.DurationSec = dur

	lat, err := strconv.ParseFloat(get(rec, colLat), 64)
	if err != nil {
		return v, fmt.Errorf("lat: %w", err)
	}
	lng, err := strconv.ParseFloat(get(rec, colLng), 64)
	if err != nil {
		return v, fmt.Errorf("lng: %w", err)
	}
	v.Location = model.Location{Lat: lat, Lng: lng, AccessNotes: get(rec, colAccessNotes)}

	v.Staffing.Count = 1
	if c := get(rec, colStaffCount); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 {
			return v, fmt.Errorf("staffCount must be a positive integer")
		}
		v.Staffing.Count = n
	}
	if q := get(rec, colQualifications); q != "" {
		for _, part := range strings.Split(q, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v.Staffing.Qualifications = append(v.Staffing.Qualifications, model.Qualification(strings.ToUpper(part)))
		}
	}
	if g := get(rec, colGender); g != "" {
		switch pref := model.GenderPreference(strings.ToUpper(g)); pref {
		case model.GenderPrefAny, model.GenderPrefMale, model.GenderPrefFemale:
			v.Staffing.Gender = pref
		default:
			return v, fmt.Errorf("invalid genderPreference %q", g)
		}
	}
	if ps := get(rec, colPreferredStaff); ps != "" {
		for _, part := range strings.Split(ps, ";") {
			if part = strings.TrimSpace(part); part != "" {
				v.Staffing.PreferredStaff = append(v.Staffing.PreferredStaff, part)
			}
		}
	}
	return v, nil
}
