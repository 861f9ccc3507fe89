package model

import "time"

// Core domain types for visit scheduling.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a visit location with carer-facing access notes.
type Location struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	AccessNotes string  `json:"accessNotes,omitempty"`
}

func (l Location) Point() GeoPoint { return GeoPoint{Lat: l.Lat, Lng: l.Lng} }

// TimeWindow bounds when a visit may start. The visit must begin no earlier
// than EarliestStart and no later than LatestStart.
type TimeWindow struct {
	EarliestStart time.Time `json:"earliestStart"`
	LatestStart   time.Time `json:"latestStart"`
}

type Qualification string

const (
	QualMedication     Qualification = "MEDICATION"
	QualPersonalCare   Qualification = "PERSONAL_CARE"
	QualManualHandling Qualification = "MANUAL_HANDLING"
	QualDementiaCare   Qualification = "DEMENTIA_CARE"
	QualPEGFeeding     Qualification = "PEG_FEEDING"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// GenderPreference is the client's preference for assigned staff. ANY always matches.
type GenderPreference string

const (
	GenderPrefAny    GenderPreference = "ANY"
	GenderPrefMale   GenderPreference = "MALE"
	GenderPrefFemale GenderPreference = "FEMALE"
)

// Task is one unit of care within a visit. A Qualification of "" means the
// task needs no specific qualification; AllowUnqualified relaxes an otherwise
// required one.
type Task struct {
	Name             string        `json:"name"`
	DurationSec      int           `json:"durationSec"`
	Qualification    Qualification `json:"qualification,omitempty"`
	AllowUnqualified bool          `json:"allowUnqualified,omitempty"`
}

// Staffing describes who a visit needs.
type Staffing struct {
	Count          int              `json:"count"`
	Qualifications []Qualification  `json:"qualifications,omitempty"`
	Gender         GenderPreference `json:"gender,omitempty"`
	PreferredStaff []string         `json:"preferredStaff,omitempty"`
}

type VisitState string

const (
	VisitScheduled  VisitState = "SCHEDULED"
	VisitInProgress VisitState = "IN_PROGRESS"
	VisitCompleted  VisitState = "COMPLETED"
	VisitCancelled  VisitState = "CANCELLED"
	VisitMissed     VisitState = "MISSED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s VisitState) Terminal() bool {
	return s == VisitCompleted || s == VisitCancelled || s == VisitMissed
}

type RecurrenceFreq string

const (
	FreqDaily   RecurrenceFreq = "DAILY"
	FreqWeekly  RecurrenceFreq = "WEEKLY"
	FreqMonthly RecurrenceFreq = "MONTHLY"
)

// Recurrence expands into concrete visits once, at creation time. Instances
// are independent afterwards; editing one never touches its siblings.
type Recurrence struct {
	Freq     RecurrenceFreq `json:"freq"`
	Interval int            `json:"interval,omitempty"`
	Until    time.Time      `json:"until"`
}

type Visit struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	ClientID    string     `json:"clientId"`
	Area        string     `json:"area,omitempty"`
	Window      TimeWindow `json:"window"`
	DurationSec int        `json:"durationSec"`
	Tasks       []Task     `json:"tasks,omitempty"`
	Staffing    Staffing   `json:"staffing"`
	Location    Location   `json:"location"`
	State       VisitState `json:"state"`
	Archived    bool       `json:"archived,omitempty"`
}

// RequiredQualifications is the union of the visit-level requirement and all
// task qualifications that do not allow unqualified staff.
func (v Visit) RequiredQualifications() []Qualification {
	seen := map[Qualification]bool{}
	out := []Qualification{}
	for _, q := range v.Staffing.Qualifications {
		if q != "" && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, t := range v.Tasks {
		if t.Qualification == "" || t.AllowUnqualified || seen[t.Qualification] {
			continue
		}
		seen[t.Qualification] = true
		out = append(out, t.Qualification)
	}
	return out
}

// VisitIn is the write model for visit creation. A recurrence rule expands
// server-side into independent Visit rows.
type VisitIn struct {
	ClientID    string      `json:"clientId" validate:"required"`
	Area        string      `json:"area,omitempty"`
	Window      TimeWindow  `json:"window"`
	DurationSec int         `json:"durationSec" validate:"gt=0"`
	Tasks       []Task      `json:"tasks,omitempty"`
	Staffing    Staffing    `json:"staffing"`
	Location    Location    `json:"location"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
}

// WorkingHours is one weekday's working window, clock times as "HH:MM".
type WorkingHours struct {
	Weekday time.Weekday `json:"weekday"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
}

type StaffMember struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	Name           string          `json:"name"`
	Gender         Gender          `json:"gender,omitempty"`
	Qualifications []Qualification `json:"qualifications,omitempty"`
	WorkingHours   []WorkingHours  `json:"workingHours,omitempty"`
	Base           GeoPoint        `json:"base"`
	MaxTravelSec   int             `json:"maxTravelSec,omitempty"`
}

// HasQualification reports whether the staff member holds q.
func (m StaffMember) HasQualification(q Qualification) bool {
	for _, h := range m.Qualifications {
		if h == q {
			return true
		}
	}
	return false
}

// StaffIn is the write model for roster entries.
type StaffIn struct {
	Name           string          `json:"name" validate:"required"`
	Gender         Gender          `json:"gender,omitempty" validate:"omitempty,oneof=MALE FEMALE"`
	Qualifications []Qualification `json:"qualifications,omitempty"`
	WorkingHours   []WorkingHours  `json:"workingHours,omitempty"`
	Base           GeoPoint        `json:"base"`
	MaxTravelSec   int             `json:"maxTravelSec,omitempty" validate:"gte=0"`
}

// Leg is one staffed visit on a staff member's route. TravelSec is the
// travel time from the previous commitment (or base, if first of the day).
type Leg struct {
	VisitID   string    `json:"visitId"`
	StaffID   string    `json:"staffId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	TravelSec int       `json:"travelSec"`
}

// StaffRoute is the ordered day plan for one staff member.
type StaffRoute struct {
	StaffID string `json:"staffId"`
	Legs    []Leg  `json:"legs"`
}

type CostBreakdown struct {
	TravelSec  float64 `json:"travelSec"`
	Imbalance  float64 `json:"imbalance"`
	Preference float64 `json:"preference"`
	Total      float64 `json:"total"`
}

// Assignment maps visits to staffed legs for a scheduling period. Unstaffed
// lists visit IDs that could not be assigned; it is reportable data, never an
// error. Version backs optimistic concurrency on updates.
type Assignment struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Day       string        `json:"day"`
	Routes    []StaffRoute  `json:"routes"`
	Unstaffed []string      `json:"unstaffed,omitempty"`
	Cost      CostBreakdown `json:"cost"`
	Version   int           `json:"version"`
}

// Preferences are the optimizer's weights and flags. Zero values fall back to
// optimizer defaults.
type Preferences struct {
	TravelWeight                float64 `json:"travelWeight,omitempty"`
	BalanceWeight               float64 `json:"balanceWeight,omitempty"`
	PreferenceWeight            float64 `json:"preferenceWeight,omitempty"`
	PrioritizeClientPreferences bool    `json:"prioritizeClientPreferences,omitempty"`
	MaxTravelSec                int     `json:"maxTravelSec,omitempty"`
	BalanceWorkload             bool    `json:"balanceWorkload,omitempty"`
	ConsiderQualifications      *bool   `json:"considerQualifications,omitempty"`
	ImprovementPasses           int     `json:"improvementPasses,omitempty"`
	TimeBudgetMs                int     `json:"timeBudgetMs,omitempty"`
	AllowUnstaffed              *bool   `json:"allowUnstaffed,omitempty"`
}

// ScheduleChange is one incremental edit. Reason is mandatory and stored for
// audit. A nil StaffID keeps the current assignee; empty string unassigns.
type ScheduleChange struct {
	VisitID string     `json:"visitId" validate:"required"`
	StaffID *string    `json:"staffId,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
	Reason  string     `json:"reason" validate:"required"`
}

// ScheduleFilter narrows GetSchedule reads.
type ScheduleFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
	StaffID  string
	ClientID string
	Area     string
}

// VisitEvent is a field event driving the visit state machine.
type VisitEvent struct {
	Type string    `json:"type" validate:"required,oneof=start complete miss cancel"`
	TS   time.Time `json:"ts"`
	Note string    `json:"note,omitempty"`
}

// AuditEvent is the best-effort audit side channel record.
type AuditEvent struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Type     string    `json:"type"`
	VisitID  string    `json:"visitId,omitempty"`
	StaffID  string    `json:"staffId,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	TS       time.Time `json:"ts"`
}

// Webhook subscriptions for schedule events.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url" validate:"required,url"`
	Events   []string `json:"events" validate:"required,min=1"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
