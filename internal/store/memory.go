package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carerounds/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu          sync.Mutex
	visits      map[string]model.Visit // id -> visit
	visitsByTen map[string][]string    // tenant -> visit ids, insertion order
	staff       map[string]model.StaffMember
	staffByTen  map[string][]string
	assignments map[string]model.Assignment // tenant|day -> assignment
	audit       map[string][]model.AuditEvent
	subs        map[string][]model.Subscription
	deliveries  map[string]*WebhookDelivery
	delByTen    map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		visits:      map[string]model.Visit{},
		visitsByTen: map[string][]string{},
		staff:       map[string]model.StaffMember{},
		staffByTen:  map[string][]string{},
		assignments: map[string]model.Assignment{},
		audit:       map[string][]model.AuditEvent{},
		subs:        map[string][]model.Subscription{},
		deliveries:  map[string]*WebhookDelivery{},
		delByTen:    map[string][]string{},
	}
}

func assignmentKey(tenantID, day string) string { return tenantID + "|" + day }

func (m *Memory) CreateVisits(ctx context.Context, tenantID string, visits []model.Visit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, v := range visits {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		v.TenantID = tenantID
		if v.State == "" {
			v.State = model.VisitScheduled
		}
		m.visits[v.ID] = v
		m.visitsByTen[tenantID] = append(m.visitsByTen[tenantID], v.ID)
		created++
	}
	return created, nil
}

func (m *Memory) ListVisits(ctx context.Context, f model.ScheduleFilter, cursor string, limit int) ([]model.Visit, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.visitsByTen[f.TenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Visit{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		v := m.visits[ids[i]]
		if visitMatches(v, f) {
			out = append(out, v)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func visitMatches(v model.Visit, f model.ScheduleFilter) bool {
	if v.Archived {
		return false
	}
	if f.ClientID != "" && v.ClientID != f.ClientID {
		return false
	}
	if f.Area != "" && v.Area != f.Area {
		return false
	}
	if !f.From.IsZero() && v.Window.LatestStart.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !v.Window.EarliestStart.Before(f.To) {
		return false
	}
	return true
}

func (m *Memory) GetVisit(ctx context.Context, tenantID, id string) (model.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.TenantID != tenantID {
		return model.Visit{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) UpdateVisitState(ctx context.Context, tenantID, id string, from, to model.VisitState) (model.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.TenantID != tenantID {
		return model.Visit{}, ErrNotFound
	}
	if v.State != from {
		return model.Visit{}, ErrStateConflict
	}
	v.State = to
	m.visits[id] = v
	return v, nil
}

func (m *Memory) ArchiveVisit(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.TenantID != tenantID {
		return ErrNotFound
	}
	v.Archived = true
	m.visits[id] = v
	return nil
}

func (m *Memory) CreateStaff(ctx context.Context, tenantID string, s model.StaffMember) (model.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.TenantID = tenantID
	m.staff[s.ID] = s
	m.staffByTen[tenantID] = append(m.staffByTen[tenantID], s.ID)
	return s, nil
}

func (m *Memory) ListStaff(ctx context.Context, tenantID, cursor string, limit int) ([]model.StaffMember, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.staffByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]model.StaffMember, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, m.staff[id])
	}
	next := ""
	if end < len(ids) {
		next = ids[end-1]
	}
	return out, next, nil
}

func (m *Memory) GetStaff(ctx context.Context, tenantID, id string) (model.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok || s.TenantID != tenantID {
		return model.StaffMember{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SaveAssignment(ctx context.Context, a model.Assignment, expectedVersion int) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(a.TenantID, a.Day)
	cur, ok := m.assignments[key]
	if ok {
		if cur.Version != expectedVersion {
			return model.Assignment{}, ErrVersionConflict
		}
		a.ID = cur.ID
		a.Version = cur.Version + 1
	} else {
		if expectedVersion != 0 {
			return model.Assignment{}, ErrVersionConflict
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.Version = 1
	}
	m.assignments[key] = a
	return a, nil
}

func (m *Memory) GetAssignment(ctx context.Context, tenantID, day string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[assignmentKey(tenantID, day)]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAssignments(ctx context.Context, tenantID, cursor string, limit int) ([]model.Assignment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	days := []string{}
	for key := range m.assignments {
		if strings.HasPrefix(key, tenantID+"|") {
			days = append(days, strings.TrimPrefix(key, tenantID+"|"))
		}
	}
	sort.Strings(days)
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(days, cursor)
		if start < len(days) && days[start] == cursor {
			start++
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(days) {
		end = len(days)
	}
	out := make([]model.Assignment, 0, end-start)
	for _, d := range days[start:end] {
		out = append(out, m.assignments[assignmentKey(tenantID, d)])
	}
	next := ""
	if end < len(days) {
		next = days[end-1]
	}
	return out, next, nil
}

func (m *Memory) InsertAuditEvents(ctx context.Context, tenantID string, events []model.AuditEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.New().String()
		}
		events[i].TenantID = tenantID
		if events[i].TS.IsZero() {
			events[i].TS = time.Now().UTC()
		}
		m.audit[tenantID] = append(m.audit[tenantID], events[i])
	}
	return len(events), nil
}

func (m *Memory) ListAuditEvents(ctx context.Context, tenantID, visitID, cursor string, limit int) ([]model.AuditEvent, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.audit[tenantID]
	start := 0
	if cursor != "" {
		for i := range all {
			if all[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.AuditEvent{}
	var next string
	for i := start; i < len(all) && len(out) < limit; i++ {
		if visitID == "" || all[i].VisitID == visitID {
			out = append(out, all[i])
		}
		next = all[i].ID
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID:             id,
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		URL:            url,
		Secret:         secret,
		Payload:        payload,
		Status:         "pending",
		NextAttemptAt:  time.Now().UTC(),
	}
	m.delByTen[tenantID] = append(m.delByTen[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs() {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		d.Status = "in_flight"
		out = append(out, *d)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now().UTC()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "pending"
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.delByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []WebhookDelivery{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		d := m.deliveries[ids[i]]
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now().UTC()
	return nil
}

func (m *Memory) deliveryIDs() []string {
	ids := make([]string, 0, len(m.deliveries))
	for id := range m.deliveries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
