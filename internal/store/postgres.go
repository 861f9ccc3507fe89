package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"carerounds/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies the .sql files in dir in lexical order, tracking applied
// files in schema_migrations.
func (p *Postgres) MigrateDir(dir string) error {
	if _, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		var done int
		err := p.db.QueryRow(`SELECT 1 FROM schema_migrations WHERE filename=$1`, name).Scan(&done)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		tx, err := p.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateVisits(ctx context.Context, tenantID string, visits []model.Visit) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, v := range visits {
		id := v.ID
		if id == "" {
			id = uuid.New().String()
		}
		state := v.State
		if state == "" {
			state = model.VisitScheduled
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO visits
			(id, tenant_id, client_id, area, earliest_start, latest_start, duration_sec, tasks, staffing, lat, lng, access_notes, state, archived)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false)`,
			id, tenantID, v.ClientID, nullIfEmpty(v.Area), v.Window.EarliestStart, v.Window.LatestStart,
			v.DurationSec, toJSON(v.Tasks), toJSON(v.Staffing), v.Location.Lat, v.Location.Lng,
			nullIfEmpty(v.Location.AccessNotes), string(state))
		if err != nil {
			return 0, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

const visitCols = `id::text, tenant_id, client_id, COALESCE(area,''), earliest_start, latest_start, duration_sec, tasks, staffing, lat, lng, COALESCE(access_notes,''), state, archived`

func scanVisit(sc interface{ Scan(...any) error }) (model.Visit, error) {
	var v model.Visit
	var tasks, staffing []byte
	var state string
	if err := sc.Scan(&v.ID, &v.TenantID, &v.ClientID, &v.Area, &v.Window.EarliestStart, &v.Window.LatestStart,
		&v.DurationSec, &tasks, &staffing, &v.Location.Lat, &v.Location.Lng, &v.Location.AccessNotes, &state, &v.Archived); err != nil {
		return model.Visit{}, err
	}
	v.State = model.VisitState(state)
	if len(tasks) > 0 {
		if err := json.Unmarshal(tasks, &v.Tasks); err != nil {
			return model.Visit{}, err
		}
	}
	if len(staffing) > 0 {
		if err := json.Unmarshal(staffing, &v.Staffing); err != nil {
			return model.Visit{}, err
		}
	}
	return v, nil
}

func (p *Postgres) ListVisits(ctx context.Context, f model.ScheduleFilter, cursor string, limit int) ([]model.Visit, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + visitCols + ` FROM visits WHERE tenant_id=$1 AND NOT archived`
	args := []any{f.TenantID}
	n := 1
	add := func(clause string, val any) {
		n++
		q += clause + "$" + itoa(n)
		args = append(args, val)
	}
	if f.ClientID != "" {
		add(` AND client_id=`, f.ClientID)
	}
	if f.Area != "" {
		add(` AND area=`, f.Area)
	}
	if !f.From.IsZero() {
		add(` AND latest_start >= `, f.From)
	}
	if !f.To.IsZero() {
		add(` AND earliest_start < `, f.To)
	}
	if cursor != "" {
		add(` AND id::text > `, cursor)
	}
	n++
	q += ` ORDER BY id LIMIT $` + itoa(n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Visit{}
	var last string
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
		last = v.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) GetVisit(ctx context.Context, tenantID, id string) (model.Visit, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+visitCols+` FROM visits WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Visit{}, ErrNotFound
	}
	return v, err
}

func (p *Postgres) UpdateVisitState(ctx context.Context, tenantID, id string, from, to model.VisitState) (model.Visit, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE visits SET state=$1 WHERE tenant_id=$2 AND id::text=$3 AND state=$4`,
		string(to), tenantID, id, string(from))
	if err != nil {
		return model.Visit{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetVisit(ctx, tenantID, id); err != nil {
			return model.Visit{}, err
		}
		return model.Visit{}, ErrStateConflict
	}
	return p.GetVisit(ctx, tenantID, id)
}

func (p *Postgres) ArchiveVisit(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE visits SET archived=true WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateStaff(ctx context.Context, tenantID string, s model.StaffMember) (model.StaffMember, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.TenantID = tenantID
	_, err := p.db.ExecContext(ctx, `INSERT INTO staff
		(id, tenant_id, name, gender, qualifications, working_hours, base_lat, base_lng, max_travel_sec)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, tenantID, s.Name, nullIfEmpty(string(s.Gender)), toJSON(s.Qualifications), toJSON(s.WorkingHours),
		s.Base.Lat, s.Base.Lng, s.MaxTravelSec)
	if err != nil {
		return model.StaffMember{}, err
	}
	return s, nil
}

const staffCols = `id::text, tenant_id, name, COALESCE(gender,''), qualifications, working_hours, base_lat, base_lng, max_travel_sec`

func scanStaff(sc interface{ Scan(...any) error }) (model.StaffMember, error) {
	var s model.StaffMember
	var gender string
	var quals, hours []byte
	if err := sc.Scan(&s.ID, &s.TenantID, &s.Name, &gender, &quals, &hours, &s.Base.Lat, &s.Base.Lng, &s.MaxTravelSec); err != nil {
		return model.StaffMember{}, err
	}
	s.Gender = model.Gender(gender)
	if len(quals) > 0 {
		if err := json.Unmarshal(quals, &s.Qualifications); err != nil {
			return model.StaffMember{}, err
		}
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &s.WorkingHours); err != nil {
			return model.StaffMember{}, err
		}
	}
	return s, nil
}

func (p *Postgres) ListStaff(ctx context.Context, tenantID, cursor string, limit int) ([]model.StaffMember, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+staffCols+` FROM staff WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+staffCols+` FROM staff WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.StaffMember{}
	var last string
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, s)
		last = s.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) GetStaff(ctx context.Context, tenantID, id string) (model.StaffMember, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+staffCols+` FROM staff WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	s, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StaffMember{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) SaveAssignment(ctx context.Context, a model.Assignment, expectedVersion int) (model.Assignment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var curID string
	var curVersion int
	err = tx.QueryRowContext(ctx, `SELECT id::text, version FROM assignments WHERE tenant_id=$1 AND day=$2 FOR UPDATE`, a.TenantID, a.Day).Scan(&curID, &curVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return model.Assignment{}, ErrVersionConflict
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.Version = 1
		_, err = tx.ExecContext(ctx, `INSERT INTO assignments (id, tenant_id, day, routes, unstaffed, cost, version) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, a.TenantID, a.Day, toJSON(a.Routes), toJSON(a.Unstaffed), toJSON(a.Cost), a.Version)
		if err != nil {
			return model.Assignment{}, err
		}
	case err != nil:
		return model.Assignment{}, err
	default:
		if curVersion != expectedVersion {
			return model.Assignment{}, ErrVersionConflict
		}
		a.ID = curID
		a.Version = curVersion + 1
		_, err = tx.ExecContext(ctx, `UPDATE assignments SET routes=$1, unstaffed=$2, cost=$3, version=$4 WHERE id::text=$5`,
			toJSON(a.Routes), toJSON(a.Unstaffed), toJSON(a.Cost), a.Version, a.ID)
		if err != nil {
			return model.Assignment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Assignment{}, err
	}
	return a, nil
}

func scanAssignment(sc interface{ Scan(...any) error }) (model.Assignment, error) {
	var a model.Assignment
	var routes, unstaffed, cost []byte
	if err := sc.Scan(&a.ID, &a.TenantID, &a.Day, &routes, &unstaffed, &cost, &a.Version); err != nil {
		return model.Assignment{}, err
	}
	if len(routes) > 0 {
		if err := json.Unmarshal(routes, &a.Routes); err != nil {
			return model.Assignment{}, err
		}
	}
	if len(unstaffed) > 0 {
		if err := json.Unmarshal(unstaffed, &a.Unstaffed); err != nil {
			return model.Assignment{}, err
		}
	}
	if len(cost) > 0 {
		if err := json.Unmarshal(cost, &a.Cost); err != nil {
			return model.Assignment{}, err
		}
	}
	return a, nil
}

func (p *Postgres) GetAssignment(ctx context.Context, tenantID, day string) (model.Assignment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id, day, routes, unstaffed, cost, version FROM assignments WHERE tenant_id=$1 AND day=$2`, tenantID, day)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) ListAssignments(ctx context.Context, tenantID, cursor string, limit int) ([]model.Assignment, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, day, routes, unstaffed, cost, version FROM assignments WHERE tenant_id=$1 AND day > $2 ORDER BY day LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, day, routes, unstaffed, cost, version FROM assignments WHERE tenant_id=$1 ORDER BY day LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Assignment{}
	var last string
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, a)
		last = a.Day
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) InsertAuditEvents(ctx context.Context, tenantID string, events []model.AuditEvent) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	accepted := 0
	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		ts := e.TS
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO audit_events (id, tenant_id, type, visit_id, staff_id, actor, reason, ts) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			id, tenantID, e.Type, nullIfEmpty(e.VisitID), nullIfEmpty(e.StaffID), nullIfEmpty(e.Actor), nullIfEmpty(e.Reason), ts)
		if err != nil {
			return 0, err
		}
		accepted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return accepted, nil
}

func (p *Postgres) ListAuditEvents(ctx context.Context, tenantID, visitID, cursor string, limit int) ([]model.AuditEvent, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, tenant_id, type, COALESCE(visit_id,''), COALESCE(staff_id,''), COALESCE(actor,''), COALESCE(reason,''), ts FROM audit_events WHERE tenant_id=$1`
	args := []any{tenantID}
	n := 1
	if visitID != "" {
		n++
		q += ` AND visit_id=$` + itoa(n)
		args = append(args, visitID)
	}
	if cursor != "" {
		n++
		q += ` AND id::text > $` + itoa(n)
		args = append(args, cursor)
	}
	n++
	q += ` ORDER BY id LIMIT $` + itoa(n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.AuditEvent{}
	var last string
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.VisitID, &e.StaffID, &e.Actor, &e.Reason, &e.TS); err != nil {
			return nil, "", err
		}
		out = append(out, e)
		last = e.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.TenantID, s.URL, toJSON(s.Events), nullIfEmpty(s.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 AND events ? $2`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(sc interface{ Scan(...any) error }) (model.Subscription, error) {
	var s model.Subscription
	var events []byte
	if err := sc.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil {
		return model.Subscription{}, err
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return model.Subscription{}, err
		}
	}
	return s, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, s)
		last = s.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
		id, tenantID, subscriptionID, eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `UPDATE webhook_deliveries SET status='in_flight'
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status='pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, tenant_id, subscription_id::text, event_type, url, COALESCE(secret,''), payload, attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts); err != nil {
			return nil, err
		}
		d.Status = "in_flight"
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, last_error=NULL, response_code=$1, latency_ms=$2, delivered_at=now() WHERE id::text=$3`,
			responseCode, latencyMs, id)
		return err
	}
	var next any
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=attempts+1, last_error=$1, response_code=$2, latency_ms=$3, next_attempt_at=COALESCE($4, next_attempt_at) WHERE id::text=$5`,
		nullIfEmpty(lastError), responseCode, latencyMs, next, id)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$1, response_code=$2, latency_ms=$3 WHERE id::text=$4`,
		nullIfEmpty(lastError), responseCode, latencyMs, id)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, tenant_id, subscription_id::text, event_type, url, status, attempts, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	n := 1
	if status != "" {
		n++
		q += ` AND status=$` + itoa(n)
		args = append(args, status)
	}
	if cursor != "" {
		n++
		q += ` AND id::text > $` + itoa(n)
		args = append(args, cursor)
	}
	n++
	q += ` ORDER BY id LIMIT $` + itoa(n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	var last string
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, "", err
		}
		out = append(out, d)
		last = d.ID
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func itoa(n int) string { return strconv.Itoa(n) }
