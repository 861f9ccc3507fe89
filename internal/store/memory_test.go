package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carerounds/internal/model"
)

func TestMemoryVisitLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	created, err := m.CreateVisits(ctx, "t1", []model.Visit{
		{ClientID: "c1", Window: model.TimeWindow{EarliestStart: day.Add(8 * time.Hour), LatestStart: day.Add(9 * time.Hour)}, DurationSec: 1800},
		{ClientID: "c2", Window: model.TimeWindow{EarliestStart: day.Add(10 * time.Hour), LatestStart: day.Add(11 * time.Hour)}, DurationSec: 1800},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	items, next, err := m.ListVisits(ctx, model.ScheduleFilter{TenantID: "t1"}, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Empty(t, next)
	assert.Equal(t, model.VisitScheduled, items[0].State)

	v, err := m.UpdateVisitState(ctx, "t1", items[0].ID, model.VisitScheduled, model.VisitInProgress)
	require.NoError(t, err)
	assert.Equal(t, model.VisitInProgress, v.State)

	_, err = m.UpdateVisitState(ctx, "t1", items[0].ID, model.VisitScheduled, model.VisitCancelled)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = m.GetVisit(ctx, "t2", items[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.ArchiveVisit(ctx, "t1", items[1].ID))
	items, _, err = m.ListVisits(ctx, model.ScheduleFilter{TenantID: "t1"}, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMemoryListVisitsWindowFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, err := m.CreateVisits(ctx, "t1", []model.Visit{
		{ClientID: "c1", Window: model.TimeWindow{EarliestStart: day.Add(8 * time.Hour), LatestStart: day.Add(9 * time.Hour)}},
		{ClientID: "c1", Window: model.TimeWindow{EarliestStart: day.Add(30 * time.Hour), LatestStart: day.Add(31 * time.Hour)}},
	})
	require.NoError(t, err)

	items, _, err := m.ListVisits(ctx, model.ScheduleFilter{TenantID: "t1", From: day, To: day.Add(24 * time.Hour)}, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, day.Add(8*time.Hour), items[0].Window.EarliestStart)
}

func TestMemorySaveAssignmentVersioning(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := model.Assignment{TenantID: "t1", Day: "2026-03-02"}
	saved, err := m.SaveAssignment(ctx, a, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
	assert.NotEmpty(t, saved.ID)

	// Stale writer loses.
	_, err = m.SaveAssignment(ctx, a, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	saved2, err := m.SaveAssignment(ctx, saved, saved.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, saved2.Version)
	assert.Equal(t, saved.ID, saved2.ID)

	got, err := m.GetAssignment(ctx, "t1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	_, err = m.GetAssignment(ctx, "t1", "2026-03-03")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://example.test/hook", Events: []string{"schedule.updated"}, Secret: "s3cr3t"})
	require.NoError(t, err)

	matched, err := m.GetSubscriptionsForEvent(ctx, "t1", "schedule.updated")
	require.NoError(t, err)
	require.Len(t, matched, 1)

	none, err := m.GetSubscriptionsForEvent(ctx, "t1", "visit.completed")
	require.NoError(t, err)
	assert.Empty(t, none)

	id, err := m.EnqueueWebhook(ctx, "t1", sub.ID, "schedule.updated", sub.URL, sub.Secret, []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)

	// In flight deliveries are not handed out twice.
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	next := time.Now().Add(time.Minute)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &next, "timeout", 0, 1200))

	// Back in the queue but not yet due.
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// An admin retry re-queues immediately without counting as an attempt;
	// Attempts tracks deliveries actually made.
	require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 80))
	list, _, err := m.ListWebhookDeliveries(ctx, "t1", "delivered", "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Attempts)
}

func TestMemoryAuditEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, err := m.InsertAuditEvents(ctx, "t1", []model.AuditEvent{
		{Type: "schedule.updated", VisitID: "v1", Reason: "client request"},
		{Type: "visit.completed", VisitID: "v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, _, err := m.ListAuditEvents(ctx, "t1", "", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, _, err := m.ListAuditEvents(ctx, "t1", "v1", "", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "client request", one[0].Reason)
	assert.False(t, one[0].TS.IsZero())
}
