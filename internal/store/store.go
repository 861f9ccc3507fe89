package store

import (
	"context"
	"errors"
	"time"

	"carerounds/internal/model"
)

// Store is the persistence interface used by the scheduling service and the
// API server.
type Store interface {
	// Visits
	CreateVisits(ctx context.Context, tenantID string, visits []model.Visit) (created int, err error)
	ListVisits(ctx context.Context, f model.ScheduleFilter, cursor string, limit int) (items []model.Visit, nextCursor string, err error)
	GetVisit(ctx context.Context, tenantID, id string) (model.Visit, error)
	// UpdateVisitState transitions a visit from one state to another. It
	// fails with ErrStateConflict when the stored state no longer matches
	// the expected one.
	UpdateVisitState(ctx context.Context, tenantID, id string, from, to model.VisitState) (model.Visit, error)
	ArchiveVisit(ctx context.Context, tenantID, id string) error

	// Staff roster
	CreateStaff(ctx context.Context, tenantID string, s model.StaffMember) (model.StaffMember, error)
	ListStaff(ctx context.Context, tenantID, cursor string, limit int) ([]model.StaffMember, string, error)
	GetStaff(ctx context.Context, tenantID, id string) (model.StaffMember, error)

	// Assignments. SaveAssignment enforces optimistic concurrency: the
	// write succeeds only when the stored version equals expectedVersion
	// (0 means a fresh day with no prior assignment).
	SaveAssignment(ctx context.Context, a model.Assignment, expectedVersion int) (model.Assignment, error)
	GetAssignment(ctx context.Context, tenantID, day string) (model.Assignment, error)
	ListAssignments(ctx context.Context, tenantID, cursor string, limit int) ([]model.Assignment, string, error)

	// Audit side channel
	InsertAuditEvents(ctx context.Context, tenantID string, events []model.AuditEvent) (accepted int, err error)
	ListAuditEvents(ctx context.Context, tenantID, visitID, cursor string, limit int) ([]model.AuditEvent, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("assignment version conflict")
	ErrStateConflict   = errors.New("visit state conflict")
)
