// Package webhooks delivers schedule events to tenant-registered endpoints:
// a publisher that fans an event out to matching subscriptions and a retrying
// background worker that drains the delivery queue.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carerounds/internal/store"
)

type Publisher struct {
	Store store.Store
	Log   *zap.Logger
}

func NewPublisher(s store.Store, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues the event for every subscription matching the tenant and
// event type. Delivery failures surface later in the worker; Emit itself is
// fire-and-forget.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		p.Log.Warn("subscription lookup failed", zap.String("tenant", tenantID), zap.String("event", eventType), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       "evt_" + uuid.New().String(),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue failed", zap.String("tenant", tenantID), zap.String("subscription", s.ID), zap.Error(err))
		}
	}
}
