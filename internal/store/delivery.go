package store

import "time"

// WebhookDelivery is one queued delivery attempt for a subscription.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
	ResponseCode   int
	LatencyMs      int
	DeliveredAt    *time.Time
}
