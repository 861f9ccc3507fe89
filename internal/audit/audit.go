// Package audit records schedule and visit events as a best-effort side
// channel. Failures are logged and swallowed: audit must never fail the
// operation it describes.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"carerounds/internal/model"
	"carerounds/internal/store"
)

type Recorder struct {
	store store.Store
	log   *zap.Logger
}

func NewRecorder(s store.Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: s, log: log}
}

// Record persists one audit event. The store error, if any, is logged and
// dropped.
func (r *Recorder) Record(ctx context.Context, tenantID string, e model.AuditEvent) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if _, err := r.store.InsertAuditEvents(ctx, tenantID, []model.AuditEvent{e}); err != nil {
		r.log.Warn("audit event dropped",
			zap.String("tenant", tenantID),
			zap.String("type", e.Type),
			zap.String("visitId", e.VisitID),
			zap.Error(err))
	}
}

// RecordAll persists a batch of audit events, best effort.
func (r *Recorder) RecordAll(ctx context.Context, tenantID string, events []model.AuditEvent) {
	now := time.Now().UTC()
	for i := range events {
		if events[i].TS.IsZero() {
			events[i].TS = now
		}
	}
	if _, err := r.store.InsertAuditEvents(ctx, tenantID, events); err != nil {
		r.log.Warn("audit batch dropped",
			zap.String("tenant", tenantID),
			zap.Int("count", len(events)),
			zap.Error(err))
	}
}
