package claim

import (
	"context"
	"log/slog"
	"time"

	"crypify/internal/observability/metrics"
)

// AuditLog stores settled claim events. Inserts are idempotent on the token hash.
type AuditLog interface {
	InsertClaimLog(ctx context.Context, event Event) error
}

// Recorder persists claim events consumed from the event stream.
type Recorder struct {
	log    AuditLog
	logger *slog.Logger
}

// NewRecorder builds a recorder.
func NewRecorder(log AuditLog, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: log, logger: logger}
}

// HandleClaim writes the event to the audit log.
func (r *Recorder) HandleClaim(ctx context.Context, event Event) error {
	start := time.Now()
	defer func() { metrics.ObserveConsumerProcessing("handle_claim", time.Since(start)) }()
	if event.TokenHash == "" {
		r.logger.Warn("claim recorder: event without token hash dropped", slog.String("event_id", event.EventID))
		return nil
	}
	if err := r.log.InsertClaimLog(ctx, event); err != nil {
		r.logger.Error("claim recorder: insert log failed",
			slog.String("purchase_id", event.PurchaseID),
			slog.String("tx_hash", event.TransactionID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
