package services

import (
	"context"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"go.uber.org/zap"
)

const (
	AuditReceived     = "received"
	AuditSettled      = "settled"
	AuditFailed       = "failed"
	AuditRetrying     = "retrying"
	AuditDeadLettered = "dead_lettered"
)

// AuditEntry is one checkpoint in the life of a delivery.
type AuditEntry struct {
	Checkpoint    string
	RequestID     string
	TransactionID string
	Status        string
	Reason        string
	DeliveryCount int
	At            time.Time
}

type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// ZapAuditSink writes audit checkpoints as structured log entries.
type ZapAuditSink struct {
	logger *zap.Logger
}

func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return &ZapAuditSink{logger: logger.Named("audit")}
}

func (s *ZapAuditSink) Record(ctx context.Context, e AuditEntry) {
	fields := []zap.Field{
		zap.String("checkpoint", e.Checkpoint),
		zap.String(pkg.RequestId, e.RequestID),
		zap.Int("delivery_count", e.DeliveryCount),
		zap.Time("at", e.At),
	}
	if e.TransactionID != "" {
		fields = append(fields, zap.String(pkg.TransactionId, e.TransactionID))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if traceID := pkg.TraceIDFrom(ctx); traceID != "" {
		fields = append(fields, zap.String(pkg.TraceId, traceID))
	}
	s.logger.Info("settlement_audit", fields...)
}

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, AuditEntry) {}
