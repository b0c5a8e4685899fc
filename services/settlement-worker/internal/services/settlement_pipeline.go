package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/validation"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/views"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/settlement-worker/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultMaxDeliveryCount = 10
	DefaultPublishTimeout   = 5 * time.Second
)

type PipelineState int

const (
	StateReceived PipelineState = iota
	StateValidating
	StateSettling
	StateCompleted
	StateRetrying
	StateDeadLettered
)

func (s PipelineState) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateValidating:
		return "Validating"
	case StateSettling:
		return "Settling"
	case StateCompleted:
		return "Completed"
	case StateRetrying:
		return "Retrying"
	case StateDeadLettered:
		return "DeadLettered"
	default:
		return fmt.Sprintf("PipelineState(%d)", int(s))
	}
}

// Delivery is one attempt at a queued transfer message. The transport owns redelivery.
type Delivery interface {
	Body() []byte
	// DeliveryCount is 1 on the first attempt.
	DeliveryCount() int
	Complete(ctx context.Context) error
	Abandon(ctx context.Context) error
	DeadLetter(ctx context.Context, reason, description string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, payload any) error
}

type MessageValidator interface {
	Validate(msg views.TransferMessage) validation.ValidationResult
}

type SettlementPipelineConfig struct {
	Logger           *zap.Logger
	Engine           Settler
	Validator        MessageValidator
	Publisher        EventPublisher
	Audit            AuditSink
	Idempotency      IdempotencyGuard
	MaxDeliveryCount int
	PublishTimeout   time.Duration
	Now              func() time.Time
}

// SettlementPipeline drives one delivery from Received to Completed, Retrying or DeadLettered.
type SettlementPipeline struct {
	logger           *zap.Logger
	engine           Settler
	validator        MessageValidator
	publisher        EventPublisher
	audit            AuditSink
	idempotency      IdempotencyGuard
	maxDeliveryCount int
	publishTimeout   time.Duration
	now              func() time.Time
	publishes        sync.WaitGroup
}

func NewSettlementPipeline(cfg SettlementPipelineConfig) *SettlementPipeline {
	if cfg.Engine == nil {
		cfg.Logger.Fatal("settlement_pipeline_missing_engine")
	}
	p := &SettlementPipeline{
		logger:           cfg.Logger,
		engine:           cfg.Engine,
		validator:        cfg.Validator,
		publisher:        cfg.Publisher,
		audit:            cfg.Audit,
		idempotency:      cfg.Idempotency,
		maxDeliveryCount: cfg.MaxDeliveryCount,
		publishTimeout:   cfg.PublishTimeout,
		now:              cfg.Now,
	}
	if p.validator == nil {
		p.validator = validation.NewTransactionValidator()
	}
	if p.audit == nil {
		p.audit = nopAuditSink{}
	}
	if p.idempotency == nil {
		p.idempotency = nopIdempotencyGuard{}
	}
	if p.maxDeliveryCount <= 0 {
		p.maxDeliveryCount = DefaultMaxDeliveryCount
	}
	if p.publishTimeout <= 0 {
		p.publishTimeout = DefaultPublishTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Handle processes d and returns the terminal state of this attempt.
// Input errors are dead-lettered with a nil error. A settlement fault is returned
// together with Retrying, or with DeadLettered once the delivery budget is spent.
func (p *SettlementPipeline) Handle(ctx context.Context, d Delivery) (PipelineState, error) {
	count := d.DeliveryCount()
	log := p.logger.With(zap.Int("delivery_count", count))

	// Received
	var msg views.TransferMessage
	if err := json.Unmarshal(d.Body(), &msg); err != nil {
		log.Warn("delivery_undecodable", zap.Error(err))
		return p.deadLetter(ctx, d, AuditEntry{DeliveryCount: count}, pkg.DeadLetterDeserialization, err.Error(), nil)
	}
	ctx = pkg.WithTraceID(ctx, msg.TraceID)
	log = log.With(zap.String(pkg.RequestId, msg.ID), zap.String(pkg.TraceId, msg.TraceID))
	entry := AuditEntry{RequestID: msg.ID, DeliveryCount: count}
	p.record(ctx, entry, AuditReceived)

	// Validating
	if result := p.validator.Validate(msg); !result.IsValid() {
		log.Warn("delivery_invalid", zap.Strings("errors", result.Errors))
		return p.deadLetter(ctx, d, entry, pkg.DeadLetterValidation, result.Error(), nil)
	}

	// Settling
	req := msg.ToRequest()
	fingerprint := req.Fingerprint()
	prior, settled, err := p.idempotency.Settled(ctx, req.ID)
	if err != nil {
		return p.fault(ctx, d, entry, req, fmt.Errorf("%w: idempotency check: %w", ErrSettlementFault, err))
	}
	if settled && prior.Fingerprint == fingerprint {
		observability.DuplicateDeliveries.Inc()
		log.Info("delivery_already_settled", zap.String(pkg.TransactionId, prior.TransactionID))
		return StateCompleted, p.complete(ctx, d)
	}
	if settled {
		log.Warn("request_id_reused", zap.String(pkg.TransactionId, prior.TransactionID))
		description := fmt.Sprintf("request id already settled transaction %s with a different transfer", prior.TransactionID)
		return p.deadLetter(ctx, d, entry, pkg.DeadLetterIdempotencyConflict, description, &models.TransactionFailedData{
			RequestID:      req.ID,
			Amount:         req.Amount,
			Currency:       req.Currency,
			FromCardMasked: models.MaskCardNumber(req.FromCardNumber),
			ToCardMasked:   models.MaskCardNumber(req.ToCardNumber),
			Reason:         pkg.DeadLetterIdempotencyConflict,
			Message:        description,
			FailedAtUtc:    p.now().UTC(),
		})
	}

	start := time.Now()
	outcome, err := p.engine.Transfer(ctx, req)
	observability.SettleLatency.Observe(time.Since(start).Seconds())
	observability.Outcomes.WithLabelValues(string(outcome.Status)).Inc()
	entry.TransactionID = outcome.TransactionID
	entry.Status = string(outcome.Status)
	if err != nil {
		return p.fault(ctx, d, entry, req, err)
	}

	subject := models.TransactionSubject(outcome.TransactionID)
	if outcome.Success {
		if markErr := p.idempotency.MarkSettled(context.WithoutCancel(ctx), req.ID, SettledRecord{
			Fingerprint:   fingerprint,
			TransactionID: outcome.TransactionID,
		}); markErr != nil {
			log.Error("idempotency_mark_failed", zap.String(pkg.TransactionId, outcome.TransactionID), zap.Error(markErr))
		}
		completeErr := p.complete(ctx, d)
		p.publishAsync(ctx, pkg.EventTransactionSettled, subject, outcome.SettledData())
		p.record(ctx, entry, AuditSettled)
		return StateCompleted, completeErr
	}

	completeErr := p.complete(ctx, d)
	p.publishAsync(ctx, pkg.EventTransactionFailed, subject, outcome.FailedData())
	entry.Reason = outcome.Message
	p.record(ctx, entry, AuditFailed)
	return StateCompleted, completeErr
}

// fault abandons the delivery for redelivery, or dead-letters it once the budget is spent.
// It never completes.
func (p *SettlementPipeline) fault(ctx context.Context, d Delivery, entry AuditEntry, req models.TransferRequest, cause error) (PipelineState, error) {
	count := entry.DeliveryCount
	if count < p.maxDeliveryCount {
		observability.Retries.Inc()
		entry.Reason = cause.Error()
		p.record(ctx, entry, AuditRetrying)
		p.logger.Warn("delivery_abandoned",
			zap.String(pkg.RequestId, entry.RequestID),
			zap.Int("delivery_count", count),
			zap.Int("max_delivery_count", p.maxDeliveryCount),
			zap.Error(cause))
		if err := d.Abandon(context.WithoutCancel(ctx)); err != nil {
			return StateRetrying, errors.Join(cause, fmt.Errorf("abandon delivery: %w", err))
		}
		return StateRetrying, cause
	}

	description := fmt.Sprintf("failed after %d attempts: %v", count, cause)
	failed := &models.TransactionFailedData{
		TransactionID:  entry.TransactionID,
		RequestID:      entry.RequestID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		FromCardMasked: models.MaskCardNumber(req.FromCardNumber),
		ToCardMasked:   models.MaskCardNumber(req.ToCardNumber),
		Reason:         pkg.DeadLetterMaxRetries,
		Message:        description,
		FailedAtUtc:    p.now().UTC(),
	}
	state, err := p.deadLetter(ctx, d, entry, pkg.DeadLetterMaxRetries, description, failed)
	if err != nil {
		return state, errors.Join(cause, err)
	}
	return state, cause
}

// deadLetter parks the delivery. A DLQ write failure falls back to Abandon so the message is not lost.
func (p *SettlementPipeline) deadLetter(ctx context.Context, d Delivery, entry AuditEntry, reason, description string, failed *models.TransactionFailedData) (PipelineState, error) {
	ctx = context.WithoutCancel(ctx)
	observability.DeadLetters.WithLabelValues(reason).Inc()
	entry.Reason = reason
	p.logger.Error("delivery_dead_lettered",
		zap.String(pkg.RequestId, entry.RequestID),
		zap.String("reason", reason),
		zap.String("description", description),
		zap.Int("delivery_count", entry.DeliveryCount))

	if err := d.DeadLetter(ctx, reason, description); err != nil {
		dlqErr := fmt.Errorf("dead-letter delivery: %w", err)
		if abandonErr := d.Abandon(ctx); abandonErr != nil {
			return StateRetrying, errors.Join(dlqErr, fmt.Errorf("abandon delivery: %w", abandonErr))
		}
		return StateRetrying, dlqErr
	}
	p.record(ctx, entry, AuditDeadLettered)

	if failed != nil {
		subject := models.TransactionSubject(entry.RequestID)
		if failed.TransactionID != "" {
			subject = models.TransactionSubject(failed.TransactionID)
		}
		p.publishAsync(ctx, pkg.EventTransactionFailed, subject, *failed)
	}
	return StateDeadLettered, nil
}

func (p *SettlementPipeline) complete(ctx context.Context, d Delivery) error {
	if err := d.Complete(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("delivery_complete_failed", zap.Error(err))
		return fmt.Errorf("complete delivery: %w", err)
	}
	return nil
}

func (p *SettlementPipeline) record(ctx context.Context, entry AuditEntry, checkpoint string) {
	entry.Checkpoint = checkpoint
	entry.At = p.now().UTC()
	p.audit.Record(ctx, entry)
}

// publishAsync publishes on a tracked goroutine. Failures are logged and counted only.
func (p *SettlementPipeline) publishAsync(ctx context.Context, eventType, subject string, payload any) {
	if p.publisher == nil {
		return
	}
	p.publishes.Add(1)
	go func() {
		defer p.publishes.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
		defer cancel()
		if err := p.publisher.Publish(pubCtx, eventType, subject, payload); err != nil {
			observability.PublishFailures.WithLabelValues(eventType).Inc()
			p.logger.Warn("event_publish_failed",
				zap.String("event_type", eventType),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight event publishes.
func (p *SettlementPipeline) Close() {
	p.publishes.Wait()
}
