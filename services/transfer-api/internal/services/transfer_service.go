package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/dtos"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/validation"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/views"
	"go.uber.org/zap"
)

const (
	StatusQueued          = "Queued"
	defaultPublishTimeout = 5 * time.Second
	maxListLimit          = 500
)

// TransferQueue hands a validated transfer to the settlement worker.
type TransferQueue interface {
	Enqueue(ctx context.Context, msg views.TransferMessage) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, payload any) error
}

type MessageValidator interface {
	Validate(msg views.TransferMessage) validation.ValidationResult
}

// OutcomeReader is the read side of the transaction log.
type OutcomeReader interface {
	ListByRequestID(ctx context.Context, requestID string) ([]models.SettlementOutcome, error)
	ListRecent(ctx context.Context, limit int) ([]models.SettlementOutcome, error)
}

type TransferService interface {
	Submit(ctx context.Context, req dtos.TransferRequestDto) (dtos.TransferAcceptedDto, error)
	ListOutcomes(ctx context.Context, requestID string) ([]models.SettlementOutcome, error)
	ListTransactions(ctx context.Context, limit int) (dtos.TransactionListDto, error)
}

type TransferServiceConfig struct {
	Logger         *zap.Logger
	Queue          TransferQueue
	Publisher      EventPublisher
	Validator      MessageValidator
	Outcomes       OutcomeReader
	PublishTimeout time.Duration
	Now            func() time.Time
}

type TransferServiceImpl struct {
	logger         *zap.Logger
	queue          TransferQueue
	publisher      EventPublisher
	validator      MessageValidator
	outcomes       OutcomeReader
	publishTimeout time.Duration
	now            func() time.Time
}

func NewTransferService(cfg TransferServiceConfig) TransferService {
	s := &TransferServiceImpl{
		logger:         cfg.Logger,
		queue:          cfg.Queue,
		publisher:      cfg.Publisher,
		validator:      cfg.Validator,
		outcomes:       cfg.Outcomes,
		publishTimeout: cfg.PublishTimeout,
		now:            cfg.Now,
	}
	if s.validator == nil {
		s.validator = validation.NewTransactionValidator()
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = defaultPublishTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit validates the request, queues it for settlement and announces it with Transaction.Queued.
// The queued event is best effort; a failure is logged and the transfer stays accepted.
func (s *TransferServiceImpl) Submit(ctx context.Context, req dtos.TransferRequestDto) (dtos.TransferAcceptedDto, error) {
	traceID := pkg.TraceIDFrom(ctx)
	msg := views.TransferMessage{
		ID:             req.ID,
		FromCardNumber: req.FromCardNumber,
		ToCardNumber:   req.ToCardNumber,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Timestamp:      s.now().UTC(),
		TraceID:        traceID,
	}
	if utils.IsEmpty(msg.ID) {
		msg.ID = uuid.NewString()
	}

	if result := s.validator.Validate(msg); !result.IsValid() {
		return dtos.TransferAcceptedDto{}, pkg.NewAppError(pkg.ErrInvalidInputCode, result.Error(), result)
	}

	transfer := msg.ToRequest()
	if !utils.IsEmpty(req.ID) {
		if err := s.checkReuse(ctx, transfer); err != nil {
			return dtos.TransferAcceptedDto{}, err
		}
	}

	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return dtos.TransferAcceptedDto{}, pkg.NewAppError(pkg.ErrUnavailableCode, "transfer queue unavailable",
			fmt.Errorf("%w: %w", pkg.ErrQueueUnavailable, err))
	}

	s.logger.Info("transfer_queued",
		zap.String(pkg.TraceId, traceID),
		zap.String(pkg.RequestId, msg.ID),
		zap.String("from_card", models.MaskCardNumber(transfer.FromCardNumber)),
		zap.String("to_card", models.MaskCardNumber(transfer.ToCardNumber)),
		zap.String("amount", transfer.Amount.String()),
		zap.String("currency", transfer.Currency))

	if s.publisher != nil {
		s.publishQueued(ctx, msg.Timestamp, transfer)
	}
	return dtos.TransferAcceptedDto{TransactionID: msg.ID, Status: StatusQueued}, nil
}

// checkReuse refuses a client id that already settled a different transfer.
// A failed lookup does not block the submission; the worker checks again before settling.
func (s *TransferServiceImpl) checkReuse(ctx context.Context, req models.TransferRequest) error {
	if s.outcomes == nil {
		return nil
	}
	outcomes, err := s.outcomes.ListByRequestID(ctx, req.ID)
	if err != nil {
		s.logger.Warn("idempotency_lookup_failed",
			zap.String(pkg.TraceId, pkg.TraceIDFrom(ctx)),
			zap.String(pkg.RequestId, req.ID),
			zap.Error(err))
		return nil
	}
	for _, o := range outcomes {
		if o.Success && !sameTransfer(o, req) {
			return pkg.NewAppError(pkg.ErrIdempotencyConflictCode,
				"transfer id already used for a different transfer", nil)
		}
	}
	return nil
}

func sameTransfer(o models.SettlementOutcome, req models.TransferRequest) bool {
	return o.FromCardMasked == models.MaskCardNumber(req.FromCardNumber) &&
		o.ToCardMasked == models.MaskCardNumber(req.ToCardNumber) &&
		o.Amount.Equal(req.Amount) &&
		o.Currency == req.Currency
}

func (s *TransferServiceImpl) publishQueued(ctx context.Context, queuedAt time.Time, req models.TransferRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	event := models.TransactionQueuedData{
		TransactionID:  req.ID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		FromCardMasked: models.MaskCardNumber(req.FromCardNumber),
		ToCardMasked:   models.MaskCardNumber(req.ToCardNumber),
		QueuedAtUtc:    queuedAt,
	}
	if err := s.publisher.Publish(ctx, pkg.EventTransactionQueued, models.TransactionSubject(req.ID), event); err != nil {
		s.logger.Warn("queued_event_publish_failed",
			zap.String(pkg.TraceId, pkg.TraceIDFrom(ctx)),
			zap.String(pkg.RequestId, req.ID),
			zap.Error(err))
	}
}

// ListOutcomes returns every settlement attempt recorded for a request id.
func (s *TransferServiceImpl) ListOutcomes(ctx context.Context, requestID string) ([]models.SettlementOutcome, error) {
	outcomes, err := s.outcomes.ListByRequestID(ctx, requestID)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrServerCode, "failed to load outcomes", err)
	}
	if len(outcomes) == 0 {
		return nil, pkg.NewAppError(pkg.ErrRecordNotFoundCode, "no outcomes recorded for transfer", nil)
	}
	return outcomes, nil
}

// ListTransactions returns processed transactions, newest first. The limit is capped at maxListLimit.
func (s *TransferServiceImpl) ListTransactions(ctx context.Context, limit int) (dtos.TransactionListDto, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	outcomes, err := s.outcomes.ListRecent(ctx, limit)
	if err != nil {
		return dtos.TransactionListDto{}, pkg.NewAppError(pkg.ErrServerCode, "failed to load transactions", err)
	}
	if outcomes == nil {
		outcomes = []models.SettlementOutcome{}
	}
	s.logger.Debug("transactions_listed", zap.String(pkg.TraceId, pkg.TraceIDFrom(ctx)), zap.Int("count", len(outcomes)))
	return dtos.TransactionListDto{Count: len(outcomes), Transactions: outcomes}, nil
}
