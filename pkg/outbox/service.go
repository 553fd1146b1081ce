package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pos-register/pkg/db/models"
	dbtypes "github.com/angelmondragon/pos-register/pkg/db/types"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/metrics"
)

const defaultDeliverTimeout = 15 * time.Second

type dbClient interface {
	DB() *gorm.DB
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// SubmitRequest is one ledger write a checkout wants delivered.
type SubmitRequest struct {
	CompanyKey     string
	EventType      enums.OutboxEventType
	Payload        any
	IdempotencyKey string
	Actor          *ActorRef
}

// SubmitResult reports how far a submission got. Settled without Deferred
// means the ledger acknowledged it; Settled with Deferred means it is queued
// for retry and the sale may proceed.
type SubmitResult struct {
	EventID       uuid.UUID
	Settled       bool
	Deferred      bool
	Replayed      bool
	RemoteEventID string
	InvoiceID     *string
	NextAttemptAt *time.Time

	// CredentialsRejected marks a queued write the ledger refused for
	// credentials; it stays queued and the device has to log in again.
	CredentialsRejected bool
}

type ServiceParams struct {
	DB             dbClient
	Transport      Transport
	Backoff        *BackoffPolicy
	Schemas        *PayloadSchemas
	MaxAttempts    int
	DeliverTimeout time.Duration
	Metrics        *metrics.OutboxMetrics
	Logger         *logger.Logger
	Clock          func() time.Time
}

// Service owns the local outbox: it is the only writer of outbox rows.
type Service struct {
	db             dbClient
	repo           *Repository
	dlq            *DLQRepository
	receipts       *ReceiptRepository
	transport      Transport
	backoff        *BackoffPolicy
	schemas        *PayloadSchemas
	maxAttempts    int
	deliverTimeout time.Duration
	metrics        *metrics.OutboxMetrics
	logg           *logger.Logger
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.MaxAttempts < 0 {
		return nil, errors.New("max attempts must be non-negative")
	}
	backoff := params.Backoff
	if backoff == nil {
		var err error
		if backoff, err = NewBackoffPolicy(nil); err != nil {
			return nil, err
		}
	}
	schemas := params.Schemas
	if schemas == nil {
		schemas = LedgerSchemas()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := params.DeliverTimeout
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	conn := params.DB.DB()
	return &Service{
		db:             params.DB,
		repo:           NewRepository(conn),
		dlq:            NewDLQRepository(conn),
		receipts:       NewReceiptRepository(conn),
		transport:      params.Transport,
		backoff:        backoff,
		schemas:        schemas,
		maxAttempts:    params.MaxAttempts,
		deliverTimeout: timeout,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            func() time.Time { return clock().UTC() },
	}, nil
}

// Repository exposes read access for status endpoints and the drainer.
func (s *Service) Repository() *Repository { return s.repo }

// DeadLetters exposes the dead-letter audit trail.
func (s *Service) DeadLetters() *DLQRepository { return s.dlq }

// Receipts exposes settlement receipts for retention.
func (s *Service) Receipts() *ReceiptRepository { return s.receipts }

// Submit durably queues the event, then attempts delivery once.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateSubmit(req); err != nil {
		return SubmitResult{}, err
	}
	ctx = s.logg.WithCompany(ctx, req.CompanyKey)

	receipt, err := s.receipts.FindByKey(ctx, req.CompanyKey, req.IdempotencyKey)
	if err != nil {
		return SubmitResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read outbox receipt")
	}
	if receipt != nil {
		return SubmitResult{
			EventID:       receipt.EventID,
			Settled:       true,
			Replayed:      true,
			RemoteEventID: receipt.RemoteEventID,
			InvoiceID:     receipt.InvoiceID,
		}, nil
	}

	row, err := s.enqueue(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}
	if !row.Status.CanTransition(enums.OutboxStatusAcked) {
		return SubmitResult{EventID: row.ID}, pkgerrors.New(pkgerrors.CodeStateConflict, "event was rejected earlier and needs a manager requeue").
			WithDetails(map[string]any{"event_id": row.ID.String(), "last_error": deref(row.LastError)})
	}

	return s.deliver(ctx, *row, originSubmit)
}

// Outstanding reports whether a write under the key is still waiting for the
// ledger. Dead rows and settled receipts do not count.
func (s *Service) Outstanding(ctx context.Context, companyKey, idempotencyKey string) (bool, error) {
	row, err := s.repo.FindByKey(ctx, companyKey, idempotencyKey)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read outbox event")
	}
	return row != nil && row.Status.CanTransition(enums.OutboxStatusAcked), nil
}

func (s *Service) enqueue(ctx context.Context, req SubmitRequest) (*models.OutboxEvent, error) {
	data, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode outbox payload")
	}
	if err := s.schemas.Check(req.EventType, envelopeVersion, data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outbox payload").
			WithDetails(map[string]any{"event_type": req.EventType})
	}

	digest := payloadDigest(data)
	now := s.now()
	eventID := uuid.New()
	envelope := PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    eventID.String(),
		OccurredAt: now,
		Actor:      req.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode outbox envelope")
	}

	row, created, err := s.repo.InsertOrGet(ctx, models.OutboxEvent{
		ID:             eventID,
		CompanyKey:     req.CompanyKey,
		EventType:      req.EventType,
		Payload:        dbtypes.JSONText(payload),
		PayloadDigest:  digest,
		IdempotencyKey: req.IdempotencyKey,
		Status:         enums.OutboxStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue outbox event")
	}
	if !created && row.EventType != req.EventType {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for another event type").
			WithDetails(map[string]any{"event_id": row.ID.String(), "event_type": row.EventType})
	}
	if !created && row.PayloadDigest != "" && row.PayloadDigest != digest {
		// The queued row goes out as first written; a changed sale needs a new key.
		// Rows queued before digests were stored carry none and are not compared.
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different payload").
			WithDetails(map[string]any{"event_id": row.ID.String(), "status": row.Status})
	}

	logCtx := s.logg.WithFields(ctx, s.eventFields(*row))
	if created {
		s.logg.Info(logCtx, "outbox event queued")
	} else {
		s.logg.Info(logCtx, "outbox event reused for resubmission")
	}
	return row, nil
}

type attemptOrigin int

const (
	originSubmit attemptOrigin = iota
	originDrain
)

// deliver runs one attempt and records its outcome.
func (s *Service) deliver(ctx context.Context, row models.OutboxEvent, origin attemptOrigin) (SubmitResult, error) {
	delivery, err := deliveryFor(row)
	if err != nil {
		return s.handleTerminal(ctx, row, enums.OutboxDLQReasonUnreadablePayload,
			pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stored outbox payload is unreadable"))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.deliverTimeout)
	start := time.Now()
	ack, deliverErr := s.transport.Deliver(attemptCtx, delivery)
	cancel()
	elapsed := time.Since(start)

	// The write is dispatched; caller cancellation must not stop the bookkeeping.
	ctx = context.WithoutCancel(ctx)

	if deliverErr == nil {
		return s.handleAck(ctx, row, ack, elapsed)
	}
	if !pkgerrors.IsTransient(deliverErr) && pkgerrors.CodeOf(deliverErr) != pkgerrors.CodeUnauthorized {
		s.metrics.ObserveDelivery(row.CompanyKey, metrics.OutcomeDead, elapsed)
		return s.handleTerminal(ctx, row, enums.OutboxDLQReasonRejected, deliverErr)
	}

	unauthorized := pkgerrors.CodeOf(deliverErr) == pkgerrors.CodeUnauthorized
	if unauthorized && origin == originSubmit {
		withdrawn, err := s.withdraw(ctx, row, deliverErr)
		if err != nil {
			return SubmitResult{}, err
		}
		if withdrawn {
			s.metrics.ObserveDelivery(row.CompanyKey, metrics.OutcomeWithdrawn, elapsed)
			return SubmitResult{EventID: row.ID}, deliverErr
		}
	}

	attempts := row.AttemptCount + 1
	if s.maxAttempts > 0 && attempts >= s.maxAttempts {
		s.metrics.ObserveDelivery(row.CompanyKey, metrics.OutcomeDead, elapsed)
		return s.handleTerminal(ctx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max delivery attempts reached: %w", deliverErr))
	}
	s.metrics.ObserveDelivery(row.CompanyKey, metrics.OutcomeDeferred, elapsed)
	return s.handleRetry(ctx, row, attempts, deliverErr, origin)
}

// withdraw drops a row the ledger never saw because the credentials were
// refused, so nothing is left queued behind a failed checkout. It reports
// false when the row was already deferred once and must stay queued.
func (s *Service) withdraw(ctx context.Context, row models.OutboxEvent, cause error) (bool, error) {
	var withdrawn bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		withdrawn, err = s.repo.WithdrawUnattemptedTx(tx, row.ID)
		return err
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "withdraw outbox event")
	}
	if withdrawn {
		fields := s.eventFields(row)
		fields["error"] = cause.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "ledger refused credentials; outbox event withdrawn")
	}
	return withdrawn, nil
}

func (s *Service) handleAck(ctx context.Context, row models.OutboxEvent, ack Ack, elapsed time.Duration) (SubmitResult, error) {
	now := s.now()
	remoteID := ack.RemoteEventID
	if remoteID == "" {
		remoteID = row.ID.String()
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.receipts.InsertTx(tx, models.OutboxReceipt{
			CompanyKey:     row.CompanyKey,
			IdempotencyKey: row.IdempotencyKey,
			EventID:        row.ID,
			EventType:      row.EventType,
			RemoteEventID:  remoteID,
			InvoiceID:      ack.InvoiceID,
			Replayed:       ack.Replayed,
			SettledAt:      now,
		}); err != nil {
			return fmt.Errorf("insert receipt %s: %w", row.ID, err)
		}
		if err := s.repo.DeleteAckedTx(tx, row.ID); err != nil {
			return fmt.Errorf("delete acked %s: %w", row.ID, err)
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger acknowledgement")
	}

	outcome := metrics.OutcomeAcked
	if ack.Replayed {
		outcome = metrics.OutcomeReplayed
	}
	s.metrics.ObserveDelivery(row.CompanyKey, outcome, elapsed)

	fields := s.eventFields(row)
	fields["remote_event_id"] = remoteID
	fields["replayed"] = ack.Replayed
	s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event acknowledged")

	return SubmitResult{
		EventID:       row.ID,
		Settled:       true,
		Replayed:      ack.Replayed,
		RemoteEventID: remoteID,
		InvoiceID:     ack.InvoiceID,
	}, nil
}

func (s *Service) handleRetry(ctx context.Context, row models.OutboxEvent, attempts int, cause error, origin attemptOrigin) (SubmitResult, error) {
	now := s.now()
	next := s.backoff.NextAttemptAt(now, attempts)
	var marked bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		marked, err = s.repo.MarkFailedTx(tx, row.ID, cause.Error(), next, now)
		return err
	})
	if err != nil {
		return SubmitResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery failure")
	}

	fields := s.eventFields(row)
	fields["attempt_count"] = attempts
	fields["next_attempt_at"] = next.Format(time.RFC3339)
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox delivery deferred")

	result := SubmitResult{EventID: row.ID, Settled: true, Deferred: true}
	if marked {
		result.NextAttemptAt = &next
	}
	if pkgerrors.CodeOf(cause) == pkgerrors.CodeUnauthorized {
		result.CredentialsRejected = true
		if origin == originDrain {
			// The drainer stops its pass until credentials are fixed.
			return result, cause
		}
	}
	return result, nil
}

func (s *Service) handleTerminal(ctx context.Context, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (SubmitResult, error) {
	now := s.now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.MarkDeadTx(tx, row.ID, cause.Error(), now)
		if err != nil {
			return fmt.Errorf("mark dead %s: %w", row.ID, err)
		}
		if !moved {
			return nil
		}
		entry := models.OutboxDLQ{
			EventID:        row.ID,
			CompanyKey:     row.CompanyKey,
			EventType:      row.EventType,
			IdempotencyKey: row.IdempotencyKey,
			Payload:        row.Payload,
			ErrorReason:    reason,
			ErrorMessage:   dlqErrorMessage(cause),
			AttemptCount:   row.AttemptCount + 1,
			FailedAt:       now,
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", row.ID, err)
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dead letter")
	}

	fields := s.eventFields(row)
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	return SubmitResult{EventID: row.ID}, cause
}

// Requeue moves a dead row back to pending on a manager's explicit request.
// It is the only way out of the dead state.
func (s *Service) Requeue(ctx context.Context, companyKey string, eventID uuid.UUID, approver string) error {
	if strings.TrimSpace(approver) == "" {
		return pkgerrors.New(pkgerrors.CodeApproval, "requeue needs an approving manager")
	}
	row, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outbox event")
	}
	if row == nil || row.CompanyKey != companyKey {
		return pkgerrors.New(pkgerrors.CodeNotFound, "outbox event not found")
	}
	if row.Status != enums.OutboxStatusDead {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only dead events can be requeued").
			WithDetails(map[string]any{"status": row.Status})
	}

	now := s.now()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.RequeueTx(tx, eventID, now)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "event left the dead state concurrently")
		}
		return s.dlq.MarkRequeuedTx(tx, eventID, approver, now)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue outbox event")
	}

	s.metrics.IncRequeued(companyKey)
	fields := s.eventFields(*row)
	fields["approved_by"] = approver
	s.logg.Info(s.logg.WithFields(ctx, fields), "dead outbox event requeued")
	return nil
}

func (s *Service) eventFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"event_id":        row.ID.String(),
		"event_type":      row.EventType,
		"company_key":     row.CompanyKey,
		"idempotency_key": row.IdempotencyKey,
		"status":          row.Status,
		"attempt_count":   row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func deliveryFor(row models.OutboxEvent) (Delivery, error) {
	env, err := DecodeEnvelope(row.Payload)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		EventID:        row.ID,
		CompanyKey:     row.CompanyKey,
		EventType:      row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		Payload:        env.Data,
		CreatedAt:      row.CreatedAt,
		AttemptCount:   row.AttemptCount,
	}, nil
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.CompanyKey) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "company key is required")
	case strings.TrimSpace(req.IdempotencyKey) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	case !req.EventType.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown event type").
			WithDetails(map[string]any{"event_type": req.EventType})
	case req.Payload == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}
	return nil
}

func payloadDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func dlqErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
