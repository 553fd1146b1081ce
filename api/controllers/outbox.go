package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/api/middleware"
	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	"github.com/angelmondragon/pos-register/pkg/db/models"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
)

type outboxEvents interface {
	CountByStatus(ctx context.Context, companyKey string) (map[enums.OutboxStatus]int64, error)
	List(ctx context.Context, companyKey string, status enums.OutboxStatus, limit int) ([]models.OutboxEvent, error)
}

type deadLetters interface {
	List(ctx context.Context, f outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

type outboxRequeuer interface {
	Requeue(ctx context.Context, companyKey string, eventID uuid.UUID, approver string) error
}

type requeueNotifier interface {
	Requeued(ctx context.Context, eventID uuid.UUID)
}

type outboxEventDTO struct {
	ID             uuid.UUID             `json:"id"`
	CompanyKey     string                `json:"company_key"`
	EventType      enums.OutboxEventType `json:"event_type"`
	IdempotencyKey string                `json:"idempotency_key"`
	Status         enums.OutboxStatus    `json:"status"`
	AttemptCount   int                   `json:"attempt_count"`
	NextAttemptAt  *time.Time            `json:"next_attempt_at,omitempty"`
	LastError      *string               `json:"last_error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type deadLetterDTO struct {
	EventID        uuid.UUID                  `json:"event_id"`
	CompanyKey     string                     `json:"company_key"`
	EventType      enums.OutboxEventType      `json:"event_type"`
	IdempotencyKey string                     `json:"idempotency_key"`
	ErrorReason    enums.OutboxDLQErrorReason `json:"error_reason"`
	ErrorMessage   *string                    `json:"error_message,omitempty"`
	AttemptCount   int                        `json:"attempt_count"`
	FailedAt       time.Time                  `json:"failed_at"`
	RequeuedAt     *time.Time                 `json:"requeued_at,omitempty"`
	RequeuedBy     *string                    `json:"requeued_by,omitempty"`
}

// OutboxStatus returns the company's backlog by status.
func OutboxStatus(events outboxEvents, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		company := companyParam(r)
		counts, err := events.CountByStatus(r.Context(), company)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count outbox events"))
			return
		}
		out := map[string]int64{}
		for _, status := range []enums.OutboxStatus{enums.OutboxStatusPending, enums.OutboxStatusFailed, enums.OutboxStatusDead} {
			out[string(status)] = counts[status]
		}
		responses.WriteSuccess(w, map[string]any{"company_key": company, "counts": out})
	}
}

// OutboxList returns the company's rows of one status, oldest first.
func OutboxList(events outboxEvents, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := enums.OutboxStatusFailed
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseOutboxStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = parsed
		}
		limit, err := validators.QueryInt(r, "limit", validators.ListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := events.List(r.Context(), companyParam(r), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox events"))
			return
		}
		out := make([]outboxEventDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, outboxEventDTO{
				ID:             row.ID,
				CompanyKey:     row.CompanyKey,
				EventType:      row.EventType,
				IdempotencyKey: row.IdempotencyKey,
				Status:         row.Status,
				AttemptCount:   row.AttemptCount,
				NextAttemptAt:  row.NextAttemptAt,
				LastError:      row.LastError,
				CreatedAt:      row.CreatedAt,
				UpdatedAt:      row.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// OutboxDeadLetters lists the dead-letter history of the company. The
// reason and open query parameters narrow the listing.
func OutboxDeadLetters(dlq deadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.QueryInt(r, "limit", validators.ListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DLQFilter{
			CompanyKey: companyParam(r),
			Open:       strings.EqualFold(r.URL.Query().Get("open"), "true"),
			Limit:      limit,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			reason, err := enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
			filter.Reason = reason
		}
		rows, err := dlq.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		out := make([]deadLetterDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, deadLetterDTO{
				EventID:        row.EventID,
				CompanyKey:     row.CompanyKey,
				EventType:      row.EventType,
				IdempotencyKey: row.IdempotencyKey,
				ErrorReason:    row.ErrorReason,
				ErrorMessage:   row.ErrorMessage,
				AttemptCount:   row.AttemptCount,
				FailedAt:       row.FailedAt,
				RequeuedAt:     row.RequeuedAt,
				RequeuedBy:     row.RequeuedBy,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// OutboxRequeue moves a dead event back to pending. It runs behind
// RequireApproval, which names the approving manager.
func OutboxRequeue(svc outboxRequeuer, notices requeueNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.ParseUUID(chi.URLParam(r, "eventId"), "event_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		company := companyParam(r)
		approver := middleware.ManagerIDFromContext(r.Context())

		if err := svc.Requeue(r.Context(), company, eventID, approver); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if notices != nil {
			notices.Requeued(r.Context(), eventID)
		}
		responses.WriteSuccess(w, map[string]any{
			"event_id":    eventID,
			"company_key": company,
			"status":      enums.OutboxStatusPending,
			"approved_by": approver,
		})
	}
}

func companyParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "companyKey"))
}
