package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pos-register/pkg/logger"
)

const defaultReceiptRetention = 30 * 24 * time.Hour

type ReceiptRetentionJobParams struct {
	Logger     *logger.Logger
	Repository receiptPurger
	Retention  time.Duration
	Clock      func() time.Time
}

type receiptPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewReceiptRetentionJob drops settlement receipts older than the retention.
// Idempotency keys older than that can no longer be replayed locally.
func NewReceiptRetentionJob(params ReceiptRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("receipt repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultReceiptRetention
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &receiptRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       clock,
	}, nil
}

type receiptRetentionJob struct {
	logg      *logger.Logger
	repo      receiptPurger
	retention time.Duration
	now       func() time.Time
}

func (j *receiptRetentionJob) Name() string { return "receipt-retention" }

func (j *receiptRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("receipt retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "receipt retention cleanup complete")
	return nil
}
