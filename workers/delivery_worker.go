// workers/delivery_worker.go
package workers

import (
	"context"
	"fmt"
	"time"

	"participation-points/metrics"
	"participation-points/models"
	"participation-points/services"

	"go.uber.org/zap"
)

const defaultItemTimeout = 10 * time.Second

// Sender delivers one queue item over some transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, item models.NotificationQueueItem) error
}

// RunResult summarizes one drain pass.
type RunResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"successful"`
	Failed    int `json:"failed"`
}

// DeliveryWorker drains the notification outbox. Any number of workers may run
// RunOnce concurrently; the outbox claim hands each item to exactly one of them.
type DeliveryWorker struct {
	outbox      *services.OutboxService
	sender      Sender
	batchSize   int
	itemTimeout time.Duration
	logger      *zap.Logger
}

func NewDeliveryWorker(outbox *services.OutboxService, sender Sender, batchSize int, itemTimeout time.Duration, logger *zap.Logger) *DeliveryWorker {
	if batchSize <= 0 {
		batchSize = services.DefaultClaimBatch
	}
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	return &DeliveryWorker{
		outbox:      outbox,
		sender:      sender,
		batchSize:   batchSize,
		itemTimeout: itemTimeout,
		logger:      logger.Named("delivery"),
	}
}

// RunOnce claims one batch and attempts each item exactly once. Only a failed
// claim returns an error; per-item failures are recorded on the item.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult

	items, err := w.outbox.Claim(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("claim failed", zap.Error(err))
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}

	// results must be written even if the caller goes away mid-batch
	completeCtx := context.WithoutCancel(ctx)

	for _, item := range items {
		res.Processed++
		start := time.Now()
		sendErr := w.deliver(ctx, item)
		metrics.NotificationSendDuration.WithLabelValues(w.sender.Name()).Observe(time.Since(start).Seconds())

		status, msg := models.QueueStatusDelivered, ""
		if sendErr != nil {
			status, msg = models.QueueStatusFailed, sendErr.Error()
			res.Failed++
			w.logger.Warn("delivery failed",
				zap.String("item_id", item.ID),
				zap.String("user_id", item.UserID),
				zap.Int("attempts", item.Attempts),
				zap.Error(sendErr),
			)
		} else {
			res.Succeeded++
		}
		metrics.NotificationsAttemptedTotal.WithLabelValues(w.sender.Name(), string(status)).Inc()

		if err := w.outbox.Complete(completeCtx, item.ID, status, msg); err != nil {
			w.logger.Error("failed to record delivery result",
				zap.String("item_id", item.ID), zap.String("status", string(status)), zap.Error(err))
		}
	}

	w.logger.Info("outbox batch processed",
		zap.Int("processed", res.Processed),
		zap.Int("successful", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, item models.NotificationQueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("worker stopped before delivery: %w", err)
	}
	itemCtx, cancel := context.WithTimeout(ctx, w.itemTimeout)
	defer cancel()
	return w.sender.Send(itemCtx, item)
}
