package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const (
	MaxRetryAttempts   = 5
	defaultOutboxBatch = 100
	claimAttempts      = 3
)

// OutboxService handles transactional event storage and async publishing.
// It implements the Outbox Pattern for guaranteed event delivery.
type OutboxService struct {
	repo      *persistence.OutboxRepository
	publisher ports.EventPublisher
	txManager *persistence.TransactionManager
	logger    *zap.Logger
	batchSize int

	// Worker control
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutboxService creates a new OutboxService
func NewOutboxService(repo *persistence.OutboxRepository, publisher ports.EventPublisher, txManager *persistence.TransactionManager, batchSize int, logger *zap.Logger) *OutboxService {
	if batchSize <= 0 {
		batchSize = defaultOutboxBatch
	}
	return &OutboxService{
		repo:      repo,
		publisher: publisher,
		txManager: txManager,
		logger:    logger,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Enqueue stores an event in the outbox. With a transactional ctx the event
// is persisted atomically with the business change.
func (s *OutboxService) Enqueue(ctx context.Context, event *events.RecordEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	id, err := s.repo.Enqueue(ctx, event.TenantID, event.Type.String(), payload)
	if err != nil {
		return err
	}
	s.logger.Debug("Outbox event enqueued",
		zap.String("id", id),
		zap.String("type", event.Type.String()),
		zap.String("record_id", event.RecordID))
	return nil
}

// StartWorker starts the background worker that processes pending outbox events.
func (s *OutboxService) StartWorker(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("Outbox worker started", zap.Duration("interval", interval))

		for {
			select {
			case <-s.stopCh:
				s.logger.Info("Outbox worker stopping")
				return
			case <-ticker.C:
				if _, err := s.ProcessOutbox(context.Background()); err != nil {
					s.logger.Warn("Outbox worker error", zap.Error(err))
				}
			}
		}
	}()
}

// StopWorker stops the background worker gracefully
func (s *OutboxService) StopWorker() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Outbox worker stopped")
}

// ProcessOutbox claims one batch of pending events, publishes each of them
// and records the outcome, all in one transaction. Handlers run with the
// caller's context so their own writes are not tied to the claim. A claim
// that deadlocks with another worker is retried; its events stay pending.
func (s *OutboxService) ProcessOutbox(ctx context.Context) (int, error) {
	processed := 0
	err := s.txManager.WithRetry(ctx, func(txCtx context.Context) error {
		processed = 0
		batch, err := s.repo.ClaimPending(txCtx, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			s.logger.Debug("Processing outbox batch", zap.Int("events", len(batch)))
		}
		for _, e := range batch {
			if err := s.deliver(ctx, txCtx, e); err != nil {
				return err
			}
			processed++
		}
		return nil
	}, claimAttempts)
	return processed, err
}

// deliver publishes one claimed event. Only bookkeeping failures are
// returned; handler failures are recorded on the event.
func (s *OutboxService) deliver(ctx, txCtx context.Context, e *models.OutboxEvent) error {
	var event events.RecordEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		s.logger.Error("Outbox event has an invalid payload", zap.String("id", e.ID), zap.Error(err))
		metrics.OutboxEvent("failed")
		if markErr := s.repo.MarkFailed(txCtx, e.ID, e.Attempts, fmt.Sprintf("invalid payload: %v", err)); markErr != nil {
			return fmt.Errorf("failed to mark event as failed: %w", markErr)
		}
		return nil
	}

	if err := s.publisher.Publish(ctx, &event); err != nil {
		attempts := e.Attempts + 1
		if attempts >= MaxRetryAttempts {
			s.logger.Error("Outbox event exhausted its retries",
				zap.String("id", e.ID), zap.Int("attempts", attempts), zap.Error(err))
			metrics.OutboxEvent("failed")
			if markErr := s.repo.MarkFailed(txCtx, e.ID, attempts, fmt.Sprintf("max retries exceeded: %v", err)); markErr != nil {
				return fmt.Errorf("failed to mark event as failed: %w", markErr)
			}
			return nil
		}

		s.logger.Warn("Outbox event delivery failed",
			zap.String("id", e.ID), zap.Int("attempt", attempts), zap.Int("max", MaxRetryAttempts), zap.Error(err))
		metrics.OutboxEvent("retried")
		if updateErr := s.repo.IncrementRetry(txCtx, e.ID, attempts, err.Error()); updateErr != nil {
			return fmt.Errorf("failed to update retry count: %w", updateErr)
		}
		return nil
	}

	metrics.OutboxEvent("processed")
	if err := s.repo.MarkProcessed(txCtx, e.ID); err != nil {
		return fmt.Errorf("failed to mark as processed: %w", err)
	}
	return nil
}

// CleanupProcessed removes processed events older than olderThan.
func (s *OutboxService) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.CleanupProcessed(ctx, time.Now().UTC().Add(-olderThan))
}

// Stats returns the number of outbox events per status.
func (s *OutboxService) Stats(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}
