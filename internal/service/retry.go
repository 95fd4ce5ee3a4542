package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/publisher"
)

// enqueuePending откладывает событие для фоновой записи. При переполнении очереди
// событие сразу уходит в dead letter.
func (s *Service) enqueuePending(ctx context.Context, job pendingIngest) {
	s.pendingMu.Lock()
	if len(s.pending) < s.maxPending {
		s.pending = append(s.pending, job)
		s.pendingMu.Unlock()
		return
	}
	s.pendingMu.Unlock()

	s.deadLetter(ctx, job)
}

// PendingIngests возвращает число событий, ожидающих записи.
func (s *Service) PendingIngests() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// RunIngestRetries повторяет запись покупок, которые не удалось сохранить при получении вебхука.
// Блокируется до отмены ctx и возвращается только после отправки оставшихся событий в dead letter.
func (s *Service) RunIngestRetries(ctx context.Context) {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushPendingOnShutdown()
			return
		case <-ticker.C:
			s.processPendingBatch(ctx)
		}
	}
}

func (s *Service) processPendingBatch(ctx context.Context) {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for i, job := range batch {
		if ctx.Err() != nil {
			s.pendingMu.Lock()
			s.pending = append(s.pending, batch[i:]...)
			s.pendingMu.Unlock()
			return
		}

		outcome, err := s.ingest(ctx, job)
		if err == nil {
			s.logger.Info("deferred purchase stored",
				zap.String("event_id", job.eventID),
				zap.String("session_id", job.session.ID),
				zap.String("outcome", string(outcome)),
				zap.Int("attempts", job.attempts+1),
			)
			continue
		}

		job.attempts++
		job.lastErr = err
		if job.attempts >= s.maxRetryAttempts {
			s.deadLetter(ctx, job)
			continue
		}

		s.logger.Warn("deferred purchase write failed",
			zap.String("event_id", job.eventID),
			zap.String("session_id", job.session.ID),
			zap.Int("attempts", job.attempts),
			zap.Error(err),
		)
		s.enqueuePending(ctx, job)
	}
}

// flushPendingOnShutdown отправляет неразобранные события в dead letter при остановке.
func (s *Service) flushPendingOnShutdown() {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, job := range batch {
		s.deadLetter(ctx, job)
	}
}

func (s *Service) deadLetter(ctx context.Context, job pendingIngest) {
	rec := BuildRecord(job.session, job.created, job.lineItems, s.recoverCart(ctx, job))

	errText := ""
	if job.lastErr != nil {
		errText = job.lastErr.Error()
	}

	s.logger.Error("purchase lost, sending to dead letter",
		zap.String("event_id", job.eventID),
		zap.String("session_id", job.session.ID),
		zap.String("customer_email", rec.CustomerEmail),
		zap.Int("attempts", job.attempts),
		zap.String("last_error", errText),
		zap.Any("record", rec),
	)

	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishDeadLetter(ctx, publisher.DeadLetter{
		EventID:   job.eventID,
		SessionID: job.session.ID,
		Attempts:  job.attempts,
		Error:     errText,
		Record:    rec,
	})
	if err != nil {
		s.logger.Error("publish dead letter failed", zap.String("event_id", job.eventID), zap.Error(err))
	}
}
