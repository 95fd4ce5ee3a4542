package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/repository"
	"github.com/mmeshcher/photomart/internal/stripe"
	"github.com/mmeshcher/photomart/internal/validation"
)

// WebhookOutcome описывает, чем закончилась обработка принятого вебхука.
type WebhookOutcome string

const (
	OutcomeStored    WebhookOutcome = "stored"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeDeferred  WebhookOutcome = "deferred"
)

// pendingIngest хранит событие, покупку из которого ещё не удалось сохранить.
type pendingIngest struct {
	eventID   string
	created   int64
	session   stripe.CheckoutSession
	lineItems []model.LineItem
	// cart запоминается при откладывании, чтобы dead letter не потерял позиции при недоступном хранилище.
	cart      []model.CartItem
	attempts  int
	lastErr   error
}

// HandleStripeWebhook проверяет подпись события и сохраняет покупку из checkout.session.completed.
// После прохождения проверки подписи ошибки хранилища не возвращаются: запись откладывается
// для фоновых повторов, а событие подтверждается.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) (WebhookOutcome, error) {
	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		s.logger.Warn("stripe signature verification failed", zap.Error(err))
		return "", ErrInvalidSignature
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if event.Type != stripe.EventCheckoutSessionCompleted {
		s.logger.Debug("unhandled event type", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return OutcomeIgnored, nil
	}
	if event.Session == nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, stripe.ErrNoSession)
	}

	session := *event.Session
	if !validation.IsValidSessionID(session.ID) {
		return "", fmt.Errorf("%w: bad session id", ErrInvalidPayload)
	}
	if session.Email() == "" {
		s.logger.Warn("checkout session without customer email", zap.String("session_id", session.ID))
		return "", ErrMissingEmail
	}

	job := pendingIngest{
		eventID:   event.ID,
		created:   event.Created,
		session:   session,
		lineItems: s.resolveLineItems(ctx, session),
	}

	outcome, err := s.ingestWithRetry(ctx, job)
	if err != nil {
		job.attempts = 1
		job.lastErr = err
		job.cart = s.recoverCart(ctx, job)
		s.logger.Error("purchase write failed, deferring",
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		s.enqueuePending(ctx, job)
		return OutcomeDeferred, nil
	}

	return outcome, nil
}

// resolveLineItems возвращает позиции из события или запрашивает их у провайдера.
// Недоступность позиций не ошибка: тогда покупка собирается из корзины.
func (s *Service) resolveLineItems(ctx context.Context, session stripe.CheckoutSession) []model.LineItem {
	if len(session.LineItems) > 0 {
		return session.LineItems
	}

	if s.payments == nil {
		return nil
	}

	items, err := s.payments.ListLineItems(ctx, session.ID)
	if err != nil {
		s.logger.Warn("line items unavailable, falling back to cart",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return nil
	}
	return items
}

func (s *Service) ingestWithRetry(ctx context.Context, job pendingIngest) (WebhookOutcome, error) {
	var (
		outcome WebhookOutcome
		err     error
	)

	for i := 0; i <= len(s.writeDelays); i++ {
		outcome, err = s.ingest(ctx, job)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || i == len(s.writeDelays) {
			break
		}

		timer := time.NewTimer(s.writeDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", err
		case <-timer.C:
		}
	}

	return "", err
}

// ingest собирает запись из события и корзины и сохраняет её, если записи ещё нет.
func (s *Service) ingest(ctx context.Context, job pendingIngest) (WebhookOutcome, error) {
	cart, err := s.loadCart(ctx, job.session)
	if err != nil {
		return "", err
	}

	rec := BuildRecord(job.session, job.created, job.lineItems, cart)

	err = s.purchases.CreateIfAbsent(ctx, rec.SessionID, rec)
	if errors.Is(err, repository.ErrPurchaseExists) {
		s.logger.Debug("purchase already stored, skipping",
			zap.String("event_id", job.eventID),
			zap.String("session_id", rec.SessionID),
		)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	s.logger.Info("purchase stored",
		zap.String("event_id", job.eventID),
		zap.String("session_id", rec.SessionID),
		zap.Int("items", len(rec.Items)),
	)

	if s.publisher != nil {
		if err := s.publisher.PublishPurchaseCompleted(ctx, rec); err != nil {
			s.logger.Warn("publish purchase completed failed", zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	}

	return OutcomeStored, nil
}

// loadCart читает корзину сессии. Если её нет в хранилище, корзина восстанавливается
// из metadata сессии по каталогу.
func (s *Service) loadCart(ctx context.Context, session stripe.CheckoutSession) ([]model.CartItem, error) {
	if s.carts != nil {
		cart, err := s.carts.Get(ctx, session.ID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}
	}

	return s.cartFromMetadata(session), nil
}

// recoverCart возвращает корзину отложенного события без обращения к хранилищу, если это возможно.
// При ошибке хранилища корзина собирается из metadata сессии.
func (s *Service) recoverCart(ctx context.Context, job pendingIngest) []model.CartItem {
	if job.cart != nil {
		return job.cart
	}

	cart, err := s.loadCart(ctx, job.session)
	if err != nil {
		s.logger.Warn("cart store unavailable, using session metadata",
			zap.String("session_id", job.session.ID),
			zap.Error(err),
		)
		return s.cartFromMetadata(job.session)
	}
	return cart
}

func (s *Service) cartFromMetadata(session stripe.CheckoutSession) []model.CartItem {
	raw := session.Metadata[metadataCartKey]
	if raw == "" || s.catalog == nil {
		return nil
	}

	var entries []metadataCartEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("malformed cart metadata", zap.String("session_id", session.ID), zap.Error(err))
		return nil
	}

	items := make([]CheckoutItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, CheckoutItem{ProductID: e.ProductID, Quantity: e.Quantity})
	}

	cart, err := s.buildCart(items)
	if err != nil {
		s.logger.Warn("cart metadata does not match catalog", zap.String("session_id", session.ID), zap.Error(err))
		return nil
	}
	return cart
}
