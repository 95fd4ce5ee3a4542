package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/entitlement"
	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/repository"
	"github.com/mmeshcher/photomart/internal/validation"
)

// errDenied прерывает обновление записи, когда выдача запрещена.
var errDenied = errors.New("download denied")

// AuthorizeDownload решает, можно ли сейчас выдать товар сессии, и фиксирует выдачу.
// Выдача считается состоявшейся только после успешной условной записи в хранилище,
// поэтому из нескольких параллельных запросов допускается ровно один.
func (s *Service) AuthorizeDownload(ctx context.Context, sessionID, productID string) (model.Authorization, error) {
	if !validation.IsValidSessionID(sessionID) {
		return model.Authorization{}, ErrInvalidSessionID
	}

	var (
		reason model.DenyReason
		item   model.PurchasedItem
	)

	_, err := s.purchases.Update(ctx, sessionID, func(rec model.PurchaseRecord) (model.PurchaseRecord, error) {
		res := s.engine.TryConsume(rec, productID)
		if !res.Admitted {
			reason = res.Reason
			return rec, errDenied
		}
		reason = model.ReasonNone
		item = res.Item
		return *res.Record, nil
	})

	switch {
	case errors.Is(err, errDenied):
		s.logger.Debug("download denied",
			zap.String("session_id", sessionID),
			zap.String("product_id", productID),
			zap.String("reason", string(reason)),
		)
		return model.Authorization{Reason: reason}, nil
	case errors.Is(err, repository.ErrPurchaseNotFound):
		return model.Authorization{Reason: model.ReasonSessionNotFound}, nil
	case err != nil:
		return model.Authorization{}, fmt.Errorf("authorize download: %w", err)
	}

	d := entitlement.DownloadFor(item)
	s.logger.Info("download released",
		zap.String("session_id", sessionID),
		zap.String("product_id", productID),
		zap.Int("count", d.Count),
	)

	return model.Authorization{Admitted: true, Download: &d}, nil
}

// EvaluateDownload возвращает текущее состояние права на товар без изменения записи.
func (s *Service) EvaluateDownload(ctx context.Context, sessionID, productID string) (entitlement.Evaluation, error) {
	rec, err := s.getPurchase(ctx, sessionID)
	if err != nil {
		return entitlement.Evaluation{}, err
	}
	return s.engine.Evaluate(rec, productID), nil
}

// Entitlements возвращает права на скачивание по всем позициям покупки.
func (s *Service) Entitlements(ctx context.Context, sessionID string) ([]model.Entitlement, error) {
	rec, err := s.getPurchase(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.engine.Entitlements(rec), nil
}

func (s *Service) getPurchase(ctx context.Context, sessionID string) (model.PurchaseRecord, error) {
	if !validation.IsValidSessionID(sessionID) {
		return model.PurchaseRecord{}, ErrInvalidSessionID
	}
	return s.purchases.Get(ctx, sessionID)
}
