// Package handler содержит HTTP-обработчики API магазина фотографий.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/entitlement"
	"github.com/mmeshcher/photomart/internal/kvstore"
	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/repository"
	"github.com/mmeshcher/photomart/internal/service"
	"github.com/mmeshcher/photomart/internal/stripe"
)

// Stripe присылает события размером до нескольких сотен килобайт.
const maxWebhookBody = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListPhotos() []model.Photo
	CreateCheckout(ctx context.Context, items []service.CheckoutItem) (*service.Checkout, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) (service.WebhookOutcome, error)
	Entitlements(ctx context.Context, sessionID string) ([]model.Entitlement, error)
	EvaluateDownload(ctx context.Context, sessionID, productID string) (entitlement.Evaluation, error)
	AuthorizeDownload(ctx context.Context, sessionID, productID string) (model.Authorization, error)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPhotos возвращает каталог без ссылок на файлы.
func (h *Handler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	photos := h.service.ListPhotos()
	if photos == nil {
		photos = []model.Photo{}
	}
	writeJSON(w, http.StatusOK, photos)
}

type checkoutRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckout создаёт сессию оплаты для корзины.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	items := make([]service.CheckoutItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.CheckoutItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	co, err := h.service.CreateCheckout(r.Context(), items)
	switch {
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrUnknownPhoto):
		writeError(w, http.StatusBadRequest, "invalid_cart", err.Error())
		return
	case errors.Is(err, stripe.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payments_unavailable", "checkout is not available")
		return
	case err != nil:
		h.logger.Error("create checkout error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "checkout_failed", "could not create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: co.SessionID, URL: co.URL})
}

// StripeWebhook принимает события Stripe. После проверки подписи событие подтверждается
// даже при сбое хранилища.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "")
		return
	}
	if len(payload) > maxWebhookBody {
		h.logger.Warn("stripe webhook body too large", zap.Int64("content_length", r.ContentLength))
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "")
		return
	}

	outcome, err := h.service.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "")
		return
	case errors.Is(err, service.ErrMissingEmail):
		writeError(w, http.StatusBadRequest, "missing_email", "checkout session has no customer email")
		return
	case errors.Is(err, service.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid_payload", "")
		return
	case err != nil:
		h.logger.Error("stripe webhook error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}

// Entitlements возвращает права на скачивание по всем позициям покупки.
func (h *Handler) Entitlements(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	list, err := h.service.Entitlements(r.Context(), sessionID)
	if err != nil {
		h.writeLookupError(w, err, sessionID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "items": list})
}

type evaluationResponse struct {
	ProductID         string                 `json:"product_id"`
	State             model.EntitlementState `json:"state"`
	QuantityPurchased int                    `json:"quantity_purchased"`
}

// EvaluateDownload показывает состояние права на товар, не выдавая его.
func (h *Handler) EvaluateDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	productID := chi.URLParam(r, "productID")

	ev, err := h.service.EvaluateDownload(r.Context(), sessionID, productID)
	if err != nil {
		h.writeLookupError(w, err, sessionID)
		return
	}

	writeJSON(w, http.StatusOK, evaluationResponse{
		ProductID:         productID,
		State:             ev.State,
		QuantityPurchased: ev.QuantityPurchased,
	})
}

// AuthorizeDownload выдаёт товар один раз. Повторный запрос получает отказ already_downloaded.
func (h *Handler) AuthorizeDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	productID := chi.URLParam(r, "productID")

	auth, err := h.service.AuthorizeDownload(r.Context(), sessionID, productID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSessionID) {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "session id is malformed")
			return
		}
		if errors.Is(err, kvstore.ErrIndeterminate) {
			h.logger.Error("download grant outcome unknown",
				zap.Error(err),
				zap.String("session_id", sessionID),
				zap.String("product_id", productID),
			)
			writeError(w, http.StatusServiceUnavailable, "outcome_unknown", "download state is unknown, check entitlements before retrying")
			return
		}
		h.logger.Error("authorize download error",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("product_id", productID),
		)
		writeError(w, http.StatusServiceUnavailable, "temporary_failure", "please try again")
		return
	}

	if !auth.Admitted {
		writeError(w, denyStatus(auth.Reason), string(auth.Reason), auth.Reason.Message())
		return
	}

	writeJSON(w, http.StatusOK, auth.Download)
}

func denyStatus(reason model.DenyReason) int {
	switch reason {
	case model.ReasonAlreadyDownloaded:
		return http.StatusForbidden
	case model.ReasonNotPurchased, model.ReasonSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error, sessionID string) {
	switch {
	case errors.Is(err, service.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id is malformed")
	case errors.Is(err, repository.ErrPurchaseNotFound):
		writeError(w, http.StatusNotFound, string(model.ReasonSessionNotFound), model.ReasonSessionNotFound.Message())
	default:
		h.logger.Error("load purchase error", zap.Error(err), zap.String("session_id", sessionID))
		writeError(w, http.StatusServiceUnavailable, "temporary_failure", "please try again")
	}
}
