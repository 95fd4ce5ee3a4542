// Package service реализует бизнес-логику продажи и выдачи фотографий.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/entitlement"
	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/publisher"
	"github.com/mmeshcher/photomart/internal/stripe"
)

var (
	// ErrInvalidSessionID возвращается для идентификатора, не похожего на идентификатор сессии оплаты.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayload возвращается для нераспознанного тела вебхука.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMissingEmail возвращается, если в сессии оплаты нет email покупателя.
	ErrMissingEmail = errors.New("missing customer email")
	// ErrEmptyCart возвращается при попытке оплатить пустую корзину.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidQuantity возвращается для количества вне допустимого диапазона.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrUnknownPhoto возвращается, если товара нет в каталоге.
	ErrUnknownPhoto = errors.New("unknown photo")
)

// PurchaseRepository описывает хранилище записей о покупках, используемое сервисом.
type PurchaseRepository interface {
	Get(ctx context.Context, sessionID string) (model.PurchaseRecord, error)
	CreateIfAbsent(ctx context.Context, sessionID string, rec model.PurchaseRecord) error
	Update(ctx context.Context, sessionID string, mutate func(model.PurchaseRecord) (model.PurchaseRecord, error)) (model.PurchaseRecord, error)
}

// CartRepository описывает хранилище корзин, собранных до оплаты.
type CartRepository interface {
	Save(ctx context.Context, sessionID string, items []model.CartItem) error
	Get(ctx context.Context, sessionID string) ([]model.CartItem, error)
}

// PaymentProvider описывает используемую часть API платёжного провайдера.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CreateSessionParams) (*stripe.CheckoutSession, error)
	ListLineItems(ctx context.Context, sessionID string) ([]model.LineItem, error)
}

// SignatureVerifier проверяет подпись вебхука.
type SignatureVerifier interface {
	Verify(payload []byte, sigHeader string) error
}

// EventPublisher публикует события о покупках.
type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, rec model.PurchaseRecord) error
	PublishDeadLetter(ctx context.Context, dl publisher.DeadLetter) error
}

// Catalog описывает каталог фотографий.
type Catalog interface {
	List() []model.Photo
	Get(id string) (model.Photo, error)
}

// Dependencies содержит зависимости сервиса. Все они создаются один раз при старте процесса.
type Dependencies struct {
	Purchases  PurchaseRepository
	Carts      CartRepository
	Payments   PaymentProvider
	Verifier   SignatureVerifier
	Publisher  EventPublisher
	Catalog    Catalog
	Logger     *zap.Logger
	SuccessURL string
	CancelURL  string
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	purchases  PurchaseRepository
	carts      CartRepository
	payments   PaymentProvider
	verifier   SignatureVerifier
	publisher  EventPublisher
	catalog    Catalog
	engine     *entitlement.Engine
	logger     *zap.Logger
	successURL string
	cancelURL  string

	// writeDelays задаёт паузы между попытками записи покупки при обработке вебхука.
	writeDelays []time.Duration
	// retryInterval задаёт период фоновой повторной записи отложенных покупок.
	retryInterval time.Duration
	// maxRetryAttempts задаёт число фоновых попыток до отправки в dead letter.
	maxRetryAttempts int
	maxPending       int

	pendingMu sync.Mutex
	pending   []pendingIngest
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(d Dependencies) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		purchases:        d.Purchases,
		carts:            d.Carts,
		payments:         d.Payments,
		verifier:         d.Verifier,
		publisher:        d.Publisher,
		catalog:          d.Catalog,
		engine:           entitlement.NewEngine(),
		logger:           logger,
		successURL:       d.SuccessURL,
		cancelURL:        d.CancelURL,
		writeDelays:      []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second},
		retryInterval:    5 * time.Second,
		maxRetryAttempts: 10,
		maxPending:       1000,
	}
}

// ListPhotos возвращает каталог фотографий.
func (s *Service) ListPhotos() []model.Photo {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.List()
}
