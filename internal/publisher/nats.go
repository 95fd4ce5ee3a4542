// Package publisher публикует события о покупках в NATS JetStream.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/model"
)

const (
	SubjectPurchaseCompleted = "purchases.completed"
	SubjectIngestDeadLetter  = "purchases.ingest.deadletter"
	streamName               = "PURCHASES"
)

// Publisher публикует события в JetStream. Без NATS_URL работает как заглушка.
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// New подключается к NATS и создаёт поток PURCHASES, если его ещё нет.
func New(natsURL string, log *zap.Logger) (*Publisher, error) {
	if natsURL == "" {
		log.Warn("NATS_URL not set, purchase events will not be published (stub mode)")
		return &Publisher{log: log}, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"purchases.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		log.Warn("failed to create NATS stream (may already exist)", zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", streamName))
	return &Publisher{nc: nc, js: js, log: log}, nil
}

// PurchaseCompleted описывает событие о сохранённой покупке.
type PurchaseCompleted struct {
	SessionID     string   `json:"session_id"`
	CustomerEmail string   `json:"customer_email"`
	ProductIDs    []string `json:"product_ids"`
}

// DeadLetter описывает покупку из вебхука, которую не удалось сохранить.
type DeadLetter struct {
	ID        string               `json:"id"`
	EventID   string               `json:"event_id"`
	SessionID string               `json:"session_id"`
	Attempts  int                  `json:"attempts"`
	Error     string               `json:"error"`
	Record    model.PurchaseRecord `json:"record"`
}

// PublishPurchaseCompleted публикует событие о покупке. Идентификатор сессии
// служит идентификатором сообщения, что отсекает повторы на стороне JetStream.
func (p *Publisher) PublishPurchaseCompleted(ctx context.Context, rec model.PurchaseRecord) error {
	evt := PurchaseCompleted{
		SessionID:     rec.SessionID,
		CustomerEmail: rec.CustomerEmail,
		ProductIDs:    make([]string, 0, len(rec.Items)),
	}
	for _, it := range rec.Items {
		evt.ProductIDs = append(evt.ProductIDs, it.ProductID)
	}
	return p.publish(ctx, SubjectPurchaseCompleted, rec.SessionID, evt)
}

// PublishDeadLetter публикует запись, которую не удалось сохранить.
func (p *Publisher) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	return p.publish(ctx, SubjectIngestDeadLetter, dl.ID, dl)
}

func (p *Publisher) publish(ctx context.Context, subject, msgID string, v any) error {
	if p.js == nil {
		p.log.Debug("NATS stub: skipping publish", zap.String("subject", subject), zap.String("msg_id", msgID))
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ack, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		return err
	}

	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("msg_id", msgID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close закрывает соединение с NATS.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
