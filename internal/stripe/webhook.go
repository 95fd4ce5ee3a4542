package stripe

import (
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance задаёт допустимое расхождение времени подписи вебхука.
const DefaultTolerance = webhook.DefaultTolerance

// ErrNoWebhookSecret возвращается, если секрет вебхука не задан: такие события не принимаются.
var ErrNoWebhookSecret = errors.New("stripe: webhook secret not configured")

// Verifier проверяет заголовок Stripe-Signature секретом вебхука.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier создаёт проверку подписи с допуском DefaultTolerance.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    secret,
		tolerance: DefaultTolerance,
	}
}

// Verify проверяет подпись тела запроса. Нулевой допуск отключает проверку времени.
func (v *Verifier) Verify(payload []byte, sigHeader string) error {
	if v.secret == "" {
		return ErrNoWebhookSecret
	}
	if v.tolerance <= 0 {
		return webhook.ValidatePayloadIgnoringTolerance(payload, sigHeader, v.secret)
	}
	return webhook.ValidatePayloadWithTolerance(payload, sigHeader, v.secret, v.tolerance)
}

// SignatureHeader подписывает тело так же, как Stripe, и возвращает значение Stripe-Signature.
// Нужен тестам и локальной отладке вебхуков.
func SignatureHeader(timestamp time.Time, payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: timestamp,
	})
	return signed.Header
}
