package rabbitmq

import (
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// LifecyclePublisher публикует события жизненного цикла подписок
// в обмен lifecycle для сервиса уведомлений.
type LifecyclePublisher struct {
	ch *amqp.Channel
}

// NewLifecyclePublisher создает новый экземпляр LifecyclePublisher.
func NewLifecyclePublisher(ch *amqp.Channel) *LifecyclePublisher {
	return &LifecyclePublisher{ch: ch}
}

// PublishLifecycleEvent отправляет событие в очередь уведомлений.
// Идентификатор и время события проставляются, если не заполнены.
func (p *LifecyclePublisher) PublishLifecycleEvent(event models.LifecycleEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return PublishMessage(p.ch, LifecycleExchange, "notify", event)
}
