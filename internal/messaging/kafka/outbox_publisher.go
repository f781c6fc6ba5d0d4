package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// TopicPublisher кладёт сообщения outbox в один topic в виде Envelope.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher публикует события бронирований. Пустой topic означает TopicBookingEvents.
func NewOutboxPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicBookingEvents
	}
	return &TopicPublisher{producer: producer, topic: topic}
}

// NewDLQPublisher публикует сообщения, которые не удалось доставить.
func NewDLQPublisher(producer *Producer) *TopicPublisher {
	return NewOutboxPublisher(producer, TopicDeadLetterQueue)
}

// Publish использует id бронирования как ключ партиции: события одного
// бронирования читаются в порядке записи.
func (p *TopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	value, err := json.Marshal(NewEnvelope(msg))
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", msg.ID, err)
	}
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return p.producer.Send(ctx, Record{
		Topic:   p.topic,
		Key:     key,
		Value:   value,
		Headers: map[string]string{HeaderEventType: msg.EventType},
	})
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
