package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// DefaultQueue — очередь заданий на письмо подтверждения.
const DefaultQueue = "booking.confirmed"

// Option настраивает Publisher.
type Option func(*Publisher)

// WithQueue задаёт имя очереди.
func WithQueue(queue string) Option {
	return func(p *Publisher) {
		if queue != "" {
			p.queue = queue
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publisher публикует задания на письмо в durable-очередь RabbitMQ.
// Соединение переоткрывается, если брокер его закрыл.
type Publisher struct {
	url    string
	queue  string
	logger *log.Entry

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewPublisher подключается к брокеру и объявляет очередь.
func NewPublisher(url string, options ...Option) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	p := &Publisher{url: url, queue: DefaultQueue}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "rabbitmq-publisher")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		return nil, err
	}
	_ = ch.Close()
	return p, nil
}

// PublishConfirmation отправляет persistent JSON-сообщение в очередь.
func (p *Publisher) PublishConfirmation(ctx context.Context, notice domain.ConfirmationNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal confirmation notice: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    notice.BookingID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	p.logger.WithFields(log.Fields{
		"booking_id": notice.BookingID,
		"queue":      p.queue,
	}).Debug("confirmation notice published")
	return nil
}

// Ping проверяет, что соединение с брокером открыто.
func (p *Publisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	return ch.Close()
}

// Close закрывает соединение.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// channelLocked открывает канал и объявляет очередь; вызывается под p.mu.
func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", p.queue, err)
	}
	return ch, nil
}

var _ domain.NotificationPublisher = (*Publisher)(nil)
