package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const (
	defaultConsumerAttempts = 3
	defaultConsumerBackoff  = 200 * time.Millisecond
)

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDeadLetter задаёт паблишер для сообщений, исчерпавших попытки.
func WithDeadLetter(publisher domain.OutboxPublisher) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetter = publisher
	}
}

// WithAttempts задаёт число попыток доставки одного сообщения.
func WithAttempts(attempts int) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// WithBackoff задаёт паузу перед второй попыткой; дальше она удваивается.
func WithBackoff(backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// Consumer читает topic событий бронирования в consumer group
// и передаёт сообщения outbox получателю (обычно outbox.Dispatcher).
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	target     domain.OutboxPublisher
	deadLetter domain.OutboxPublisher

	attempts int
	backoff  time.Duration
	logger   *log.Entry
	wg       sync.WaitGroup
}

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "boxoffice-side-effects"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer подключается к consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, target domain.OutboxPublisher, options ...ConsumerOption) (*Consumer, error) {
	switch {
	case len(brokers) == 0:
		return nil, errors.New("kafka brokers are required")
	case groupID == "":
		return nil, errors.New("kafka consumer group is required")
	case len(topics) == 0:
		return nil, errors.New("kafka topics are required")
	case target == nil:
		return nil, errors.New("consumer target is required")
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, target, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, target domain.OutboxPublisher, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:    group,
		topics:   topics,
		target:   target,
		attempts: defaultConsumerAttempts,
		backoff:  defaultConsumerBackoff,
		logger:   log.WithField("component", "kafka-consumer"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// после rebalance Consume возвращается и вызывается снова
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает partition. Offset сдвигается, только когда сообщение
// доставлено, отброшено как битое или ушло в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.handle(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(messageFields(message)).Error("booking event left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := ParseEnvelope(message.Value)
	if err != nil {
		c.logger.WithError(err).WithFields(messageFields(message)).Warn("skipping malformed booking event")
		return nil
	}
	msg := envelope.OutboxMessage()

	attempts, err := c.deliver(ctx, msg)
	if err == nil {
		return nil
	}
	if c.deadLetter == nil {
		return err
	}

	logger := c.logger.WithFields(messageFields(message)).WithFields(log.Fields{
		"event_type": msg.EventType,
		"attempts":   attempts,
	})
	record, dlqErr := domain.NewDeadLetterMessage(msg, err, attempts, time.Now())
	if dlqErr == nil {
		dlqErr = c.deadLetter.Publish(ctx, record)
	}
	if dlqErr != nil {
		return fmt.Errorf("dead-letter booking event %s: %w", msg.ID, errors.Join(err, dlqErr))
	}
	logger.WithError(err).Warn("booking event moved to dead-letter topic")
	return nil
}

// deliver повторяет доставку с удваивающейся паузой. Ошибка валидации не повторяется.
func (c *Consumer) deliver(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	delay := c.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.target.Publish(ctx, msg); err == nil {
			return attempt, nil
		}
		if attempt >= c.attempts || domain.Classify(err) == domain.KindValidation {
			return attempt, err
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"message_id": msg.ID,
			"attempt":    attempt,
		}).Debug("booking event delivery failed, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("delivery interrupted: %w", err)
			case <-timer.C:
			}
			delay *= 2
		}
	}
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)
