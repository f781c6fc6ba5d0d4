package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/health"
	"github.com/vladislavdragonenkov/boxoffice/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/outbox"
	"github.com/vladislavdragonenkov/boxoffice/internal/version"
)

const kafkaConsumerAttempts = 3

// kafkaRuntime — producer и паблишеры topic событий и DLQ.
type kafkaRuntime struct {
	producer *kafka.Producer
	events   *kafka.TopicPublisher
	dlq      *kafka.TopicPublisher
}

// initKafka подключает producer, если заданы брокеры.
// Возвращает nil без брокеров или при ошибке подключения: сервис работает без Kafka.
func initKafka(cfg Config, logger *log.Entry, healthHandler *health.Handler) *kafkaRuntime {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers,
		kafka.WithClientID("boxoffice-"+version.Version()),
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	healthHandler.RegisterChecker("kafka", health.NewProbe("kafka", producer.Ping, health.Optional()))
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	return &kafkaRuntime{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:      kafka.NewDLQPublisher(producer),
	}
}

// newSideEffectConsumer читает topic событий и передаёт сообщения dispatcher.
func (k *kafkaRuntime) newSideEffectConsumer(cfg Config, dispatcher *outbox.Dispatcher, logger *log.Entry) (*kafka.Consumer, error) {
	topic := cfg.KafkaTopic
	if topic == "" {
		topic = kafka.TopicBookingEvents
	}
	return kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, []string{topic}, dispatcher,
		kafka.WithDeadLetter(k.dlq),
		kafka.WithAttempts(kafkaConsumerAttempts),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")))
}

// closeKafka закрывает producer; nil допустим.
func closeKafka(k *kafkaRuntime, logger *log.Entry) {
	if k == nil || k.producer == nil {
		return
	}
	if err := k.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
