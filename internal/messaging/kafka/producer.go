package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const defaultClientID = "boxoffice"

var errNotConnected = errors.New("kafka producer is not connected")

// ProducerOption настраивает Producer.
type ProducerOption func(*Producer)

// WithClientID задаёт client.id, под которым producer виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(p *Producer) {
		if id != "" {
			p.clientID = id
		}
	}
}

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// Record — одно сообщение для topic. Key определяет партицию.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer синхронно пишет записи в Kafka поверх общего sarama.Client.
type Producer struct {
	clientID string
	client   sarama.Client
	sync     sarama.SyncProducer
	logger   *log.Entry
}

func newSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer допускает один запрос в полёте
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string, options ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	p := &Producer{clientID: defaultClientID}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "kafka-producer")
	}

	client, err := sarama.NewClient(brokers, newSaramaConfig(p.clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka brokers %v: %w", brokers, err)
	}
	sync, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p.client, p.sync = client, sync
	return p, nil
}

// Send пишет запись и дожидается подтверждения всех in-sync реплик.
// Trace context из ctx добавляется в заголовки.
func (p *Producer) Send(ctx context.Context, rec Record) error {
	if p == nil || p.sync == nil {
		return errNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]sarama.RecordHeader, 0, len(rec.Headers)+len(carrier))
	for _, src := range []map[string]string{rec.Headers, carrier} {
		for k, v := range src {
			headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}

	fields := log.Fields{"topic": rec.Topic, "key": rec.Key}
	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(rec.Value),
		Headers:   headers,
		Timestamp: time.Now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka write failed")
		return fmt.Errorf("send to %s: %w", rec.Topic, err)
	}
	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka record written")
	return nil
}

// Ping обновляет метаданные кластера. Ожидание ограничено ctx.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errNotConnected
	}
	done := make(chan error, 1)
	go func() { done <- p.client.RefreshMetadata() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kafka ping: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close закрывает producer и клиент.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	err := p.sync.Close()
	if p.client != nil && !p.client.Closed() {
		err = errors.Join(err, p.client.Close())
	}
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
