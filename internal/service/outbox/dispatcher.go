package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

var outboxDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boxoffice_outbox_dispatch_total",
	Help: "Total number of outbox messages dispatched to side-effect handlers grouped by event type and result.",
}, []string{"event_type", "result"})

// HandlerFunc выполняет побочный эффект для одного сообщения outbox.
// Ошибка приводит к повтору сообщения воркером, поэтому обработчик должен быть идемпотентным.
type HandlerFunc func(ctx context.Context, msg domain.OutboxMessage) error

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger задаёт logger диспетчера.
func WithDispatcherLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithForwarder задаёт publisher для сообщений без локального обработчика (например, Kafka).
func WithForwarder(publisher domain.OutboxPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.forward = publisher
	}
}

// Dispatcher маршрутизирует сообщения outbox по типу события.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	forward  domain.OutboxPublisher
	logger   *log.Entry
}

// NewDispatcher создаёт пустой диспетчер.
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]HandlerFunc)}
	for _, option := range options {
		option(d)
	}
	if d.logger == nil {
		d.logger = log.WithField("component", "outbox-dispatcher")
	}
	return d
}

// Handle регистрирует обработчик для типа события, заменяя предыдущий.
func (d *Dispatcher) Handle(eventType string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = fn
}

// Publish реализует domain.OutboxPublisher.
func (d *Dispatcher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	d.mu.RLock()
	handler, ok := d.handlers[msg.EventType]
	d.mu.RUnlock()

	if ok {
		if err := handler(ctx, msg); err != nil {
			outboxDispatchTotal.WithLabelValues(msg.EventType, "error").Inc()
			return fmt.Errorf("handle %s for %s: %w", msg.EventType, msg.AggregateID, err)
		}
		outboxDispatchTotal.WithLabelValues(msg.EventType, "handled").Inc()
		return nil
	}

	if d.forward != nil {
		if err := d.forward.Publish(ctx, msg); err != nil {
			outboxDispatchTotal.WithLabelValues(msg.EventType, "forward_error").Inc()
			return fmt.Errorf("forward %s for %s: %w", msg.EventType, msg.AggregateID, err)
		}
		outboxDispatchTotal.WithLabelValues(msg.EventType, "forwarded").Inc()
		return nil
	}

	outboxDispatchTotal.WithLabelValues(msg.EventType, "ignored").Inc()
	d.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	}).Debug("no handler for outbox message")
	return nil
}

var _ domain.OutboxPublisher = (*Dispatcher)(nil)
