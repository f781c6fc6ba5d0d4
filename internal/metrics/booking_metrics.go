package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Источники переходов состояния бронирования.
const (
	SourceWebhook   = "webhook"
	SourceVerify    = "verify"
	SourceReconcile = "reconcile"
	SourceSweeper   = "sweeper"
)

// BookingMetrics содержит метрики жизненного цикла бронирований.
// Все методы безопасны для nil-получателя.
type BookingMetrics struct {
	// Резервирование
	bookingsCreated *prometheus.CounterVec
	ticketsReserved prometheus.Counter

	// Переходы и возврат мест
	transitions *prometheus.CounterVec
	releases    *prometheus.CounterVec

	// Webhook и сверка
	webhookOutcomes   *prometheus.CounterVec
	reconcileOutcomes *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec

	// Транзакции хранилища
	txDuration *prometheus.HistogramVec

	// Побочные эффекты
	analyticsUpdates *prometheus.CounterVec
	notifications    *prometheus.CounterVec

	// Sweeper
	sweepLastExpired prometheus.Gauge
	sweepLastFailed  prometheus.Gauge
}

// NewBookingMetrics регистрирует метрики в DefaultRegisterer.
func NewBookingMetrics() *BookingMetrics {
	return NewBookingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewBookingMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewBookingMetricsWithRegisterer(registerer prometheus.Registerer) *BookingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BookingMetrics{
		bookingsCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_bookings_created_total",
			Help: "Total number of booking creation attempts grouped by result",
		}, []string{"result"}),
		ticketsReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "boxoffice_tickets_reserved_total",
			Help: "Total number of tickets reserved by pending bookings",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_booking_transitions_total",
			Help: "Total number of booking state transitions grouped by target status and source",
		}, []string{"status", "source"}),
		releases: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_inventory_releases_total",
			Help: "Total number of inventory release attempts grouped by result",
		}, []string{"result"}),
		webhookOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_webhook_deliveries_total",
			Help: "Total number of payment webhook deliveries grouped by outcome",
		}, []string{"outcome"}),
		reconcileOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_reconcile_outcomes_total",
			Help: "Total number of reconciliation checks grouped by outcome",
		}, []string{"outcome"}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "boxoffice_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation", "result"}),
		txDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "boxoffice_store_tx_duration_seconds",
			Help:    "Duration of booking store transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
		analyticsUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_analytics_updates_total",
			Help: "Total number of analytics increments grouped by target and result",
		}, []string{"target", "result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "boxoffice_confirmation_notifications_total",
			Help: "Total number of confirmation notification dispatches grouped by result",
		}, []string{"result"}),
		sweepLastExpired: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "boxoffice_sweeper_last_expired",
			Help: "Number of bookings expired during the last sweep",
		}),
		sweepLastFailed: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "boxoffice_sweeper_last_failed",
			Help: "Number of bookings that failed to expire during the last sweep",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordBookingCreated учитывает попытку создания бронирования.
func (m *BookingMetrics) RecordBookingCreated(result string, tickets int) {
	if m == nil {
		return
	}
	m.bookingsCreated.WithLabelValues(result).Inc()
	if result == "ok" && tickets > 0 {
		m.ticketsReserved.Add(float64(tickets))
	}
}

// RecordTransition учитывает переход бронирования в статус status.
func (m *BookingMetrics) RecordTransition(status, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, source).Inc()
}

// RecordRelease учитывает попытку вернуть резерв (released, deferred, skipped).
func (m *BookingMetrics) RecordRelease(result string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(result).Inc()
}

// RecordWebhookOutcome учитывает итог обработки доставки webhook.
func (m *BookingMetrics) RecordWebhookOutcome(outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReconcileOutcome учитывает итог сверки одного бронирования.
func (m *BookingMetrics) RecordReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordGatewayCall записывает длительность вызова шлюза.
func (m *BookingMetrics) RecordGatewayCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordTxDuration записывает длительность транзакции хранилища.
func (m *BookingMetrics) RecordTxDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAnalyticsUpdate учитывает инкремент агрегата аналитики.
func (m *BookingMetrics) RecordAnalyticsUpdate(target string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.analyticsUpdates.WithLabelValues(target, result).Inc()
}

// RecordNotification учитывает отправку письма подтверждения.
func (m *BookingMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordSweep фиксирует итог последнего прохода sweeper.
func (m *BookingMetrics) RecordSweep(expired, failed int) {
	if m == nil {
		return
	}
	m.sweepLastExpired.Set(float64(expired))
	m.sweepLastFailed.Set(float64(failed))
}
