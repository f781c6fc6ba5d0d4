package domain

import (
	"context"
	"time"
)

// Tx — операции, доступные внутри транзакции хранилища.
// Тело транзакции может быть выполнено повторно, поэтому в нём не должно быть внешних вызовов.
type Tx interface {
	GetEvent(ctx context.Context, eventID string) (Event, error)
	SaveEvent(ctx context.Context, event Event) error
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	// InsertBooking записывает бронирование и его копию под событием.
	InsertBooking(ctx context.Context, booking Booking) error
	// UpdateBooking обновляет бронирование и его копию под событием.
	UpdateBooking(ctx context.Context, booking Booking) error
	Enqueue(ctx context.Context, msg OutboxMessage) error
}

// TxRunner выполняет fn в транзакции с автоматическим повтором при конфликте записи.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// BookingRepository — чтение бронирований и маркеры отправки письма вне транзакций.
type BookingRepository interface {
	Get(ctx context.Context, bookingID string) (Booking, error)
	FindByGatewayOrderID(ctx context.Context, orderID string) (Booking, error)
	// ListByUser использует вторичный индекс и может вернуть ErrIndexUnavailable.
	ListByUser(ctx context.Context, userID string, status BookingStatus, limit int) ([]Booking, error)
	// ScanRecent читает бронирования без индекса, новые первыми.
	ScanRecent(ctx context.Context, limit int) ([]Booking, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]Booking, error)
	ListAwaitingPayment(ctx context.Context, updatedBefore time.Time, limit int) ([]Booking, error)
	ListUnreleased(ctx context.Context, limit int) ([]Booking, error)
	ListEventBookings(ctx context.Context, eventID string) ([]Booking, error)

	ClaimEmailLock(ctx context.Context, bookingID, lockID string, now time.Time, lockTTL time.Duration) (Booking, error)
	MarkEmailSent(ctx context.Context, bookingID, lockID string, now time.Time) error
	MarkEmailFailed(ctx context.Context, bookingID, lockID, reason string, now time.Time) error
}

// EventRepository — доступ к документам событий вне транзакций.
type EventRepository interface {
	Get(ctx context.Context, eventID string) (Event, error)
	Create(ctx context.Context, event Event) error
}

// Агрегаты аналитики; используются как метки применённых инкрементов и в метриках.
const (
	AnalyticsTargetHost  = "host"
	AnalyticsTargetEvent = "event"
	AnalyticsTargetShow  = "show"
)

// AnalyticsRepository применяет атомарные инкременты к агрегатам.
// Каждый документ создаётся при первой записи. Инкремент учитывается не более
// одного раза на пару (bookingID, агрегат): повтор для того же бронирования — no-op.
type AnalyticsRepository interface {
	IncrementHost(ctx context.Context, bookingID, hostID string, tickets, revenueMinor int64) error
	IncrementEvent(ctx context.Context, bookingID, eventID, hostID string, tickets, revenueMinor int64) error
	IncrementShow(ctx context.Context, bookingID, eventID, hostID string, show ShowInfo, tickets, revenueMinor int64) error

	GetHost(ctx context.Context, hostID string) (HostAnalytics, error)
	GetEvent(ctx context.Context, eventID string) (EventAnalytics, error)
	GetShow(ctx context.Context, key string) (ShowBreakdown, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// RequeueFailed возвращает failed-сообщения в pending (повтор из DLQ).
	RequeueFailed(ctx context.Context, limit int) (int, error)
}

// IdempotencyRepository хранит состояние обработки доставок webhook.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, outcome string) error
	MarkFailed(ctx context.Context, key, outcome string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// GatewayOrderStatus — статус заказа на стороне платёжного шлюза.
type GatewayOrderStatus string

const (
	GatewayOrderActive     GatewayOrderStatus = "ACTIVE"
	GatewayOrderPaid       GatewayOrderStatus = "PAID"
	GatewayOrderExpired    GatewayOrderStatus = "EXPIRED"
	GatewayOrderTerminated GatewayOrderStatus = "TERMINATED"
	GatewayOrderCancelled  GatewayOrderStatus = "CANCELLED"
)

// GatewayOrderRequest — параметры создания платёжной сессии.
type GatewayOrderRequest struct {
	BookingID   string
	UserID      string
	AmountMinor int64
	Currency    string
	ReturnURL   string
}

// GatewayOrder — заказ платёжного шлюза.
type GatewayOrder struct {
	OrderID          string
	PaymentSessionID string
	Status           GatewayOrderStatus
	AmountMinor      int64
	Currency         string
}

// PaymentGateway описывает взаимодействие с платёжным шлюзом.
type PaymentGateway interface {
	Name() string
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	GetOrderStatus(ctx context.Context, orderID string) (GatewayOrder, error)
}

// Identity — проверенный вызывающий.
type Identity struct {
	UserID string
	Email  string
}

// IdentityVerifier проверяет bearer-токен.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ConfirmationNotice — задание на отправку письма подтверждения.
type ConfirmationNotice struct {
	BookingID        string    `json:"booking_id"`
	UserID           string    `json:"user_id"`
	EventID          string    `json:"event_id"`
	TicketID         string    `json:"ticket_id"`
	TicketCount      int       `json:"ticket_count"`
	TotalAmountMinor int64     `json:"total_amount_minor"`
	Currency         string    `json:"currency,omitempty"`
	Show             *ShowInfo `json:"show,omitempty"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// NotificationPublisher передаёт задание на письмо во внешнюю систему рассылки.
type NotificationPublisher interface {
	PublishConfirmation(ctx context.Context, notice ConfirmationNotice) error
}

// JobLocker выдаёт аренду на периодическую задачу, чтобы её выполнял один экземпляр.
type JobLocker interface {
	// TryAcquire возвращает release и true, если аренда получена.
	TryAcquire(ctx context.Context, job string, ttl time.Duration) (release func(), acquired bool, err error)
}
