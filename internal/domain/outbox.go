package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AggregateTypeBooking — тип агрегата для сообщений outbox по бронированиям.
const AggregateTypeBooking = "booking"

// Типы сообщений outbox.
const (
	// EventTypeBookingConfirmedAnalytics запускает обновление счётчиков аналитики.
	EventTypeBookingConfirmedAnalytics = "booking.confirmed.analytics"
	// EventTypeBookingConfirmedNotification запускает отправку письма подтверждения.
	EventTypeBookingConfirmedNotification = "booking.confirmed.notification"
	// EventTypeBookingStatusChanged — аудит любого изменения статуса.
	EventTypeBookingStatusChanged = "booking.status_changed"
	// EventTypePaymentAfterTerminal — шлюз подтвердил оплату уже закрытого бронирования.
	EventTypePaymentAfterTerminal = "booking.payment_after_terminal"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// BookingEvent — полезная нагрузка сообщений outbox о бронировании.
type BookingEvent struct {
	BookingID        string        `json:"booking_id"`
	EventID          string        `json:"event_id"`
	UserID           string        `json:"user_id"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PreviousStatus   BookingStatus `json:"previous_status,omitempty"`
	TicketID         string        `json:"ticket_id,omitempty"`
	TicketCount      int           `json:"ticket_count"`
	RevenueMinor     int64         `json:"revenue_minor"`
	TotalAmountMinor int64         `json:"total_amount_minor"`
	Show             *ShowInfo     `json:"show,omitempty"`
	Released         bool          `json:"released,omitempty"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

// NewBookingEvent собирает событие из текущего состояния бронирования.
func NewBookingEvent(b Booking, previous BookingStatus, occurredAt time.Time) BookingEvent {
	event := BookingEvent{
		BookingID:        b.ID,
		EventID:          b.EventID,
		UserID:           b.UserID,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		PreviousStatus:   previous,
		TicketID:         b.TicketID,
		TicketCount:      b.TicketCount(),
		RevenueMinor:     b.SubtotalMinor(),
		TotalAmountMinor: b.TotalAmountMinor,
		Released:         !b.Reservation.ReleasedAt.IsZero(),
		OccurredAt:       occurredAt,
	}
	if !b.Show.IsZero() {
		show := b.Show
		event.Show = &show
	}
	return event
}

// NewBookingOutboxMessage сериализует событие бронирования в сообщение outbox.
func NewBookingOutboxMessage(eventType string, event BookingEvent) (OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeBooking,
		AggregateID:   event.BookingID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// DecodeBookingEvent разбирает полезную нагрузку сообщения outbox.
func DecodeBookingEvent(msg OutboxMessage) (BookingEvent, error) {
	var event BookingEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return BookingEvent{}, fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	return event, nil
}

// DeadLetter — запись о сообщении, которое не удалось доставить.
type DeadLetter struct {
	MessageID string          `json:"message_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
}

// NewDeadLetterMessage оборачивает недоставленное сообщение для DLQ.
// Агрегат и тип события сохраняются, чтобы DLQ можно было фильтровать по бронированию.
func NewDeadLetterMessage(msg OutboxMessage, cause error, attempts int, failedAt time.Time) (OutboxMessage, error) {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		raw, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return OutboxMessage{}, err
		}
		payload = raw
	}
	record := DeadLetter{
		MessageID: msg.ID,
		EventType: msg.EventType,
		Payload:   payload,
		Attempts:  attempts,
		FailedAt:  failedAt.UTC(),
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	body, err := json.Marshal(record)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter for %s: %w", msg.ID, err)
	}
	return OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       body,
	}, nil
}

// DecodeDeadLetter разбирает запись DLQ.
func DecodeDeadLetter(msg OutboxMessage) (DeadLetter, error) {
	var record DeadLetter
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter %s: %w", msg.ID, err)
	}
	return record, nil
}
