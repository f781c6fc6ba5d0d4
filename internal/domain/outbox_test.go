package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBookingOutboxMessageRoundTrip(t *testing.T) {
	b := NewPendingBooking("b-1", "u-1", "e-1", []LineItem{{TicketTypeID: "vip", Quantity: 2, UnitPriceMinor: 700}}, time.Now().UTC())
	b.BookingFeeMinor = 50
	b.TotalAmountMinor = 1450
	b.Show = ShowInfo{Location: "Pune", Venue: "Hall", Date: "2026-05-01", Show: "Late"}
	require.NoError(t, b.Confirm("t-1", time.Now().UTC()))

	msg, err := NewBookingOutboxMessage(EventTypeBookingConfirmedAnalytics, NewBookingEvent(b, BookingStatusPending, time.Now().UTC()))
	require.NoError(t, err)
	require.Equal(t, AggregateTypeBooking, msg.AggregateType)
	require.Equal(t, "b-1", msg.AggregateID)

	event, err := DecodeBookingEvent(msg)
	require.NoError(t, err)
	require.Equal(t, BookingStatusConfirmed, event.Status)
	require.Equal(t, BookingStatusPending, event.PreviousStatus)
	require.Equal(t, 2, event.TicketCount)
	require.Equal(t, int64(1400), event.RevenueMinor)
	require.Equal(t, int64(1450), event.TotalAmountMinor)
	require.NotNil(t, event.Show)
	require.Equal(t, "Late", event.Show.Show)
}

func TestDeadLetterMessage(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	original := OutboxMessage{
		ID:            "m-1",
		AggregateType: AggregateTypeBooking,
		AggregateID:   "b-1",
		EventType:     EventTypeBookingConfirmedNotification,
		Payload:       []byte(`{"booking_id":"b-1"}`),
	}

	msg, err := NewDeadLetterMessage(original, errors.New("relay down"), 3, failedAt)
	require.NoError(t, err)
	require.Equal(t, "m-1", msg.ID)
	require.Equal(t, "b-1", msg.AggregateID)
	require.Equal(t, EventTypeBookingConfirmedNotification, msg.EventType)

	record, err := DecodeDeadLetter(msg)
	require.NoError(t, err)
	require.Equal(t, "relay down", record.Error)
	require.Equal(t, 3, record.Attempts)
	require.True(t, failedAt.Equal(record.FailedAt))
	require.JSONEq(t, `{"booking_id":"b-1"}`, string(record.Payload))
}

func TestDeadLetterMessage_NonJSONPayload(t *testing.T) {
	msg, err := NewDeadLetterMessage(OutboxMessage{ID: "m-2", Payload: []byte("not json")}, nil, 1, time.Now())
	require.NoError(t, err)

	record, err := DecodeDeadLetter(msg)
	require.NoError(t, err)
	require.Empty(t, record.Error)
	require.JSONEq(t, `"not json"`, string(record.Payload))
}
