package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// overlay повторяет `document || jsonb_build_object(...)` для строки bookings.
func overlay(t *testing.T, doc []byte, email map[string]any) []byte {
	t.Helper()
	var merged map[string]any
	if err := json.Unmarshal(doc, &merged); err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	for k, v := range email {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		t.Fatalf("encode mirror: %v", err)
	}
	return raw
}

func TestDecodeMirror_EmailMarkersFromBookingsRow(t *testing.T) {
	booking := domain.NewPendingBooking("b-1", "u-1", "event-1",
		[]domain.LineItem{{TicketTypeID: "vip", Quantity: 1, UnitPriceMinor: 1500}}, time.Now().UTC())
	booking.Email.LockID = "stale-lock"
	doc, err := encodeMirror(booking)
	if err != nil {
		t.Fatalf("encode mirror: %v", err)
	}

	raw := overlay(t, doc, map[string]any{
		"email_sent_at":    "2026-10-18T09:30:00.123456+00:00",
		"email_lock_id":    "",
		"email_lock_at":    nil,
		"email_last_error": "",
	})
	got, err := decodeMirror("event-1", "b-1", raw)
	if err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	if got.Email.LockID != "" {
		t.Fatalf("lock id must come from the bookings row, got %q", got.Email.LockID)
	}
	if !got.Email.LockAt.IsZero() {
		t.Fatalf("null lock time must decode as zero, got %v", got.Email.LockAt)
	}
	want := time.Date(2026, 10, 18, 9, 30, 0, 123456000, time.UTC)
	if !got.Email.SentAt.Equal(want) {
		t.Fatalf("sent at = %v, want %v", got.Email.SentAt, want)
	}
}
