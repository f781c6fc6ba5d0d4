package confirmation

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func TestSigner_RoundTrip(t *testing.T) {
	signer := NewSigner("secret", 0)
	got := signer.Sign("1700000000", []byte("{}"))
	if err := signer.Verify("1700000000", got, []byte("{}")); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if err := signer.Verify("1700000001", got, []byte("{}")); !errors.Is(err, domain.ErrSignature) {
		t.Fatalf("expected timestamp to be part of the signature, got %v", err)
	}
}

func TestSigner_EmptySecretRejectsEverything(t *testing.T) {
	signer := NewSigner("", 0)
	sig := signer.Sign("1", []byte("{}"))
	if err := signer.Verify("1", sig, []byte("{}")); !errors.Is(err, domain.ErrSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestSigner_Tolerance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner("secret", 5*time.Minute)
	signer.now = func() time.Time { return now }

	body := []byte(`{"data":{}}`)
	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	if err := signer.Verify(fresh, signer.Sign(fresh, body), body); err != nil {
		t.Fatalf("fresh delivery rejected: %v", err)
	}

	freshMillis := strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10)
	if err := signer.Verify(freshMillis, signer.Sign(freshMillis, body), body); err != nil {
		t.Fatalf("millisecond timestamp rejected: %v", err)
	}

	stale := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	if err := signer.Verify(stale, signer.Sign(stale, body), body); !errors.Is(err, domain.ErrSignature) {
		t.Fatalf("expected stale delivery to be rejected, got %v", err)
	}

	rfc := now.Add(2 * time.Minute).Format(time.RFC3339)
	if err := signer.Verify(rfc, signer.Sign(rfc, body), body); err != nil {
		t.Fatalf("rfc3339 timestamp rejected: %v", err)
	}
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"data":{"order":{"order_id":"o-1","order_amount":10.5},"payment":{"payment_status":"success"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.OrderID != "o-1" || !cb.HasAmount || cb.AmountMinor != 1050 {
		t.Fatalf("unexpected callback: %+v", cb)
	}
	if cb.Result() != PaymentSucceeded {
		t.Fatalf("expected lowercase success to map to success, got %s", cb.Result())
	}

	for status, want := range map[string]PaymentResult{
		"FAILED":       PaymentFailed,
		"USER_DROPPED": PaymentFailed,
		"CANCELLED":    PaymentFailed,
		"VOID":         PaymentFailed,
		"PENDING":      PaymentPending,
		"":             PaymentPending,
	} {
		if got := (Callback{PaymentStatus: status}).Result(); got != want {
			t.Fatalf("status %q: expected %s, got %s", status, want, got)
		}
	}

	if _, err := ParseCallback([]byte(`{"data":{"order":{"order_id":"o-1"},"payment":{"payment_amount":1.005}}}`)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected sub-minor amount to be rejected, got %v", err)
	}
}
