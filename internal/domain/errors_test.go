package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		kind        ErrorKind
		retryable   bool
		idempotency bool
	}{
		{name: "nil", err: nil, kind: KindUnknown},
		{name: "sold out", err: fmt.Errorf("reserve: %w", ErrSoldOut), kind: KindConflict},
		{name: "version conflict", err: errors.Join(ErrVersionConflict, errors.New("booking b-1")), kind: KindConflict, retryable: true},
		{name: "duplicate booking id", err: ErrAlreadyExists, kind: KindConflict},
		{name: "event not found", err: ErrEventNotFound, kind: KindNotFound},
		{name: "booking not found", err: ErrBookingNotFound, kind: KindNotFound},
		{name: "invalid quantity", err: ErrInvalidQuantity, kind: KindValidation},
		{name: "unknown ticket type", err: fmt.Errorf("%w: vip", ErrUnknownTicketType), kind: KindValidation},
		{name: "terminal booking", err: ErrBookingTerminal, kind: KindValidation},
		{name: "amount mismatch", err: fmt.Errorf("order o-1: %w", ErrAmountMismatch), kind: KindValidation},
		{name: "malformed webhook", err: ErrInvalidPayload, kind: KindValidation},
		{name: "transient store", err: ErrTransientStore, kind: KindTransientStore, retryable: true},
		{name: "gateway timeout", err: fmt.Errorf("get order: %w", ErrGateway), kind: KindExternalGateway, retryable: true},
		{name: "gateway rejected", err: ErrGatewayRejected, kind: KindExternalGateway, retryable: true},
		{name: "signature", err: ErrSignature, kind: KindSignature},
		{name: "unauthenticated", err: ErrUnauthenticated, kind: KindUnauthenticated},
		{name: "forbidden", err: ErrForbidden, kind: KindForbidden},
		{name: "delivery key reused", err: ErrIdempotencyKeyAlreadyExists, kind: KindUnknown, idempotency: true},
		{name: "delivery hash mismatch", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("key k")), kind: KindUnknown, idempotency: true},
		{name: "plain error", err: errors.New("boom"), kind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, Classify(tt.err))
			require.Equal(t, tt.retryable, IsRetryable(tt.err))
			require.Equal(t, tt.idempotency, IsIdempotencyConflict(tt.err))
			require.Equal(t, errors.Is(tt.err, ErrVersionConflict), IsVersionConflict(tt.err))
		})
	}
}
