package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// stubPublisher считает вызовы и возвращает err, если он задан.
type stubPublisher struct {
	mu  sync.Mutex
	n   int
	err error
}

func (p *stubPublisher) Publish(context.Context, domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.err
}

func (p *stubPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *stubPublisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestDispatcher_RoutesByEventType(t *testing.T) {
	t.Parallel()

	var handled []string
	dispatcher := NewDispatcher()
	dispatcher.Handle(domain.EventTypeBookingConfirmedAnalytics, func(_ context.Context, msg domain.OutboxMessage) error {
		handled = append(handled, msg.ID)
		return nil
	})

	err := dispatcher.Publish(context.Background(), domain.OutboxMessage{ID: "m-1", EventType: domain.EventTypeBookingConfirmedAnalytics})
	require.NoError(t, err)
	require.Equal(t, []string{"m-1"}, handled)

	err = dispatcher.Publish(context.Background(), domain.OutboxMessage{ID: "m-2", EventType: domain.EventTypeBookingStatusChanged})
	require.NoError(t, err, "messages without handler and forwarder are ignored")
}

func TestDispatcher_HandlerErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("smtp down")
	dispatcher := NewDispatcher()
	dispatcher.Handle(domain.EventTypeBookingConfirmedNotification, func(context.Context, domain.OutboxMessage) error {
		return boom
	})

	err := dispatcher.Publish(context.Background(), domain.OutboxMessage{ID: "m-1", EventType: domain.EventTypeBookingConfirmedNotification})
	require.ErrorIs(t, err, boom)
}

func TestDispatcher_ForwardsUnhandledMessages(t *testing.T) {
	t.Parallel()

	forward := &stubPublisher{}
	dispatcher := NewDispatcher(WithForwarder(forward))
	dispatcher.Handle(domain.EventTypeBookingConfirmedAnalytics, func(context.Context, domain.OutboxMessage) error {
		return nil
	})

	require.NoError(t, dispatcher.Publish(context.Background(), domain.OutboxMessage{EventType: domain.EventTypeBookingConfirmedAnalytics}))
	require.NoError(t, dispatcher.Publish(context.Background(), domain.OutboxMessage{EventType: domain.EventTypeBookingStatusChanged}))
	require.Equal(t, 1, forward.calls())

	broker := errors.New("broker down")
	forward.fail(broker)
	require.ErrorIs(t, dispatcher.Publish(context.Background(), domain.OutboxMessage{EventType: domain.EventTypePaymentAfterTerminal}), broker)
	require.Equal(t, 2, forward.calls())
}
