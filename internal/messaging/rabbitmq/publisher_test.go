package rabbitmq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func TestNewPublisher_RequiresURL(t *testing.T) {
	if _, err := NewPublisher(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestPublisher_PublishConfirmation(t *testing.T) {
	url := os.Getenv("BOXOFFICE_TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("BOXOFFICE_TEST_RABBITMQ_URL is not set")
	}
	queue := "boxoffice-test-" + time.Now().Format("150405.000000")

	publisher, err := NewPublisher(url, WithQueue(queue))
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, publisher.Ping(ctx))
	require.NoError(t, publisher.PublishConfirmation(ctx, domain.ConfirmationNotice{
		BookingID: "b-1", TicketID: "t-1", TicketCount: 2,
	}))

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer func() {
		_, _ = ch.QueueDelete(queue, false, false, false)
		_ = ch.Close()
	}()

	delivery, ok, err := ch.Get(queue, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, amqp.Persistent, delivery.DeliveryMode)

	var notice domain.ConfirmationNotice
	require.NoError(t, json.Unmarshal(delivery.Body, &notice))
	require.Equal(t, "b-1", notice.BookingID)
	require.Equal(t, 2, notice.TicketCount)
}
