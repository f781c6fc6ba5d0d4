package notification

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// LogPublisher пишет задание на письмо в лог. Используется, когда брокер не настроен.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "notification-log")
	}
	return &LogPublisher{logger: logger}
}

// PublishConfirmation логирует задание.
func (p *LogPublisher) PublishConfirmation(_ context.Context, notice domain.ConfirmationNotice) error {
	p.logger.WithFields(log.Fields{
		"booking_id":   notice.BookingID,
		"user_id":      notice.UserID,
		"ticket_id":    notice.TicketID,
		"ticket_count": notice.TicketCount,
	}).Info("confirmation email requested")
	return nil
}

var _ domain.NotificationPublisher = (*LogPublisher)(nil)
