package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/confirmation"
)

const (
	headerWebhookTimestamp = "x-webhook-timestamp"
	headerWebhookSignature = "x-webhook-signature"
)

type webhookResponse struct {
	Outcome confirmation.Outcome `json:"outcome"`
}

// paymentWebhook читает сырое тело: подпись считается по байтам запроса.
func (s *Server) paymentWebhook(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrInvalidPayload, err)
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	outcome, err := s.services.Pipeline.HandleGatewayCallback(req.Context(), confirmation.Delivery{
		Timestamp: req.Header.Get(headerWebhookTimestamp),
		Signature: req.Header.Get(headerWebhookSignature),
		Body:      body,
	})
	switch {
	case errors.Is(err, domain.ErrSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, webhookResponse{Outcome: outcome})
}
