package confirmation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// PaymentResult — решение по статусу платежа из webhook.
type PaymentResult string

const (
	PaymentSucceeded PaymentResult = "success"
	PaymentFailed    PaymentResult = "failure"
	PaymentPending   PaymentResult = "noop"
)

// Callback — разобранное уведомление шлюза.
type Callback struct {
	OrderID       string
	PaymentStatus string
	AmountMinor   int64
	HasAmount     bool
}

// Result переводит статус платежа в действие над бронированием.
func (c Callback) Result() PaymentResult {
	switch strings.ToUpper(c.PaymentStatus) {
	case "SUCCESS":
		return PaymentSucceeded
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID     string      `json:"order_id"`
			OrderAmount json.Number `json:"order_amount"`
		} `json:"order"`
		Payment struct {
			PaymentStatus string      `json:"payment_status"`
			PaymentAmount json.Number `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

// ParseCallback извлекает order id, статус платежа и сумму.
// Сумма платежа приоритетнее суммы заказа.
func ParseCallback(body []byte) (Callback, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw webhookBody
	if err := decoder.Decode(&raw); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	cb := Callback{
		OrderID:       strings.TrimSpace(raw.Data.Order.OrderID),
		PaymentStatus: strings.TrimSpace(raw.Data.Payment.PaymentStatus),
	}
	if cb.OrderID == "" {
		return Callback{}, fmt.Errorf("%w: order id is missing", domain.ErrInvalidPayload)
	}

	amount := raw.Data.Payment.PaymentAmount
	if amount == "" {
		amount = raw.Data.Order.OrderAmount
	}
	if amount != "" {
		minor, err := domain.ParseAmountMinor(amount.String())
		if err != nil {
			return Callback{}, err
		}
		cb.AmountMinor = minor
		cb.HasAmount = true
	}
	return cb, nil
}
