package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/version"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultAPIVersion = "2023-08-01"
	maxErrorBody      = 2048
)

// Option настраивает HTTP-клиент шлюза.
type Option func(*Client)

// WithTimeout ограничивает длительность одного запроса к шлюзу.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithAPIVersion задаёт заголовок x-api-version.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithHTTPClient подменяет транспорт (используется в тестах).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client — HTTP-клиент платёжного шлюза. Повторов не делает: повторяет вызывающая сторона.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	http       *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиента шлюза с трассировкой исходящих запросов.
func NewClient(baseURL, apiKey string, options ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiVersion: defaultAPIVersion,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "payment-gateway")
	}
	return c, nil
}

// Name возвращает идентификатор шлюза, который сохраняется в бронировании.
func (c *Client) Name() string {
	return "cashfree"
}

type createOrderBody struct {
	OrderReference  string          `json:"order_reference"`
	OrderAmount     string          `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       *orderMeta      `json:"order_meta,omitempty"`
}

type customerDetails struct {
	CustomerID string `json:"customer_id"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url"`
}

type orderResponse struct {
	OrderID          string      `json:"order_id"`
	PaymentSessionID string      `json:"payment_session_id"`
	OrderStatus      string      `json:"order_status"`
	OrderAmount      json.Number `json:"order_amount"`
	OrderCurrency    string      `json:"order_currency"`
}

// CreateOrder создаёт заказ шлюза для бронирования.
// 400, 402 и 422 считаются окончательным отказом (ErrGatewayRejected), остальные сбои дают ErrGateway.
func (c *Client) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	body := createOrderBody{
		OrderReference:  req.BookingID,
		OrderAmount:     domain.FormatAmountMinor(req.AmountMinor),
		OrderCurrency:   req.Currency,
		CustomerDetails: customerDetails{CustomerID: req.UserID},
	}
	if req.ReturnURL != "" {
		body.OrderMeta = &orderMeta{ReturnURL: req.ReturnURL}
	}

	var resp orderResponse
	status, err := c.do(ctx, http.MethodPost, "/orders", body, &resp)
	if err != nil {
		if isRejection(status) {
			return domain.GatewayOrder{}, fmt.Errorf("%w: create order for booking %s: %v", domain.ErrGatewayRejected, req.BookingID, err)
		}
		return domain.GatewayOrder{}, fmt.Errorf("%w: create order for booking %s: %v", domain.ErrGateway, req.BookingID, err)
	}
	if resp.OrderID == "" {
		return domain.GatewayOrder{}, fmt.Errorf("%w: create order for booking %s: empty order id", domain.ErrGateway, req.BookingID)
	}
	return toOrder(resp)
}

// GetOrderStatus читает текущий статус заказа.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (domain.GatewayOrder, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.GatewayOrder{}, fmt.Errorf("%w: order id is required", domain.ErrGateway)
	}

	var resp orderResponse
	if _, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("%w: get order %s: %v", domain.ErrGateway, orderID, err)
	}
	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	return toOrder(resp)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-api-version", c.apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"method": method,
			"path":   path,
		}).Warn("gateway request failed")
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.WithFields(log.Fields{
			"method":      method,
			"path":        path,
			"status_code": resp.StatusCode,
			"duration":    time.Since(started),
		}).Warn("gateway returned non-2xx status")
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func isRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

func toOrder(resp orderResponse) (domain.GatewayOrder, error) {
	order := domain.GatewayOrder{
		OrderID:          resp.OrderID,
		PaymentSessionID: resp.PaymentSessionID,
		Status:           domain.GatewayOrderStatus(strings.ToUpper(resp.OrderStatus)),
		Currency:         resp.OrderCurrency,
	}
	if resp.OrderAmount != "" {
		amount, err := domain.ParseAmountMinor(resp.OrderAmount.String())
		if err != nil {
			return domain.GatewayOrder{}, fmt.Errorf("%w: order %s amount: %v", domain.ErrGateway, resp.OrderID, err)
		}
		order.AmountMinor = amount
	}
	return order, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
