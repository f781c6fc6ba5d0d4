package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// Fake — конфигурируемая in-memory реализация шлюза для тестов и локального запуска.
type Fake struct {
	mu     sync.Mutex
	orders map[string]domain.GatewayOrder
	seq    int

	// CreateErr возвращается из CreateOrder, если задан.
	CreateErr error
	// StatusErr возвращается из GetOrderStatus, если задан.
	StatusErr error

	CreateCalls int
	StatusCalls int
}

// NewFake возвращает шлюз, который создаёт заказы в статусе ACTIVE.
func NewFake() *Fake {
	return &Fake{orders: make(map[string]domain.GatewayOrder)}
}

// Name возвращает идентификатор шлюза.
func (f *Fake) Name() string {
	return "fake"
}

// CreateOrder регистрирует заказ с суммой из запроса.
func (f *Fake) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	if f.CreateErr != nil {
		return domain.GatewayOrder{}, f.CreateErr
	}

	f.seq++
	order := domain.GatewayOrder{
		OrderID:          fmt.Sprintf("order-%d", f.seq),
		PaymentSessionID: fmt.Sprintf("session-%d", f.seq),
		Status:           domain.GatewayOrderActive,
		AmountMinor:      req.AmountMinor,
		Currency:         req.Currency,
	}
	f.orders[order.OrderID] = order
	return order, nil
}

// GetOrderStatus возвращает сохранённый заказ.
func (f *Fake) GetOrderStatus(_ context.Context, orderID string) (domain.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StatusCalls++
	if f.StatusErr != nil {
		return domain.GatewayOrder{}, f.StatusErr
	}
	order, ok := f.orders[orderID]
	if !ok {
		return domain.GatewayOrder{}, fmt.Errorf("%w: order %s not found", domain.ErrGateway, orderID)
	}
	return order, nil
}

// PutOrder добавляет или заменяет заказ целиком.
func (f *Fake) PutOrder(order domain.GatewayOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.OrderID] = order
}

// SetStatus меняет статус существующего заказа.
func (f *Fake) SetStatus(orderID string, status domain.GatewayOrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	order.OrderID = orderID
	order.Status = status
	f.orders[orderID] = order
}

// Calls возвращает счётчики вызовов под блокировкой.
func (f *Fake) Calls() (create, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CreateCalls, f.StatusCalls
}

var _ domain.PaymentGateway = (*Fake)(nil)
