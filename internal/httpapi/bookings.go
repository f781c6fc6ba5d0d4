package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reservation"
)

type lineItemRequest struct {
	TicketTypeID string      `json:"ticketTypeId"`
	Quantity     int         `json:"quantity"`
	UnitPrice    json.Number `json:"unitPrice,omitempty"`
}

type showRequest struct {
	Location string `json:"location"`
	Venue    string `json:"venue"`
	Date     string `json:"date"`
	Show     string `json:"show"`
}

type createBookingRequest struct {
	EventID     string            `json:"eventId"`
	LineItems   []lineItemRequest `json:"lineItems"`
	TotalAmount json.Number       `json:"totalAmount"`
	BookingFee  json.Number       `json:"bookingFee,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Show        *showRequest      `json:"show,omitempty"`
}

type createBookingResponse struct {
	BookingID string `json:"bookingId"`
}

type paymentSessionResponse struct {
	BookingID        string `json:"bookingId"`
	Gateway          string `json:"gateway"`
	OrderID          string `json:"orderId"`
	PaymentSessionID string `json:"paymentSessionId"`
	Reused           bool   `json:"reused"`
}

type statusResponse struct {
	Status        domain.BookingStatus `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	TicketID      string               `json:"ticketId,omitempty"`
}

type reconcileResponse struct {
	Updated int `json:"updated"`
}

type lineItemView struct {
	TicketTypeID string `json:"ticketTypeId"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
}

type bookingView struct {
	ID             string               `json:"id"`
	EventID        string               `json:"eventId"`
	Status         domain.BookingStatus `json:"status"`
	PaymentStatus  domain.PaymentStatus `json:"paymentStatus"`
	TicketID       string               `json:"ticketId,omitempty"`
	LineItems      []lineItemView       `json:"lineItems"`
	TotalAmount    string               `json:"totalAmount"`
	BookingFee     string               `json:"bookingFee"`
	Currency       string               `json:"currency,omitempty"`
	GatewayOrderID string               `json:"gatewayOrderId,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	ConfirmedAt    *time.Time           `json:"confirmedAt,omitempty"`
}

func parseAmount(field string, raw json.Number, required bool) (int64, error) {
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
		}
		return 0, nil
	}
	minor, err := domain.ParseAmountMinor(raw.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrValidation, field, err)
	}
	return minor, nil
}

func (r createBookingRequest) toDomain(caller domain.Identity) (reservation.CreateBookingRequest, error) {
	total, err := parseAmount("totalAmount", r.TotalAmount, true)
	if err != nil {
		return reservation.CreateBookingRequest{}, err
	}
	fee, err := parseAmount("bookingFee", r.BookingFee, false)
	if err != nil {
		return reservation.CreateBookingRequest{}, err
	}

	items := make([]domain.LineItem, 0, len(r.LineItems))
	for _, item := range r.LineItems {
		price, err := parseAmount("unitPrice", item.UnitPrice, false)
		if err != nil {
			return reservation.CreateBookingRequest{}, err
		}
		items = append(items, domain.LineItem{
			TicketTypeID:   item.TicketTypeID,
			Quantity:       item.Quantity,
			UnitPriceMinor: price,
		})
	}

	req := reservation.CreateBookingRequest{
		EventID:          r.EventID,
		UserID:           caller.UserID,
		LineItems:        items,
		TotalAmountMinor: total,
		BookingFeeMinor:  fee,
		Currency:         r.Currency,
	}
	if r.Show != nil {
		req.Show = domain.ShowInfo{
			Location: r.Show.Location,
			Venue:    r.Show.Venue,
			Date:     r.Show.Date,
			Show:     r.Show.Show,
		}
	}
	return req, nil
}

func (s *Server) createBooking(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrValidation)
	}
	caller := identityFrom(c)
	req, err := body.toDomain(caller)
	if err != nil {
		return err
	}

	id, err := s.services.Engine.CreateBooking(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, createBookingResponse{BookingID: id})
}

func (s *Server) initiatePayment(c echo.Context) error {
	session, err := s.services.Engine.InitiatePayment(c.Request().Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paymentSessionResponse{
		BookingID:        session.BookingID,
		Gateway:          session.Gateway,
		OrderID:          session.OrderID,
		PaymentSessionID: session.PaymentSessionID,
		Reused:           session.Reused,
	})
}

func (s *Server) getBooking(c echo.Context) error {
	booking, err := s.services.Bookings.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	// Чужое бронирование не отличается от отсутствующего.
	if booking.UserID != identityFrom(c).UserID {
		return domain.ErrBookingNotFound
	}
	return c.JSON(http.StatusOK, viewOf(booking))
}

func (s *Server) verifyBooking(c echo.Context) error {
	booking, err := s.services.Reconcile.ConfirmManually(c.Request().Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		TicketID:      booking.TicketID,
	})
}

func (s *Server) reconcileBookings(c echo.Context) error {
	updated, err := s.services.Reconcile.ReconcileUserBookings(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reconcileResponse{Updated: updated})
}

func viewOf(b domain.Booking) bookingView {
	view := bookingView{
		ID:             b.ID,
		EventID:        b.EventID,
		Status:         b.Status,
		PaymentStatus:  b.PaymentStatus,
		TicketID:       b.TicketID,
		TotalAmount:    domain.FormatAmountMinor(b.TotalAmountMinor),
		BookingFee:     domain.FormatAmountMinor(b.BookingFeeMinor),
		Currency:       b.Currency,
		GatewayOrderID: b.GatewayOrderID,
		CreatedAt:      b.CreatedAt,
		LineItems: lo.Map(b.LineItems, func(item domain.LineItem, _ int) lineItemView {
			return lineItemView{
				TicketTypeID: item.TicketTypeID,
				Quantity:     item.Quantity,
				UnitPrice:    domain.FormatAmountMinor(item.UnitPriceMinor),
			}
		}),
	}
	if !b.ConfirmedAt.IsZero() {
		confirmedAt := b.ConfirmedAt
		view.ConfirmedAt = &confirmedAt
	}
	return view
}
