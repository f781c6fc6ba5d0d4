package domain

import (
	"strings"
	"unicode"
)

// ConfirmedSale — вход агрегатора аналитики по одному подтверждённому бронированию.
type ConfirmedSale struct {
	BookingID    string
	EventID      string
	TicketCount  int
	RevenueMinor int64
	Show         *ShowInfo
}

// HostAnalytics — суммарные продажи организатора.
type HostAnalytics struct {
	HostID       string
	TicketsSold  int64
	RevenueMinor int64
}

// EventAnalytics — суммарные продажи события.
type EventAnalytics struct {
	EventID      string
	HostID       string
	TicketsSold  int64
	RevenueMinor int64
}

// ShowBreakdown — продажи конкретного показа (локация, площадка, дата, показ).
type ShowBreakdown struct {
	Key          string
	EventID      string
	HostID       string
	Show         ShowInfo
	TicketsSold  int64
	RevenueMinor int64
}

// BreakdownKey строит составной ключ разбивки по показу.
func (s ShowInfo) BreakdownKey() string {
	parts := []string{s.Location, s.Venue, s.Date, s.Show}
	for i, part := range parts {
		parts[i] = normalizeKeyPart(part)
	}
	return strings.Join(parts, "_")
}

func normalizeKeyPart(part string) string {
	part = strings.ToLower(strings.TrimSpace(part))
	if part == "" {
		return "na"
	}
	var b strings.Builder
	b.Grow(len(part))
	for _, r := range part {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('-')
	}
	return b.String()
}
