package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func makeEvent() domain.Event {
	return domain.Event{
		ID:     "event-1",
		HostID: "host-1",
		Venues: []domain.Venue{{
			ID: "arena",
			TicketTypes: []domain.TicketType{
				{ID: "ga", TotalQuantity: 10, TicketsSold: 8, PriceMinor: 250},
				{ID: "vip", TotalQuantity: 2, TicketsSold: 0, PriceMinor: 900},
				{ID: "standing", TotalQuantity: 0, PriceMinor: 100},
			},
		}},
	}
}

func TestEventReserve(t *testing.T) {
	event := makeEvent()

	reserved, err := event.Reserve([]domain.LineItem{
		{TicketTypeID: "ga", Quantity: 1},
		{TicketTypeID: "ga", Quantity: 1},
		{TicketTypeID: "standing", Quantity: 5},
	})
	require.NoError(t, err)
	require.Equal(t, []domain.ReservedItem{{TicketTypeID: "ga", Quantity: 2}}, reserved)

	ga, _ := event.TicketType("ga")
	require.Equal(t, 10, ga.TicketsSold)
	standing, _ := event.TicketType("standing")
	require.Equal(t, 0, standing.TicketsSold, "uncapped type must not be counted")
}

func TestEventReserve_SoldOutIsAllOrNothing(t *testing.T) {
	event := makeEvent()

	_, err := event.Reserve([]domain.LineItem{
		{TicketTypeID: "vip", Quantity: 1},
		{TicketTypeID: "ga", Quantity: 3},
	})
	require.True(t, errors.Is(err, domain.ErrSoldOut), "expected ErrSoldOut, got %v", err)

	vip, _ := event.TicketType("vip")
	ga, _ := event.TicketType("ga")
	require.Equal(t, 0, vip.TicketsSold)
	require.Equal(t, 8, ga.TicketsSold)
}

func TestEventReserve_UnknownType(t *testing.T) {
	event := makeEvent()
	_, err := event.Reserve([]domain.LineItem{{TicketTypeID: "balcony", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrUnknownTicketType)
}

func TestEventRelease_FloorsAtZero(t *testing.T) {
	event := makeEvent()
	event.Release([]domain.ReservedItem{
		{TicketTypeID: "ga", Quantity: 20},
		{TicketTypeID: "gone", Quantity: 1},
	})
	ga, _ := event.TicketType("ga")
	require.Equal(t, 0, ga.TicketsSold)
}

func TestEventReserveThenRelease_IsNeutral(t *testing.T) {
	event := makeEvent()
	before := event.Clone()

	reserved, err := event.Reserve([]domain.LineItem{{TicketTypeID: "vip", Quantity: 2}})
	require.NoError(t, err)
	event.Release(reserved)

	require.Equal(t, before.Venues, event.Venues)
}

func TestEventMigrateLegacyInventory(t *testing.T) {
	legacy := domain.Event{ID: "legacy", MaxTickets: 100, TicketsSold: 40}
	require.True(t, legacy.MigrateLegacyInventory())
	require.Zero(t, legacy.MaxTickets)
	require.Zero(t, legacy.TicketsSold)

	general, ok := legacy.TicketType(domain.LegacyTicketTypeID)
	require.True(t, ok)
	require.Equal(t, 100, general.TotalQuantity)
	require.Equal(t, 40, general.TicketsSold)

	require.False(t, legacy.MigrateLegacyInventory(), "second migration must be a no-op")

	both := makeEvent()
	both.MaxTickets = 5
	both.TicketsSold = 5
	require.True(t, both.MigrateLegacyInventory())
	_, ok = both.TicketType(domain.LegacyTicketTypeID)
	require.False(t, ok, "per-ticket-type counters win when both models are present")

	unlimited := domain.Event{ID: "free"}
	require.False(t, unlimited.MigrateLegacyInventory())
}

func TestEventResolveLineItems(t *testing.T) {
	legacy := domain.Event{ID: "legacy", MaxTickets: 10}
	legacy.MigrateLegacyInventory()

	items, err := legacy.ResolveLineItems([]domain.LineItem{{Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, domain.LegacyTicketTypeID, items[0].TicketTypeID)

	multi := makeEvent()
	_, err = multi.ResolveLineItems([]domain.LineItem{{Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrUnknownTicketType)

	open := domain.Event{ID: "open"}
	items, err = open.ResolveLineItems([]domain.LineItem{{TicketTypeID: "anything", Quantity: 1}})
	require.NoError(t, err)
	require.False(t, open.RequiresCapacity(items))
}

func TestEventCloneIsDeep(t *testing.T) {
	event := makeEvent()
	clone := event.Clone()
	clone.Venues[0].TicketTypes[0].TicketsSold = 0

	ga, _ := event.TicketType("ga")
	require.Equal(t, 8, ga.TicketsSold)
}

func TestParseAmountMinor(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{raw: "500", want: 50000},
		{raw: "499.5", want: 49950},
		{raw: "499.50", want: 49950},
		{raw: "0.01", want: 1},
		{raw: "12.300", want: 1230},
		{raw: ".75", want: 75},
	}
	for _, tc := range cases {
		got, err := domain.ParseAmountMinor(tc.raw)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"", "abc", "1.005", "1e3", "4.-1", "1.+5", "+5", "--5", "1.2.3", ".", "-"} {
		_, err := domain.ParseAmountMinor(raw)
		require.ErrorIs(t, err, domain.ErrInvalidPayload, raw)
	}

	require.Equal(t, "499.00", domain.FormatAmountMinor(49900))
	require.Equal(t, "0.05", domain.FormatAmountMinor(5))
}
