package domain

import "fmt"

const (
	// LegacyVenueID — площадка, в которую переносится событийный лимит старого формата.
	LegacyVenueID = "default"
	// LegacyTicketTypeID — тип билета, заменяющий пару MaxTickets/TicketsSold.
	LegacyTicketTypeID = "general"
)

// TicketType хранит счётчики одного типа билета.
// TotalQuantity <= 0 означает, что тип не ограничен по количеству.
type TicketType struct {
	ID            string
	Name          string
	PriceMinor    int64
	TotalQuantity int
	TicketsSold   int
}

// Capped сообщает, что у типа билета есть лимит.
func (t TicketType) Capped() bool {
	return t.TotalQuantity > 0
}

// Available возвращает остаток мест для ограниченного типа.
func (t TicketType) Available() int {
	if !t.Capped() {
		return -1
	}
	if left := t.TotalQuantity - t.TicketsSold; left > 0 {
		return left
	}
	return 0
}

// Venue — площадка события со своими типами билетов.
type Venue struct {
	ID          string
	Name        string
	TicketTypes []TicketType
}

// Event — документ события с вложенными счётчиками inventory.
type Event struct {
	ID      string
	HostID  string
	Title   string
	Venues  []Venue
	Version int64

	// MaxTickets и TicketsSold — событийный лимит старого формата.
	MaxTickets  int
	TicketsSold int
}

// HasTicketTypes сообщает, что у события объявлены типы билетов.
func (e Event) HasTicketTypes() bool {
	for _, venue := range e.Venues {
		if len(venue.TicketTypes) > 0 {
			return true
		}
	}
	return false
}

// TicketType ищет тип билета по идентификатору среди всех площадок.
func (e *Event) TicketType(id string) (*TicketType, bool) {
	for vi := range e.Venues {
		for ti := range e.Venues[vi].TicketTypes {
			if e.Venues[vi].TicketTypes[ti].ID == id {
				return &e.Venues[vi].TicketTypes[ti], true
			}
		}
	}
	return nil, false
}

// MigrateLegacyInventory переводит событийный лимит на счётчик типа билета.
// Если у события уже есть типы билетов, старые поля просто обнуляются.
// Возвращает true, если документ изменился.
func (e *Event) MigrateLegacyInventory() bool {
	if e.MaxTickets <= 0 && e.TicketsSold == 0 {
		return false
	}
	if !e.HasTicketTypes() && e.MaxTickets > 0 {
		e.Venues = append(e.Venues, Venue{
			ID:   LegacyVenueID,
			Name: LegacyVenueID,
			TicketTypes: []TicketType{{
				ID:            LegacyTicketTypeID,
				Name:          LegacyTicketTypeID,
				TotalQuantity: e.MaxTickets,
				TicketsSold:   e.TicketsSold,
			}},
		})
	}
	e.MaxTickets = 0
	e.TicketsSold = 0
	return true
}

// ResolveLineItems проставляет тип билета для позиций без явного типа и
// проверяет, что все типы существуют. Событие без типов билетов принимает любые позиции.
func (e *Event) ResolveLineItems(items []LineItem) ([]LineItem, error) {
	resolved := make([]LineItem, len(items))
	copy(resolved, items)

	if !e.HasTicketTypes() {
		return resolved, nil
	}

	for i := range resolved {
		if resolved[i].TicketTypeID == "" {
			only, ok := e.singleTicketTypeID()
			if !ok {
				return nil, fmt.Errorf("%w: line item %d has no ticket type", ErrUnknownTicketType, i)
			}
			resolved[i].TicketTypeID = only
		}
		if _, ok := e.TicketType(resolved[i].TicketTypeID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTicketType, resolved[i].TicketTypeID)
		}
	}
	return resolved, nil
}

// RequiresCapacity сообщает, затрагивают ли позиции хотя бы один ограниченный счётчик.
func (e *Event) RequiresCapacity(items []LineItem) bool {
	for _, item := range items {
		if tt, ok := e.TicketType(item.TicketTypeID); ok && tt.Capped() {
			return true
		}
	}
	return false
}

// Reserve атомарно (всё или ничего) увеличивает счётчики ограниченных типов.
// Возвращает фактически списанные позиции.
func (e *Event) Reserve(items []LineItem) ([]ReservedItem, error) {
	requested := make(map[string]int)
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		tt, ok := e.TicketType(item.TicketTypeID)
		if !ok {
			if e.HasTicketTypes() {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTicketType, item.TicketTypeID)
			}
			continue
		}
		if !tt.Capped() {
			continue
		}
		if _, seen := requested[tt.ID]; !seen {
			order = append(order, tt.ID)
		}
		requested[tt.ID] += item.Quantity
	}

	for _, id := range order {
		tt, _ := e.TicketType(id)
		if tt.TicketsSold+requested[id] > tt.TotalQuantity {
			return nil, fmt.Errorf("%w: ticket type %s has %d left, requested %d", ErrSoldOut, id, tt.Available(), requested[id])
		}
	}

	reserved := make([]ReservedItem, 0, len(order))
	for _, id := range order {
		tt, _ := e.TicketType(id)
		tt.TicketsSold += requested[id]
		reserved = append(reserved, ReservedItem{TicketTypeID: id, Quantity: requested[id]})
	}
	return reserved, nil
}

// Release уменьшает счётчики на зарезервированное количество, не опускаясь ниже нуля.
// Неизвестные типы пропускаются: документ события мог измениться после резерва.
func (e *Event) Release(items []ReservedItem) {
	for _, item := range items {
		tt, ok := e.TicketType(item.TicketTypeID)
		if !ok {
			continue
		}
		tt.TicketsSold -= item.Quantity
		if tt.TicketsSold < 0 {
			tt.TicketsSold = 0
		}
	}
}

// Clone возвращает глубокую копию события.
func (e Event) Clone() Event {
	dst := e
	dst.Venues = make([]Venue, len(e.Venues))
	for i, venue := range e.Venues {
		dst.Venues[i] = venue
		dst.Venues[i].TicketTypes = append([]TicketType(nil), venue.TicketTypes...)
	}
	return dst
}

func (e *Event) singleTicketTypeID() (string, bool) {
	var (
		id    string
		count int
	)
	for _, venue := range e.Venues {
		for _, tt := range venue.TicketTypes {
			id = tt.ID
			count++
		}
	}
	return id, count == 1
}
