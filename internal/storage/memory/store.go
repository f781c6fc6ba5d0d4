package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// Store — in-memory хранилище событий и бронирований с транзакциями.
// Транзакции сериализуются на уровне всего хранилища, записи применяются только при commit.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	events   map[string]domain.Event
	bookings map[string]domain.Booking
	// mirror — копии бронирований под событием: eventID -> bookingID -> booking.
	mirror map[string]map[string]domain.Booking

	outbox *OutboxLog

	indexUnavailable atomic.Bool
	commitErrs       []error
	commits          atomic.Int64
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		events:   make(map[string]domain.Event),
		bookings: make(map[string]domain.Booking),
		mirror:   make(map[string]map[string]domain.Booking),
		outbox:   NewOutboxRepository(),
	}
}

// Bookings возвращает репозиторий бронирований поверх хранилища.
func (s *Store) Bookings() domain.BookingRepository {
	return &bookingRepository{store: s}
}

// Events возвращает репозиторий событий поверх хранилища.
func (s *Store) Events() domain.EventRepository {
	return &eventRepository{store: s}
}

// Outbox возвращает outbox, в который пишут транзакции хранилища.
func (s *Store) Outbox() domain.OutboxRepository {
	return s.outbox
}

// SetIndexAvailable переключает доступность индекса по пользователю.
func (s *Store) SetIndexAvailable(available bool) {
	s.indexUnavailable.Store(!available)
}

// FailNextCommits заставляет следующие commit завершиться переданными ошибками по порядку.
func (s *Store) FailNextCommits(errs ...error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.commitErrs = append(s.commitErrs, errs...)
}

// Commits возвращает число успешно зафиксированных транзакций.
func (s *Store) Commits() int64 {
	return s.commits.Load()
}

// Ping всегда успешен для in-memory хранилища.
func (s *Store) Ping(context.Context) error {
	return nil
}

// RunInTx выполняет fn в транзакции. Ошибка fn откатывает все изменения.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		store:    s,
		events:   make(map[string]domain.Event),
		bookings: make(map[string]domain.Booking),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}

	s.commit(tx)
	s.commits.Add(1)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, event := range tx.events {
		s.events[id] = event
	}
	for id, booking := range tx.bookings {
		s.bookings[id] = booking
		s.mirrorLocked(booking)
	}
	for _, msg := range tx.outbox {
		s.outbox.append(msg)
	}
}

func (s *Store) mirrorLocked(booking domain.Booking) {
	byEvent, ok := s.mirror[booking.EventID]
	if !ok {
		byEvent = make(map[string]domain.Booking)
		s.mirror[booking.EventID] = byEvent
	}
	byEvent[booking.ID] = booking.Clone()
}

// memTx накапливает записи до commit; чтения видят собственные записи транзакции.
type memTx struct {
	store    *Store
	events   map[string]domain.Event
	bookings map[string]domain.Booking
	outbox   []domain.OutboxMessage
}

func (t *memTx) GetEvent(_ context.Context, eventID string) (domain.Event, error) {
	if event, ok := t.events[eventID]; ok {
		return event.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	event, ok := t.store.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return event.Clone(), nil
}

func (t *memTx) SaveEvent(ctx context.Context, event domain.Event) error {
	current, err := t.GetEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	if current.Version != event.Version {
		return domain.ErrVersionConflict
	}

	saved := event.Clone()
	saved.Version++
	t.events[event.ID] = saved
	return nil
}

func (t *memTx) GetBooking(_ context.Context, bookingID string) (domain.Booking, error) {
	if booking, ok := t.bookings[bookingID]; ok {
		return booking.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	booking, ok := t.store.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return booking.Clone(), nil
}

func (t *memTx) InsertBooking(ctx context.Context, booking domain.Booking) error {
	if _, err := t.GetBooking(ctx, booking.ID); err == nil {
		return domain.ErrAlreadyExists
	}

	saved := booking.Clone()
	saved.Version = 1
	t.bookings[booking.ID] = saved
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, booking domain.Booking) error {
	current, err := t.GetBooking(ctx, booking.ID)
	if err != nil {
		return err
	}
	if current.Version != booking.Version {
		return domain.ErrVersionConflict
	}

	saved := booking.Clone()
	saved.Version++
	t.bookings[booking.ID] = saved
	return nil
}

func (t *memTx) Enqueue(_ context.Context, msg domain.OutboxMessage) error {
	t.outbox = append(t.outbox, msg)
	return nil
}

var (
	_ domain.TxRunner = (*Store)(nil)
	_ domain.Tx       = (*memTx)(nil)
)
