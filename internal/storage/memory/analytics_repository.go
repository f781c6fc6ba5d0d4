package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// AnalyticsRepository хранит агрегаты продаж в памяти.
type AnalyticsRepository struct {
	mu     sync.Mutex
	hosts  map[string]domain.HostAnalytics
	events map[string]domain.EventAnalytics
	shows  map[string]domain.ShowBreakdown

	// applied хранит пары бронирование/агрегат, уже учтённые в счётчиках.
	applied map[appliedKey]struct{}

	failWith    error
	failTargets map[string]bool
}

type appliedKey struct {
	bookingID string
	target    string
}

// NewAnalyticsRepository создаёт пустое хранилище агрегатов.
func NewAnalyticsRepository() *AnalyticsRepository {
	return &AnalyticsRepository{
		hosts:   make(map[string]domain.HostAnalytics),
		events:  make(map[string]domain.EventAnalytics),
		shows:   make(map[string]domain.ShowBreakdown),
		applied: make(map[appliedKey]struct{}),
	}
}

// FailWith заставляет инкременты перечисленных агрегатов (host, event, show)
// возвращать err; без targets сбой касается всех. nil снимает сбой.
func (r *AnalyticsRepository) FailWith(err error, targets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
	r.failTargets = make(map[string]bool, len(targets))
	for _, target := range targets {
		r.failTargets[target] = true
	}
}

// claim отмечает инкремент бронирования; false означает, что он уже учтён.
// Вызывается под r.mu.
func (r *AnalyticsRepository) claim(bookingID, target string) (bool, error) {
	if r.failWith != nil && (len(r.failTargets) == 0 || r.failTargets[target]) {
		return false, r.failWith
	}
	key := appliedKey{bookingID: bookingID, target: target}
	if _, ok := r.applied[key]; ok {
		return false, nil
	}
	r.applied[key] = struct{}{}
	return true, nil
}

func (r *AnalyticsRepository) IncrementHost(_ context.Context, bookingID, hostID string, tickets, revenueMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok, err := r.claim(bookingID, domain.AnalyticsTargetHost); !ok {
		return err
	}

	doc := r.hosts[hostID]
	doc.HostID = hostID
	doc.TicketsSold += tickets
	doc.RevenueMinor += revenueMinor
	r.hosts[hostID] = doc
	return nil
}

func (r *AnalyticsRepository) IncrementEvent(_ context.Context, bookingID, eventID, hostID string, tickets, revenueMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok, err := r.claim(bookingID, domain.AnalyticsTargetEvent); !ok {
		return err
	}

	doc := r.events[eventID]
	doc.EventID = eventID
	doc.HostID = hostID
	doc.TicketsSold += tickets
	doc.RevenueMinor += revenueMinor
	r.events[eventID] = doc
	return nil
}

func (r *AnalyticsRepository) IncrementShow(_ context.Context, bookingID, eventID, hostID string, show domain.ShowInfo, tickets, revenueMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok, err := r.claim(bookingID, domain.AnalyticsTargetShow); !ok {
		return err
	}

	key := show.BreakdownKey()
	doc := r.shows[key]
	doc.Key = key
	doc.EventID = eventID
	doc.HostID = hostID
	doc.Show = show
	doc.TicketsSold += tickets
	doc.RevenueMinor += revenueMinor
	r.shows[key] = doc
	return nil
}

// GetHost возвращает агрегат организатора, для отсутствующего документа счётчики нулевые.
func (r *AnalyticsRepository) GetHost(_ context.Context, hostID string) (domain.HostAnalytics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.hosts[hostID]
	if !ok {
		return domain.HostAnalytics{HostID: hostID}, nil
	}
	return doc, nil
}

func (r *AnalyticsRepository) GetEvent(_ context.Context, eventID string) (domain.EventAnalytics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.events[eventID]
	if !ok {
		return domain.EventAnalytics{EventID: eventID}, nil
	}
	return doc, nil
}

func (r *AnalyticsRepository) GetShow(_ context.Context, key string) (domain.ShowBreakdown, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.shows[key]
	if !ok {
		return domain.ShowBreakdown{Key: key}, nil
	}
	return doc, nil
}

var _ domain.AnalyticsRepository = (*AnalyticsRepository)(nil)
