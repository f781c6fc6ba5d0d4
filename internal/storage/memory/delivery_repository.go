package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const defaultDeliveryTTL = 24 * time.Hour

// deliveryRepository хранит ключи доставок webhook в памяти процесса.
type deliveryRepository struct {
	mu         sync.RWMutex
	deliveries map[string]domain.IdempotencyRecord
	now        func() time.Time
}

// NewIdempotencyRepository создаёт in-memory репозиторий ключей доставок webhook.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &deliveryRepository{
		deliveries: make(map[string]domain.IdempotencyRecord),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Повтор с тем же hash возвращает текущую запись
// и ErrIdempotencyKeyAlreadyExists, с другим hash возвращается ErrIdempotencyHashMismatch.
// Ключ в состоянии failed с тем же hash занимается заново.
func (r *deliveryRepository) CreateProcessing(_ context.Context, key, payloadHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, payloadHash = strings.TrimSpace(key), strings.TrimSpace(payloadHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case payloadHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultDeliveryTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, taken := r.deliveries[key]
	switch {
	case taken && existing.RequestHash != payloadHash:
		return existing, domain.ErrIdempotencyHashMismatch
	case taken && existing.Status != domain.IdempotencyStatusFailed:
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	claimed := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: payloadHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       expiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if taken {
		claimed.CreatedAt = existing.CreatedAt
	}
	r.deliveries[key] = claimed
	return claimed, nil
}

func (r *deliveryRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return d, nil
}

func (r *deliveryRepository) MarkDone(_ context.Context, key, outcome string) error {
	return r.finish(key, domain.IdempotencyStatusDone, outcome)
}

func (r *deliveryRepository) MarkFailed(_ context.Context, key, outcome string) error {
	return r.finish(key, domain.IdempotencyStatusFailed, outcome)
}

// DeleteExpired удаляет до limit ключей с истёкшим сроком, самые старые первыми.
func (r *deliveryRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, d := range r.deliveries {
		if !d.TTLAt.After(before) {
			expired = append(expired, d)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, d := range expired {
		delete(r.deliveries, d.Key)
	}
	return len(expired), nil
}

func (r *deliveryRepository) finish(key string, state domain.IdempotencyStatus, outcome string) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	d.Status, d.Outcome, d.UpdatedAt = state, outcome, r.now()
	r.deliveries[key] = d
	return nil
}

var _ domain.IdempotencyRepository = (*deliveryRepository)(nil)
