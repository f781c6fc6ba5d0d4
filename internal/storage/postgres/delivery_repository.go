package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const (
	deliveryColumns    = `delivery_key, payload_hash, state, outcome, expires_at, created_at, updated_at`
	defaultDeliveryTTL = 24 * time.Hour
)

// deliveryRepository хранит ключи доставок webhook в таблице webhook_deliveries.
type deliveryRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт репозиторий ключей доставок webhook.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &deliveryRepository{db: store.DB()}
}

// CreateProcessing занимает ключ одним INSERT. Ключ в состоянии failed с тем же
// hash перезанимается; любой другой конфликт разбирается отдельным чтением.
func (r *deliveryRepository) CreateProcessing(ctx context.Context, key, payloadHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, payloadHash = strings.TrimSpace(key), strings.TrimSpace(payloadHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case payloadHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultDeliveryTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	claimed, err := scanDelivery(r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries AS d (`+deliveryColumns+`)
		VALUES ($1, $2, 'processing', '', $3, $4, $4)
		ON CONFLICT (delivery_key) DO UPDATE
		SET state = 'processing', outcome = '', expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		WHERE d.state = 'failed' AND d.payload_hash = EXCLUDED.payload_hash
		RETURNING `+deliveryColumns,
		key, payloadHash, expiresAt.UTC(), now))
	switch {
	case err == nil:
		return claimed, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim webhook delivery %s: %w", key, err)
	}

	// ключ уже занят: различаем повтор той же доставки и чужой payload
	existing, err := r.Get(ctx, key)
	switch {
	case err != nil:
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	case existing.RequestHash != payloadHash:
		return existing, domain.ErrIdempotencyHashMismatch
	default:
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
}

func (r *deliveryRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE delivery_key = $1`, key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get webhook delivery %s: %w", key, err)
	}
	return record, nil
}

func (r *deliveryRepository) MarkDone(ctx context.Context, key, outcome string) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, outcome)
}

func (r *deliveryRepository) MarkFailed(ctx context.Context, key, outcome string) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, outcome)
}

// DeleteExpired удаляет до limit ключей с expires_at <= before, начиная с самых старых.
// limit <= 0 снимает ограничение.
func (r *deliveryRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `DELETE FROM webhook_deliveries WHERE expires_at <= $1`
	args := []any{before.UTC()}
	if limit > 0 {
		query = `
			DELETE FROM webhook_deliveries
			WHERE delivery_key IN (
				SELECT delivery_key FROM webhook_deliveries
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge expired webhook deliveries: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired webhook deliveries: %w", err)
	}
	return int(purged), nil
}

func (r *deliveryRepository) finish(ctx context.Context, key string, state domain.IdempotencyStatus, outcome string) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET state = $2, outcome = $3, updated_at = $4 WHERE delivery_key = $1`,
		key, string(state), outcome, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish webhook delivery %s as %s: %w", key, state, err)
	}
	return expectOneRow(res, domain.ErrIdempotencyKeyNotFound)
}

func scanDelivery(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		d     domain.IdempotencyRecord
		state string
	)
	if err := row.Scan(&d.Key, &d.RequestHash, &state, &d.Outcome, &d.TTLAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if d.Status = domain.IdempotencyStatus(state); !d.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("webhook delivery %s has unknown state %q", d.Key, state)
	}
	d.TTLAt, d.CreatedAt, d.UpdatedAt = d.TTLAt.UTC(), d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, nil
}

var _ domain.IdempotencyRepository = (*deliveryRepository)(nil)
