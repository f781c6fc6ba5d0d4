package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxPull    = 100
	defaultOutboxRequeue = 1000
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт outbox поверх таблицы outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

// Enqueue пишет сообщение вне транзакции бронирования; внутри неё пишет pgTx.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertOutbox(ctx, r.db, msg)
}

// PullPending выдаёт pending-сообщения в порядке записи.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPull
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages WHERE state = $1 ORDER BY seq LIMIT $2`,
		outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, m)
	}
	return batch, rows.Err()
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE state = $1),
			COUNT(*) FILTER (WHERE state = $2),
			MIN(created_at) FILTER (WHERE state = $1)
		FROM outbox_messages WHERE state <> $3`,
		outboxPending, outboxFailed, outboxSent,
	).Scan(&stats.PendingCount, &stats.FailedCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	stats.OldestPendingAt = fromNullTime(oldest)
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, outboxFailed)
}

// RequeueFailed возвращает до limit самых старых failed-сообщений в pending.
func (r *outboxRepository) RequeueFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultOutboxRequeue
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET state = $1, settled_at = NULL
		WHERE id IN (
			SELECT id FROM outbox_messages WHERE state = $2
			ORDER BY seq LIMIT $3
			FOR UPDATE SKIP LOCKED
		)`,
		outboxPending, outboxFailed, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}
	return int(requeued), nil
}

// settle закрывает доставку сообщения и считает попытку.
func (r *outboxRepository) settle(ctx context.Context, id, state string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET state = $2, deliveries = deliveries + 1, settled_at = $3 WHERE id = $1`,
		id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("settle outbox message %s as %s: %w", id, state, err)
	}
	return expectOneRow(res, domain.ErrOutboxPublish)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
