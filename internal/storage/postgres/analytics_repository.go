package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

type analyticsRepository struct {
	db *sql.DB
}

// NewAnalyticsRepository создаёт PostgreSQL-реализацию AnalyticsRepository.
// Каждый инкремент — один statement: CTE вставляет метку в analytics_applied,
// upsert агрегата выполняется только если метка новая.
func NewAnalyticsRepository(store *Store) domain.AnalyticsRepository {
	return &analyticsRepository{db: store.DB()}
}

const claimAppliedCTE = `
	WITH claimed AS (
		INSERT INTO analytics_applied (booking_id, target, applied_at)
		VALUES ($1, $2, $3::timestamptz)
		ON CONFLICT (booking_id, target) DO NOTHING
		RETURNING booking_id
	)
`

func (r *analyticsRepository) IncrementHost(ctx context.Context, bookingID, hostID string, tickets, revenueMinor int64) error {
	return r.exec(ctx, domain.AnalyticsTargetHost, claimAppliedCTE+`
		INSERT INTO host_analytics (host_id, tickets_sold, revenue_minor, updated_at)
		SELECT $4::text, $5::bigint, $6::bigint, $3::timestamptz FROM claimed
		ON CONFLICT (host_id) DO UPDATE
		SET tickets_sold = host_analytics.tickets_sold + EXCLUDED.tickets_sold,
		    revenue_minor = host_analytics.revenue_minor + EXCLUDED.revenue_minor,
		    updated_at = EXCLUDED.updated_at
	`, bookingID, domain.AnalyticsTargetHost, time.Now().UTC(), hostID, tickets, revenueMinor)
}

func (r *analyticsRepository) IncrementEvent(ctx context.Context, bookingID, eventID, hostID string, tickets, revenueMinor int64) error {
	return r.exec(ctx, domain.AnalyticsTargetEvent, claimAppliedCTE+`
		INSERT INTO event_analytics (event_id, host_id, tickets_sold, revenue_minor, updated_at)
		SELECT $4::text, $5::text, $6::bigint, $7::bigint, $3::timestamptz FROM claimed
		ON CONFLICT (event_id) DO UPDATE
		SET host_id = EXCLUDED.host_id,
		    tickets_sold = event_analytics.tickets_sold + EXCLUDED.tickets_sold,
		    revenue_minor = event_analytics.revenue_minor + EXCLUDED.revenue_minor,
		    updated_at = EXCLUDED.updated_at
	`, bookingID, domain.AnalyticsTargetEvent, time.Now().UTC(), eventID, hostID, tickets, revenueMinor)
}

func (r *analyticsRepository) IncrementShow(ctx context.Context, bookingID, eventID, hostID string, show domain.ShowInfo, tickets, revenueMinor int64) error {
	return r.exec(ctx, domain.AnalyticsTargetShow, claimAppliedCTE+`
		INSERT INTO show_analytics (
			key, event_id, host_id, location, venue, show_date, show_name,
			tickets_sold, revenue_minor, updated_at
		)
		SELECT $4::text, $5::text, $6::text, $7::text, $8::text, $9::text, $10::text,
		       $11::bigint, $12::bigint, $3::timestamptz
		FROM claimed
		ON CONFLICT (key) DO UPDATE
		SET tickets_sold = show_analytics.tickets_sold + EXCLUDED.tickets_sold,
		    revenue_minor = show_analytics.revenue_minor + EXCLUDED.revenue_minor,
		    updated_at = EXCLUDED.updated_at
	`, bookingID, domain.AnalyticsTargetShow, time.Now().UTC(), show.BreakdownKey(), eventID, hostID,
		show.Location, show.Venue, show.Date, show.Show, tickets, revenueMinor)
}

// GetHost возвращает агрегат организатора, для отсутствующей строки счётчики нулевые.
func (r *analyticsRepository) GetHost(ctx context.Context, hostID string) (domain.HostAnalytics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := domain.HostAnalytics{HostID: hostID}
	err := r.db.QueryRowContext(ctx, `
		SELECT tickets_sold, revenue_minor FROM host_analytics WHERE host_id = $1
	`, hostID).Scan(&doc.TicketsSold, &doc.RevenueMinor)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.HostAnalytics{}, fmt.Errorf("select host analytics: %w", err)
	}
	return doc, nil
}

func (r *analyticsRepository) GetEvent(ctx context.Context, eventID string) (domain.EventAnalytics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := domain.EventAnalytics{EventID: eventID}
	err := r.db.QueryRowContext(ctx, `
		SELECT host_id, tickets_sold, revenue_minor FROM event_analytics WHERE event_id = $1
	`, eventID).Scan(&doc.HostID, &doc.TicketsSold, &doc.RevenueMinor)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.EventAnalytics{}, fmt.Errorf("select event analytics: %w", err)
	}
	return doc, nil
}

func (r *analyticsRepository) GetShow(ctx context.Context, key string) (domain.ShowBreakdown, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := domain.ShowBreakdown{Key: key}
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, host_id, location, venue, show_date, show_name, tickets_sold, revenue_minor
		FROM show_analytics WHERE key = $1
	`, key).Scan(
		&doc.EventID,
		&doc.HostID,
		&doc.Show.Location,
		&doc.Show.Venue,
		&doc.Show.Date,
		&doc.Show.Show,
		&doc.TicketsSold,
		&doc.RevenueMinor,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.ShowBreakdown{}, fmt.Errorf("select show analytics: %w", err)
	}
	return doc, nil
}

func (r *analyticsRepository) exec(ctx context.Context, target, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("increment %s analytics: %w", target, err)
	}
	return nil
}

var _ domain.AnalyticsRepository = (*analyticsRepository)(nil)
