package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ SubscriptionRepository = (*SubscriptionRepo)(nil)

// SubscriptionRepo handles database operations for WebSub subscriptions.
type SubscriptionRepo struct {
	db *DB
}

func NewSubscriptionRepository(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const subscriptionColumns = `
	id, feed_id, hub, topic, secret,
	status, status_changed_at, expires_at, requested_at, num_requests, exception,
	created_at, updated_at`

func (r *SubscriptionRepo) scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.FeedID, &sub.Hub, &sub.Topic, &sub.Secret,
		&sub.Status, &sub.StatusChangedAt, &sub.ExpiresAt, &sub.RequestedAt,
		&sub.NumRequests, &sub.Exception,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription row: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepo) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM websub_subscriptions
		WHERE id = $1
	`, id)
	return r.scanSubscription(row)
}

func (r *SubscriptionRepo) GetSubscriptionByTopic(ctx context.Context, feedID int64, hub, topic string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM websub_subscriptions
		WHERE feed_id = $1 AND hub = $2 AND topic = $3
	`, feedID, hub, topic)
	return r.scanSubscription(row)
}

// CreateSubscription registers a (feed, hub, topic) pair with a fresh random
// id. The id is embedded in the callback URL and never reused.
func (r *SubscriptionRepo) CreateSubscription(ctx context.Context, feedID int64, hub, topic string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO websub_subscriptions (id, feed_id, hub, topic)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feed_id, hub, topic) DO UPDATE SET updated_at = NOW()
		RETURNING `+subscriptionColumns+`
	`, uuid.NewString(), feedID, hub, topic)
	return r.scanSubscription(row)
}

// ListRenewable returns subscriptions due for a (re-)subscribe request:
// verified ones whose lease expires within the window, plus unverified ones
// still under the request budget.
func (r *SubscriptionRepo) ListRenewable(ctx context.Context, window time.Duration, maxRequests, limit int) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM websub_subscriptions s
		JOIN feeds f ON f.id = s.feed_id
		WHERE f.active
		  AND (
		    (s.status = $1 AND s.expires_at < NOW() + $2::interval)
		    OR (s.status IN ('', $3) AND s.num_requests < $4)
		  )
		ORDER BY s.expires_at NULLS FIRST, s.requested_at NULLS FIRST, s.created_at
		LIMIT $5
	`, SubscriptionStatusSubscribed, fmt.Sprintf("%d seconds", int(window.Seconds())),
		SubscriptionStatusRequested, maxRequests, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := r.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepo) RecordSubscribeRequest(ctx context.Context, id, secret, status string, requestedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE websub_subscriptions
		SET secret = $2,
		    status = $3,
		    status_changed_at = NOW(),
		    requested_at = $4,
		    num_requests = num_requests + 1,
		    exception = '',
		    updated_at = NOW()
		WHERE id = $1
	`, id, secret, status, requestedAt)
	if err != nil {
		return fmt.Errorf("failed to record subscribe request: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) RecordSubscribeError(ctx context.Context, id, exception string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE websub_subscriptions
		SET num_requests = num_requests + 1,
		    exception = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, exception)
	if err != nil {
		return fmt.Errorf("failed to record subscribe error: %w", err)
	}
	return nil
}

// SetVerified applies the hub's verification outcome. A nil expiry clears
// the lease (unsubscribe/denied). The request counter resets so a later
// lease expiry can be renewed under a fresh budget.
func (r *SubscriptionRepo) SetVerified(ctx context.Context, id, status string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE websub_subscriptions
		SET status = $2,
		    status_changed_at = NOW(),
		    expires_at = $3,
		    num_requests = 0,
		    exception = '',
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set subscription verified: %w", err)
	}
	return nil
}

// RecordVerifyError notes a rejected callback without touching state.
func (r *SubscriptionRepo) RecordVerifyError(ctx context.Context, id, exception string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE websub_subscriptions
		SET exception = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, exception)
	if err != nil {
		return fmt.Errorf("failed to record verify error: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) GetSubscriptionCountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM websub_subscriptions
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}
	return counts, nil
}
