package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

var _ FeedRepository = (*FeedRepo)(nil)

// FeedRepo handles database operations for feeds.
type FeedRepo struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepo {
	return &FeedRepo{db: db}
}

const feedColumns = `
	id, url, canonical_id, active, status,
	etag, last_modified, content_hash, http_status, exception, num_retries, parsed_at,
	pub_date, next_poll_at,
	title, description, link, owner, cover_url, language, explicit,
	keywords, extracted_text, num_episodes,
	created_at, updated_at`

func (r *FeedRepo) scanFeed(row interface{ Scan(...any) error }) (*Feed, error) {
	var feed Feed
	err := row.Scan(
		&feed.ID, &feed.URL, &feed.CanonicalID, &feed.Active, &feed.Status,
		&feed.ETag, &feed.LastModified, &feed.ContentHash, &feed.HTTPStatus,
		&feed.Exception, &feed.NumRetries, &feed.ParsedAt,
		&feed.PubDate, &feed.NextPollAt,
		&feed.Title, &feed.Description, &feed.Link, &feed.Owner, &feed.CoverURL,
		&feed.Language, &feed.Explicit,
		&feed.Keywords, &feed.ExtractedText, &feed.NumEpisodes,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feed row: %w", err)
	}
	return &feed, nil
}

func (r *FeedRepo) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE id = $1
	`, id)
	return r.scanFeed(row)
}

func (r *FeedRepo) GetFeedByURL(ctx context.Context, url string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE url = $1
	`, url)
	return r.scanFeed(row)
}

// CreateFeed registers a new feed. The initial next_poll_at is NOW so the
// first poll happens on the next dispatch tick. Registration is idempotent
// on the URL.
func (r *FeedRepo) CreateFeed(ctx context.Context, url string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO feeds (url, next_poll_at)
		VALUES ($1, NOW())
		ON CONFLICT (url) DO UPDATE SET updated_at = NOW()
		RETURNING `+feedColumns+`
	`, url)
	return r.scanFeed(row)
}

// ListDueFeeds returns active feeds whose advisory poll time has passed.
// Feeds without a schedule (next_poll_at NULL) are never selected here;
// they are only ingested on explicit trigger.
func (r *FeedRepo) ListDueFeeds(ctx context.Context, limit int) ([]Feed, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE active
		  AND next_poll_at IS NOT NULL
		  AND next_poll_at <= NOW()
		ORDER BY next_poll_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := r.scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) MarkDuplicate(ctx context.Context, id, canonicalID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET canonical_id = $2,
		    active = FALSE,
		    status = $3,
		    next_poll_at = NULL,
		    num_retries = 0,
		    exception = '',
		    parsed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, id, canonicalID, FeedStatusDuplicate)
	if err != nil {
		return fmt.Errorf("failed to mark feed duplicate: %w", err)
	}
	return nil
}

func (r *FeedRepo) RecordSuccess(ctx context.Context, id int64, upd FeedSuccess) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE feeds
		SET url = $2,
		    canonical_id = NULL,
		    etag = $3,
		    last_modified = $4,
		    content_hash = $5,
		    http_status = $6,
		    active = $7,
		    status = $8,
		    exception = '',
		    num_retries = 0,
		    parsed_at = NOW(),
		    pub_date = $9,
		    next_poll_at = $10,
		    title = $11,
		    description = $12,
		    link = $13,
		    owner = $14,
		    cover_url = $15,
		    language = $16,
		    explicit = $17,
		    keywords = $18,
		    extracted_text = $19,
		    num_episodes = $20,
		    updated_at = NOW()
		WHERE id = $1
	`, id, upd.URL, upd.ETag, upd.LastModified, upd.ContentHash, upd.HTTPStatus,
		upd.Active, FeedStatusSuccess, upd.PubDate, upd.NextPollAt,
		upd.Title, upd.Description, upd.Link, upd.Owner, upd.CoverURL,
		upd.Language, upd.Explicit, upd.Keywords, upd.ExtractedText, upd.NumEpisodes)
	if err != nil {
		return fmt.Errorf("failed to record feed success: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM feed_categories
		WHERE feed_id = $1
		  AND NOT (category_id = ANY($2))
	`, id, pq.Array(upd.CategoryIDs))
	if err != nil {
		return fmt.Errorf("failed to prune feed categories: %w", err)
	}

	if len(upd.CategoryIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO feed_categories (feed_id, category_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, id, pq.Array(upd.CategoryIDs))
		if err != nil {
			return fmt.Errorf("failed to set feed categories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feed success: %w", err)
	}
	return nil
}

func (r *FeedRepo) RecordFailure(ctx context.Context, id int64, upd FeedFailure) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET status = $2,
		    http_status = $3,
		    exception = $4,
		    active = $5,
		    num_retries = $6,
		    next_poll_at = $7,
		    parsed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, id, upd.Status, upd.HTTPStatus, upd.Exception, upd.Active,
		upd.NumRetries, upd.NextPollAt)
	if err != nil {
		return fmt.Errorf("failed to record feed failure: %w", err)
	}
	return nil
}

func (r *FeedRepo) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func (r *FeedRepo) GetFeedCountByStatus(ctx context.Context) (map[FeedStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM feeds
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[FeedStatus]int)
	for rows.Next() {
		var status FeedStatus
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
