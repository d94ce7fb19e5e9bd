package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

var _ EpisodeRepository = (*EpisodeRepo)(nil)

// EpisodeRepo handles database operations for episodes.
type EpisodeRepo struct {
	db *DB
}

func NewEpisodeRepository(db *DB) *EpisodeRepo {
	return &EpisodeRepo{db: db}
}

// ReconcileEpisodes brings the stored episode set for a feed in line with a
// full successful parse: episodes whose guid disappeared are deleted, the
// rest are upserted in place. The whole reconciliation is one transaction so
// a mid-failure never leaves the feed partially deleted.
func (r *EpisodeRepo) ReconcileEpisodes(ctx context.Context, feedID int64, episodes []Episode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	guids := make([]string, 0, len(episodes))
	for _, episode := range episodes {
		guids = append(guids, episode.GUID)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM episodes
		WHERE feed_id = $1
		  AND NOT (guid = ANY($2))
	`, feedID, pq.Array(guids))
	if err != nil {
		return fmt.Errorf("failed to delete missing episodes: %w", err)
	}

	for _, episode := range episodes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO episodes (
				feed_id, guid, title, description, keywords,
				media_url, media_type, length,
				pub_date, duration, explicit, season, episode, episode_type, cover_url
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (feed_id, guid) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				keywords = EXCLUDED.keywords,
				media_url = EXCLUDED.media_url,
				media_type = EXCLUDED.media_type,
				length = EXCLUDED.length,
				pub_date = EXCLUDED.pub_date,
				duration = EXCLUDED.duration,
				explicit = EXCLUDED.explicit,
				season = EXCLUDED.season,
				episode = EXCLUDED.episode,
				episode_type = EXCLUDED.episode_type,
				cover_url = EXCLUDED.cover_url,
				updated_at = NOW()
		`, feedID, episode.GUID, episode.Title, episode.Description, episode.Keywords,
			episode.MediaURL, episode.MediaType, episode.Length,
			episode.PubDate, episode.Duration, episode.Explicit,
			episode.Season, episode.EpisodeNum, episode.EpisodeType, episode.CoverURL)
		if err != nil {
			return fmt.Errorf("failed to upsert episode %s: %w", episode.GUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit episode reconciliation: %w", err)
	}
	return nil
}

func (r *EpisodeRepo) GetEpisodeCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM episodes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get episode count: %w", err)
	}
	return count, nil
}
