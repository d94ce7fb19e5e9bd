package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/castpoll/castpoll/app/database"
)

// Ingestor runs one full ingestion attempt for a feed: conditional fetch,
// change detection, canonical resolution, parse, episode reconciliation and
// rescheduling. Every attempt resolves to exactly one FeedStatus; nothing
// escapes past this boundary.
type Ingestor struct {
	feeds      database.FeedRepository
	episodes   database.EpisodeRepository
	subs       database.SubscriptionRepository
	fetcher    *Fetcher
	parser     *Parser
	schedule   ScheduleConfig
	categories *CategoryLookup
	maxRetries int
}

func NewIngestor(
	feeds database.FeedRepository,
	episodes database.EpisodeRepository,
	subs database.SubscriptionRepository,
	fetcher *Fetcher,
	schedule ScheduleConfig,
	categories *CategoryLookup,
	maxRetries int,
) *Ingestor {
	return &Ingestor{
		feeds:      feeds,
		episodes:   episodes,
		subs:       subs,
		fetcher:    fetcher,
		parser:     NewParser(),
		schedule:   schedule,
		categories: categories,
		maxRetries: maxRetries,
	}
}

// Ingest processes one feed. force bypasses both the conditional request
// headers and the content hash short-circuit.
func (i *Ingestor) Ingest(ctx context.Context, feedID int64, force bool) database.FeedStatus {
	feed, err := i.feeds.GetFeed(ctx, feedID)
	if err != nil {
		slog.Error("Failed to load feed", "feed_id", feedID, "error", err)
		return database.FeedStatusDatabaseError
	}
	if feed == nil {
		slog.Warn("Feed not found", "feed_id", feedID)
		return database.FeedStatusDatabaseError
	}

	etag := feed.ETag
	lastModified := feed.LastModified
	if force {
		etag = ""
		lastModified = nil
	}

	result, err := i.fetcher.Fetch(ctx, feed.URL, etag, lastModified)
	if err != nil {
		return i.fetchFailed(ctx, feed, err)
	}

	if !force && feed.Status == database.FeedStatusSuccess && result.ContentHash == feed.ContentHash {
		return i.notModified(ctx, feed, result.StatusCode)
	}

	finalURL := result.FinalURL
	if finalURL != feed.URL {
		owner, err := i.feeds.GetFeedByURL(ctx, finalURL)
		if err != nil {
			return i.fail(ctx, feed, database.FeedStatusDatabaseError, nil, err.Error())
		}
		if owner != nil && owner.ID != feed.ID {
			root, err := ResolveCanonical(ctx, i.feeds, owner)
			if err != nil {
				return i.fail(ctx, feed, database.FeedStatusDatabaseError, nil, err.Error())
			}
			if root.ID != feed.ID {
				if err := i.feeds.MarkDuplicate(ctx, feed.ID, root.ID); err != nil {
					return i.fail(ctx, feed, database.FeedStatusDatabaseError, nil, err.Error())
				}
				slog.Info("Feed resolved as duplicate", "feed_id", feed.ID, "canonical_id", root.ID)
				return database.FeedStatusDuplicate
			}
			// The canonical chain loops back to this feed. Keep the
			// stored URL rather than adopting the redirect target.
			finalURL = feed.URL
		}
	}

	now := time.Now()

	parsed, items, err := i.parser.Run(result.Body, now)
	if err != nil {
		return i.fail(ctx, feed, database.FeedStatusInvalidRSS, &result.StatusCode, err.Error())
	}

	if err := i.episodes.ReconcileEpisodes(ctx, feed.ID, toEpisodes(feed.ID, items)); err != nil {
		return i.fail(ctx, feed, database.FeedStatusDatabaseError, nil, err.Error())
	}

	categoryIDs, unmatched := i.categories.Match(parsed.Categories)

	pubDates := make([]time.Time, len(items))
	for n, item := range items {
		pubDates[n] = item.PubDate
	}

	active := !parsed.Complete
	var nextPoll *time.Time
	if active {
		nextPoll = i.schedule.Schedule(pubDates, now)
	}

	upd := database.FeedSuccess{
		URL:           finalURL,
		ETag:          result.ETag,
		LastModified:  result.LastModified,
		ContentHash:   result.ContentHash,
		HTTPStatus:    result.StatusCode,
		Active:        active,
		PubDate:       parsed.PubDate,
		NextPollAt:    nextPoll,
		Title:         parsed.Title,
		Description:   parsed.Description,
		Link:          parsed.Link,
		Owner:         parsed.Owner,
		CoverURL:      parsed.CoverURL,
		Language:      parsed.Language,
		Explicit:      parsed.Explicit,
		Keywords:      joinKeywords(parsed.Keywords, unmatched),
		ExtractedText: ExtractText(parsed, items, parsed.Categories),
		NumEpisodes:   len(items),
		CategoryIDs:   categoryIDs,
	}
	if err := i.feeds.RecordSuccess(ctx, feed.ID, upd); err != nil {
		return i.fail(ctx, feed, database.FeedStatusDatabaseError, nil, err.Error())
	}

	if parsed.Hub != "" && parsed.Topic != "" {
		i.discoverSubscription(ctx, feed.ID, parsed.Hub, parsed.Topic)
	}

	slog.Info("Feed ingested", "feed_id", feed.ID, "episodes", len(items))
	return database.FeedStatusSuccess
}

func (i *Ingestor) fetchFailed(ctx context.Context, feed *database.Feed, err error) database.FeedStatus {
	if errors.Is(err, ErrNotModified) {
		return i.notModified(ctx, feed, http.StatusNotModified)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusGone {
			return i.discontinue(ctx, feed)
		}
		return i.fail(ctx, feed, database.FeedStatusUnavailable, &statusErr.Code, err.Error())
	}
	return i.fail(ctx, feed, database.FeedStatusUnavailable, nil, err.Error())
}

// notModified records an unchanged attempt: the retry counter resets and the
// feed is rescheduled with the backoff rule so quiet feeds are probed
// progressively less often.
func (i *Ingestor) notModified(ctx context.Context, feed *database.Feed, httpStatus int) database.FeedStatus {
	var nextPoll *time.Time
	if feed.Active {
		next := i.schedule.Retry(feed.PubDate, time.Now())
		nextPoll = &next
	}

	upd := database.FeedFailure{
		Status:     database.FeedStatusNotModified,
		HTTPStatus: &httpStatus,
		Active:     feed.Active,
		NumRetries: 0,
		NextPollAt: nextPoll,
	}
	if err := i.feeds.RecordFailure(ctx, feed.ID, upd); err != nil {
		slog.Error("Failed to record not-modified outcome", "feed_id", feed.ID, "error", err)
		return database.FeedStatusDatabaseError
	}
	return database.FeedStatusNotModified
}

// discontinue handles HTTP 410: the source says the feed is gone for good,
// so it is deactivated immediately and never retried automatically.
func (i *Ingestor) discontinue(ctx context.Context, feed *database.Feed) database.FeedStatus {
	code := http.StatusGone
	upd := database.FeedFailure{
		Status:     database.FeedStatusDiscontinued,
		HTTPStatus: &code,
		Exception:  "feed gone",
		Active:     false,
		NumRetries: feed.NumRetries,
	}
	if err := i.feeds.RecordFailure(ctx, feed.ID, upd); err != nil {
		slog.Error("Failed to record discontinued outcome", "feed_id", feed.ID, "error", err)
		return database.FeedStatusDatabaseError
	}
	slog.Info("Feed discontinued", "feed_id", feed.ID)
	return database.FeedStatusDiscontinued
}

// fail records an error outcome. The retry counter increments and once it
// reaches the ceiling the feed is deactivated; until then the feed is
// rescheduled with the backoff rule.
func (i *Ingestor) fail(ctx context.Context, feed *database.Feed, status database.FeedStatus, httpStatus *int, exception string) database.FeedStatus {
	retries := feed.NumRetries + 1
	active := feed.Active && retries < i.maxRetries

	var nextPoll *time.Time
	if active {
		next := i.schedule.Retry(feed.PubDate, time.Now())
		nextPoll = &next
	}

	upd := database.FeedFailure{
		Status:     status,
		HTTPStatus: httpStatus,
		Exception:  exception,
		Active:     active,
		NumRetries: retries,
		NextPollAt: nextPoll,
	}
	if err := i.feeds.RecordFailure(ctx, feed.ID, upd); err != nil {
		slog.Error("Failed to record feed failure", "feed_id", feed.ID, "error", err)
		return database.FeedStatusDatabaseError
	}

	slog.Warn("Feed ingestion failed", "feed_id", feed.ID, "status", status, "exception", exception)
	return status
}

// discoverSubscription registers a (feed, hub, topic) pair advertised by the
// feed itself. The subscribe request is sent later by the renewal sweep.
// Failures are logged only, the ingest outcome is already decided.
func (i *Ingestor) discoverSubscription(ctx context.Context, feedID int64, hub, topic string) {
	existing, err := i.subs.GetSubscriptionByTopic(ctx, feedID, hub, topic)
	if err != nil {
		slog.Error("Failed to look up subscription", "feed_id", feedID, "error", err)
		return
	}
	if existing != nil {
		return
	}
	if _, err := i.subs.CreateSubscription(ctx, feedID, hub, topic); err != nil {
		slog.Error("Failed to create subscription", "feed_id", feedID, "error", err)
		return
	}
	slog.Info("Discovered websub hub", "feed_id", feedID, "hub", hub)
}

func toEpisodes(feedID int64, items []Item) []database.Episode {
	episodes := make([]database.Episode, len(items))
	for n, item := range items {
		episodes[n] = database.Episode{
			FeedID:      feedID,
			GUID:        item.GUID,
			Title:       item.Title,
			Description: item.Description,
			Keywords:    item.Keywords,
			MediaURL:    item.MediaURL,
			MediaType:   item.MediaType,
			Length:      item.Length,
			PubDate:     item.PubDate,
			Duration:    item.Duration,
			Explicit:    item.Explicit,
			Season:      item.Season,
			EpisodeNum:  item.EpisodeNum,
			EpisodeType: item.EpisodeType,
			CoverURL:    item.CoverURL,
		}
	}
	return episodes
}

func joinKeywords(keywords string, unmatched []string) string {
	parts := append([]string{keywords}, unmatched...)
	return strings.TrimSpace(strings.Join(parts, " "))
}
