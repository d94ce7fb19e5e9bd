package database

import (
	"context"
	"time"
)

// FeedSuccess carries everything written to a feed row after a successful
// parse: fetch state, catalog metadata and the next advisory poll time.
type FeedSuccess struct {
	URL          string
	ETag         string
	LastModified *time.Time
	ContentHash  string
	HTTPStatus   int

	Active     bool
	PubDate    *time.Time
	NextPollAt *time.Time

	Title         string
	Description   string
	Link          string
	Owner         string
	CoverURL      string
	Language      string
	Explicit      bool
	Keywords      string
	ExtractedText string
	NumEpisodes   int

	CategoryIDs []int64
}

// FeedFailure records a non-success outcome on a feed row.
type FeedFailure struct {
	Status     FeedStatus
	HTTPStatus *int
	Exception  string
	Active     bool
	NumRetries int
	NextPollAt *time.Time
}

type FeedRepository interface {
	GetFeed(ctx context.Context, id int64) (*Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)
	CreateFeed(ctx context.Context, url string) (*Feed, error)
	ListDueFeeds(ctx context.Context, limit int) ([]Feed, error)

	MarkDuplicate(ctx context.Context, id, canonicalID int64) error
	RecordSuccess(ctx context.Context, id int64, upd FeedSuccess) error
	RecordFailure(ctx context.Context, id int64, upd FeedFailure) error

	GetFeedCount(ctx context.Context) (int, error)
	GetFeedCountByStatus(ctx context.Context) (map[FeedStatus]int, error)
}

type EpisodeRepository interface {
	// ReconcileEpisodes deletes episodes whose guid is absent from the given
	// set and upserts the rest, all in one transaction.
	ReconcileEpisodes(ctx context.Context, feedID int64, episodes []Episode) error

	GetEpisodeCount(ctx context.Context) (int, error)
}

type CategoryRepository interface {
	GetCategories(ctx context.Context) ([]Category, error)
}

type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetSubscriptionByTopic(ctx context.Context, feedID int64, hub, topic string) (*Subscription, error)
	CreateSubscription(ctx context.Context, feedID int64, hub, topic string) (*Subscription, error)

	// ListRenewable returns subscriptions whose lease expires within the
	// given window plus unverified ones still under the request budget.
	ListRenewable(ctx context.Context, window time.Duration, maxRequests, limit int) ([]Subscription, error)

	RecordSubscribeRequest(ctx context.Context, id, secret, status string, requestedAt time.Time) error
	RecordSubscribeError(ctx context.Context, id, exception string) error
	SetVerified(ctx context.Context, id, status string, expiresAt *time.Time) error
	RecordVerifyError(ctx context.Context, id, exception string) error

	GetSubscriptionCountByStatus(ctx context.Context) (map[string]int, error)
}
