package database

import (
	"time"
)

// FeedStatus is the outcome of the most recent ingestion attempt.
// Exactly one status is recorded per attempt.
type FeedStatus string

const (
	FeedStatusSuccess       FeedStatus = "success"
	FeedStatusNotModified   FeedStatus = "not_modified"
	FeedStatusInvalidRSS    FeedStatus = "invalid_rss"
	FeedStatusDuplicate     FeedStatus = "duplicate"
	FeedStatusDiscontinued  FeedStatus = "discontinued"
	FeedStatusUnavailable   FeedStatus = "unavailable"
	FeedStatusDatabaseError FeedStatus = "database_error"
)

// Feed is a subscribed podcast source.
type Feed struct {
	ID          int64
	URL         string // source URL, unique
	CanonicalID *int64 // set when this feed is a duplicate of another

	Active bool
	Status FeedStatus

	// Fetch state
	ETag         string
	LastModified *time.Time
	ContentHash  string
	HTTPStatus   *int
	Exception    string
	NumRetries   int
	ParsedAt     *time.Time // last attempt, success or not

	// Scheduling state
	PubDate    *time.Time // latest known episode publish date
	NextPollAt *time.Time // advisory; NULL means poll only on explicit trigger

	// Catalog metadata
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

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Episode is a denormalized copy of one feed item, keyed by (feed_id, guid).
type Episode struct {
	ID     int64
	FeedID int64
	GUID   string

	Title       string
	Description string
	Keywords    string

	MediaURL  string
	MediaType string
	Length    int64

	PubDate     time.Time
	Duration    string
	Explicit    bool
	Season      *int
	EpisodeNum  *int
	EpisodeType string
	CoverURL    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Category is one entry of the collaborator-owned taxonomy table.
type Category struct {
	ID   int64
	Name string
}

// Subscription statuses. An empty status means the subscription has been
// created but no subscribe request has been sent yet, or its lease lapsed
// and it is awaiting re-request.
const (
	SubscriptionStatusRequested    = "requested"
	SubscriptionStatusSubscribed   = "subscribed"
	SubscriptionStatusUnsubscribed = "unsubscribed"
	SubscriptionStatusDenied       = "denied"
)

// Subscription is a WebSub (feed, hub, topic) registration. The id is
// embedded in the callback URL handed to the hub.
type Subscription struct {
	ID     string // uuid
	FeedID int64

	Hub    string
	Topic  string
	Secret string

	Status          string
	StatusChangedAt *time.Time
	ExpiresAt       *time.Time
	RequestedAt     *time.Time
	NumRequests     int
	Exception       string

	CreatedAt time.Time
	UpdatedAt time.Time
}
