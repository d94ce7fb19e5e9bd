package feed

import (
	"fmt"
	"time"
)

// Feed is the channel-level result of one parse. It is transient: the
// orchestrator folds it into the persisted feed record and discards it.
type Feed struct {
	Title       string
	Description string
	Link        string
	Owner       string
	CoverURL    string
	Language    string
	Explicit    bool
	Complete    bool
	Categories  []string
	Keywords    string

	// WebSub rel="hub" / rel="self" links, empty when the feed does not
	// advertise a hub.
	Hub   string
	Topic string

	// Latest publish date across the surviving items.
	PubDate *time.Time
}

// Item is one validated feed entry.
type Item struct {
	GUID        string
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
}

// ParseError marks content that could not be turned into a usable feed:
// malformed XML, a missing channel element, or zero items surviving
// validation.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid feed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid feed: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP response from the feed source.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}
