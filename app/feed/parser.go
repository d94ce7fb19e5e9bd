package feed

import (
	"bytes"
	"cmp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/text/language"
)

var explicitTokens = map[string]bool{"yes": true, "clean": true}
var completeTokens = map[string]bool{"yes": true, "true": true}

var episodeTypes = map[string]bool{"full": true, "trailer": true, "bonus": true}

// Parser turns raw bytes into a validated (Feed, []Item) pair. Items are
// validated independently and dropped silently when invalid; the parse only
// fails when the document itself is unusable or no item survives.
type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte, now time.Time) (*Feed, []Item, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &ParseError{Reason: "unparsable document", Err: err}
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if normalized, ok := p.normalizeItem(item, now); ok {
			items = append(items, normalized)
		}
	}
	if len(items) == 0 {
		return nil, nil, &ParseError{Reason: "no valid items"}
	}

	feed := p.normalizeFeed(parsed)
	for i := range items {
		if feed.PubDate == nil || items[i].PubDate.After(*feed.PubDate) {
			feed.PubDate = &items[i].PubDate
		}
	}

	return feed, items, nil
}

func (p *Parser) normalizeFeed(parsed *gofeed.Feed) *Feed {
	feed := &Feed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Link:        parsed.Link,
		Language:    normalizeLanguage(parsed.Language),
		Categories:  parsed.Categories,
	}

	if parsed.Image != nil {
		feed.CoverURL = parsed.Image.URL
	}

	if itunes := parsed.ITunesExt; itunes != nil {
		feed.Owner = cmp.Or(ownerName(itunes), itunes.Author)
		feed.Explicit = explicitTokens[strings.ToLower(itunes.Explicit)]
		feed.Complete = completeTokens[strings.ToLower(itunes.Complete)]
		feed.Keywords = itunes.Keywords
		feed.CoverURL = cmp.Or(feed.CoverURL, itunes.Image)

		for _, category := range itunes.Categories {
			if category == nil {
				continue
			}
			feed.Categories = append(feed.Categories, category.Text)
			if category.Subcategory != nil {
				feed.Categories = append(feed.Categories, category.Subcategory.Text)
			}
		}
	}

	if feed.Owner == "" && len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		feed.Owner = parsed.Authors[0].Name
	}

	feed.Hub, feed.Topic = discoverWebSubLinks(parsed)

	return feed
}

func (p *Parser) normalizeItem(item *gofeed.Item, now time.Time) (Item, bool) {
	guid := cmp.Or(strings.TrimSpace(item.GUID), strings.TrimSpace(item.Link))
	title := strings.TrimSpace(item.Title)
	if guid == "" || title == "" {
		return Item{}, false
	}

	pubDate := item.PublishedParsed
	if pubDate == nil {
		pubDate = item.UpdatedParsed
	}
	if pubDate == nil || pubDate.After(now) {
		return Item{}, false
	}

	if len(item.Enclosures) == 0 || item.Enclosures[0] == nil {
		return Item{}, false
	}
	enclosure := item.Enclosures[0]
	if enclosure.URL == "" || !strings.HasPrefix(enclosure.Type, "audio/") {
		return Item{}, false
	}

	normalized := Item{
		GUID:        guid,
		Title:       title,
		Description: cmp.Or(item.Description, item.Content),
		MediaURL:    enclosure.URL,
		MediaType:   enclosure.Type,
		PubDate:     *pubDate,
		EpisodeType: "full",
	}

	if enclosure.Length != "" {
		if length, err := strconv.ParseInt(enclosure.Length, 10, 64); err == nil {
			normalized.Length = length
		}
	}

	if item.Image != nil {
		normalized.CoverURL = item.Image.URL
	}

	if itunes := item.ITunesExt; itunes != nil {
		normalized.Description = cmp.Or(normalized.Description, itunes.Summary, itunes.Subtitle)
		normalized.Keywords = itunes.Keywords
		normalized.Duration = normalizeDuration(itunes.Duration)
		normalized.Explicit = explicitTokens[strings.ToLower(itunes.Explicit)]
		normalized.Season = parsePositiveInt(itunes.Season)
		normalized.EpisodeNum = parsePositiveInt(itunes.Episode)
		normalized.CoverURL = cmp.Or(normalized.CoverURL, itunes.Image)

		if episodeTypes[strings.ToLower(itunes.EpisodeType)] {
			normalized.EpisodeType = strings.ToLower(itunes.EpisodeType)
		}
	}

	return normalized, true
}

// discoverWebSubLinks looks for atom:link rel="hub" and rel="self" elements.
// Both must be present for push subscription to be possible.
func discoverWebSubLinks(parsed *gofeed.Feed) (hub, topic string) {
	links := atomLinks(parsed.Extensions)
	for _, link := range links {
		switch link.Attrs["rel"] {
		case "hub":
			hub = cmp.Or(hub, link.Attrs["href"])
		case "self":
			topic = cmp.Or(topic, link.Attrs["href"])
		}
	}
	topic = cmp.Or(topic, parsed.FeedLink)
	if hub == "" {
		return "", ""
	}
	return hub, topic
}

func ownerName(itunes *ext.ITunesFeedExtension) string {
	if itunes.Owner == nil {
		return ""
	}
	return itunes.Owner.Name
}

func atomLinks(extensions ext.Extensions) []ext.Extension {
	atom, ok := extensions["atom"]
	if !ok {
		return nil
	}
	return atom["link"]
}

// normalizeDuration accepts a plain integer (seconds, the most common form)
// unchanged. Otherwise the first three ":"-separated segments are kept when
// they fall in 0..59; a non-integer segment invalidates the whole value.
// Anything unusable becomes the empty string rather than an error.
func normalizeDuration(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if n, err := strconv.Atoi(value); err == nil {
		return strconv.Itoa(n)
	}

	var kept []string
	for i, segment := range strings.Split(value, ":") {
		if i == 3 {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(segment))
		if err != nil {
			return ""
		}
		if n < 0 || n > 59 {
			continue
		}
		kept = append(kept, strconv.Itoa(n))
	}
	return strings.Join(kept, ":")
}

// normalizeLanguage reduces values like "en-US" or "EN" to a 2-letter
// lowercase base code, defaulting to "en" for anything unrecognized.
func normalizeLanguage(value string) string {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return "en"
	}
	base, _ := tag.Base()
	code := base.String()
	if len(code) != 2 {
		return "en"
	}
	return strings.ToLower(code)
}

func parsePositiveInt(value string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}
