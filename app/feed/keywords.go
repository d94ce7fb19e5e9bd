package feed

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/castpoll/castpoll/app/database"
)

// CategoryLookup is an immutable snapshot of the collaborator-owned taxonomy
// table, built once per run and passed explicitly wherever category names
// need matching. Unmatched names degrade to free-text keywords.
type CategoryLookup struct {
	byName map[string]int64
}

func NewCategoryLookup(categories []database.Category) *CategoryLookup {
	byName := make(map[string]int64, len(categories))
	for _, category := range categories {
		byName[strings.ToLower(strings.TrimSpace(category.Name))] = category.ID
	}
	return &CategoryLookup{byName: byName}
}

// Match splits names into taxonomy ids and unmatched leftovers, deduplicated
// in both directions.
func (l *CategoryLookup) Match(names []string) (ids []int64, unmatched []string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := l.byName[strings.ToLower(name)]; ok {
			ids = append(ids, id)
		} else {
			unmatched = append(unmatched, name)
		}
	}
	return lo.Uniq(ids), lo.Uniq(unmatched)
}

var tokenPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Small English stopword set. The recommendation job consuming the extracted
// text does its own weighting, this only keeps obvious noise out of the rows.
var stopwords = map[string]bool{
	"a": true, "about": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "our": true,
	"that": true, "the": true, "their": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "will": true, "with": true,
	"you": true, "your": true,
}

const extractedItemTitles = 6

// ExtractText builds the keyword text persisted for the recommendation job:
// channel metadata, category names (matched and unmatched) and the first few
// item titles, tokenized, lowercased and deduplicated.
func ExtractText(feed *Feed, items []Item, categoryNames []string) string {
	parts := []string{
		feed.Title,
		feed.Description,
		feed.Owner,
		feed.Keywords,
	}
	parts = append(parts, categoryNames...)
	for i, item := range items {
		if i == extractedItemTitles {
			break
		}
		parts = append(parts, item.Title)
	}

	tokens := tokenize(strings.Join(parts, " "))
	return strings.Join(tokens, " ")
}

func tokenize(text string) []string {
	words := tokenPattern.Split(strings.ToLower(text), -1)
	words = lo.Filter(words, func(word string, _ int) bool {
		return len(word) > 1 && !stopwords[word]
	})
	return lo.Uniq(words)
}
