package feed

import (
	"strings"
	"testing"

	"github.com/castpoll/castpoll/app/database"
)

func TestCategoryLookupMatch(t *testing.T) {
	lookup := NewCategoryLookup([]database.Category{
		{ID: 1, Name: "Technology"},
		{ID: 2, Name: "Science"},
	})

	ids, unmatched := lookup.Match([]string{"technology", "Science", "Knitting", "Science", ""})

	if len(ids) != 2 {
		t.Fatalf("Expected 2 matched ids, got: %v", ids)
	}
	if ids[0] != 1 || ids[1] != 2 {
		t.Errorf("Expected ids [1 2], got: %v", ids)
	}
	if len(unmatched) != 1 || unmatched[0] != "Knitting" {
		t.Errorf("Expected unmatched [Knitting], got: %v", unmatched)
	}
}

func TestExtractText(t *testing.T) {
	feed := &Feed{
		Title:       "The Daily Tech Show",
		Description: "A show about the tech industry",
		Owner:       "Jane Host",
		Keywords:    "gadgets",
	}
	items := []Item{
		{Title: "Episode about batteries"},
		{Title: "Episode about batteries"},
	}

	text := ExtractText(feed, items, []string{"Technology"})
	words := strings.Fields(text)

	seen := map[string]bool{}
	for _, word := range words {
		if seen[word] {
			t.Errorf("Expected deduplicated tokens, %q appears twice", word)
		}
		seen[word] = true
	}

	for _, want := range []string{"daily", "tech", "gadgets", "technology", "batteries", "jane"} {
		if !seen[want] {
			t.Errorf("Expected token %q in extracted text: %q", want, text)
		}
	}
	for _, stop := range []string{"the", "a", "about"} {
		if seen[stop] {
			t.Errorf("Expected stopword %q to be dropped", stop)
		}
	}
}
