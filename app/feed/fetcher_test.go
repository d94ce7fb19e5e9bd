package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(5*time.Second, "castpoll", "test", "https://example.com/about")
}

func TestFetchSendsConditionalHeaders(t *testing.T) {
	lastModified := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-None-Match"); got != `"abc"` {
			t.Errorf("Expected If-None-Match header, got: %q", got)
		}
		if got := r.Header.Get("If-Modified-Since"); got != lastModified.Format(http.TimeFormat) {
			t.Errorf("Expected If-Modified-Since header, got: %q", got)
		}
		if got := r.Header.Get("Accept"); !strings.Contains(got, "application/rss+xml") {
			t.Errorf("Expected feed Accept header, got: %q", got)
		}
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "castpoll/test") {
			t.Errorf("Expected crawler ident in user agent, got: %q", got)
		}

		w.Header().Set("ETag", `"def"`)
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher()
	result, err := fetcher.Fetch(context.Background(), server.URL, `"abc"`, &lastModified)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.ETag != `"def"` {
		t.Errorf("Expected ETag from response, got: %q", result.ETag)
	}
	if string(result.Body) != "<rss/>" {
		t.Errorf("Unexpected body: %q", result.Body)
	}
	if result.ContentHash != ContentHash([]byte("<rss/>")) {
		t.Error("Expected content hash over the body")
	}
}

func TestFetchNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	fetcher := newTestFetcher()
	_, err := fetcher.Fetch(context.Background(), server.URL, `"abc"`, nil)
	if !errors.Is(err, ErrNotModified) {
		t.Fatalf("Expected ErrNotModified, got: %v", err)
	}
}

func TestFetchGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	fetcher := newTestFetcher()
	_, err := fetcher.Fetch(context.Background(), server.URL, "", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got: %v", err)
	}
	if statusErr.Code != http.StatusGone {
		t.Errorf("Expected status 410, got: %d", statusErr.Code)
	}
}

func TestFetchSurfacesFinalURLAfterRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<rss/>"))
	}))
	defer target.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/feed.xml", http.StatusMovedPermanently)
	}))
	defer source.Close()

	fetcher := newTestFetcher()
	result, err := fetcher.Fetch(context.Background(), source.URL, "", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.FinalURL != target.URL+"/feed.xml" {
		t.Errorf("Expected final URL %s, got: %s", target.URL+"/feed.xml", result.FinalURL)
	}
}

func TestContentHashIgnoresSurroundingWhitespace(t *testing.T) {
	plain := ContentHash([]byte("<rss/>"))
	padded := ContentHash([]byte("\n\n  <rss/>  \n"))
	if plain != padded {
		t.Error("Expected identical hashes for whitespace-padded content")
	}

	different := ContentHash([]byte("<rss><channel/></rss>"))
	if plain == different {
		t.Error("Expected different hashes for different content")
	}
}

func TestFetchRotatesUserAgents(t *testing.T) {
	var agents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher()
	for i := 0; i < len(userAgentPrefixes); i++ {
		if _, err := fetcher.Fetch(context.Background(), server.URL, "", nil); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	seen := map[string]bool{}
	for _, agent := range agents {
		seen[agent] = true
	}
	if len(seen) != len(userAgentPrefixes) {
		t.Errorf("Expected %d distinct user agents, got: %d", len(userAgentPrefixes), len(seen))
	}
}
