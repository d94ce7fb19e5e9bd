package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrNotModified reports a 304 response to a conditional request.
var ErrNotModified = errors.New("feed not modified")

const (
	// Feed MIME types only; generic XML accepted at a lower preference so
	// misconfigured servers still get through.
	acceptHeader = "application/atom+xml,application/rdf+xml,application/rss+xml," +
		"application/xml;q=0.9,text/xml;q=0.2,*/*;q=0.1"

	maxBodySize = 10 << 20
)

// Browser-like prefixes rotated per request. Some podcast CDNs throttle or
// block clients presenting a bare bot user-agent on every request.
var userAgentPrefixes = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// FetchResult is a successful retrieval of feed bytes.
type FetchResult struct {
	FinalURL     string
	StatusCode   int
	ETag         string
	LastModified *time.Time
	Body         []byte
	ContentHash  string
}

// Fetcher performs conditional GETs against feed sources. It has no side
// effects beyond the network call; all persistence happens in the caller.
type Fetcher struct {
	client     *http.Client
	userAgents []string
	counter    atomic.Uint64
}

func NewFetcher(timeout time.Duration, name, version, contactURL string) *Fetcher {
	ident := fmt.Sprintf("%s/%s (+%s)", name, version, contactURL)

	agents := make([]string, len(userAgentPrefixes))
	for i, prefix := range userAgentPrefixes {
		agents[i] = prefix + " " + ident
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgents: agents,
	}
}

// Fetch issues a conditional GET using the given validators. It follows
// redirects and surfaces the final URL so the caller can run canonical
// resolution; the requested URL is never rewritten here.
func (f *Fetcher) Fetch(ctx context.Context, url, etag string, lastModified *time.Time) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", f.nextUserAgent())

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != nil {
		req.Header.Set("If-Modified-Since", lastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	result := &FetchResult{
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
		ContentHash: ContentHash(body),
	}

	if value := resp.Header.Get("Last-Modified"); value != "" {
		if parsed, err := http.ParseTime(value); err == nil {
			result.LastModified = &parsed
		}
	}

	return result, nil
}

func (f *Fetcher) nextUserAgent() string {
	n := f.counter.Add(1)
	return f.userAgents[int(n)%len(f.userAgents)]
}

// ContentHash digests the raw bytes with surrounding whitespace stripped, so
// servers that pad responses with blank lines do not defeat change detection.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(data))
	return hex.EncodeToString(sum[:])
}
