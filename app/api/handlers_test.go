package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castpoll/castpoll/app/database"
	"github.com/castpoll/castpoll/app/websub"
)

type stubFeedRepo struct {
	feeds map[int64]*database.Feed
}

func (r *stubFeedRepo) GetFeed(_ context.Context, id int64) (*database.Feed, error) {
	return r.feeds[id], nil
}

func (r *stubFeedRepo) GetFeedByURL(_ context.Context, _ string) (*database.Feed, error) {
	return nil, nil
}

func (r *stubFeedRepo) CreateFeed(_ context.Context, url string) (*database.Feed, error) {
	feed := &database.Feed{ID: 42, URL: url, Active: true}
	r.feeds[feed.ID] = feed
	return feed, nil
}

func (r *stubFeedRepo) ListDueFeeds(_ context.Context, _ int) ([]database.Feed, error) {
	return nil, nil
}

func (r *stubFeedRepo) MarkDuplicate(_ context.Context, _, _ int64) error { return nil }
func (r *stubFeedRepo) RecordSuccess(_ context.Context, _ int64, _ database.FeedSuccess) error {
	return nil
}
func (r *stubFeedRepo) RecordFailure(_ context.Context, _ int64, _ database.FeedFailure) error {
	return nil
}
func (r *stubFeedRepo) GetFeedCount(_ context.Context) (int, error) { return len(r.feeds), nil }
func (r *stubFeedRepo) GetFeedCountByStatus(_ context.Context) (map[database.FeedStatus]int, error) {
	return map[database.FeedStatus]int{}, nil
}

type stubEpisodeRepo struct{}

func (r *stubEpisodeRepo) ReconcileEpisodes(_ context.Context, _ int64, _ []database.Episode) error {
	return nil
}
func (r *stubEpisodeRepo) GetEpisodeCount(_ context.Context) (int, error) { return 0, nil }

type stubSubscriptionRepo struct {
	subs map[string]*database.Subscription
}

func (r *stubSubscriptionRepo) GetSubscription(_ context.Context, id string) (*database.Subscription, error) {
	return r.subs[id], nil
}

func (r *stubSubscriptionRepo) GetSubscriptionByTopic(_ context.Context, _ int64, _, _ string) (*database.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) CreateSubscription(_ context.Context, feedID int64, hub, topic string) (*database.Subscription, error) {
	sub := &database.Subscription{ID: "created", FeedID: feedID, Hub: hub, Topic: topic}
	r.subs[sub.ID] = sub
	return sub, nil
}

func (r *stubSubscriptionRepo) ListRenewable(_ context.Context, _ time.Duration, _, _ int) ([]database.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) RecordSubscribeRequest(_ context.Context, _, _, _ string, _ time.Time) error {
	return nil
}

func (r *stubSubscriptionRepo) RecordSubscribeError(_ context.Context, _, _ string) error {
	return nil
}

func (r *stubSubscriptionRepo) SetVerified(_ context.Context, id, status string, expiresAt *time.Time) error {
	sub := r.subs[id]
	sub.Status = status
	sub.ExpiresAt = expiresAt
	return nil
}

func (r *stubSubscriptionRepo) RecordVerifyError(_ context.Context, id, exception string) error {
	r.subs[id].Exception = exception
	return nil
}

func (r *stubSubscriptionRepo) GetSubscriptionCountByStatus(_ context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

type stubScheduler struct {
	enqueued []int64
}

func (s *stubScheduler) Start() {}
func (s *stubScheduler) Stop()  {}
func (s *stubScheduler) EnqueueIngest(feedID int64, force bool) {
	s.enqueued = append(s.enqueued, feedID)
}

type apiEnv struct {
	engine    *gin.Engine
	feeds     *stubFeedRepo
	subs      *stubSubscriptionRepo
	scheduler *stubScheduler
}

func newAPIEnv(apiKey string) *apiEnv {
	gin.SetMode(gin.TestMode)

	env := &apiEnv{
		feeds:     &stubFeedRepo{feeds: map[int64]*database.Feed{}},
		subs:      &stubSubscriptionRepo{subs: map[string]*database.Subscription{}},
		scheduler: &stubScheduler{},
	}

	subscriber := websub.NewSubscriber(env.subs, env.scheduler,
		"https://castpoll.example.com", 604800, 5*time.Second)

	handler := NewHandler(env.feeds, &stubEpisodeRepo{}, env.subs, subscriber, env.scheduler)
	env.engine = NewServer(handler, apiKey)
	return env
}

func (env *apiEnv) addSubscription() *database.Subscription {
	sub := &database.Subscription{
		ID:     "abc-123",
		FeedID: 7,
		Hub:    "http://hub.example.com/",
		Topic:  "http://feeds.example.com/show.xml",
		Secret: "s3cret",
	}
	env.subs.subs[sub.ID] = sub
	return sub
}

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebSubVerifyEchoesChallenge(t *testing.T) {
	env := newAPIEnv("")
	env.addSubscription()

	query := url.Values{
		"hub.mode":          {"subscribe"},
		"hub.topic":         {"http://feeds.example.com/show.xml"},
		"hub.challenge":     {"challenge-token"},
		"hub.lease_seconds": {"3600"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/websub/abc-123?"+query.Encode(), nil)
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", w.Code)
	}
	if w.Body.String() != "challenge-token" {
		t.Errorf("Expected challenge echoed back, got: %q", w.Body.String())
	}

	if got := env.subs.subs["abc-123"].Status; got != database.SubscriptionStatusSubscribed {
		t.Errorf("Expected status subscribed, got: %q", got)
	}
}

func TestWebSubVerifyTopicMismatchIsNotFound(t *testing.T) {
	env := newAPIEnv("")
	env.addSubscription()

	query := url.Values{
		"hub.mode":          {"subscribe"},
		"hub.topic":         {"http://feeds.example.com/other.xml"},
		"hub.challenge":     {"challenge-token"},
		"hub.lease_seconds": {"3600"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/websub/abc-123?"+query.Encode(), nil)
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got: %d", w.Code)
	}
	if got := env.subs.subs["abc-123"].Status; got != "" {
		t.Errorf("Expected state unchanged, got: %q", got)
	}
}

func TestWebSubDeliverySignedEnqueuesIngest(t *testing.T) {
	env := newAPIEnv("")
	env.addSubscription()

	body := `<rss version="2.0"/>`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/websub/abc-123", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", signBody(body, "s3cret"))
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got: %d", w.Code)
	}
	if len(env.scheduler.enqueued) != 1 || env.scheduler.enqueued[0] != 7 {
		t.Errorf("Expected exactly one ingest for feed 7, got: %v", env.scheduler.enqueued)
	}
}

func TestWebSubDeliveryBadSignatureStillSucceeds(t *testing.T) {
	env := newAPIEnv("")
	env.addSubscription()

	body := `<rss version="2.0"/>`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/websub/abc-123", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", signBody(body, "wrong"))
	env.engine.ServeHTTP(w, req)

	// The response never reveals the validation outcome.
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got: %d", w.Code)
	}
	if len(env.scheduler.enqueued) != 0 {
		t.Errorf("Expected no ingest enqueued, got: %v", env.scheduler.enqueued)
	}
}

func TestAPICreateFeedRequiresKey(t *testing.T) {
	env := newAPIEnv("test-key")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/feeds", strings.NewReader(`{"url":"https://example.com/rss"}`))
	req.Header.Set("Content-Type", "application/json")
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without key, got: %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/feeds", strings.NewReader(`{"url":"https://example.com/rss"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-key")
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 with key, got: %d", w.Code)
	}
	if len(env.scheduler.enqueued) != 1 {
		t.Errorf("Expected first ingest enqueued, got: %v", env.scheduler.enqueued)
	}
}

func TestAPIRefreshFeed(t *testing.T) {
	env := newAPIEnv("test-key")
	env.feeds.feeds[7] = &database.Feed{ID: 7, URL: "https://example.com/rss", Active: true}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/feeds/7/refresh", nil)
	req.Header.Set("X-API-Key", "test-key")
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got: %d", w.Code)
	}
	if len(env.scheduler.enqueued) != 1 || env.scheduler.enqueued[0] != 7 {
		t.Errorf("Expected ingest for feed 7, got: %v", env.scheduler.enqueued)
	}
}

func TestAPIRefreshUnknownFeed(t *testing.T) {
	env := newAPIEnv("test-key")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/feeds/99/refresh", nil)
	req.Header.Set("X-API-Key", "test-key")
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got: %d", w.Code)
	}
}

func TestAPICreateSubscription(t *testing.T) {
	env := newAPIEnv("test-key")
	env.feeds.feeds[7] = &database.Feed{ID: 7, URL: "https://example.com/rss", Active: true}

	payload := `{"hub":"http://hub.example.com/","topic":"http://feeds.example.com/show.xml"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/feeds/7/subscriptions", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-key")
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got: %d", w.Code)
	}
	if env.subs.subs["created"] == nil {
		t.Error("Expected subscription to be created")
	}
}
