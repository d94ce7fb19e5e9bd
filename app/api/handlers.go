package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castpoll/castpoll/app/database"
	"github.com/castpoll/castpoll/app/tasks"
	"github.com/castpoll/castpoll/app/websub"
)

func NewHandler(feedRepo database.FeedRepository, episodeRepo database.EpisodeRepository,
	subscriptionRepo database.SubscriptionRepository, subscriber *websub.Subscriber,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		feedRepo:         feedRepo,
		episodeRepo:      episodeRepo,
		subscriptionRepo: subscriptionRepo,
		subscriber:       subscriber,
		scheduler:        scheduler,
	}
}

// GetWebSubVerify answers the hub's verification handshake. The challenge is
// echoed back verbatim on success; anything invalid gets a bare 404.
func (h *Handler) GetWebSubVerify(c *gin.Context) {
	id := c.Param("id")

	leaseSeconds, _ := strconv.Atoi(c.Query("hub.lease_seconds"))

	challenge, err := h.subscriber.Verify(
		c.Request.Context(),
		id,
		c.Query("hub.mode"),
		c.Query("hub.topic"),
		c.Query("hub.challenge"),
		leaseSeconds,
	)
	if err != nil {
		if errors.Is(err, websub.ErrInvalidCallback) {
			c.Status(http.StatusNotFound)
			return
		}
		slog.Error("Websub verification failed", "subscription_id", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.String(http.StatusOK, challenge)
}

// PostWebSubDelivery accepts a content push. The response is 204 no matter
// what so hubs (or probers) learn nothing from the status code.
func (h *Handler) PostWebSubDelivery(c *gin.Context) {
	id := c.Param("id")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, websub.MaxBodySize))
	if err != nil {
		slog.Error("Failed to read delivery body", "subscription_id", id, "error", err)
		c.Status(http.StatusNoContent)
		return
	}

	h.subscriber.HandleDelivery(c.Request.Context(), id, c.GetHeader("X-Hub-Signature"), body)

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(c.Request.Context()); err == nil {
		health["feeds"] = feedCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := map[string]interface{}{}

	if counts, err := h.feedRepo.GetFeedCountByStatus(ctx); err == nil {
		stats["feeds_by_status"] = counts
	}
	if count, err := h.feedRepo.GetFeedCount(ctx); err == nil {
		stats["feeds"] = count
	}
	if count, err := h.episodeRepo.GetEpisodeCount(ctx); err == nil {
		stats["episodes"] = count
	}
	if counts, err := h.subscriptionRepo.GetSubscriptionCountByStatus(ctx); err == nil {
		stats["subscriptions_by_status"] = counts
	}

	c.JSON(http.StatusOK, stats)
}

// APICreateFeed registers a feed URL and queues its first ingest.
// Registration is idempotent on the URL.
func (h *Handler) APICreateFeed(c *gin.Context) {
	var req createFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed url"})
		return
	}

	feed, err := h.feedRepo.CreateFeed(c.Request.Context(), req.URL)
	if err != nil {
		slog.Error("Database error", "operation", "create_feed", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.scheduler.EnqueueIngest(feed.ID, true)

	c.JSON(http.StatusCreated, gin.H{
		"id":     feed.ID,
		"url":    feed.URL,
		"status": feed.Status,
	})
}

// APIRefreshFeed queues a forced ingest, bypassing conditional requests and
// the content hash short-circuit.
func (h *Handler) APIRefreshFeed(c *gin.Context) {
	feed, ok := h.loadFeed(c)
	if !ok {
		return
	}

	h.scheduler.EnqueueIngest(feed.ID, true)

	c.JSON(http.StatusAccepted, gin.H{
		"id":     feed.ID,
		"url":    feed.URL,
		"queued": true,
	})
}

// APICreateSubscription registers a hub/topic pair for a feed manually, for
// sources whose feeds do not advertise their hub.
func (h *Handler) APICreateSubscription(c *gin.Context) {
	feed, ok := h.loadFeed(c)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing hub or topic"})
		return
	}

	sub, err := h.subscriptionRepo.CreateSubscription(c.Request.Context(), feed.ID, req.Hub, req.Topic)
	if err != nil {
		slog.Error("Database error", "operation", "create_subscription", "feed_id", feed.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      sub.ID,
		"feed_id": sub.FeedID,
		"hub":     sub.Hub,
		"topic":   sub.Topic,
		"status":  sub.Status,
	})
}

func (h *Handler) loadFeed(c *gin.Context) (*database.Feed, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed id"})
		return nil, false
	}

	feed, err := h.feedRepo.GetFeed(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}
	return feed, true
}
