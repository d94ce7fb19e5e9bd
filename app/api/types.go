package api

import (
	"github.com/castpoll/castpoll/app/database"
	"github.com/castpoll/castpoll/app/tasks"
	"github.com/castpoll/castpoll/app/websub"
)

type Handler struct {
	feedRepo         database.FeedRepository
	episodeRepo      database.EpisodeRepository
	subscriptionRepo database.SubscriptionRepository
	subscriber       *websub.Subscriber
	scheduler        tasks.TaskSchedulerInterface
}

type createFeedRequest struct {
	URL string `json:"url" binding:"required"`
}

type createSubscriptionRequest struct {
	Hub   string `json:"hub" binding:"required"`
	Topic string `json:"topic" binding:"required"`
}
