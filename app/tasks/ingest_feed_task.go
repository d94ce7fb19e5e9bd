package tasks

import (
	"context"
	"log/slog"

	"github.com/castpoll/castpoll/app/feed"
)

type IngestFeedTask struct {
	Task
	FeedID   int64
	Force    bool
	ingestor *feed.Ingestor
}

func NewIngestFeedTask(feedID int64, force bool, ingestor *feed.Ingestor) *IngestFeedTask {
	return &IngestFeedTask{
		Task:     NewTask(TaskTypeIngestFeed),
		FeedID:   feedID,
		Force:    force,
		ingestor: ingestor,
	}
}

// Execute never returns an error: every ingest attempt resolves to a status
// recorded on the feed row, and retries happen through the advisory poll
// timestamp rather than task re-enqueueing.
func (t *IngestFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	status := t.ingestor.Ingest(ctx, t.FeedID, t.Force)

	slog.Info("Task completed",
		"type", "IngestFeed",
		"feed_id", t.FeedID,
		"force", t.Force,
		"status", status,
		"duration", t.GetDuration())

	return nil
}
