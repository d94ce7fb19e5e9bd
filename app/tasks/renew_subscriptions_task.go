package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/castpoll/castpoll/app/websub"
)

type RenewSubscriptionsTask struct {
	Task
	subscriber *websub.Subscriber
}

func NewRenewSubscriptionsTask(subscriber *websub.Subscriber) *RenewSubscriptionsTask {
	return &RenewSubscriptionsTask{
		Task:       NewTask(TaskTypeRenewSubscriptions),
		subscriber: subscriber,
	}
}

func (t *RenewSubscriptionsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.subscriber.RenewDue(ctx); err != nil {
		return fmt.Errorf("failed to renew subscriptions: %w", err)
	}

	slog.Debug("Task completed",
		"type", "RenewSubscriptions",
		"duration", t.GetDuration())

	return nil
}
