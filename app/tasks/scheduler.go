package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castpoll/castpoll/app/cfg"
	"github.com/castpoll/castpoll/app/database"
	"github.com/castpoll/castpoll/app/feed"
	"github.com/castpoll/castpoll/app/websub"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)
var _ websub.IngestEnqueuer = (*Scheduler)(nil)

const dueFeedBatchSize = 100

// Scheduler runs a bounded worker pool over a shared task queue. A ticker
// enqueues ingest work for feeds whose advisory poll time has passed plus a
// periodic subscription renewal sweep; WebSub deliveries and the admin API
// enqueue out of band through EnqueueIngest.
type Scheduler struct {
	feedRepo    database.FeedRepository
	ingestor    *feed.Ingestor
	subscriber  *websub.Subscriber
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(feedRepo database.FeedRepository, ingestor *feed.Ingestor, subscriber *websub.Subscriber) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		feedRepo:    feedRepo,
		ingestor:    ingestor,
		subscriber:  subscriber,
		interval:    time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount: cfg.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

// EnqueueIngest queues one ingest attempt for a feed. Used by WebSub content
// deliveries and the admin refresh endpoint; a full queue drops the request,
// the feed will be picked up again by its advisory poll timestamp.
func (s *Scheduler) EnqueueIngest(feedID int64, force bool) {
	task := NewIngestFeedTask(feedID, force, s.ingestor)
	if err := s.enqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue IngestFeedTask", "feed_id", feedID, "error", err)
	}
}

func (s *Scheduler) enqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueTasks() {
	feeds, err := s.feedRepo.ListDueFeeds(s.ctx, dueFeedBatchSize)
	if err != nil {
		slog.Error("Failed to list due feeds", "error", err)
	} else {
		for _, due := range feeds {
			task := NewIngestFeedTask(due.ID, false, s.ingestor)
			if err := s.enqueueTask(task); err != nil {
				slog.Warn("Failed to enqueue IngestFeedTask", "feed_id", due.ID, "error", err)
			}
		}
		if len(feeds) > 0 {
			slog.Debug("Enqueued due feeds", "count", len(feeds))
		}
	}

	renewTask := NewRenewSubscriptionsTask(s.subscriber)
	if err := s.enqueueTask(renewTask); err != nil {
		slog.Warn("Failed to enqueue RenewSubscriptionsTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	if err := task.Execute(taskCtx); err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "error", err)
	}
}
