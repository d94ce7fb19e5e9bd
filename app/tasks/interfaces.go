package tasks

type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueIngest(feedID int64, force bool)
}

var _ TaskSchedulerInterface = (*SchedulerHandle)(nil)

// SchedulerHandle breaks the construction cycle between the scheduler and
// the websub subscriber: the subscriber needs an enqueuer before the
// scheduler exists, and the scheduler holds the subscriber for renewals.
// Attach must be called before Start.
type SchedulerHandle struct {
	inner *Scheduler
}

func (h *SchedulerHandle) Attach(s *Scheduler) {
	h.inner = s
}

func (h *SchedulerHandle) Start() {
	h.inner.Start()
}

func (h *SchedulerHandle) Stop() {
	h.inner.Stop()
}

func (h *SchedulerHandle) EnqueueIngest(feedID int64, force bool) {
	h.inner.EnqueueIngest(feedID, force)
}
