package feed

import (
	"sort"
	"time"
)

// ScheduleConfig holds the polling heuristics. The constants are defaults
// tuned against real podcast cadences, not protocol requirements.
type ScheduleConfig struct {
	// RelevancyWindow bounds how far back publish dates are considered.
	RelevancyWindow time.Duration
	// DefaultInterval is the bucket applied to sub-daily cadences.
	DefaultInterval time.Duration
	// MaxInterval caps both regular scheduling and retry backoff.
	MaxInterval time.Duration
	// MinInterval floors both regular scheduling and retry backoff.
	MinInterval time.Duration
	// BackoffFraction of the time since the last publish date used for
	// the retry interval.
	BackoffFraction float64
	// MinPubDates below which no schedule is produced.
	MinPubDates int
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		RelevancyWindow: 90 * 24 * time.Hour,
		DefaultInterval: 24 * time.Hour,
		MaxInterval:     7 * 24 * time.Hour,
		MinInterval:     time.Hour,
		BackoffFraction: 0.05,
		MinPubDates:     3,
	}
}

// Schedule derives the next poll time from a feed's recent publish cadence.
// It averages the gaps between the usable publish dates: sub-daily cadences
// bucket to the default interval, anything beyond the ceiling clamps down to
// it. A nil result means the feed has no derivable cadence and should only be
// polled on explicit trigger.
func (c ScheduleConfig) Schedule(pubDates []time.Time, now time.Time) *time.Time {
	usable := c.usableDates(pubDates, now)
	if len(usable) < c.MinPubDates {
		return nil
	}

	var total time.Duration
	for i := 1; i < len(usable); i++ {
		total += usable[i].Sub(usable[i-1])
	}
	interval := total / time.Duration(len(usable)-1)

	switch {
	case interval < c.DefaultInterval:
		interval = c.DefaultInterval
	case interval > c.MaxInterval:
		interval = c.MaxInterval
	}
	if interval < c.MinInterval {
		interval = c.MinInterval
	}

	next := usable[len(usable)-1].Add(interval)
	if !next.After(now) {
		// The cadence says a new episode is overdue. Fall back to the
		// retry rule instead of polling immediately on every pass.
		latest := usable[len(usable)-1]
		next = c.Retry(&latest, now)
	}
	return &next
}

// Retry computes a backoff poll time after a failed or unchanged attempt:
// a fraction of the time elapsed since the last known publish date, floored
// and capped. Feeds that went quiet are probed progressively less often
// without ever stopping entirely.
func (c ScheduleConfig) Retry(lastPub *time.Time, now time.Time) time.Time {
	interval := c.MinInterval
	if lastPub != nil && lastPub.Before(now) {
		interval = time.Duration(c.BackoffFraction * float64(now.Sub(*lastPub)))
	}
	if interval < c.MinInterval {
		interval = c.MinInterval
	}
	if interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	return now.Add(interval)
}

func (c ScheduleConfig) usableDates(pubDates []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-c.RelevancyWindow)

	usable := make([]time.Time, 0, len(pubDates))
	for _, date := range pubDates {
		if date.After(cutoff) && !date.After(now) {
			usable = append(usable, date)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].Before(usable[j])
	})
	return usable
}
