package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"availability-watcher/utils"
)

// ResortScheduler sends a rewrite request every interval. Requests go over
// an unbuffered channel without blocking: if the receiver is busy with a
// rewrite, the tick is dropped.
type ResortScheduler struct {
	interval time.Duration
	requests chan<- struct{}
	logger   *utils.Logger

	fired   atomic.Int64
	dropped atomic.Int64
}

// NewResortScheduler creates a scheduler. A non-positive interval disables
// periodic requests.
func NewResortScheduler(interval time.Duration, requests chan<- struct{}, logger *utils.Logger) *ResortScheduler {
	return &ResortScheduler{interval: interval, requests: requests, logger: logger}
}

// Run ticks until ctx is done.
func (s *ResortScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case s.requests <- struct{}{}:
				s.fired.Add(1)
			default:
				s.dropped.Add(1)
				s.logger.Debug("[scheduler] Rewrite still in progress, tick dropped")
			}
		}
	}
}

// Fired returns how many requests were delivered.
func (s *ResortScheduler) Fired() int64 { return s.fired.Load() }

// Dropped returns how many ticks were coalesced away.
func (s *ResortScheduler) Dropped() int64 { return s.dropped.Load() }
