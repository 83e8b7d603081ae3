// Package scheduler fires a job on wall-clock aligned boundaries.
//
// With an interval of 30s and a lead of 1s a job runs at :29 and :59 of every
// minute and is told it belongs to :30 and :00. Runs never overlap: when a
// boundary arrives while the previous run is still going, that boundary is
// skipped, not queued.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/tapmarket/internal/logger"
	"github.com/rewired-gh/tapmarket/internal/metrics"
)

// Clock is the time source of a Scheduler.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Job is one scheduled run. boundary is the aligned time the run belongs to.
type Job func(ctx context.Context, boundary time.Time) error

// NextFire returns the first boundary whose fire time (boundary − lead) lies
// strictly after now. Boundaries are multiples of interval since the Unix
// epoch.
func NextFire(now time.Time, interval, lead time.Duration) (fire, boundary time.Time) {
	step := interval.Milliseconds()
	if step <= 0 {
		step = 1
	}
	ms := now.UnixMilli()
	b := (ms + step - 1) / step * step
	for time.UnixMilli(b).Add(-lead).Compare(now) <= 0 {
		b += step
	}
	boundary = time.UnixMilli(b)
	return boundary.Add(-lead), boundary
}

// Scheduler runs one job on aligned boundaries.
type Scheduler struct {
	name     string
	interval time.Duration
	lead     time.Duration
	job      Job
	clock    Clock
	metrics  *metrics.Metrics
	onResult func(boundary time.Time, err error)

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics records run durations, results and skips on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithResultHandler calls fn after every run. Calls never overlap.
func WithResultHandler(fn func(boundary time.Time, err error)) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

// New creates a scheduler for job. A lead of at least interval is treated as
// no lead.
func New(name string, interval, lead time.Duration, job Job, opts ...Option) *Scheduler {
	if lead < 0 || lead >= interval {
		lead = 0
	}
	s := &Scheduler{
		name:     name,
		interval: interval,
		lead:     lead,
		job:      job,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fires the job until ctx is cancelled, then waits for an in-flight run
// to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.wg.Wait()
	for {
		now := s.clock.Now()
		fire, boundary := NextFire(now, s.interval, s.lead)
		logger.Debug("Next %s run at %s (boundary %s)", s.name,
			fire.Format("15:04:05.000"), boundary.Format("15:04:05"))

		select {
		case <-ctx.Done():
			logger.Info("Scheduler %s stopped", s.name)
			return
		case <-s.clock.After(fire.Sub(now)):
			s.trigger(ctx, boundary)
		}
	}
}

// Skipped is the number of boundaries dropped because a run was in flight.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) trigger(ctx context.Context, boundary time.Time) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.metrics.PassSkipped(s.name)
		logger.Warn("Skipping %s run for %s: previous run still in progress", s.name, boundary.Format("15:04:05"))
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		// Shutdown cancels ctx under a running job; Run still waits for it.
		start := time.Now()
		err := s.job(ctx, boundary)
		s.metrics.ObservePass(s.name, time.Since(start), err)
		if s.onResult != nil {
			s.onResult(boundary, err)
		}
	}()
	return true
}
