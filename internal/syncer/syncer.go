// Package syncer retries the pending submission queue in the background.
// Passes run on a fixed interval and on demand through Trigger; individual
// retries inside a pass are paced by a token bucket so a long backlog does
// not hammer the remote authority when connectivity returns.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"harvestreport/internal/logging"
	"harvestreport/internal/queue"
	"harvestreport/internal/types"
)

// Retrier is the slice of the submission queue the syncer drives.
type Retrier interface {
	Queue() []types.QueuedReport
	Retry(ctx context.Context, reportID string) (queue.Result, error)
}

// Config controls pass frequency and retry pacing.
type Config struct {
	Interval      time.Duration
	RatePerSecond float64
	Burst         int
}

// PassResult summarizes one sync pass.
type PassResult struct {
	Attempted int
	Submitted int
	Failed    int
	Started   time.Time
	Duration  time.Duration
}

// Syncer runs sync passes until its context is cancelled.
type Syncer struct {
	q       Retrier
	cfg     Config
	limiter *rate.Limiter
	trigger chan struct{}

	mu      sync.Mutex
	running bool
	last    PassResult
	passes  int
}

// New creates a syncer over q. Zero config values fall back to a five
// minute interval and one retry per second.
func New(q Retrier, cfg Config) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Syncer{
		q:       q,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		trigger: make(chan struct{}, 1),
	}
}

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("syncer already running")

// Run loops until ctx is done. It returns ctx.Err() on cancellation.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logging.Get(logging.CategorySync).Info("sync loop started, interval %s, %.2f retries/s", s.cfg.Interval, s.cfg.RatePerSecond)
	for {
		select {
		case <-ctx.Done():
			logging.Get(logging.CategorySync).Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Pass(ctx)
		case <-s.trigger:
			s.Pass(ctx)
		}
	}
}

// Trigger requests an immediate pass. Requests made while one is already
// waiting collapse into it.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Pass retries every pending report once, in queue order, waiting on the
// limiter before each attempt.
func (s *Syncer) Pass(ctx context.Context) PassResult {
	timer := logging.StartTimer(logging.CategorySync, "Pass")
	defer timer.Stop()

	res := PassResult{Started: time.Now()}
	for _, p := range s.q.Queue() {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		res.Attempted++
		r, err := s.q.Retry(ctx, p.ReportID)
		switch {
		case err != nil:
			res.Failed++
			logging.Get(logging.CategorySync).Debug("retry %s failed: %v", p.ReportID, err)
			logging.AuditWithCategory(logging.CategorySync).RetryFailed(p.ReportID, p.RetryCount+1, err)
		case r.Status == queue.StatusSubmitted:
			res.Submitted++
		}
	}
	res.Duration = time.Since(res.Started)

	s.mu.Lock()
	s.last = res
	s.passes++
	s.mu.Unlock()

	if res.Attempted > 0 {
		logging.Get(logging.CategorySync).Info("sync pass: %d attempted, %d submitted, %d failed",
			res.Attempted, res.Submitted, res.Failed)
		logging.Audit().SyncPass(res.Attempted, res.Submitted, res.Failed, res.Duration)
	}
	return res
}

// Last returns the most recent pass result and the number of passes run.
func (s *Syncer) Last() (PassResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.passes
}
