// Package badge caches the summary counters shown as navigation badges.
//
// Reads are served from memory while the snapshot is younger than the TTL.
// A stale or missing snapshot triggers one fan-out over the counter sources;
// readers that arrive while it is running get the last known snapshot instead
// of waiting. A durable copy paints something on cold start and is replaced
// as soon as the first fresh fetch lands.
package badge

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"harvestreport/internal/logging"
	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// DefaultTTL is how long a fetched snapshot is served without refreshing.
const DefaultTTL = 60 * time.Second

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("badge cache closed")

// Sources are the independent counter queries combined into a snapshot.
type Sources struct {
	PastReportsCount func(ctx context.Context) (int, error)
	HasNewReport     func(ctx context.Context) (bool, error)
	TotalSpecies     func(ctx context.Context) (int, error)
	NewCatchesCount  func(ctx context.Context) (int, error)
}

// Config tunes a Cache. Zero values select the defaults.
type Config struct {
	TTL time.Duration

	// DiscardStale drops a fetch result when a newer fetch was started after
	// it. Without it the snapshot reflects whichever fetch completes last.
	DiscardStale bool

	Now func() time.Time
}

type call struct {
	gen  uint64
	done chan struct{}
	snap types.BadgeSnapshot
	err  error
}

// Cache is an injectable, concurrency-safe badge cache.
type Cache struct {
	sources      Sources
	kv           store.KV
	ttl          time.Duration
	discardStale bool
	now          func() time.Time

	mu          sync.Mutex
	snap        types.BadgeSnapshot
	has         bool
	fetchedAt   time.Time // zero for snapshots painted from the durable copy
	running     int
	generation  uint64 // last started fetch
	floor       uint64 // fetches at or below this generation are discarded
	durableRead bool
	closed      bool

	wg sync.WaitGroup
}

// New creates a cache. kv may be nil to disable the durable copy.
func New(sources Sources, kv store.KV, cfg Config) *Cache {
	c := &Cache{
		sources:      sources,
		kv:           kv,
		ttl:          cfg.TTL,
		discardStale: cfg.DiscardStale,
		now:          cfg.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Read returns the badge snapshot. A fresh snapshot is returned as is unless
// force is set. Otherwise a fan-out fetch is started and awaited, except that
// a non-forced read arriving while a fetch is already running returns the
// last known snapshot immediately. A forced read never cancels or joins a
// running fetch.
func (c *Cache) Read(ctx context.Context, force bool) (types.BadgeSnapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.BadgeSnapshot{}, ErrClosed
	}
	if !force && c.has && c.freshLocked() {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	if !force && c.running > 0 {
		snap := c.snap
		c.mu.Unlock()
		logging.Badge("refresh in flight, serving last known snapshot")
		return snap, nil
	}
	if !c.has && !c.durableRead && c.kv != nil {
		c.durableRead = true
		c.wg.Add(1)
		go c.paintFromDurable(context.WithoutCancel(ctx))
	}
	cl := c.startLocked(context.WithoutCancel(ctx))
	c.mu.Unlock()

	select {
	case <-cl.done:
		if cl.err != nil {
			c.mu.Lock()
			snap := c.snap
			c.mu.Unlock()
			return snap, cl.err
		}
		return cl.snap, nil
	case <-ctx.Done():
		c.mu.Lock()
		snap := c.snap
		c.mu.Unlock()
		return snap, ctx.Err()
	}
}

// Peek returns the current in-memory snapshot without fetching.
func (c *Cache) Peek() (types.BadgeSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.has
}

// Invalidate marks the snapshot stale so the next Read fetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	logging.Badge("invalidated")
}

// Reset drops the in-memory snapshot and the durable copy. Fetches already
// running are discarded when they complete.
func (c *Cache) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.snap = types.BadgeSnapshot{}
	c.has = false
	c.fetchedAt = time.Time{}
	c.durableRead = false
	c.floor = c.generation
	c.mu.Unlock()

	if c.kv == nil {
		return nil
	}
	if err := c.kv.Remove(ctx, store.KeyBadgeSnapshot); err != nil {
		logging.Get(logging.CategoryBadge).Warn("failed to remove durable badge snapshot: %v", err)
		return err
	}
	return nil
}

// Close waits for background fetches and durable writes to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cache) freshLocked() bool {
	return !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *Cache) startLocked(ctx context.Context) *call {
	c.generation++
	c.running++
	cl := &call{gen: c.generation, done: make(chan struct{})}
	c.wg.Add(1)
	go c.run(ctx, cl)
	return cl
}

func (c *Cache) run(ctx context.Context, cl *call) {
	defer c.wg.Done()
	defer close(cl.done)

	snap, err := c.fetch(ctx)
	cl.snap, cl.err = snap, err

	c.mu.Lock()
	c.running--
	apply := err == nil && cl.gen > c.floor && !(c.discardStale && cl.gen < c.generation)
	if apply {
		c.snap = snap
		c.has = true
		c.fetchedAt = c.now()
	}
	c.mu.Unlock()

	if err != nil {
		logging.Get(logging.CategoryBadge).Warn("badge refresh failed, keeping last snapshot: %v", err)
		return
	}
	if !apply {
		logging.Badge("discarded superseded fetch %d", cl.gen)
		return
	}
	if c.kv != nil {
		if err := store.SaveJSON(ctx, c.kv, store.KeyBadgeSnapshot, snap); err != nil {
			logging.Get(logging.CategoryBadge).Warn("failed to persist badge snapshot: %v", err)
		}
	}
}

// fetch fans out to every source and combines the results once all resolve.
func (c *Cache) fetch(ctx context.Context) (types.BadgeSnapshot, error) {
	timer := logging.StartTimer(logging.CategoryBadge, "fetch")
	defer timer.Stop()

	var snap types.BadgeSnapshot
	eg, egCtx := errgroup.WithContext(ctx)

	if c.sources.PastReportsCount != nil {
		eg.Go(func() (err error) {
			snap.PastReportsCount, err = c.sources.PastReportsCount(egCtx)
			return err
		})
	}
	if c.sources.HasNewReport != nil {
		eg.Go(func() (err error) {
			snap.HasNewReport, err = c.sources.HasNewReport(egCtx)
			return err
		})
	}
	if c.sources.TotalSpecies != nil {
		eg.Go(func() (err error) {
			snap.TotalSpecies, err = c.sources.TotalSpecies(egCtx)
			return err
		})
	}
	if c.sources.NewCatchesCount != nil {
		eg.Go(func() (err error) {
			snap.NewCatchesCount, err = c.sources.NewCatchesCount(egCtx)
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return types.BadgeSnapshot{}, err
	}
	snap.Timestamp = c.now().UTC()
	return snap, nil
}

// paintFromDurable loads the persisted snapshot, used only while nothing is
// in memory yet. It never counts as fresh.
func (c *Cache) paintFromDurable(ctx context.Context) {
	defer c.wg.Done()

	var snap types.BadgeSnapshot
	found, err := store.LoadJSON(ctx, c.kv, store.KeyBadgeSnapshot, &snap)
	if err != nil {
		logging.Get(logging.CategoryBadge).Warn("failed to read durable badge snapshot: %v", err)
		return
	}
	if !found {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		c.snap = snap
		c.has = true
		logging.Badge("painted durable snapshot from %s", snap.Timestamp)
	}
}
