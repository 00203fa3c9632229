package badge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// countingSources numbers each fan-out; PastReportsCount reports fetch*10 so
// tests can tell which fetch produced a snapshot. Fetch n waits on gates[n-1]
// when present.
type countingSources struct {
	mu      sync.Mutex
	fetches int
	gates   []chan struct{}
	err     error
}

func (s *countingSources) sources() Sources {
	return Sources{
		PastReportsCount: func(ctx context.Context) (int, error) {
			s.mu.Lock()
			s.fetches++
			n := s.fetches
			var gate chan struct{}
			if n <= len(s.gates) {
				gate = s.gates[n-1]
			}
			err := s.err
			s.mu.Unlock()
			if gate != nil {
				<-gate
			}
			return n * 10, err
		},
		TotalSpecies: func(ctx context.Context) (int, error) { return 3, nil },
	}
}

func (s *countingSources) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func TestReadWithinTTLFetchesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := &countingSources{}
	c := New(src.sources(), nil, Config{})
	defer c.Close()
	ctx := context.Background()

	first, err := c.Read(ctx, false)
	require.NoError(t, err)
	second, err := c.Read(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, src.count())
	assert.Equal(t, first, second)
	assert.Equal(t, 10, first.PastReportsCount)
	assert.Equal(t, 3, first.TotalSpecies)
}

func TestConcurrentReadDuringFetchDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := make(chan struct{})
	src := &countingSources{gates: []chan struct{}{gate}}
	c := New(src.sources(), nil, Config{})
	defer c.Close()
	ctx := context.Background()

	done := make(chan types.BadgeSnapshot)
	go func() {
		snap, _ := c.Read(ctx, false)
		done <- snap
	}()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)

	stale, err := c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, types.BadgeSnapshot{}, stale, "no snapshot yet, served without waiting")

	close(gate)
	fresh := <-done
	assert.Equal(t, 10, fresh.PastReportsCount)

	again, err := c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, fresh, again)
	assert.Equal(t, 1, src.count(), "two reads in the TTL window share one fan-out")
}

func TestTTLExpiryRefetches(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := newClock()
	src := &countingSources{}
	c := New(src.sources(), nil, Config{TTL: time.Minute, Now: clk.now})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Read(ctx, false)
	require.NoError(t, err)
	clk.advance(59 * time.Second)
	_, err = c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.count())

	clk.advance(2 * time.Second)
	snap, err := c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.count())
	assert.Equal(t, 20, snap.PastReportsCount)
	assert.Equal(t, clk.now(), snap.Timestamp)
}

func TestInvalidateForcesNextFetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := &countingSources{}
	c := New(src.sources(), nil, Config{})
	defer c.Close()
	ctx := context.Background()

	_, _ = c.Read(ctx, false)
	c.Invalidate()
	_, _ = c.Read(ctx, false)
	assert.Equal(t, 2, src.count())

	_, _ = c.Read(ctx, true)
	assert.Equal(t, 3, src.count(), "force bypasses a fresh snapshot")
}

func forcedOverlap(t *testing.T, cfg Config) (*Cache, types.BadgeSnapshot, types.BadgeSnapshot) {
	t.Helper()
	g1, g2 := make(chan struct{}), make(chan struct{})
	src := &countingSources{gates: []chan struct{}{g1, g2}}
	c := New(src.sources(), nil, cfg)
	ctx := context.Background()

	firstDone := make(chan types.BadgeSnapshot)
	go func() {
		snap, _ := c.Read(ctx, false)
		firstDone <- snap
	}()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan types.BadgeSnapshot)
	go func() {
		snap, _ := c.Read(ctx, true)
		secondDone <- snap
	}()
	require.Eventually(t, func() bool { return src.count() == 2 }, time.Second, time.Millisecond)

	// The forced (later started) fetch completes first.
	close(g2)
	second := <-secondDone
	close(g1)
	first := <-firstDone
	return c, first, second
}

func TestForcedRefreshCompletesLastWins(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, first, second := forcedOverlap(t, Config{})
	defer c.Close()

	assert.Equal(t, 10, first.PastReportsCount, "in-flight fetch was not cancelled")
	assert.Equal(t, 20, second.PastReportsCount)

	snap, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, 10, snap.PastReportsCount, "snapshot reflects the fetch that completed last")
}

func TestDiscardStaleKeepsLatestStarted(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, _, _ := forcedOverlap(t, Config{DiscardStale: true})
	defer c.Close()

	snap, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, 20, snap.PastReportsCount)
}

func TestDurableSnapshotPaintsThenIsOverwritten(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, store.SaveJSON(ctx, kv, store.KeyBadgeSnapshot, types.BadgeSnapshot{PastReportsCount: 99}))

	gate := make(chan struct{})
	src := &countingSources{gates: []chan struct{}{gate}}
	c := New(src.sources(), kv, Config{})
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Read(ctx, false)
	}()

	require.Eventually(t, func() bool {
		snap, ok := c.Peek()
		return ok && snap.PastReportsCount == 99
	}, time.Second, time.Millisecond)

	stale, err := c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 99, stale.PastReportsCount, "concurrent readers see the painted copy")

	close(gate)
	<-done

	snap, _ := c.Peek()
	assert.Equal(t, 10, snap.PastReportsCount)

	var persisted types.BadgeSnapshot
	_, err = store.LoadJSON(ctx, kv, store.KeyBadgeSnapshot, &persisted)
	require.NoError(t, err)
	assert.Equal(t, 10, persisted.PastReportsCount)
}

func TestSourceErrorKeepsLastSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := &countingSources{}
	c := New(src.sources(), nil, Config{})
	defer c.Close()
	ctx := context.Background()

	good, err := c.Read(ctx, false)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("history unavailable")
	src.mu.Unlock()

	snap, err := c.Read(ctx, true)
	require.Error(t, err)
	assert.Equal(t, good, snap)
}

func TestReset(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	kv := store.NewMemoryStore()
	src := &countingSources{}
	c := New(src.sources(), kv, Config{})
	defer c.Close()

	_, err := c.Read(ctx, false)
	require.NoError(t, err)
	require.NoError(t, c.Reset(ctx))

	_, ok := c.Peek()
	assert.False(t, ok)
	_, err = kv.Get(ctx, store.KeyBadgeSnapshot)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.Read(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.count())
}

func TestReadAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := New((&countingSources{}).sources(), nil, Config{})
	c.Close()
	_, err := c.Read(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStoreSources(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	kv := store.NewMemoryStore()
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveJSON(ctx, kv, store.KeySubmittedReports, []types.SubmittedReport{
		{ReportID: "s1", SubmittedAt: t0.Add(-time.Hour), Payload: types.Payload{Fish: []types.PayloadFish{{Species: "Flounder", Count: 2}}}},
		{ReportID: "s2", SubmittedAt: t0.Add(time.Hour), Payload: types.Payload{Fish: []types.PayloadFish{{Species: "flounder", Count: 1}, {Species: "Cobia", Count: 4}}}},
	}))
	require.NoError(t, store.SaveJSON(ctx, kv, store.KeyPendingReports, []types.QueuedReport{
		{ReportID: "p1", QueuedAt: t0.Add(2 * time.Hour), Payload: types.Payload{Fish: []types.PayloadFish{{Species: "Red Drum", Count: 1}}}},
	}))
	require.NoError(t, store.MarkViewed(ctx, kv, store.FeatureReports, t0))
	require.NoError(t, store.MarkViewed(ctx, kv, store.FeatureCatches, t0))

	c := New(StoreSources(kv), kv, Config{})
	defer c.Close()
	snap, err := c.Read(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.PastReportsCount)
	assert.True(t, snap.HasNewReport)
	assert.Equal(t, 3, snap.TotalSpecies)
	assert.Equal(t, 6, snap.NewCatchesCount)

	require.NoError(t, store.MarkViewed(ctx, kv, store.FeatureReports, t0.Add(3*time.Hour)))
	snap, err = c.Read(ctx, true)
	require.NoError(t, err)
	assert.False(t, snap.HasNewReport)
}
