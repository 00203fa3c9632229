package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestreport/internal/assemble"
	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

var testNow = time.Date(2026, 7, 4, 15, 0, 0, 0, time.UTC)

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	fail  bool
	gate  chan struct{}
}

func (f *fakeRemote) Submit(ctx context.Context, p types.Payload) (types.Receipt, error) {
	f.mu.Lock()
	f.calls++
	n, fail, gate := f.calls, f.fail, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return types.Receipt{}, &types.TransientError{Op: "submit", Err: errors.New("network unreachable")}
	}
	return types.Receipt{ConfirmationNumber: fmt.Sprintf("HR-%04d", n), ObjectID: fmt.Sprint(n)}, nil
}

func (f *fakeRemote) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingKV wraps a KV and fails every write.
type failingKV struct {
	store.KV
}

func (f failingKV) SetMany(ctx context.Context, values map[string][]byte) error {
	return &types.StorageError{Op: "set_many", Err: errors.New("read-only file system")}
}

func validDraft(id string) types.Draft {
	return types.Draft{
		ID:              id,
		ReportingType:   "recreational",
		Fish:            []types.FishEntry{{Species: "Flounder", Count: 2}},
		Waterbody:       "Jordan Lake",
		HarvestDate:     testNow.Add(-24 * time.Hour),
		UsedHookAndLine: types.Bool(true),
		HasLicense:      types.Bool(true),
		WRCID:           "AB123",
	}
}

func newTestQueue(t *testing.T, kv store.KV, remote Submitter) *Queue {
	t.Helper()
	if kv == nil {
		kv = store.NewMemoryStore()
	}
	asm := assemble.New(nil).WithClock(func() time.Time { return testNow })
	return New(kv, asm, remote, Config{Now: func() time.Time { return testNow }})
}

func TestSubmitOnline(t *testing.T) {
	remote := &fakeRemote{}
	q := newTestQueue(t, nil, remote)

	res, err := q.Submit(context.Background(), validDraft("r1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, res.Status)
	assert.Equal(t, "HR-0001", res.ConfirmationNumber())
	assert.Empty(t, q.Queue())
	require.Len(t, q.History(), 1)
	assert.Equal(t, testNow, q.History()[0].SubmittedAt)
}

func TestOfflineSubmitThenRetry(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	res, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err, "transient failures are not surfaced as errors")
	assert.Equal(t, StatusPending, res.Status)

	pending := q.Queue()
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.True(t, IsLocalNumber(pending[0].LocalConfirmationNumber))
	assert.Equal(t, testNow, pending[0].QueuedAt)
	assert.Empty(t, q.History())
	local := pending[0].LocalConfirmationNumber

	remote.setFail(false)
	res, err = q.Retry(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, res.Status)

	assert.Empty(t, q.Queue())
	history := q.History()
	require.Len(t, history, 1)
	assert.Equal(t, "HR-0002", history[0].ConfirmationNumber())
	assert.False(t, IsLocalNumber(history[0].ConfirmationNumber()))
	assert.Equal(t, local, history[0].LocalConfirmationNumber, "local number kept for audit")
}

func TestRetryFailureBumpsCount(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	res, err := q.Retry(ctx, "r1")
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, 1, res.Queued.RetryCount)

	_, _ = q.Retry(ctx, "r1")
	pending := q.Queue()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Contains(t, pending[0].LastError, "network unreachable")
}

func TestRetryUnknownReport(t *testing.T) {
	q := newTestQueue(t, nil, &fakeRemote{})
	_, err := q.Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownReport)
}

func TestSubmitValidationErrorIsNotQueued(t *testing.T) {
	remote := &fakeRemote{}
	q := newTestQueue(t, nil, remote)

	d := validDraft("r1")
	d.HasLicense = types.Bool(false)
	d.FirstName, d.LastName, d.ZipCode = "Ann", "Angler", "123"

	_, err := q.Submit(context.Background(), d)
	errs, ok := types.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, assemble.MsgZipCode, errs[assemble.FieldZipCode])
	assert.Empty(t, q.Queue())
	assert.Empty(t, q.History())
	assert.Zero(t, remote.callCount())
}

func TestSubmitIsIdempotentByDraftID(t *testing.T) {
	remote := &fakeRemote{}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	first, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)
	again, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	assert.Equal(t, first.ConfirmationNumber(), again.ConfirmationNumber())
	assert.Equal(t, 1, remote.callCount())
	assert.Len(t, q.History(), 1)
}

func TestSubmitPendingIDRetriesInsteadOfRequeueing(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)
	res, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	require.Len(t, q.Queue(), 1)
	assert.Equal(t, 1, q.Queue()[0].RetryCount)
}

func TestSubmitAssignsIDWhenMissing(t *testing.T) {
	q := newTestQueue(t, nil, &fakeRemote{})
	res, err := q.Submit(context.Background(), validDraft(""))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ReportID())
	assert.Equal(t, res.ReportID(), q.History()[0].Draft.ID)
}

func TestLocalNumbersAreUnique(t *testing.T) {
	seq := []string{"L-AAAAAAAAAA", "L-AAAAAAAAAA", "L-BBBBBBBBBB"}
	var i int32
	asm := assemble.New(nil).WithClock(func() time.Time { return testNow })
	q := New(store.NewMemoryStore(), asm, &fakeRemote{fail: true}, Config{
		NewLocalNumber: func() string { return seq[atomic.AddInt32(&i, 1)-1] },
	})

	ctx := context.Background()
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)
	_, err = q.Submit(ctx, validDraft("r2"))
	require.NoError(t, err)

	pending := q.Queue()
	require.Len(t, pending, 2)
	assert.Equal(t, "L-AAAAAAAAAA", pending[0].LocalConfirmationNumber)
	assert.Equal(t, "L-BBBBBBBBBB", pending[1].LocalConfirmationNumber)
}

func TestConfirmationNumbersNeverShared(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if i == 10 {
			remote.setFail(false)
		}
		_, err := q.Submit(ctx, validDraft(fmt.Sprintf("r%d", i)))
		require.NoError(t, err)
	}
	q.RetryAll(ctx)

	seen := map[string]string{}
	for _, e := range q.Timeline() {
		prev, dup := seen[e.ConfirmationNumber]
		require.False(t, dup, "%s shared by %s and %s", e.ConfirmationNumber, prev, e.ReportID)
		seen[e.ConfirmationNumber] = e.ReportID
	}
	assert.Len(t, seen, 20)
}

func TestPromotionIsAtomicToReaders(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	remote.mu.Lock()
	remote.fail = false
	remote.gate = make(chan struct{})
	remote.mu.Unlock()

	stop := make(chan struct{})
	var violations int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			pending, submitted := q.Snapshot()
			inPending := len(pending) == 1 && pending[0].ReportID == "r1"
			inSubmitted := len(submitted) == 1 && submitted[0].ReportID == "r1"
			if inPending == inSubmitted {
				atomic.AddInt32(&violations, 1)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Retry(ctx, "r1")
	}()
	require.Eventually(t, func() bool { return remote.callCount() == 2 }, time.Second, time.Millisecond)
	close(remote.gate)
	<-done
	close(stop)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations))
	assert.Empty(t, q.Queue())
	assert.Len(t, q.History(), 1)
}

func TestConcurrentRetriesShareOneRemoteCall(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	remote.mu.Lock()
	remote.fail = false
	remote.gate = make(chan struct{})
	remote.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = q.Retry(ctx, "r1")
		}(i)
	}
	require.Eventually(t, func() bool { return remote.callCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	assert.Equal(t, 2, remote.callCount(), "one initial submit plus one shared retry")
	for _, r := range results {
		assert.Equal(t, StatusSubmitted, r.Status)
		assert.Equal(t, "HR-0002", r.ConfirmationNumber())
	}
	assert.Len(t, q.History(), 1)
}

func TestSubmitJoiningFailedRetryIsNotAnError(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	remote.mu.Lock()
	remote.gate = make(chan struct{})
	remote.mu.Unlock()

	var retryErr error
	retried := make(chan struct{})
	go func() {
		defer close(retried)
		_, retryErr = q.Retry(ctx, "r1")
	}()
	require.Eventually(t, func() bool { return remote.callCount() == 2 }, time.Second, time.Millisecond)

	var (
		res       Result
		submitErr error
	)
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		res, submitErr = q.Submit(ctx, validDraft("r1"))
	}()
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	<-retried
	<-submitted

	assert.True(t, types.IsTransient(retryErr), "Retry reports the failed delivery")
	require.NoError(t, submitErr)
	assert.Equal(t, StatusPending, res.Status)
	assert.Len(t, q.Queue(), 1)
}

func TestPersistAndLoad(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	q := newTestQueue(t, kv, &fakeRemote{fail: true})
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	restored := newTestQueue(t, kv, &fakeRemote{})
	require.NoError(t, restored.Load(ctx))
	pending := restored.Queue()
	require.Len(t, pending, 1)
	assert.Equal(t, q.Queue()[0].LocalConfirmationNumber, pending[0].LocalConfirmationNumber)

	_, err = restored.Retry(ctx, "r1")
	require.NoError(t, err)

	again := newTestQueue(t, kv, &fakeRemote{})
	require.NoError(t, again.Load(ctx))
	assert.Empty(t, again.Queue())
	assert.Len(t, again.History(), 1)
}

func TestLoadResolvesDuplicatesInFavourOfSubmitted(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveJSON(ctx, kv, store.KeyPendingReports, []types.QueuedReport{
		{ReportID: "r1", LocalConfirmationNumber: "L-1"},
		{ReportID: "r2", LocalConfirmationNumber: "L-2"},
	}))
	require.NoError(t, store.SaveJSON(ctx, kv, store.KeySubmittedReports, []types.SubmittedReport{
		{ReportID: "r1", RemoteConfirmationNumber: "HR-1"},
	}))

	q := newTestQueue(t, kv, &fakeRemote{})
	require.NoError(t, q.Load(ctx))

	require.Len(t, q.Queue(), 1)
	assert.Equal(t, "r2", q.Queue()[0].ReportID)
	require.Len(t, q.History(), 1)

	var persisted []types.QueuedReport
	_, err := store.LoadJSON(ctx, kv, store.KeyPendingReports, &persisted)
	require.NoError(t, err)
	assert.Len(t, persisted, 1, "the cleaned lists are written back")
}

func TestLoadStorageErrorKeepsMemory(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	q := newTestQueue(t, kv, &fakeRemote{fail: true})
	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, store.KeyPendingReports, []byte("{corrupt")))
	err = q.Load(ctx)
	assert.True(t, types.IsStorage(err))
	assert.Len(t, q.Queue(), 1)
}

func TestStorageFailureDoesNotInterruptSubmission(t *testing.T) {
	q := newTestQueue(t, failingKV{store.NewMemoryStore()}, &fakeRemote{fail: true})

	res, err := q.Submit(context.Background(), validDraft("r1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Len(t, q.Queue(), 1)
}

func TestListenersNotified(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()

	var events []Event
	q.Subscribe(func(ev Event) { events = append(events, ev) })

	_, err := q.Submit(ctx, validDraft("r1"))
	require.NoError(t, err)
	remote.setFail(false)
	_, err = q.Retry(ctx, "r1")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, StatusPending, events[0].Status)
	assert.Equal(t, StatusSubmitted, events[1].Status)
	assert.Equal(t, "Jordan Lake", events[1].Draft.Waterbody)
}

func TestRetryAll(t *testing.T) {
	remote := &fakeRemote{fail: true}
	q := newTestQueue(t, nil, remote)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := q.Submit(ctx, validDraft(id))
		require.NoError(t, err)
	}

	remote.setFail(false)
	outcomes := q.RetryAll(ctx)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, fmt.Sprintf("r%d", i+1), o.ReportID)
		assert.NoError(t, o.Err)
	}
	assert.Empty(t, q.Queue())
	assert.Len(t, q.History(), 3)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Empty(t, q.RetryAll(cancelled))
}

func TestNewLocalNumberFormat(t *testing.T) {
	n := NewLocalNumber()
	assert.True(t, IsLocalNumber(n))
	assert.Len(t, n, len(LocalPrefix)+localNumberLen)
	assert.Equal(t, strings.ToUpper(n), n)
	assert.NotEqual(t, n, NewLocalNumber())
}

func TestResultAccessors(t *testing.T) {
	assert.Empty(t, Result{}.ReportID())
	assert.Empty(t, Result{}.ConfirmationNumber())

	q := &types.QueuedReport{ReportID: "r1", LocalConfirmationNumber: "L-X"}
	assert.Equal(t, "L-X", Result{Status: StatusPending, Queued: q}.ConfirmationNumber())
}
