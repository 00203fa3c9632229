// Package queue owns the pending/submitted report lifecycle.
//
// A report is identified by its draft ID and lives in exactly one of two
// lists: pending (queued for retry) or submitted (accepted by the authority).
// Promotion from pending to submitted happens inside one critical section and
// both lists are persisted in one transaction, so no reader ever sees a report
// in both lists or in neither.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"harvestreport/internal/logging"
	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// ErrUnknownReport is returned by Retry for an ID in neither list.
var ErrUnknownReport = errors.New("unknown report")

// Submitter sends a payload to the authority.
type Submitter interface {
	Submit(ctx context.Context, p types.Payload) (types.Receipt, error)
}

// Assembler turns a draft into a payload.
type Assembler interface {
	Assemble(d types.Draft) (types.Payload, error)
}

// Status is where a report currently lives.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
)

// Result describes a report after Submit or Retry. Exactly one of Queued and
// Submitted is set.
type Result struct {
	Status    Status                 `json:"status"`
	Queued    *types.QueuedReport    `json:"queued,omitempty"`
	Submitted *types.SubmittedReport `json:"submitted,omitempty"`
}

// ReportID returns the report identity.
func (r Result) ReportID() string {
	if r.Submitted != nil {
		return r.Submitted.ReportID
	}
	if r.Queued != nil {
		return r.Queued.ReportID
	}
	return ""
}

// ConfirmationNumber returns the number to show the angler: the remote number
// once submitted, the local one while pending.
func (r Result) ConfirmationNumber() string {
	if r.Submitted != nil {
		return r.Submitted.ConfirmationNumber()
	}
	if r.Queued != nil {
		return r.Queued.LocalConfirmationNumber
	}
	return ""
}

// Event is delivered to listeners after a report is queued or submitted and
// the new state has been persisted.
type Event struct {
	Status Status
	Result Result
	Draft  types.Draft
}

// Listener reacts to queue events. Listeners run synchronously on the
// submitting goroutine and must not call back into the queue's mutating methods.
type Listener func(Event)

// Config holds optional collaborators. Zero values select the defaults.
type Config struct {
	Now            func() time.Time
	NewLocalNumber func() string
}

// Queue is the submission queue.
type Queue struct {
	kv        store.KV
	assembler Assembler
	remote    Submitter
	now       func() time.Time
	newNumber func() string

	mu        sync.RWMutex
	pending   []types.QueuedReport
	submitted []types.SubmittedReport
	listeners []Listener

	persistMu sync.Mutex
	flight    singleflight.Group
}

// New creates an empty queue. Call Load to restore persisted state.
func New(kv store.KV, assembler Assembler, remote Submitter, cfg Config) *Queue {
	q := &Queue{
		kv:        kv,
		assembler: assembler,
		remote:    remote,
		now:       cfg.Now,
		newNumber: cfg.NewLocalNumber,
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newNumber == nil {
		q.newNumber = NewLocalNumber
	}
	return q
}

// Subscribe registers l for future events.
func (q *Queue) Subscribe(l Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, l)
	q.mu.Unlock()
}

// =============================================================================
// LOAD / PERSIST
// =============================================================================

// Load replaces the in-memory lists with the persisted ones. A report found in
// both lists keeps only its submitted form. On a storage error the current
// in-memory state is kept and the error is returned for logging.
func (q *Queue) Load(ctx context.Context) error {
	var pending []types.QueuedReport
	var submitted []types.SubmittedReport
	if _, err := store.LoadJSON(ctx, q.kv, store.KeyPendingReports, &pending); err != nil {
		logging.Get(logging.CategoryQueue).Warn("failed to load pending reports: %v", err)
		return err
	}
	if _, err := store.LoadJSON(ctx, q.kv, store.KeySubmittedReports, &submitted); err != nil {
		logging.Get(logging.CategoryQueue).Warn("failed to load submitted reports: %v", err)
		return err
	}

	seen := make(map[string]bool, len(submitted)+len(pending))
	cleanSubmitted := make([]types.SubmittedReport, 0, len(submitted))
	for _, s := range submitted {
		if seen[s.ReportID] {
			continue
		}
		seen[s.ReportID] = true
		cleanSubmitted = append(cleanSubmitted, s)
	}
	cleanPending := make([]types.QueuedReport, 0, len(pending))
	dropped := 0
	for _, p := range pending {
		if seen[p.ReportID] {
			dropped++
			continue
		}
		seen[p.ReportID] = true
		cleanPending = append(cleanPending, p)
	}

	q.mu.Lock()
	q.pending, q.submitted = cleanPending, cleanSubmitted
	q.mu.Unlock()

	if dropped > 0 {
		logging.Get(logging.CategoryQueue).Warn("dropped %d pending reports already submitted", dropped)
		q.persist(ctx)
	}
	logging.Queue("loaded %d pending, %d submitted reports", len(cleanPending), len(cleanSubmitted))
	return nil
}

// persist writes both lists in one transaction. Failures are logged and
// swallowed: the in-memory state stays authoritative until the next write.
func (q *Queue) persist(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	pending, submitted := q.Snapshot()
	pRaw, err := store.Encode(store.KeyPendingReports, pending)
	if err != nil {
		logging.Get(logging.CategoryQueue).Error("failed to encode pending reports: %v", err)
		return
	}
	sRaw, err := store.Encode(store.KeySubmittedReports, submitted)
	if err != nil {
		logging.Get(logging.CategoryQueue).Error("failed to encode submitted reports: %v", err)
		return
	}
	err = q.kv.SetMany(context.WithoutCancel(ctx), map[string][]byte{
		store.KeyPendingReports:   pRaw,
		store.KeySubmittedReports: sRaw,
	})
	if err != nil {
		logging.Get(logging.CategoryQueue).Warn("failed to persist queue, continuing in memory: %v", err)
	}
}

// =============================================================================
// READS
// =============================================================================

// Queue returns a copy of the pending reports in queue order.
func (q *Queue) Queue() []types.QueuedReport {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return clonePending(q.pending)
}

// History returns a copy of the submitted reports in submission order.
func (q *Queue) History() []types.SubmittedReport {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneSubmitted(q.submitted)
}

// Snapshot returns both lists from a single observation point.
func (q *Queue) Snapshot() ([]types.QueuedReport, []types.SubmittedReport) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return clonePending(q.pending), cloneSubmitted(q.submitted)
}

// Find returns the current state of a report.
func (q *Queue) Find(reportID string) (Result, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.findLocked(reportID)
}

func (q *Queue) findLocked(reportID string) (Result, bool) {
	for i := range q.submitted {
		if q.submitted[i].ReportID == reportID {
			s := cloneSubmitted(q.submitted[i : i+1])[0]
			return Result{Status: StatusSubmitted, Submitted: &s}, true
		}
	}
	if i := q.pendingIndexLocked(reportID); i >= 0 {
		p := clonePending(q.pending[i : i+1])[0]
		return Result{Status: StatusPending, Queued: &p}, true
	}
	return Result{}, false
}

func (q *Queue) pendingIndexLocked(reportID string) int {
	for i := range q.pending {
		if q.pending[i].ReportID == reportID {
			return i
		}
	}
	return -1
}

// =============================================================================
// SUBMIT / RETRY
// =============================================================================

// Submit assembles d and sends it to the authority. Validation and assembly
// errors are returned and nothing is queued. A remote failure is not an error:
// the report is queued with a fresh local confirmation number.
//
// Submit is idempotent by draft ID: a submitted ID returns its existing record
// without a remote call, and a pending ID is retried instead of queued twice.
func (q *Queue) Submit(ctx context.Context, d types.Draft) (Result, error) {
	d = d.Clone()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	var payload types.Payload
	if _, known := q.Find(d.ID); !known {
		p, err := q.assembler.Assemble(d)
		if err != nil {
			return Result{}, err
		}
		payload = p
	}

	o := q.do(d.ID, func() outcome {
		existing, ok := q.Find(d.ID)
		switch {
		case !ok:
			return outcome{res: q.send(ctx, d, payload)}
		case existing.Status == StatusSubmitted:
			logging.QueueDebug("report %s already submitted", d.ID)
			return outcome{res: existing}
		default:
			res, err := q.retry(ctx, d.ID)
			if types.IsTransient(err) {
				err = nil
			}
			return outcome{res, err}
		}
	})
	// A concurrent Retry of the same report shares its outcome; for Submit a
	// failed delivery is a queued report, not an error.
	if types.IsTransient(o.err) {
		o.err = nil
	}
	return o.res, o.err
}

type outcome struct {
	res Result
	err error
}

// do runs fn once per report ID at a time; concurrent callers for the same
// report share its outcome.
func (q *Queue) do(reportID string, fn func() outcome) outcome {
	v, _, _ := q.flight.Do(reportID, func() (any, error) {
		return fn(), nil
	})
	return v.(outcome)
}

func (q *Queue) send(ctx context.Context, d types.Draft, payload types.Payload) Result {
	receipt, err := q.remote.Submit(ctx, payload)
	now := q.now().UTC()

	if err == nil {
		rec := types.SubmittedReport{
			ReportID:                 d.ID,
			Draft:                    d,
			Payload:                  payload,
			RemoteConfirmationNumber: receipt.ConfirmationNumber,
			ObjectID:                 receipt.ObjectID,
			SubmittedAt:              now,
		}
		q.mu.Lock()
		q.warnIfNumberTakenLocked(rec.RemoteConfirmationNumber)
		q.submitted = append(q.submitted, rec)
		q.mu.Unlock()

		logging.Queue("report %s submitted, confirmation %s", d.ID, rec.RemoteConfirmationNumber)
		res := Result{Status: StatusSubmitted, Submitted: &rec}
		q.persist(ctx)
		q.notify(Event{Status: StatusSubmitted, Result: res, Draft: d})
		return res
	}

	q.mu.Lock()
	rec := types.QueuedReport{
		ReportID:                d.ID,
		Draft:                   d,
		Payload:                 payload,
		LocalConfirmationNumber: q.uniqueLocalNumberLocked(),
		QueuedAt:                now,
		RetryCount:              0,
		LastError:               err.Error(),
	}
	q.pending = append(q.pending, rec)
	q.mu.Unlock()

	logging.Queue("report %s queued as %s: %v", d.ID, rec.LocalConfirmationNumber, err)
	res := Result{Status: StatusPending, Queued: &rec}
	q.persist(ctx)
	q.notify(Event{Status: StatusPending, Result: res, Draft: d})
	return res
}

// Retry resubmits a pending report. On success it is moved to the submitted
// list carrying the remote confirmation number, with the local number kept
// for audit. On failure its retry count and last error are updated, it stays
// pending and the *types.TransientError is returned alongside the result.
// Concurrent retries of the same report share one remote call.
func (q *Queue) Retry(ctx context.Context, reportID string) (Result, error) {
	o := q.do(reportID, func() outcome {
		res, err := q.retry(ctx, reportID)
		return outcome{res, err}
	})
	return o.res, o.err
}

func (q *Queue) retry(ctx context.Context, reportID string) (Result, error) {
	q.mu.RLock()
	existing, ok := q.findLocked(reportID)
	q.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("retry %s: %w", reportID, ErrUnknownReport)
	}
	if existing.Status == StatusSubmitted {
		return existing, nil
	}
	qr := *existing.Queued

	receipt, err := q.remote.Submit(ctx, qr.Payload)
	now := q.now().UTC()

	q.mu.Lock()
	idx := q.pendingIndexLocked(reportID)
	if idx < 0 {
		// Promoted or removed while the call was in flight.
		res, found := q.findLocked(reportID)
		q.mu.Unlock()
		if !found {
			return Result{}, fmt.Errorf("retry %s: %w", reportID, ErrUnknownReport)
		}
		return res, nil
	}

	if err != nil {
		q.pending[idx].RetryCount++
		q.pending[idx].LastError = err.Error()
		rec := clonePending(q.pending[idx : idx+1])[0]
		q.mu.Unlock()

		logging.Queue("retry of %s failed (attempt %d): %v", reportID, rec.RetryCount, err)
		q.persist(ctx)
		if !types.IsTransient(err) {
			err = &types.TransientError{Op: "retry", Err: err}
		}
		return Result{Status: StatusPending, Queued: &rec}, err
	}

	rec := types.SubmittedReport{
		ReportID:                 qr.ReportID,
		Draft:                    qr.Draft,
		Payload:                  qr.Payload,
		RemoteConfirmationNumber: receipt.ConfirmationNumber,
		ObjectID:                 receipt.ObjectID,
		SubmittedAt:              now,
		LocalConfirmationNumber:  qr.LocalConfirmationNumber,
	}
	q.warnIfNumberTakenLocked(rec.RemoteConfirmationNumber)
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	q.submitted = append(q.submitted, rec)
	q.mu.Unlock()

	logging.Queue("report %s promoted %s -> %s", reportID, rec.LocalConfirmationNumber, rec.RemoteConfirmationNumber)
	res := Result{Status: StatusSubmitted, Submitted: &rec}
	q.persist(ctx)
	q.notify(Event{Status: StatusSubmitted, Result: res, Draft: rec.Draft})
	return res, nil
}

// RetryOutcome is the result of one report in RetryAll.
type RetryOutcome struct {
	ReportID string `json:"reportId"`
	Result   Result `json:"result"`
	Err      error  `json:"-"`
}

// RetryAll retries every pending report in queue order, stopping early if
// ctx is cancelled.
func (q *Queue) RetryAll(ctx context.Context) []RetryOutcome {
	pending := q.Queue()
	out := make([]RetryOutcome, 0, len(pending))
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		res, err := q.Retry(ctx, p.ReportID)
		out = append(out, RetryOutcome{ReportID: p.ReportID, Result: res, Err: err})
	}
	return out
}

func (q *Queue) notify(ev Event) {
	q.mu.RLock()
	listeners := append([]Listener(nil), q.listeners...)
	q.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// =============================================================================
// CONFIRMATION NUMBERS
// =============================================================================

func (q *Queue) uniqueLocalNumberLocked() string {
	taken := q.numbersLocked()
	for {
		n := q.newNumber()
		if !taken[n] {
			return n
		}
		logging.QueueDebug("local confirmation number %s collided, regenerating", n)
	}
}

func (q *Queue) numbersLocked() map[string]bool {
	taken := make(map[string]bool, len(q.pending)+2*len(q.submitted))
	for _, p := range q.pending {
		taken[p.LocalConfirmationNumber] = true
	}
	for _, s := range q.submitted {
		taken[s.RemoteConfirmationNumber] = true
		if s.LocalConfirmationNumber != "" {
			taken[s.LocalConfirmationNumber] = true
		}
	}
	return taken
}

func (q *Queue) warnIfNumberTakenLocked(n string) {
	if q.numbersLocked()[n] {
		logging.Get(logging.CategoryQueue).Warn("remote confirmation number %s was already issued to another report", n)
	}
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func clonePending(in []types.QueuedReport) []types.QueuedReport {
	out := make([]types.QueuedReport, len(in))
	for i, p := range in {
		out[i] = p
		out[i].Draft = p.Draft.Clone()
		out[i].Payload = p.Payload.Clone()
	}
	return out
}

func cloneSubmitted(in []types.SubmittedReport) []types.SubmittedReport {
	out := make([]types.SubmittedReport, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Draft = s.Draft.Clone()
		out[i].Payload = s.Payload.Clone()
	}
	return out
}
