// Package app wires the harvest report core together: durable store, code
// tables, assembler, submission queue, badge cache, preference autosaver,
// working-draft composer and the background syncer.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"harvestreport/internal/assemble"
	"harvestreport/internal/badge"
	"harvestreport/internal/composer"
	"harvestreport/internal/config"
	"harvestreport/internal/gate"
	"harvestreport/internal/logging"
	"harvestreport/internal/lookup"
	"harvestreport/internal/prefs"
	"harvestreport/internal/queue"
	"harvestreport/internal/remote"
	"harvestreport/internal/store"
	"harvestreport/internal/syncer"
	"harvestreport/internal/types"
)

// ErrUnknownFeature is returned by MarkViewed for features without a badge.
var ErrUnknownFeature = errors.New("unknown feature")

// App is a fully wired instance.
type App struct {
	Config    *config.Config
	Store     store.KV
	Codes     *lookup.Table
	Assembler *assemble.Assembler
	Remote    queue.Submitter
	Queue     *queue.Queue
	Badges    *badge.Cache
	Prefs     *prefs.AutoSaver
	Composer  *composer.Composer
	Syncer    *syncer.Syncer

	now       func() time.Time
	ownsStore bool
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Options overrides collaborators, mostly for tests. Zero values select the
// configured defaults.
type Options struct {
	KV     store.KV
	Remote queue.Submitter
	Now    func() time.Time

	// KeepDraft skips prefilling the working draft at boot, leaving the
	// persisted draft untouched. One-shot commands set it.
	KeepDraft bool
}

// Boot builds every component from cfg. Background work (code table
// watching, the syncer) runs until Close.
func Boot(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "Boot")
	defer timer.Stop()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := logging.InitAudit(cfg.Logging.AuditFile); err != nil {
		logging.Get(logging.CategoryBoot).Warn("audit trail disabled: %v", err)
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{Config: cfg, now: opts.Now, cancel: cancel}
	if a.now == nil {
		a.now = time.Now
	}

	// 1. Durable store
	a.Store = opts.KV
	if a.Store == nil {
		s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.Store = s
		a.ownsStore = true
	}

	// 2. Code tables
	a.Codes = lookup.New(cfg.Codes.Waterbodies, cfg.Codes.Gear)
	if cfg.Codes.File != "" {
		tables, err := lookup.LoadFile(cfg.Codes.File)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Codes.Replace(tables)
		if cfg.Codes.Watch {
			done, err := a.Codes.Watch(bgCtx, cfg.Codes.File)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("code table hot reload disabled: %v", err)
			} else {
				a.bg.Add(1)
				go func() {
					defer a.bg.Done()
					<-done
				}()
			}
		}
	}

	// 3. Assembler and remote
	a.Assembler = assemble.New(a.Codes)
	if opts.Now != nil {
		a.Assembler = a.Assembler.WithClock(opts.Now)
	}
	a.Remote = opts.Remote
	if a.Remote == nil {
		a.Remote = remote.New(cfg.Remote, cfg.GetRemoteTimeout())
	}

	// 4. Queue, restored from durable storage
	a.Queue = queue.New(a.Store, a.Assembler, a.Remote, queue.Config{Now: opts.Now})
	if err := a.Queue.Load(ctx); err != nil {
		logging.Get(logging.CategoryBoot).Warn("starting with an empty queue: %v", err)
	}

	// 5. Badges and preferences
	a.Badges = badge.New(badge.StoreSources(a.Store), a.Store, badge.Config{
		TTL:          cfg.GetBadgeTTL(),
		DiscardStale: cfg.Badge.DiscardStale,
		Now:          opts.Now,
	})
	a.Prefs = prefs.New(a.Store)
	a.Queue.Subscribe(a.onQueueEvent)

	// 6. Working draft, prefilled from the saved profile
	a.Composer = composer.New(a.Store)
	if err := a.Composer.Load(ctx); err != nil {
		logging.Get(logging.CategoryBoot).Warn("discarding saved working draft: %v", err)
	}
	if !opts.KeepDraft {
		if filled, err := a.Prefs.Prefill(ctx, a.Composer.Draft()); err == nil {
			if _, err := a.Composer.Replace(ctx, filled); err != nil {
				logging.Get(logging.CategoryBoot).Warn("prefill rejected: %v", err)
			}
		}
	}

	// 7. Background sync
	a.Syncer = syncer.New(a.Queue, syncer.Config{
		Interval:      cfg.GetSyncInterval(),
		RatePerSecond: cfg.Sync.RatePerSecond,
		Burst:         cfg.Sync.Burst,
	})
	if cfg.Sync.Enabled {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			_ = a.Syncer.Run(bgCtx)
		}()
	}

	pending, submitted := a.Queue.Snapshot()
	logging.Boot("harvestreport ready: %d pending, %d submitted", len(pending), len(submitted))
	return a, nil
}

// onQueueEvent runs the side effects of a completed submission: the badge
// cache is invalidated and opted-in preferences are saved. Preferences are
// saved once per report, from the submit outcome; promoting a queued report
// later would write back values the angler may have changed since.
func (a *App) onQueueEvent(ev queue.Event) {
	a.Badges.Invalidate()

	promoted := false
	switch ev.Status {
	case queue.StatusSubmitted:
		if s := ev.Result.Submitted; s != nil {
			promoted = s.LocalConfirmationNumber != ""
			logging.AuditWithCategory(logging.CategoryQueue).ReportSubmitted(s.ReportID, ev.Result.ConfirmationNumber())
		}
	case queue.StatusPending:
		if q := ev.Result.Queued; q != nil {
			logging.AuditWithCategory(logging.CategoryQueue).ReportQueued(q.ReportID, q.LocalConfirmationNumber, q.LastError)
		}
	}
	if promoted {
		return
	}

	saved, err := a.Prefs.Save(context.Background(), ev.Draft)
	if err != nil {
		logging.Get(logging.CategoryPrefs).Warn("preference autosave failed for %s: %v", ev.Draft.ID, err)
	}
	if saved || err != nil {
		logging.AuditWithCategory(logging.CategoryPrefs).PrefsSaved(ev.Draft.ID, err)
	}
}

// Sections evaluates the gate over any draft.
func (a *App) Sections(d types.Draft) gate.State {
	return gate.Evaluate(d)
}

// Submit submits d through the queue.
func (a *App) Submit(ctx context.Context, d types.Draft) (queue.Result, error) {
	return a.Queue.Submit(ctx, d)
}

// SubmitDraft submits the working draft. On success (submitted or queued)
// a fresh draft prefilled from the saved profile takes its place.
func (a *App) SubmitDraft(ctx context.Context) (queue.Result, error) {
	d, err := a.Composer.Folded()
	if err != nil {
		return queue.Result{}, err
	}
	res, err := a.Queue.Submit(ctx, d)
	if err != nil {
		return res, err
	}
	seed, perr := a.Prefs.Prefill(ctx, types.Draft{})
	if perr != nil {
		seed = types.Draft{}
	}
	a.Composer.Reset(ctx, seed)
	return res, nil
}

// MarkViewed records that feature was viewed now and refreshes badges on
// the next read.
func (a *App) MarkViewed(ctx context.Context, feature string) error {
	if feature != store.FeatureReports && feature != store.FeatureCatches {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	if err := store.MarkViewed(ctx, a.Store, feature, a.now()); err != nil {
		return err
	}
	a.Badges.Invalidate()
	return nil
}

// ResetBadges drops the cached and persisted badge snapshot.
func (a *App) ResetBadges(ctx context.Context) error {
	if err := a.Badges.Reset(ctx); err != nil {
		return err
	}
	logging.Audit().BadgesReset()
	return nil
}
