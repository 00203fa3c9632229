// Package composer edits the single working draft: fish entries through the
// ledger, contact details through the confirmation nudge, and section
// visibility through the gate. The working draft is saved after every change
// so an interrupted report survives a restart.
package composer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"harvestreport/internal/assemble"
	"harvestreport/internal/gate"
	"harvestreport/internal/ledger"
	"harvestreport/internal/logging"
	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// saved is the persisted form of the working draft.
type saved struct {
	Draft   types.Draft `json:"draft"`
	Editing int         `json:"editing"` // -1 when no entry is selected
}

// Composer holds the working draft. It is safe for concurrent use.
type Composer struct {
	mu     sync.Mutex
	kv     store.KV
	draft  types.Draft
	ledger ledger.Ledger
}

// New creates a composer with an empty draft. kv may be nil.
func New(kv store.KV) *Composer {
	return &Composer{kv: kv, draft: types.Draft{ID: uuid.NewString()}}
}

// Load restores the persisted working draft, if any.
func (c *Composer) Load(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	var s saved
	found, err := store.LoadJSON(ctx, c.kv, store.KeyWorkingDraft, &s)
	if err != nil || !found {
		return err
	}
	l, err := ledger.FromEntries(s.Draft.Fish)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("discarding invalid saved fish entries: %v", err)
		l = ledger.Ledger{}
	}
	if s.Editing >= 0 {
		if sel, err := l.Select(s.Editing); err == nil {
			l = sel
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger = l
	c.draft = s.Draft
	if c.draft.ID == "" {
		c.draft.ID = uuid.NewString()
	}
	c.syncLocked()
	return nil
}

// Draft returns a copy of the working draft.
func (c *Composer) Draft() types.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

// Editing returns the index of the fish entry being edited.
func (c *Composer) Editing() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Editing()
}

// Sections evaluates the gate over the working draft.
func (c *Composer) Sections() gate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gate.Evaluate(c.draft)
}

// Replace overwrites every draft field except the ID. The fish list is
// rebuilt through the ledger, so duplicate species are merged.
func (c *Composer) Replace(ctx context.Context, d types.Draft) (types.Draft, error) {
	l, err := ledger.FromEntries(d.Fish)
	if err != nil {
		return types.Draft{}, err
	}

	c.mu.Lock()
	id := c.draft.ID
	c.draft = d.Clone()
	c.draft.ID = id
	c.ledger = l
	c.syncLocked()
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out, nil
}

// Folded returns the draft as it should be submitted: the in-progress entry
// is committed through the ledger, replacing the selected entry when one is
// being edited, and Current is cleared. The working draft is not changed.
func (c *Composer) Folded() (types.Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.ledger.Fold(c.draft.Current)
	if err != nil {
		return types.Draft{}, err
	}
	out := c.draft.Clone()
	out.Fish = l.Entries()
	out.Current = types.FishEntry{}
	return out, nil
}

// SetCurrent updates the in-progress fish entry. Length slots follow the count
// so every fish has a slot while editing.
func (c *Composer) SetCurrent(ctx context.Context, e types.FishEntry) types.Draft {
	c.mu.Lock()
	cur := e.Clone()
	cur.Lengths = ledger.ResizeLengths(cur.Lengths, cur.Count)
	c.draft.Current = cur
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out
}

// CommitFish saves e to the ledger (replacing the selected entry, if any)
// and clears the in-progress entry.
func (c *Composer) CommitFish(ctx context.Context, e types.FishEntry) (types.Draft, error) {
	c.mu.Lock()
	l, err := c.ledger.Commit(e)
	if err != nil {
		c.mu.Unlock()
		return types.Draft{}, err
	}
	c.ledger = l
	c.draft.Current = types.FishEntry{}
	c.syncLocked()
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out, nil
}

// SelectFish loads entry index into the in-progress entry for editing.
func (c *Composer) SelectFish(ctx context.Context, index int) (types.Draft, error) {
	c.mu.Lock()
	l, err := c.ledger.Select(index)
	if err != nil {
		c.mu.Unlock()
		return types.Draft{}, err
	}
	e, _ := l.Get(index)
	e.Lengths = ledger.ResizeLengths(e.Lengths, e.Count)
	c.ledger = l
	c.draft.Current = e
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out, nil
}

// RemoveFish deletes entry index. Removing the entry being edited also
// clears the in-progress entry.
func (c *Composer) RemoveFish(ctx context.Context, index int) (types.Draft, error) {
	c.mu.Lock()
	_, wasEditing := c.ledger.Editing()
	l, err := c.ledger.Remove(index)
	if err != nil {
		c.mu.Unlock()
		return types.Draft{}, err
	}
	c.ledger = l
	if _, still := l.Editing(); wasEditing && !still {
		c.draft.Current = types.FishEntry{}
	}
	c.syncLocked()
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out, nil
}

// SetContact sets the email or phone and applies the confirmation nudge.
func (c *Composer) SetContact(ctx context.Context, field assemble.ContactField, value string) types.Draft {
	c.mu.Lock()
	c.draft = assemble.ApplyContact(c.draft, field, value)
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out
}

// SetConfirmation records an explicit confirmation preference.
func (c *Composer) SetConfirmation(ctx context.Context, field assemble.ContactField, on bool) types.Draft {
	c.mu.Lock()
	c.draft = assemble.SetConfirmation(c.draft, field, on)
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out
}

// Reset starts a new, empty draft (optionally seeded) with a fresh ID.
func (c *Composer) Reset(ctx context.Context, seed types.Draft) types.Draft {
	l, err := ledger.FromEntries(seed.Fish)
	if err != nil {
		l = ledger.Ledger{}
		seed.Fish = nil
	}

	c.mu.Lock()
	c.draft = seed.Clone()
	c.draft.ID = uuid.NewString()
	c.ledger = l
	c.syncLocked()
	out := c.draft.Clone()
	c.mu.Unlock()

	c.save(ctx)
	return out
}

func (c *Composer) syncLocked() {
	c.draft.Fish = c.ledger.Entries()
	if len(c.draft.Fish) == 0 {
		c.draft.Fish = nil
	}
}

func (c *Composer) save(ctx context.Context) {
	if c.kv == nil {
		return
	}
	c.mu.Lock()
	s := saved{Draft: c.draft.Clone(), Editing: -1}
	if i, ok := c.ledger.Editing(); ok {
		s.Editing = i
	}
	c.mu.Unlock()

	if err := store.SaveJSON(ctx, c.kv, store.KeyWorkingDraft, s); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to save working draft: %v", err)
	}
}
