// Package prefs persists the angler's identity, contact and location values
// and uses them to prefill new drafts.
package prefs

import (
	"context"
	"strings"
	"sync"

	"harvestreport/internal/assemble"
	"harvestreport/internal/logging"
	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// Profile is stored under store.KeyUserProfile.
type Profile struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	ZipCode   string `json:"zipCode,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`

	// AutoSave opts in to saving values from each completed submission.
	AutoSave bool `json:"autoSave"`
}

// License is stored under store.KeyFishingLicense.
type License struct {
	HasLicense *bool  `json:"hasLicense,omitempty"`
	WRCID      string `json:"wrcId,omitempty"`
}

// HarvestArea is stored under store.KeyPrimaryHarvestArea.
type HarvestArea struct {
	Waterbody string `json:"waterbody,omitempty"`
}

// Saved is everything the autosaver keeps.
type Saved struct {
	Profile Profile     `json:"profile"`
	License License     `json:"license"`
	Area    HarvestArea `json:"area"`
}

// AutoSaver reads and writes the stored preferences.
type AutoSaver struct {
	mu sync.Mutex
	kv store.KV
}

// New creates an AutoSaver over kv.
func New(kv store.KV) *AutoSaver {
	return &AutoSaver{kv: kv}
}

// Load returns every stored preference. Missing keys load as zero values.
func (a *AutoSaver) Load(ctx context.Context) (Saved, error) {
	var s Saved
	if _, err := store.LoadJSON(ctx, a.kv, store.KeyUserProfile, &s.Profile); err != nil {
		return Saved{}, err
	}
	if _, err := store.LoadJSON(ctx, a.kv, store.KeyFishingLicense, &s.License); err != nil {
		return Saved{}, err
	}
	if _, err := store.LoadJSON(ctx, a.kv, store.KeyPrimaryHarvestArea, &s.Area); err != nil {
		return Saved{}, err
	}
	return s, nil
}

// Store writes all three keys in one transaction.
func (a *AutoSaver) Store(ctx context.Context, s Saved) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked(ctx, s)
}

func (a *AutoSaver) storeLocked(ctx context.Context, s Saved) error {
	batch := make(map[string][]byte, 3)
	for key, v := range map[string]any{
		store.KeyUserProfile:        s.Profile,
		store.KeyFishingLicense:     s.License,
		store.KeyPrimaryHarvestArea: s.Area,
	} {
		raw, err := store.Encode(key, v)
		if err != nil {
			return err
		}
		batch[key] = raw
	}
	return a.kv.SetMany(ctx, batch)
}

// Save copies the non-blank identity, contact and location values of a
// completed draft into the stored preferences. It does nothing unless the
// profile has opted in to autosave; saved reports whether anything was written.
func (a *AutoSaver) Save(ctx context.Context, d types.Draft) (saved bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.Load(ctx)
	if err != nil {
		return false, err
	}
	if !s.Profile.AutoSave {
		logging.Get(logging.CategoryPrefs).Debug("autosave off, skipping draft %s", d.ID)
		return false, nil
	}

	if d.HasLicense != nil {
		has := *d.HasLicense
		s.License.HasLicense = &has
		if has {
			setIfPresent(&s.License.WRCID, d.WRCID)
		} else {
			setIfPresent(&s.Profile.FirstName, d.FirstName)
			setIfPresent(&s.Profile.LastName, d.LastName)
			setIfPresent(&s.Profile.ZipCode, d.ZipCode)
		}
	}
	setIfPresent(&s.Profile.Email, d.Email)
	setIfPresent(&s.Profile.Phone, d.Phone)
	setIfPresent(&s.Area.Waterbody, d.Waterbody)

	if err := a.storeLocked(ctx, s); err != nil {
		logging.Get(logging.CategoryPrefs).Warn("failed to autosave preferences: %v", err)
		return false, err
	}
	logging.Get(logging.CategoryPrefs).Info("saved preferences from draft %s", d.ID)
	return true, nil
}

// Prefill fills blank draft fields from the stored preferences. Values the
// angler already entered are never overwritten.
func (a *AutoSaver) Prefill(ctx context.Context, d types.Draft) (types.Draft, error) {
	s, err := a.Load(ctx)
	if err != nil {
		return d, err
	}
	return Apply(s, d), nil
}

// Apply is the pure part of Prefill.
func Apply(s Saved, d types.Draft) types.Draft {
	out := d.Clone()
	if out.HasLicense == nil && s.License.HasLicense != nil {
		v := *s.License.HasLicense
		out.HasLicense = &v
	}
	fillIfBlank(&out.WRCID, s.License.WRCID)
	fillIfBlank(&out.FirstName, s.Profile.FirstName)
	fillIfBlank(&out.LastName, s.Profile.LastName)
	fillIfBlank(&out.ZipCode, s.Profile.ZipCode)
	fillIfBlank(&out.Waterbody, s.Area.Waterbody)

	// Prefilled contact values go through the same one-shot nudge as typed ones.
	if strings.TrimSpace(out.Email) == "" && s.Profile.Email != "" {
		out = assemble.ApplyContact(out, assemble.ContactEmail, s.Profile.Email)
	}
	if strings.TrimSpace(out.Phone) == "" && s.Profile.Phone != "" {
		out = assemble.ApplyContact(out, assemble.ContactPhone, s.Profile.Phone)
	}
	return out
}

func setIfPresent(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func fillIfBlank(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && v != "" {
		*dst = v
	}
}
