// Package ledger aggregates fish entries for a report draft.
//
// A Ledger is a value: every mutating method returns a new Ledger and never
// aliases the caller's entries or length slices. Species is the merge key;
// re-entering a species adds to its count, appends its lengths and keeps the
// most recent non-blank tag number.
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"harvestreport/internal/types"
)

var (
	ErrSpeciesRequired = errors.New("species is required")
	ErrInvalidCount    = errors.New("count must be at least 1")
	ErrIndexOutOfRange = errors.New("fish entry index out of range")
)

// Ledger is an ordered list of fish entries, unique by species, plus an
// optional pointer to the entry currently being edited.
type Ledger struct {
	entries []types.FishEntry
	editing int // index+1 of the entry being edited, 0 when none
}

// FromEntries builds a ledger by merging entries in order.
func FromEntries(entries []types.FishEntry) (Ledger, error) {
	var l Ledger
	for i, e := range entries {
		next, err := l.AddOrMerge(e)
		if err != nil {
			return Ledger{}, fmt.Errorf("entry %d: %w", i, err)
		}
		l = next
	}
	return l, nil
}

// Len returns the number of distinct species.
func (l Ledger) Len() int { return len(l.entries) }

// Entries returns a deep copy of the entries.
func (l Ledger) Entries() []types.FishEntry {
	out := make([]types.FishEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns a copy of the entry at index.
func (l Ledger) Get(index int) (types.FishEntry, error) {
	if index < 0 || index >= len(l.entries) {
		return types.FishEntry{}, ErrIndexOutOfRange
	}
	return l.entries[index].Clone(), nil
}

// Editing returns the index of the entry being edited.
func (l Ledger) Editing() (int, bool) {
	if l.editing == 0 {
		return -1, false
	}
	return l.editing - 1, true
}

// TotalCount sums the counts of every entry.
func (l Ledger) TotalCount() int {
	n := 0
	for _, e := range l.entries {
		n += e.Count
	}
	return n
}

// IndexOf returns the index of species, or -1.
func (l Ledger) IndexOf(species string) int {
	key := types.SpeciesKey(species)
	for i, e := range l.entries {
		if types.SpeciesKey(e.Species) == key {
			return i
		}
	}
	return -1
}

// AddOrMerge appends entry, or merges it into the existing entry of the same species.
func (l Ledger) AddOrMerge(entry types.FishEntry) (Ledger, error) {
	norm, err := normalize(entry)
	if err != nil {
		return l, err
	}

	next := l.clone()
	if idx := next.IndexOf(norm.Species); idx >= 0 {
		next.entries[idx] = merge(next.entries[idx], norm)
		return next, nil
	}
	next.entries = append(next.entries, norm)
	return next, nil
}

// Select marks the entry at index as being edited.
func (l Ledger) Select(index int) (Ledger, error) {
	if index < 0 || index >= len(l.entries) {
		return l, ErrIndexOutOfRange
	}
	next := l.clone()
	next.editing = index + 1
	return next, nil
}

// Remove deletes the entry at index. Removing the edited entry clears the
// editing pointer; removing an entry before it shifts the pointer down so it
// still refers to the same species.
func (l Ledger) Remove(index int) (Ledger, error) {
	if index < 0 || index >= len(l.entries) {
		return l, ErrIndexOutOfRange
	}
	next := l.clone()
	next.entries = append(next.entries[:index], next.entries[index+1:]...)

	if cur, ok := l.Editing(); ok {
		switch {
		case cur == index:
			next.editing = 0
		case index < cur:
			next.editing = cur // (cur-1)+1
		}
	}
	return next, nil
}

// Commit saves entry. With no selection it behaves like AddOrMerge. With a
// selection the edited entry is replaced by entry; if entry's species now
// matches a different existing entry, the two are merged and the edited slot
// is removed. The selection is cleared either way.
func (l Ledger) Commit(entry types.FishEntry) (Ledger, error) {
	cur, ok := l.Editing()
	if !ok {
		return l.AddOrMerge(entry)
	}
	norm, err := normalize(entry)
	if err != nil {
		return l, err
	}

	next := l.clone()
	next.editing = 0

	other := next.IndexOf(norm.Species)
	if other >= 0 && other != cur {
		next.entries[other] = merge(next.entries[other], norm)
		next.entries = append(next.entries[:cur], next.entries[cur+1:]...)
		return next, nil
	}
	next.entries[cur] = norm
	return next, nil
}

// Fold folds the in-progress entry into the ledger if species and count are
// filled in. An untouched current entry leaves the ledger unchanged.
func (l Ledger) Fold(current types.FishEntry) (Ledger, error) {
	if !current.IsStarted() {
		return l, nil
	}
	return l.Commit(current)
}

// ResizeLengths keeps the length slots in 1:1 correspondence with count while
// editing: a smaller count trims trailing slots, a larger one appends blanks.
func ResizeLengths(lengths []string, count int) []string {
	if count < 0 {
		count = 0
	}
	out := make([]string, count)
	copy(out, lengths)
	return out
}

// PruneLengths returns the non-blank lengths, trimmed, or nil if none remain.
func PruneLengths(lengths []string) []string {
	var out []string
	for _, v := range lengths {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalize(entry types.FishEntry) (types.FishEntry, error) {
	species := strings.TrimSpace(entry.Species)
	if species == "" {
		return types.FishEntry{}, ErrSpeciesRequired
	}
	if entry.Count < 1 {
		return types.FishEntry{}, ErrInvalidCount
	}
	return types.FishEntry{
		Species:   species,
		Count:     entry.Count,
		Lengths:   PruneLengths(entry.Lengths),
		TagNumber: strings.TrimSpace(entry.TagNumber),
	}, nil
}

func merge(old, add types.FishEntry) types.FishEntry {
	out := types.FishEntry{
		Species:   old.Species,
		Count:     old.Count + add.Count,
		TagNumber: old.TagNumber,
	}
	if len(old.Lengths)+len(add.Lengths) > 0 {
		out.Lengths = make([]string, 0, len(old.Lengths)+len(add.Lengths))
		out.Lengths = append(out.Lengths, old.Lengths...)
		out.Lengths = append(out.Lengths, add.Lengths...)
	}
	if add.TagNumber != "" {
		out.TagNumber = add.TagNumber
	}
	return out
}

func (l Ledger) clone() Ledger {
	next := Ledger{editing: l.editing}
	if l.entries != nil {
		next.entries = make([]types.FishEntry, len(l.entries))
		for i, e := range l.entries {
			next.entries[i] = e.Clone()
		}
	}
	return next
}
