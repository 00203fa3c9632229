// Package types provides shared type definitions used across harvestreport packages.
// This package exists to break import cycles between ledger, gate, assemble and queue.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// FISH ENTRY
// =============================================================================

// FishEntry is one species' count, per-fish lengths and optional tag within a draft.
// Species is the merge key within a draft.
type FishEntry struct {
	Species   string   `json:"species"`
	Count     int      `json:"count"`
	Lengths   []string `json:"lengths,omitempty"` // numeric strings, inches
	TagNumber string   `json:"tagNumber,omitempty"`
}

// Clone returns a deep copy so callers never alias the lengths slice.
func (e FishEntry) Clone() FishEntry {
	out := e
	if e.Lengths != nil {
		out.Lengths = append([]string(nil), e.Lengths...)
	}
	return out
}

// IsStarted reports whether species and count have both been filled in.
func (e FishEntry) IsStarted() bool {
	return strings.TrimSpace(e.Species) != "" && e.Count >= 1
}

// SpeciesKey normalizes a species name for merge comparisons.
func SpeciesKey(species string) string {
	return strings.ToLower(strings.TrimSpace(species))
}

// =============================================================================
// REPORT DRAFT
// =============================================================================

// ConfirmationPrefs tracks whether the angler wants a text and/or email
// confirmation, plus the one-shot auto-selection bookkeeping.
type ConfirmationPrefs struct {
	Text  bool `json:"text"`
	Email bool `json:"email"`

	// UserSet is true once the angler toggled either preference by hand.
	UserSet bool `json:"userSet,omitempty"`

	TextNudged  bool `json:"textNudged,omitempty"`
	EmailNudged bool `json:"emailNudged,omitempty"`
}

// Draft is an in-progress, unsubmitted harvest report.
type Draft struct {
	ID            string `json:"id,omitempty"`
	ReportingType string `json:"reportingType,omitempty"`

	// Fish holds committed entries; Current is the entry being typed.
	Fish    []FishEntry `json:"fish,omitempty"`
	Current FishEntry   `json:"current"`

	Waterbody       string    `json:"waterbody,omitempty"`
	HarvestDate     time.Time `json:"harvestDate,omitempty"`
	UsedHookAndLine *bool     `json:"usedHookAndLine,omitempty"`
	GearType        string    `json:"gearType,omitempty"`

	HasLicense *bool  `json:"hasLicense,omitempty"`
	WRCID      string `json:"wrcId,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	ZipCode    string `json:"zipCode,omitempty"`

	Email        string            `json:"email,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Confirmation ConfirmationPrefs `json:"confirmation"`

	RaffleOptIn bool   `json:"raffleOptIn,omitempty"`
	PhotoRef    string `json:"photoRef,omitempty"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	if d.Fish != nil {
		out.Fish = make([]FishEntry, len(d.Fish))
		for i, f := range d.Fish {
			out.Fish[i] = f.Clone()
		}
	}
	out.Current = d.Current.Clone()
	if d.UsedHookAndLine != nil {
		v := *d.UsedHookAndLine
		out.UsedHookAndLine = &v
	}
	if d.HasLicense != nil {
		v := *d.HasLicense
		out.HasLicense = &v
	}
	return out
}

// Bool returns a pointer to v, for tri-state draft fields.
func Bool(v bool) *bool { return &v }

// =============================================================================
// SUBMISSION PAYLOAD
// =============================================================================

// PayloadFish is a fish entry as sent to the authority.
type PayloadFish struct {
	Species   string   `json:"species"`
	Count     int      `json:"count"`
	Lengths   []string `json:"lengths,omitempty"`
	TagNumber string   `json:"tagNumber,omitempty"`
}

// Payload is the normalized, code-mapped body of a submission.
type Payload struct {
	ReportingType   string `json:"reportingType"`
	HarvestDate     string `json:"harvestDate"` // YYYY-MM-DD
	Waterbody       string `json:"waterbody"`
	WaterbodyCode   string `json:"waterbodyCode,omitempty"`
	UsedHookAndLine bool   `json:"usedHookAndLine"`
	GearType        string `json:"gearType,omitempty"`
	GearCode        string `json:"gearCode,omitempty"`

	HasLicense bool   `json:"hasLicense"`
	WRCID      string `json:"wrcId,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	ZipCode    string `json:"zipCode,omitempty"`

	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	TextConfirmation  bool   `json:"textConfirmation"`
	EmailConfirmation bool   `json:"emailConfirmation"`

	EnterRaffle bool          `json:"enterRaffle"`
	PhotoRef    string        `json:"photoRef,omitempty"`
	Fish        []PayloadFish `json:"fish"`
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := p
	if p.Fish != nil {
		out.Fish = make([]PayloadFish, len(p.Fish))
		for i, f := range p.Fish {
			out.Fish[i] = f
			if f.Lengths != nil {
				out.Fish[i].Lengths = append([]string(nil), f.Lengths...)
			}
		}
	}
	return out
}

// =============================================================================
// QUEUED AND SUBMITTED REPORTS
// =============================================================================

// QueuedReport is a draft that failed or skipped immediate remote submission,
// held for retry.
type QueuedReport struct {
	ReportID                string    `json:"reportId"`
	Draft                   Draft     `json:"draft"`
	Payload                 Payload   `json:"payload"`
	LocalConfirmationNumber string    `json:"localConfirmationNumber"`
	QueuedAt                time.Time `json:"queuedAt"`
	RetryCount              int       `json:"retryCount"`
	LastError               string    `json:"lastError,omitempty"`
}

// SubmittedReport is a report the authority accepted.
type SubmittedReport struct {
	ReportID                 string    `json:"reportId"`
	Draft                    Draft     `json:"draft"`
	Payload                  Payload   `json:"payload"`
	RemoteConfirmationNumber string    `json:"remoteConfirmationNumber"`
	ObjectID                 string    `json:"objectId"`
	SubmittedAt              time.Time `json:"submittedAt"`

	// LocalConfirmationNumber is retained for audit when the report was queued first.
	LocalConfirmationNumber string `json:"localConfirmationNumber,omitempty"`
}

// ConfirmationNumber returns the user-facing number, which is always the remote one.
func (s SubmittedReport) ConfirmationNumber() string {
	return s.RemoteConfirmationNumber
}

// Receipt is what the remote authority returns for an accepted payload.
type Receipt struct {
	ConfirmationNumber string `json:"confirmationNumber"`
	ObjectID           string `json:"objectId"`
}

// =============================================================================
// BADGES
// =============================================================================

// BadgeSnapshot holds the derived counters shown as navigation badges.
type BadgeSnapshot struct {
	PastReportsCount int       `json:"pastReportsCount"`
	HasNewReport     bool      `json:"hasNewReport"`
	TotalSpecies     int       `json:"totalSpecies"`
	NewCatchesCount  int       `json:"newCatchesCount"`
	Timestamp        time.Time `json:"timestamp"`
}
