// Package gate derives which report sections are open for entry.
//
// The gate is a pure function of the draft. Nothing is persisted: clearing a
// field that satisfied an earlier section hides every later section again, and
// restoring it brings them back.
package gate

import (
	"encoding/json"
	"fmt"
	"strings"

	"harvestreport/internal/assemble"
	"harvestreport/internal/types"
)

// Section is one step of the report form, in display order.
type Section int

const (
	SectionReportingType Section = iota + 1
	SectionFish
	SectionTrip
	SectionAngler
	SectionSubmit
)

// None is returned by State.Blocked when every section is satisfied.
const None Section = 0

// All lists the sections in order.
var All = []Section{SectionReportingType, SectionFish, SectionTrip, SectionAngler, SectionSubmit}

var sectionNames = map[Section]string{
	None:                 "none",
	SectionReportingType: "reportingType",
	SectionFish:          "fish",
	SectionTrip:          "trip",
	SectionAngler:        "angler",
	SectionSubmit:        "submit",
}

func (s Section) String() string {
	if name, ok := sectionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Section(%d)", int(s))
}

func (s Section) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSection converts a section name back to a Section.
func ParseSection(name string) (Section, error) {
	for s, n := range sectionNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return None, fmt.Errorf("unknown section %q", name)
}

// Satisfied reports whether the predicate owned by section holds for d.
// The submit section has no inputs of its own and is always satisfied.
func Satisfied(d types.Draft, section Section) bool {
	switch section {
	case SectionReportingType:
		return strings.TrimSpace(d.ReportingType) != ""
	case SectionFish:
		return len(d.Fish) > 0 || d.Current.IsStarted()
	case SectionTrip:
		if strings.TrimSpace(d.Waterbody) == "" {
			return false
		}
		return len(assemble.ValidateGear(d)) == 0
	case SectionAngler:
		return len(assemble.ValidateIdentity(d)) == 0
	case SectionSubmit:
		return true
	}
	return false
}

// State is the visibility set derived from one draft.
type State struct {
	visible int // count of leading visible sections
	blocked Section
}

// Evaluate computes the visible sections for d. Section 1 is always visible;
// section i+1 is visible iff the predicates of sections 1..i all hold.
func Evaluate(d types.Draft) State {
	st := State{visible: 1, blocked: None}
	for i, s := range All {
		if !Satisfied(d, s) {
			st.blocked = s
			break
		}
		if i+1 < len(All) {
			st.visible = i + 2
		}
	}
	return st
}

// Visible reports whether section is open for entry.
func (s State) Visible(section Section) bool {
	return section >= SectionReportingType && int(section) <= s.visible
}

// Sections returns the visible sections in order.
func (s State) Sections() []Section {
	return append([]Section(nil), All[:s.visible]...)
}

// Blocked returns the first section whose predicate fails, or None.
func (s State) Blocked() Section { return s.blocked }

// Ready reports whether every predicate holds and the report can be submitted.
func (s State) Ready() bool { return s.blocked == None }

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Visible []Section `json:"visible"`
		Blocked Section   `json:"blocked"`
		Ready   bool      `json:"ready"`
	}{s.Sections(), s.blocked, s.Ready()})
}
