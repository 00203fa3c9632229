// Package assemble turns a report draft into a submittable payload.
//
// Validation branches on license status, enforces the gear policy, maps
// waterbody and gear labels to jurisdiction codes and normalizes contact
// details and confirmation preferences. On failure it returns a field ->
// message map and no payload.
package assemble

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"harvestreport/internal/ledger"
	"harvestreport/internal/logging"
	"harvestreport/internal/types"
)

// Field names used as keys in ValidationErrors.
const (
	FieldReportingType = "reportingType"
	FieldFish          = "fish"
	FieldWaterbody     = "waterbody"
	FieldHarvestDate   = "harvestDate"
	FieldGearType      = "gearType"
	FieldHasLicense    = "hasLicense"
	FieldWRCID         = "wrcId"
	FieldFirstName     = "firstName"
	FieldLastName      = "lastName"
	FieldZipCode       = "zipCode"
	FieldEmail         = "email"
	FieldPhone         = "phone"
)

// User-facing messages.
const (
	MsgReportingTypeRequired = "Reporting type is required"
	MsgFishRequired          = "At least one fish entry is required"
	MsgWaterbodyRequired     = "Waterbody is required"
	MsgHarvestDateRequired   = "Harvest date is required"
	MsgHarvestDateFuture     = "Harvest date cannot be in the future"
	MsgGearRequired          = "Gear type is required when hook and line was not used"
	MsgLicenseStatusRequired = "License status required"
	MsgWRCIDRequired         = "License or customer ID is required"
	MsgFirstNameRequired     = "First name is required"
	MsgLastNameRequired      = "Last name is required"
	MsgZipCode               = "ZIP code must be exactly 5 digits"
	MsgEmailInvalid          = "Email address is not valid"
	MsgPhoneInvalid          = "Phone number must be 10 digits"
	MsgTooManyLengths        = "%s has %d lengths for %d fish"
)

// payloadDateLayout is the harvest date format the authority expects.
const payloadDateLayout = "2006-01-02"

var (
	zipPattern   = regexp.MustCompile(`^\d{5}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// CodeLookup maps display labels to jurisdiction codes. Unknown labels
// return "".
type CodeLookup interface {
	WaterbodyCode(label string) string
	GearCode(label string) string
}

// Assembler validates drafts and builds payloads.
type Assembler struct {
	codes CodeLookup
	now   func() time.Time
}

// New creates an Assembler over the given code tables.
func New(codes CodeLookup) *Assembler {
	return &Assembler{codes: codes, now: time.Now}
}

// WithClock overrides the clock used for the future-date check.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Validate returns every field error in d. An empty map means d would assemble.
func (a *Assembler) Validate(d types.Draft) types.ValidationErrors {
	_, errs := a.build(d)
	return errs
}

// Assemble validates d and returns the normalized payload.
// The error is types.ValidationErrors for user-correctable problems and
// *types.AssemblyError if validated data still fails to assemble.
func (a *Assembler) Assemble(d types.Draft) (types.Payload, error) {
	timer := logging.StartTimer(logging.CategoryAssemble, "Assemble")
	defer timer.Stop()

	p, errs := a.build(d)
	if len(errs) > 0 {
		logging.Get(logging.CategoryAssemble).Debug("draft %s blocked: %v", d.ID, errs)
		return types.Payload{}, errs
	}
	if err := verify(p); err != nil {
		logging.Get(logging.CategoryAssemble).Error("draft %s passed validation but failed assembly: %v", d.ID, err)
		return types.Payload{}, err
	}
	return p, nil
}

func (a *Assembler) build(d types.Draft) (types.Payload, types.ValidationErrors) {
	errs := types.ValidationErrors{}
	p := types.Payload{
		ReportingType: strings.TrimSpace(d.ReportingType),
		Waterbody:     strings.TrimSpace(d.Waterbody),
		EnterRaffle:   d.RaffleOptIn,
		PhotoRef:      strings.TrimSpace(d.PhotoRef),
	}

	if p.ReportingType == "" {
		errs.Add(FieldReportingType, MsgReportingTypeRequired)
	}

	p.Fish = buildFish(d, errs)

	if p.Waterbody == "" {
		errs.Add(FieldWaterbody, MsgWaterbodyRequired)
	} else if a.codes != nil {
		p.WaterbodyCode = a.codes.WaterbodyCode(p.Waterbody)
	}

	switch {
	case d.HarvestDate.IsZero():
		errs.Add(FieldHarvestDate, MsgHarvestDateRequired)
	case d.HarvestDate.After(a.now().Add(24 * time.Hour)):
		errs.Add(FieldHarvestDate, MsgHarvestDateFuture)
	default:
		p.HarvestDate = d.HarvestDate.Format(payloadDateLayout)
	}

	errs.Merge(ValidateGear(d))
	if d.UsedHookAndLine != nil && *d.UsedHookAndLine {
		p.UsedHookAndLine = true
	} else {
		p.GearType = strings.TrimSpace(d.GearType)
		if p.GearType != "" && a.codes != nil {
			p.GearCode = a.codes.GearCode(p.GearType)
		}
	}

	errs.Merge(ValidateIdentity(d))
	if d.HasLicense != nil {
		p.HasLicense = *d.HasLicense
		if p.HasLicense {
			p.WRCID = strings.ToUpper(strings.TrimSpace(d.WRCID))
		} else {
			p.FirstName = strings.TrimSpace(d.FirstName)
			p.LastName = strings.TrimSpace(d.LastName)
			p.ZipCode = strings.TrimSpace(d.ZipCode)
		}
	}

	email, phone, contactErrs := normalizeContact(d.Email, d.Phone)
	errs.Merge(contactErrs)
	p.Email, p.Phone = email, phone
	p.EmailConfirmation = d.Confirmation.Email && email != ""
	p.TextConfirmation = d.Confirmation.Text && phone != ""

	return p, errs
}

// ValidateIdentity checks the angler-identity branch selected by license status.
func ValidateIdentity(d types.Draft) types.ValidationErrors {
	errs := types.ValidationErrors{}
	switch {
	case d.HasLicense == nil:
		errs.Add(FieldHasLicense, MsgLicenseStatusRequired)
	case *d.HasLicense:
		if strings.TrimSpace(d.WRCID) == "" {
			errs.Add(FieldWRCID, MsgWRCIDRequired)
		}
	default:
		if strings.TrimSpace(d.FirstName) == "" {
			errs.Add(FieldFirstName, MsgFirstNameRequired)
		}
		if strings.TrimSpace(d.LastName) == "" {
			errs.Add(FieldLastName, MsgLastNameRequired)
		}
		if !zipPattern.MatchString(strings.TrimSpace(d.ZipCode)) {
			errs.Add(FieldZipCode, MsgZipCode)
		}
	}
	return errs
}

// ValidateGear requires a gear type unless hook and line was used.
func ValidateGear(d types.Draft) types.ValidationErrors {
	errs := types.ValidationErrors{}
	hookAndLine := d.UsedHookAndLine != nil && *d.UsedHookAndLine
	if !hookAndLine && strings.TrimSpace(d.GearType) == "" {
		errs.Add(FieldGearType, MsgGearRequired)
	}
	return errs
}

func buildFish(d types.Draft, errs types.ValidationErrors) []types.PayloadFish {
	l, err := ledger.FromEntries(d.Fish)
	if err == nil {
		l, err = l.Fold(d.Current)
	}
	if err != nil {
		errs.Add(FieldFish, err.Error())
		return nil
	}
	if l.Len() == 0 {
		errs.Add(FieldFish, MsgFishRequired)
		return nil
	}

	out := make([]types.PayloadFish, 0, l.Len())
	for _, e := range l.Entries() {
		pf := types.PayloadFish{Species: e.Species, Count: e.Count, TagNumber: e.TagNumber}
		if len(e.Lengths) > e.Count {
			errs.Add(FieldFish, fmt.Sprintf(MsgTooManyLengths, e.Species, len(e.Lengths), e.Count))
		}
		for _, raw := range e.Lengths {
			v, err := decimal.NewFromString(raw)
			if err != nil || !v.IsPositive() {
				errs.Add(FieldFish, fmt.Sprintf("Length %q for %s must be a positive number", raw, e.Species))
				continue
			}
			pf.Lengths = append(pf.Lengths, v.String())
		}
		out = append(out, pf)
	}
	return out
}

func normalizeContact(email, phone string) (string, string, types.ValidationErrors) {
	errs := types.ValidationErrors{}

	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" && !emailPattern.MatchString(email) {
		errs.Add(FieldEmail, MsgEmailInvalid)
	}

	digits := digitsOnly(phone)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if strings.TrimSpace(phone) != "" && len(digits) != 10 {
		errs.Add(FieldPhone, MsgPhoneInvalid)
	}
	return email, digits, errs
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// verify re-checks payload invariants after normalization.
func verify(p types.Payload) error {
	seen := make(map[string]bool, len(p.Fish))
	for _, f := range p.Fish {
		key := types.SpeciesKey(f.Species)
		if key == "" {
			return &types.AssemblyError{Reason: "fish entry without species"}
		}
		if seen[key] {
			return &types.AssemblyError{Reason: fmt.Sprintf("duplicate species %q", f.Species)}
		}
		seen[key] = true
		if f.Count < 1 {
			return &types.AssemblyError{Reason: fmt.Sprintf("species %q has count %d", f.Species, f.Count)}
		}
		if len(f.Lengths) > f.Count {
			return &types.AssemblyError{Reason: fmt.Sprintf("species %q has %d lengths for %d fish", f.Species, len(f.Lengths), f.Count)}
		}
	}
	if p.HasLicense && p.WRCID == "" {
		return &types.AssemblyError{Reason: "licensed angler without ID"}
	}
	if p.UsedHookAndLine && p.GearType != "" {
		return &types.AssemblyError{Reason: "gear type set for hook and line"}
	}
	return nil
}
