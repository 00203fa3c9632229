package assemble

import (
	"strings"

	"harvestreport/internal/types"
)

// ContactField identifies a contact detail that can trigger a confirmation nudge.
type ContactField string

const (
	ContactEmail ContactField = "email"
	ContactPhone ContactField = "phone"
)

// ApplyContact sets a contact field on d. The first time a field becomes
// non-blank, the matching confirmation preference is switched on, unless the
// angler already toggled either preference by hand. The nudge fires at most
// once per field.
func ApplyContact(d types.Draft, field ContactField, value string) types.Draft {
	out := d.Clone()
	filled := strings.TrimSpace(value) != ""

	switch field {
	case ContactEmail:
		out.Email = value
		if filled && !out.Confirmation.UserSet && !out.Confirmation.EmailNudged {
			out.Confirmation.Email = true
			out.Confirmation.EmailNudged = true
		}
	case ContactPhone:
		out.Phone = value
		if filled && !out.Confirmation.UserSet && !out.Confirmation.TextNudged {
			out.Confirmation.Text = true
			out.Confirmation.TextNudged = true
		}
	}
	return out
}

// SetConfirmation records an explicit choice for a confirmation channel.
// Any explicit choice disables further nudges.
func SetConfirmation(d types.Draft, field ContactField, on bool) types.Draft {
	out := d.Clone()
	switch field {
	case ContactEmail:
		out.Confirmation.Email = on
	case ContactPhone:
		out.Confirmation.Text = on
	default:
		return out
	}
	out.Confirmation.UserSet = true
	return out
}
