package queue

import (
	"sort"
	"time"

	"harvestreport/internal/types"
)

// Entry is one row of the merged pending + submitted display list.
type Entry struct {
	ReportID           string    `json:"reportId"`
	Status             Status    `json:"status"`
	ConfirmationNumber string    `json:"confirmationNumber"`
	EffectiveAt        time.Time `json:"effectiveAt"`
	HarvestDate        string    `json:"harvestDate"`
	Waterbody          string    `json:"waterbody"`
	Species            int       `json:"species"`
	FishCount          int       `json:"fishCount"`
	RetryCount         int       `json:"retryCount,omitempty"`
	LastError          string    `json:"lastError,omitempty"`

	// Set on submitted reports that were queued before promotion.
	LocalConfirmationNumber string `json:"localConfirmationNumber,omitempty"`
}

// Timeline merges pending and submitted reports for display, newest first by
// effective timestamp (submittedAt, else queuedAt, else harvest date). On a
// tie pending reports come first.
func Timeline(pending []types.QueuedReport, submitted []types.SubmittedReport) []Entry {
	out := make([]Entry, 0, len(pending)+len(submitted))
	for _, p := range pending {
		out = append(out, Entry{
			ReportID:           p.ReportID,
			Status:             StatusPending,
			ConfirmationNumber: p.LocalConfirmationNumber,
			EffectiveAt:        effective(time.Time{}, p.QueuedAt, p.Draft.HarvestDate),
			HarvestDate:        p.Payload.HarvestDate,
			Waterbody:          p.Payload.Waterbody,
			Species:            len(p.Payload.Fish),
			FishCount:          fishCount(p.Payload),
			RetryCount:         p.RetryCount,
			LastError:          p.LastError,
		})
	}
	for _, s := range submitted {
		out = append(out, Entry{
			ReportID:           s.ReportID,
			Status:             StatusSubmitted,
			ConfirmationNumber: s.ConfirmationNumber(),
			EffectiveAt:        effective(s.SubmittedAt, time.Time{}, s.Draft.HarvestDate),
			HarvestDate:        s.Payload.HarvestDate,
			Waterbody:          s.Payload.Waterbody,
			Species:            len(s.Payload.Fish),
			FishCount:          fishCount(s.Payload),

			LocalConfirmationNumber: s.LocalConfirmationNumber,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.EffectiveAt.Equal(b.EffectiveAt) {
			return a.EffectiveAt.After(b.EffectiveAt)
		}
		if a.Status != b.Status {
			return a.Status == StatusPending
		}
		return a.ReportID < b.ReportID
	})
	return out
}

// Timeline returns the merged display list from one consistent snapshot.
func (q *Queue) Timeline() []Entry {
	return Timeline(q.Snapshot())
}

func effective(submittedAt, queuedAt, harvest time.Time) time.Time {
	switch {
	case !submittedAt.IsZero():
		return submittedAt
	case !queuedAt.IsZero():
		return queuedAt
	default:
		return harvest
	}
}

func fishCount(p types.Payload) int {
	n := 0
	for _, f := range p.Fish {
		n += f.Count
	}
	return n
}
