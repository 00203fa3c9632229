package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"harvestreport/internal/types"
)

func TestTimelineOrdering(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := []types.QueuedReport{
		{ReportID: "p-tie", LocalConfirmationNumber: "L-1", QueuedAt: t0},
		{ReportID: "p-old", LocalConfirmationNumber: "L-2", QueuedAt: t0.Add(-48 * time.Hour), RetryCount: 3, LastError: "offline"},
		{ReportID: "p-nodate", LocalConfirmationNumber: "L-3", Draft: types.Draft{HarvestDate: t0.Add(-72 * time.Hour)}},
	}
	submitted := []types.SubmittedReport{
		{ReportID: "s-tie", RemoteConfirmationNumber: "HR-1", LocalConfirmationNumber: "L-9", SubmittedAt: t0},
		{ReportID: "s-new", RemoteConfirmationNumber: "HR-2", SubmittedAt: t0.Add(time.Hour),
			Payload: types.Payload{Fish: []types.PayloadFish{{Species: "Cobia", Count: 2}, {Species: "Flounder", Count: 1}}}},
	}

	entries := Timeline(pending, submitted)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ReportID)
	}
	assert.Equal(t, []string{"s-new", "p-tie", "s-tie", "p-old", "p-nodate"}, ids)

	assert.Equal(t, 2, entries[0].Species)
	assert.Equal(t, 3, entries[0].FishCount)
	assert.Equal(t, "HR-2", entries[0].ConfirmationNumber)
	assert.Equal(t, "HR-1", entries[2].ConfirmationNumber)
	assert.Equal(t, "L-9", entries[2].LocalConfirmationNumber)
	assert.Empty(t, entries[0].LocalConfirmationNumber)
	assert.Equal(t, 3, entries[3].RetryCount)
	assert.Equal(t, "offline", entries[3].LastError)
	assert.Equal(t, t0.Add(-72*time.Hour), entries[4].EffectiveAt)
}

func TestTimelineEmpty(t *testing.T) {
	assert.Empty(t, Timeline(nil, nil))
}
