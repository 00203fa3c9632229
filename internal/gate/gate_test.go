package gate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestreport/internal/types"
)

func completeDraft() types.Draft {
	return types.Draft{
		ReportingType:   "recreational",
		Fish:            []types.FishEntry{{Species: "Flounder", Count: 1}},
		Waterbody:       "Jordan Lake",
		UsedHookAndLine: types.Bool(true),
		HasLicense:      types.Bool(true),
		WRCID:           "AB123",
	}
}

func TestEvaluateEmptyDraft(t *testing.T) {
	st := Evaluate(types.Draft{})
	assert.Equal(t, []Section{SectionReportingType}, st.Sections())
	assert.Equal(t, SectionReportingType, st.Blocked())
	assert.False(t, st.Visible(SectionFish))
	assert.False(t, st.Ready())
}

func TestEvaluateCompleteDraft(t *testing.T) {
	st := Evaluate(completeDraft())
	assert.Equal(t, All, st.Sections())
	assert.Equal(t, None, st.Blocked())
	assert.True(t, st.Ready())
}

func TestEvaluateProgression(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.Draft)
		visible Section
		blocked Section
	}{
		{"no fish", func(d *types.Draft) { d.Fish = nil }, SectionFish, SectionFish},
		{"current entry counts as fish", func(d *types.Draft) {
			d.Fish = nil
			d.Current = types.FishEntry{Species: "Cobia", Count: 1}
		}, SectionSubmit, None},
		{"species without count", func(d *types.Draft) {
			d.Fish = nil
			d.Current = types.FishEntry{Species: "Cobia"}
		}, SectionFish, SectionFish},
		{"gear missing", func(d *types.Draft) { d.UsedHookAndLine = types.Bool(false) }, SectionTrip, SectionTrip},
		{"gear chosen", func(d *types.Draft) {
			d.UsedHookAndLine = types.Bool(false)
			d.GearType = "Cast Net"
		}, SectionSubmit, None},
		{"license unanswered", func(d *types.Draft) { d.HasLicense = nil }, SectionAngler, SectionAngler},
		{"unlicensed bad zip", func(d *types.Draft) {
			d.HasLicense = types.Bool(false)
			d.FirstName, d.LastName, d.ZipCode = "Ann", "Angler", "123"
		}, SectionAngler, SectionAngler},
		{"unlicensed good zip", func(d *types.Draft) {
			d.HasLicense = types.Bool(false)
			d.FirstName, d.LastName, d.ZipCode = "Ann", "Angler", "27601"
		}, SectionSubmit, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := completeDraft()
			tt.mutate(&d)
			st := Evaluate(d)
			assert.True(t, st.Visible(tt.visible))
			if tt.visible < SectionSubmit {
				assert.False(t, st.Visible(tt.visible+1))
			}
			assert.Equal(t, tt.blocked, st.Blocked())
		})
	}
}

func TestClearingWaterbodyRehidesLaterSections(t *testing.T) {
	d := completeDraft()
	require.True(t, Evaluate(d).Visible(SectionSubmit))

	d.Waterbody = ""
	st := Evaluate(d)
	assert.True(t, st.Visible(SectionTrip))
	assert.False(t, st.Visible(SectionAngler))
	assert.False(t, st.Visible(SectionSubmit))

	d.Waterbody = "Jordan Lake"
	st = Evaluate(d)
	assert.True(t, st.Visible(SectionAngler))
	assert.True(t, st.Visible(SectionSubmit))
}

func TestVisibleOutOfRange(t *testing.T) {
	st := Evaluate(completeDraft())
	assert.False(t, st.Visible(None))
	assert.False(t, st.Visible(Section(9)))
}

func TestSectionNames(t *testing.T) {
	for _, s := range All {
		parsed, err := ParseSection(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSection("photos")
	assert.Error(t, err)
	assert.Equal(t, "Section(9)", Section(9).String())
}

func TestStateJSON(t *testing.T) {
	d := completeDraft()
	d.HasLicense = nil
	raw, err := json.Marshal(Evaluate(d))
	require.NoError(t, err)
	assert.JSONEq(t, `{"visible":["reportingType","fish","trip","angler"],"blocked":"angler","ready":false}`, string(raw))
}
