package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftCloneIsDeep(t *testing.T) {
	d := Draft{
		Fish:            []FishEntry{{Species: "Flounder", Count: 2, Lengths: []string{"14", "15"}}},
		Current:         FishEntry{Species: "Cobia", Count: 1, Lengths: []string{"40"}},
		UsedHookAndLine: Bool(true),
		HasLicense:      Bool(false),
	}
	c := d.Clone()

	c.Fish[0].Lengths[0] = "99"
	c.Current.Lengths[0] = "99"
	*c.UsedHookAndLine = false
	*c.HasLicense = true

	assert.Equal(t, "14", d.Fish[0].Lengths[0])
	assert.Equal(t, "40", d.Current.Lengths[0])
	assert.True(t, *d.UsedHookAndLine)
	assert.False(t, *d.HasLicense)
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := Payload{Fish: []PayloadFish{{Species: "Flounder", Count: 1, Lengths: []string{"14"}}}}
	c := p.Clone()
	c.Fish[0].Lengths[0] = "1"
	assert.Equal(t, "14", p.Fish[0].Lengths[0])
}

func TestIsStartedAndSpeciesKey(t *testing.T) {
	assert.False(t, FishEntry{Species: "Flounder"}.IsStarted())
	assert.False(t, FishEntry{Species: "  ", Count: 1}.IsStarted())
	assert.True(t, FishEntry{Species: "Flounder", Count: 1}.IsStarted())
	assert.Equal(t, SpeciesKey(" Red Drum "), SpeciesKey("red drum"))
}

func TestValidationErrors(t *testing.T) {
	v := ValidationErrors{}
	assert.NoError(t, v.OrNil())

	v.Add("zipCode", "ZIP code must be exactly 5 digits")
	v.Add("zipCode", "overwritten is not allowed")
	v.Merge(ValidationErrors{"fish": "At least one fish is required"})

	assert.Equal(t, "ZIP code must be exactly 5 digits", v["zipCode"], "first message per field wins")
	assert.Equal(t, "validation failed: fish: At least one fish is required; zipCode: ZIP code must be exactly 5 digits", v.Error())

	wrapped := fmt.Errorf("submit: %w", v.OrNil())
	got, ok := IsValidation(wrapped)
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")
	transient := fmt.Errorf("retry: %w", &TransientError{Op: "submit", Err: cause})
	storage := &StorageError{Op: "set", Key: "pendingReports", Err: cause}

	assert.True(t, IsTransient(transient))
	assert.False(t, IsStorage(transient))
	assert.ErrorIs(t, transient, cause)

	assert.True(t, IsStorage(storage))
	assert.Equal(t, `storage set "pendingReports": connection refused`, storage.Error())
	assert.Equal(t, "storage keys: connection refused", (&StorageError{Op: "keys", Err: cause}).Error())

	_, ok := IsValidation(storage)
	assert.False(t, ok)
}

func TestSubmittedConfirmationIsRemote(t *testing.T) {
	s := SubmittedReport{RemoteConfirmationNumber: "HR-1", LocalConfirmationNumber: "L-ABC"}
	assert.Equal(t, "HR-1", s.ConfirmationNumber())
}
